// Package circuitinput encodes a validated token, its signing key and the
// user's ephemeral material into the fixed-shape input of the zkLogin circuit.
package circuitinput

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"slices"

	"github.com/mynextid/zklogin-prover/claims"
	"github.com/mynextid/zklogin-prover/field"
	"github.com/mynextid/zklogin-prover/models"
	"github.com/mynextid/zklogin-prover/nonce"
)

// Circuit shape. Changing any of these requires a new circuit and proving key.
const (
	DigestBytes    = sha256.Size
	LimbBits       = 32
	ModulusLimbs   = 64
	SignatureLimbs = 64
	ExponentLimbs  = 2
	KeyChunks      = nonce.KeyChunks
	MaxEpochBits   = 64
	RandomnessBits = nonce.RandomnessBits
	SaltBits       = 128

	DefaultKeyClaim = "sub"
)

// KeyClaimNames are the claims that may identify the user in the address seed
var KeyClaimNames = []string{"sub", "email"}

// Params are the validated values an input is built from
type Params struct {
	Token        *claims.Token
	Modulus      []byte
	Exponent     []byte
	EphemeralKey []byte
	MaxEpoch     uint64
	Randomness   *big.Int
	Salt         *big.Int
	KeyClaimName string
	// Nonce is derived from the ephemeral material when nil
	Nonce *big.Int
}

// CircuitInput is the witness generator input. Every value is a base-10 string.
type CircuitInput struct {
	SigningInputDigest []string `json:"signing_input_digest"`
	IssuerDigest       []string `json:"iss_digest"`
	AudienceDigest     []string `json:"aud_digest"`
	KeyClaimDigest     []string `json:"key_claim_digest"`
	KeyClaimName       string   `json:"key_claim_name"`
	Modulus            []string `json:"modulus"`
	Exponent           []string `json:"exponent"`
	Signature          []string `json:"signature"`
	EphemeralKey       []string `json:"eph_public_key"`
	MaxEpoch           string   `json:"max_epoch"`
	Randomness         string   `json:"jwt_randomness"`
	Nonce              string   `json:"nonce"`
	Salt               string   `json:"salt"`
	AddressSeed        string   `json:"address_seed"`
}

// Encode builds the circuit input. It fails with KeyMaterialTooLarge when the
// modulus or signature exceed the circuit's limb capacity.
func Encode(p Params) (*CircuitInput, error) {
	if p.Token == nil {
		return nil, fmt.Errorf("%w: no token", models.ErrInvalidClaims)
	}

	claimName := p.KeyClaimName
	if claimName == "" {
		claimName = DefaultKeyClaim
	}
	if !slices.Contains(KeyClaimNames, claimName) {
		return nil, fmt.Errorf("%w: key claim %q is not allowed", models.ErrInvalidClaims, claimName)
	}
	claimValue, ok := p.Token.StringClaim(claimName)
	if !ok || claimValue == "" {
		return nil, fmt.Errorf("%w: key claim %q is missing or not a string", models.ErrInvalidClaims, claimName)
	}

	if p.Salt == nil || p.Salt.Sign() < 0 || p.Salt.BitLen() > SaltBits {
		return nil, fmt.Errorf("%w: salt must fit in %d bits", models.ErrInvalidNumericInput, SaltBits)
	}
	if p.Randomness == nil || p.Randomness.Sign() < 0 || p.Randomness.BitLen() > RandomnessBits {
		return nil, fmt.Errorf("%w: randomness must fit in %d bits", models.ErrInvalidNumericInput, RandomnessBits)
	}

	in := &CircuitInput{
		KeyClaimName: claimName,
		MaxEpoch:     new(big.Int).SetUint64(p.MaxEpoch).String(),
		Randomness:   p.Randomness.String(),
		Salt:         p.Salt.String(),
	}

	sigDigest := sha256.Sum256([]byte(p.Token.SigningInput()))
	issDigest := sha256.Sum256([]byte(p.Token.Payload.Iss))
	audDigest := sha256.Sum256([]byte(p.Token.Audience()))
	keyDigest := sha256.Sum256([]byte(claimValue))

	var err error
	if in.SigningInputDigest, err = field.ByteElements(sigDigest[:], DigestBytes); err != nil {
		return nil, err
	}
	if in.IssuerDigest, err = field.ByteElements(issDigest[:], DigestBytes); err != nil {
		return nil, err
	}
	if in.AudienceDigest, err = field.ByteElements(audDigest[:], DigestBytes); err != nil {
		return nil, err
	}
	if in.KeyClaimDigest, err = field.ByteElements(keyDigest[:], DigestBytes); err != nil {
		return nil, err
	}

	if len(p.Modulus) == 0 || len(p.Exponent) == 0 {
		return nil, fmt.Errorf("%w: empty key material", models.ErrInvalidKeySet)
	}
	if in.Modulus, err = field.Limbs(p.Modulus, LimbBits, ModulusLimbs); err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	if in.Exponent, err = field.Limbs(p.Exponent, LimbBits, ExponentLimbs); err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if in.Signature, err = field.Limbs(p.Token.Signature, LimbBits, SignatureLimbs); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	chunks, err := nonce.KeyElements(p.EphemeralKey)
	if err != nil {
		return nil, err
	}
	in.EphemeralKey = make([]string, len(chunks))
	for i, c := range chunks {
		in.EphemeralKey[i] = c.String()
	}

	n := p.Nonce
	if n == nil {
		derived, err := nonce.Derive(p.EphemeralKey, p.MaxEpoch, p.Randomness)
		if err != nil {
			return nil, err
		}
		n = derived.Field
	}
	in.Nonce = n.String()

	seed, err := AddressSeed(keyDigest[:], audDigest[:], issDigest[:], p.Salt)
	if err != nil {
		return nil, err
	}
	in.AddressSeed = seed.String()

	return in, nil
}

// AddressSeed is MiMC(fe(keyClaimDigest), fe(audDigest), fe(issDigest), salt)
// where fe keeps the first 31 bytes of a digest
func AddressSeed(keyClaimDigest, audDigest, issDigest []byte, salt *big.Int) (*big.Int, error) {
	return field.Hash(
		field.FromDigest(keyClaimDigest),
		field.FromDigest(audDigest),
		field.FromDigest(issDigest),
		salt,
	)
}

// Validate re-checks the shape and range of every value
func (in *CircuitInput) Validate() error {
	vectors := []struct {
		name string
		v    []string
		n    int
		bits int
	}{
		{"signing_input_digest", in.SigningInputDigest, DigestBytes, 8},
		{"iss_digest", in.IssuerDigest, DigestBytes, 8},
		{"aud_digest", in.AudienceDigest, DigestBytes, 8},
		{"key_claim_digest", in.KeyClaimDigest, DigestBytes, 8},
		{"modulus", in.Modulus, ModulusLimbs, LimbBits},
		{"exponent", in.Exponent, ExponentLimbs, LimbBits},
		{"signature", in.Signature, SignatureLimbs, LimbBits},
		{"eph_public_key", in.EphemeralKey, KeyChunks, 8 * field.ElementBytes},
	}
	for _, vec := range vectors {
		if len(vec.v) != vec.n {
			return fmt.Errorf("%w: %s has %d elements, want %d", models.ErrEncodingOverflow, vec.name, len(vec.v), vec.n)
		}
		for i, s := range vec.v {
			if _, err := field.ParseNumeric(fmt.Sprintf("%s[%d]", vec.name, i), s, vec.bits); err != nil {
				return err
			}
		}
	}

	scalars := []struct {
		name string
		v    string
		bits int
	}{
		{"max_epoch", in.MaxEpoch, MaxEpochBits},
		{"jwt_randomness", in.Randomness, RandomnessBits},
		{"salt", in.Salt, SaltBits},
		{"nonce", in.Nonce, 254},
		{"address_seed", in.AddressSeed, 254},
	}
	for _, sc := range scalars {
		if _, err := field.ParseNumeric(sc.name, sc.v, sc.bits); err != nil {
			return err
		}
	}

	if !slices.Contains(KeyClaimNames, in.KeyClaimName) {
		return fmt.Errorf("%w: key claim %q is not allowed", models.ErrInvalidClaims, in.KeyClaimName)
	}
	return nil
}

// WriteFile validates the input and writes it as JSON
func (in *CircuitInput) WriteFile(path string) error {
	if err := in.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode circuit input: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write circuit input: %w", err)
	}
	return nil
}

// ReadFile loads and validates a circuit input file
func ReadFile(path string) (*CircuitInput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read circuit input: %w", err)
	}
	var in CircuitInput
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, fmt.Errorf("failed to decode circuit input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}
