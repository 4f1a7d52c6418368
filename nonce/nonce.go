// Package nonce derives the zkLogin nonce from ephemeral key material and checks
// that a token was issued for it.
package nonce

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/mynextid/zklogin-prover/claims"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/field"
	"github.com/mynextid/zklogin-prover/models"
)

const (
	// KeyChunks is the number of field elements an ephemeral key is split into
	KeyChunks = 3
	// MaxKeyBytes is the longest accepted ephemeral public key
	MaxKeyBytes = 64
	// RandomnessBits bounds the jwt randomness
	RandomnessBits = 128
	// Bytes is the number of hash bytes carried in the nonce claim
	Bytes = 20
)

// Nonce is a derived nonce in wire and field form
type Nonce struct {
	Value string
	Field *big.Int
}

// Derive computes MiMC(k0, k1, k2, maxEpoch, randomness) where k0..k2 are the
// 31-byte chunks of the left-padded key. The wire value is the unpadded
// base64url encoding of the last 20 bytes of the hash.
func Derive(ephemeralPubKey []byte, maxEpoch uint64, randomness *big.Int) (Nonce, error) {
	if len(ephemeralPubKey) == 0 || len(ephemeralPubKey) > MaxKeyBytes {
		return Nonce{}, fmt.Errorf("%w: key must be 1 to %d bytes", models.ErrInvalidEphemeralKey, MaxKeyBytes)
	}
	if randomness == nil || randomness.Sign() < 0 || randomness.BitLen() > RandomnessBits {
		return Nonce{}, fmt.Errorf("%w: randomness must fit in %d bits", models.ErrInvalidNumericInput, RandomnessBits)
	}

	chunks, err := KeyElements(ephemeralPubKey)
	if err != nil {
		return Nonce{}, err
	}

	h, err := field.Hash(append(chunks, new(big.Int).SetUint64(maxEpoch), randomness)...)
	if err != nil {
		return Nonce{}, err
	}

	var buf [32]byte
	h.FillBytes(buf[:])
	return Nonce{
		Value: base64.RawURLEncoding.EncodeToString(buf[len(buf)-Bytes:]),
		Field: h,
	}, nil
}

// KeyElements splits an ephemeral key into the field elements used by the circuit
func KeyElements(key []byte) ([]*big.Int, error) {
	chunks, err := field.Chunks(key, field.ElementBytes, KeyChunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidEphemeralKey, err)
	}
	return chunks, nil
}

// ParseEphemeralKey decodes a base64 public key, standard or URL alphabet, with
// or without padding
func ParseEphemeralKey(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", models.ErrInvalidEphemeralKey)
	}

	var enc *base64.Encoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	} else {
		enc = base64.RawStdEncoding
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", models.ErrInvalidEphemeralKey)
	}
	if len(b) == 0 || len(b) > MaxKeyBytes {
		return nil, fmt.Errorf("%w: key must be 1 to %d bytes", models.ErrInvalidEphemeralKey, MaxKeyBytes)
	}
	return b, nil
}

// Verify reports whether the token's nonce claim equals expected
func Verify(tok *claims.Token, expected Nonce) (bool, error) {
	claim := tok.Payload.Nonce
	if claim == "" {
		return false, models.ErrMissingNonceClaim
	}
	return subtle.ConstantTimeCompare([]byte(claim), []byte(expected.Value)) == 1, nil
}

// Binding is the result of checking a token against ephemeral key material
type Binding struct {
	Nonce Nonce
	Match bool
}

// Bind derives the nonce for the key material and compares it to the token
func Bind(tok *claims.Token, ephemeralPubKey []byte, maxEpoch uint64, randomness *big.Int) (*Binding, error) {
	if tok.Payload.Nonce == "" {
		return nil, models.ErrMissingNonceClaim
	}

	n, err := Derive(ephemeralPubKey, maxEpoch, randomness)
	if err != nil {
		return nil, err
	}
	ok, err := Verify(tok, n)
	if err != nil {
		return nil, err
	}
	return &Binding{Nonce: n, Match: ok}, nil
}

// Policy decides what happens when the token nonce does not match
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicyWarn   Policy = "warn"
)

// ParsePolicy parses a policy name; the empty string selects PolicyReject
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyWarn:
		return p, nil
	}
	return "", fmt.Errorf("unknown nonce policy %q", s)
}

// Enforce returns ErrNonceMismatch for a mismatched binding under PolicyReject.
// Under PolicyWarn the mismatch is only logged.
func (p Policy) Enforce(b *Binding, logger common.Logger) error {
	if b.Match {
		return nil
	}
	if p == PolicyWarn {
		logger.Warn("token nonce does not match ephemeral key material, continuing", "policy", string(p))
		return nil
	}
	return models.ErrNonceMismatch
}
