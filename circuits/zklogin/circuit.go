// Package zklogin is the reference zkLogin circuit and the gnark-based witness
// generator, prover and verifier built around it.
package zklogin

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/field"
)

// Name is the artifact base name of the circuit
const Name = "zklogin"

// NbPublic is the number of public inputs, Valid included
const NbPublic = 3 + circuitinput.KeyChunks

// Circuit binds a token's identity and nonce to the ephemeral key.
//
// Public inputs, in order: Valid, AddressSeed, MaxEpoch, EphemeralKey.
// The RSA signature is only checked for shape; signature verification happens
// off-circuit before proving.
type Circuit struct {
	Valid        frontend.Variable                         `gnark:",public"`
	AddressSeed  frontend.Variable                         `gnark:",public"`
	MaxEpoch     frontend.Variable                         `gnark:",public"`
	EphemeralKey [circuitinput.KeyChunks]frontend.Variable `gnark:",public"`

	SigningInputDigest [circuitinput.DigestBytes]frontend.Variable    `gnark:",secret"`
	IssuerDigest       [circuitinput.DigestBytes]frontend.Variable    `gnark:",secret"`
	AudienceDigest     [circuitinput.DigestBytes]frontend.Variable    `gnark:",secret"`
	KeyClaimDigest     [circuitinput.DigestBytes]frontend.Variable    `gnark:",secret"`
	Modulus            [circuitinput.ModulusLimbs]frontend.Variable   `gnark:",secret"`
	Exponent           [circuitinput.ExponentLimbs]frontend.Variable  `gnark:",secret"`
	Signature          [circuitinput.SignatureLimbs]frontend.Variable `gnark:",secret"`
	Randomness         frontend.Variable                              `gnark:",secret"`
	Nonce              frontend.Variable                              `gnark:",secret"`
	Salt               frontend.Variable                              `gnark:",secret"`
}

func (c *Circuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.Valid, 1)

	// ranges
	for _, digest := range [][circuitinput.DigestBytes]frontend.Variable{
		c.SigningInputDigest, c.IssuerDigest, c.AudienceDigest, c.KeyClaimDigest,
	} {
		for _, b := range digest {
			api.ToBinary(b, 8)
		}
	}
	for _, l := range c.Modulus {
		api.ToBinary(l, circuitinput.LimbBits)
	}
	for _, l := range c.Signature {
		api.ToBinary(l, circuitinput.LimbBits)
	}
	for _, l := range c.Exponent {
		api.ToBinary(l, circuitinput.LimbBits)
	}
	for _, k := range c.EphemeralKey {
		api.ToBinary(k, 8*field.ElementBytes)
	}
	api.ToBinary(c.MaxEpoch, circuitinput.MaxEpochBits)
	api.ToBinary(c.Randomness, circuitinput.RandomnessBits)
	api.ToBinary(c.Salt, circuitinput.SaltBits)

	// nonce = MiMC(ephemeral key, max epoch, randomness)
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("mimc: %w", err)
	}
	h.Write(c.EphemeralKey[:]...)
	h.Write(c.MaxEpoch, c.Randomness)
	api.AssertIsEqual(h.Sum(), c.Nonce)

	// address seed = MiMC(key claim, audience, issuer, salt)
	h.Reset()
	h.Write(
		pack(api, c.KeyClaimDigest),
		pack(api, c.AudienceDigest),
		pack(api, c.IssuerDigest),
		c.Salt,
	)
	api.AssertIsEqual(h.Sum(), c.AddressSeed)

	// limbs are range checked, so a zero sum means all limbs are zero
	api.AssertIsDifferent(api.Add(c.Signature[0], c.Signature[1], c.Signature[2:]...), 0)
	api.AssertIsDifferent(api.Add(c.Modulus[0], c.Modulus[1], c.Modulus[2:]...), 0)
	api.AssertIsDifferent(api.Add(c.Exponent[0], c.Exponent[1]), 0)

	return nil
}

// pack folds the first field.ElementBytes bytes of a digest into one element,
// big-endian
func pack(api frontend.API, digest [circuitinput.DigestBytes]frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	for i := 0; i < field.ElementBytes; i++ {
		acc = api.Add(api.Mul(acc, 256), digest[i])
	}
	return acc
}
