// Package field converts untrusted values into BN254 scalar field elements in
// the fixed-width layouts the zkLogin circuit expects.
package field

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/mynextid/zklogin-prover/models"
)

// ElementBytes is the number of bytes that always fit in one field element
const ElementBytes = 31

var modulus = fr.Modulus()

// Modulus returns a copy of the BN254 scalar field modulus
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// InField reports whether v is a canonical field element
func InField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(modulus) < 0
}

// ParseNumeric parses a non-empty base-10 digit string whose value is below
// 2^maxBits and the field modulus. name identifies the input in errors; the
// value itself is never echoed.
func ParseNumeric(name, s string, maxBits int) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrInvalidNumericInput, name)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("%w: %s must contain only decimal digits", models.ErrInvalidNumericInput, name)
		}
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", models.ErrInvalidNumericInput, name)
	}
	if v.BitLen() > maxBits {
		return nil, fmt.Errorf("%w: %s exceeds %d bits", models.ErrInvalidNumericInput, name, maxBits)
	}
	if !InField(v) {
		return nil, fmt.Errorf("%w: %s is not below the field modulus", models.ErrInvalidNumericInput, name)
	}
	return v, nil
}

// ByteElements encodes b as n byte-sized elements, most significant first and
// left-padded with zeros.
func ByteElements(b []byte, n int) ([]string, error) {
	if len(b) > n {
		return nil, fmt.Errorf("%w: %d bytes do not fit in %d elements", models.ErrEncodingOverflow, len(b), n)
	}

	out := make([]string, n)
	pad := n - len(b)
	for i := 0; i < pad; i++ {
		out[i] = "0"
	}
	for i, v := range b {
		out[pad+i] = strconv.Itoa(int(v))
	}
	return out, nil
}

// Limbs splits the big-endian integer b into n little-endian limbs of the given
// bit width, zero-padded on the high end.
func Limbs(b []byte, bits, n int) ([]string, error) {
	v := new(big.Int).SetBytes(b)

	needed := (v.BitLen() + bits - 1) / bits
	if needed > n {
		return nil, fmt.Errorf("%w: needs %d limbs of %d bits, circuit accepts %d",
			models.ErrKeyMaterialTooLarge, needed, bits, n)
	}

	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits)), big.NewInt(1))
	out := make([]string, n)
	for i := range out {
		out[i] = new(big.Int).And(v, mask).String()
		v.Rsh(v, uint(bits))
	}
	return out, nil
}

// Chunks left-pads b to n*size bytes and splits it into n big-endian chunks.
// size must not exceed ElementBytes.
func Chunks(b []byte, size, n int) ([]*big.Int, error) {
	total := size * n
	if len(b) > total {
		return nil, fmt.Errorf("%w: %d bytes do not fit in %d chunks of %d bytes",
			models.ErrEncodingOverflow, len(b), n, size)
	}

	padded := make([]byte, total)
	copy(padded[total-len(b):], b)

	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int).SetBytes(padded[i*size : (i+1)*size])
	}
	return out, nil
}

// FromDigest maps a hash digest to a field element by keeping its first
// ElementBytes bytes.
func FromDigest(d []byte) *big.Int {
	if len(d) > ElementBytes {
		d = d[:ElementBytes]
	}
	return new(big.Int).SetBytes(d)
}

// Hash computes the BN254 MiMC hash of the given field elements. It matches the
// in-circuit gnark std/hash/mimc gadget.
func Hash(elems ...*big.Int) (*big.Int, error) {
	h := mimc.NewMiMC()
	for i, e := range elems {
		if !InField(e) {
			return nil, fmt.Errorf("%w: hash input %d is not a field element", models.ErrEncodingOverflow, i)
		}
		var buf [fr.Bytes]byte
		e.FillBytes(buf[:])
		if _, err := h.Write(buf[:]); err != nil {
			return nil, fmt.Errorf("mimc write: %w", err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}
