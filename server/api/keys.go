package api

import (
	"encoding/base64"
	"math/big"

	"github.com/mynextid/zklogin-prover/jwks"
)

func keyInfo(k jwks.ResolvedKey) KeyInfo {
	return KeyInfo{
		Provider:       k.Provider,
		KeyID:          k.KeyID,
		ModulusBits:    new(big.Int).SetBytes(k.Modulus).BitLen(),
		FetchedAt:      k.FetchedAt,
		ModulusBase64:  base64.RawURLEncoding.EncodeToString(k.Modulus),
		ExponentBase64: base64.RawURLEncoding.EncodeToString(k.Exponent),
	}
}
