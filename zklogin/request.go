package zklogin

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is a proof request as received on the wire
type Request struct {
	JWT                string  `json:"jwt"`
	EphemeralPublicKey string  `json:"ephemeralPublicKey"`
	MaxEpoch           Numeric `json:"maxEpoch"`
	JWTRandomness      Numeric `json:"jwtRandomness"`
	Salt               Numeric `json:"salt"`
	KeyClaimName       string  `json:"keyClaimName,omitempty"`
}

// Numeric is a decimal integer sent either as a JSON string or a JSON number.
// Numbers are kept verbatim so large values do not lose precision.
type Numeric string

func (n *Numeric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Numeric(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected a string or number")
	}
	*n = Numeric(num.String())
	return nil
}

func (n Numeric) String() string {
	return string(n)
}
