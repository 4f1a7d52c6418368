// Package claims parses compact JWTs and validates their structure and temporal
// claims before any of their content reaches the circuit.
package claims

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mynextid/zklogin-prover/models"
)

// DefaultIatSkew is the forward clock skew tolerated for the iat claim
const DefaultIatSkew = 300 * time.Second

// Header holds the JOSE header fields the pipeline relies on
type Header struct {
	Alg string
	Typ string
	Kid string
}

// Payload holds the registered claims the pipeline relies on
type Payload struct {
	Iss   string
	Sub   string
	Aud   []string
	Exp   *int64
	Nbf   *int64
	Iat   *int64
	Nonce string
}

// Segments are the raw base64url segments of the compact token
type Segments struct {
	Header    string
	Payload   string
	Signature string
}

// Token is a parsed and validated compact JWT
type Token struct {
	Header    Header
	Payload   Payload
	Claims    map[string]any
	Signature []byte
	Raw       Segments

	payloadJSON []byte
}

// SigningInput returns the JWS signing input (header.payload)
func (t *Token) SigningInput() string {
	return t.Raw.Header + "." + t.Raw.Payload
}

// Compact returns the token in compact serialization
func (t *Token) Compact() string {
	return t.SigningInput() + "." + t.Raw.Signature
}

// StringClaim returns a string claim by name
func (t *Token) StringClaim(name string) (string, bool) {
	v, ok := t.Claims[name].(string)
	return v, ok
}

// Audience returns the first audience value
func (t *Token) Audience() string {
	if len(t.Payload.Aud) == 0 {
		return ""
	}
	return t.Payload.Aud[0]
}

// Validator parses tokens against a clock
type Validator struct {
	Now     func() time.Time
	IatSkew time.Duration
}

// NewValidator returns a validator using wall-clock time and the default skew
func NewValidator() *Validator {
	return &Validator{Now: time.Now, IatSkew: DefaultIatSkew}
}

var defaultValidator = NewValidator()

// Parse parses and validates token with the default validator
func Parse(token string) (*Token, error) {
	return defaultValidator.Parse(token)
}

// Parse splits, decodes and validates a compact JWT
func (v *Validator) Parse(token string) (*Token, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", models.ErrMalformedToken, len(parts))
	}

	headerJSON, err := DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding header: %v", models.ErrMalformedToken, err)
	}
	payloadJSON, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", models.ErrMalformedToken, err)
	}
	if parts[2] == "" {
		return nil, fmt.Errorf("%w: empty signature", models.ErrMalformedToken)
	}
	sig, err := DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature: %v", models.ErrMalformedToken, err)
	}

	rawHeader, err := decodeObject(headerJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", models.ErrMalformedToken, err)
	}
	rawClaims, err := decodeObject(payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", models.ErrMalformedToken, err)
	}

	header, err := parseHeader(rawHeader)
	if err != nil {
		return nil, err
	}
	payload, err := parsePayload(rawClaims)
	if err != nil {
		return nil, err
	}

	if err := v.checkTime(payload); err != nil {
		return nil, err
	}

	return &Token{
		Header:      header,
		Payload:     payload,
		Claims:      rawClaims,
		Signature:   sig,
		Raw:         Segments{Header: parts[0], Payload: parts[1], Signature: parts[2]},
		payloadJSON: payloadJSON,
	}, nil
}

func (v *Validator) checkTime(p Payload) error {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	if p.Exp != nil && !now.Before(time.Unix(*p.Exp, 0)) {
		return fmt.Errorf("%w: exp %d is not in the future", models.ErrTokenExpired, *p.Exp)
	}
	if p.Nbf != nil && now.Before(time.Unix(*p.Nbf, 0)) {
		return fmt.Errorf("%w: nbf %d not reached", models.ErrTokenNotYetValid, *p.Nbf)
	}
	if p.Iat != nil && time.Unix(*p.Iat, 0).After(now.Add(v.IatSkew)) {
		return fmt.Errorf("%w: iat %d beyond %s skew", models.ErrTokenIssuedInFuture, *p.Iat, v.IatSkew)
	}
	return nil
}

func parseHeader(m map[string]any) (Header, error) {
	var h Header
	var ok bool

	if h.Alg, ok = m["alg"].(string); !ok || h.Alg == "" {
		return h, fmt.Errorf("%w: missing alg", models.ErrInvalidHeader)
	}
	if h.Typ, ok = m["typ"].(string); !ok || h.Typ == "" {
		return h, fmt.Errorf("%w: missing typ", models.ErrInvalidHeader)
	}
	if h.Typ != "JWT" {
		return h, fmt.Errorf("%w: typ must be JWT", models.ErrInvalidHeader)
	}
	if h.Kid, ok = m["kid"].(string); !ok || h.Kid == "" {
		return h, fmt.Errorf("%w: missing kid", models.ErrInvalidHeader)
	}
	return h, nil
}

func parsePayload(m map[string]any) (Payload, error) {
	var p Payload
	var err error

	var ok bool
	if p.Iss, ok = m["iss"].(string); !ok || p.Iss == "" {
		return p, fmt.Errorf("%w: missing iss", models.ErrInvalidClaims)
	}
	if p.Sub, ok = m["sub"].(string); !ok || p.Sub == "" {
		return p, fmt.Errorf("%w: missing sub", models.ErrInvalidClaims)
	}

	if p.Aud, err = parseAudience(m["aud"]); err != nil {
		return p, err
	}

	if p.Exp, err = numericDate(m, "exp"); err != nil {
		return p, err
	}
	if p.Nbf, err = numericDate(m, "nbf"); err != nil {
		return p, err
	}
	if p.Iat, err = numericDate(m, "iat"); err != nil {
		return p, err
	}

	if n, present := m["nonce"]; present {
		s, ok := n.(string)
		if !ok {
			return p, fmt.Errorf("%w: nonce must be a string", models.ErrInvalidClaims)
		}
		p.Nonce = s
	}
	return p, nil
}

func parseAudience(v any) ([]string, error) {
	switch aud := v.(type) {
	case string:
		if aud != "" {
			return []string{aud}, nil
		}
	case []any:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			s, ok := a.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%w: aud entries must be non-empty strings", models.ErrInvalidClaims)
			}
			out = append(out, s)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: missing aud", models.ErrInvalidClaims)
}

// NumericDate bounds, 1970-01-01 through 9999-12-31 UTC
const (
	minNumericDate = 0
	maxNumericDate = 253402300799
)

func numericDate(m map[string]any, name string) (*int64, error) {
	v, present := m[name]
	if !present {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a number", models.ErrInvalidClaims, name)
	}

	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f < minNumericDate || f > maxNumericDate {
			return nil, fmt.Errorf("%w: %s %s out of range", models.ErrInvalidClaims, name, n)
		}
		i = int64(math.Floor(f))
	}
	if i < minNumericDate || i > maxNumericDate {
		return nil, fmt.Errorf("%w: %s %s out of range", models.ErrInvalidClaims, name, n)
	}
	return &i, nil
}

// decodeObject decodes a single JSON object, rejecting repeated top-level
// members so every consumer of the payload sees the same claim values.
func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}

	m := make(map[string]any)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("invalid member name")
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("duplicate member %q", key)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		m[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return m, nil
}

// DecodeSegment decodes a base64url segment, tolerating trailing padding
func DecodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
