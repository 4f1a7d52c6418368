package claims_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mynextid/zklogin-prover/claims"
	"github.com/mynextid/zklogin-prover/models"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func makeJWT(header, payload map[string]any) string {
	h, _ := json.Marshal(header)
	p, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(h) + "." +
		base64.RawURLEncoding.EncodeToString(p) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("test-signature"))
}

func validHeader() map[string]any {
	return map[string]any{"alg": "RS256", "typ": "JWT", "kid": "key-1"}
}

func validPayload() map[string]any {
	return map[string]any{
		"iss":   "https://accounts.google.com",
		"sub":   "110463452167303598383",
		"aud":   "client-id.apps.googleusercontent.com",
		"exp":   fixedNow.Add(time.Hour).Unix(),
		"iat":   fixedNow.Add(-time.Minute).Unix(),
		"nonce": "hTPpgF7XAKbW37rEUS6pEVZqmoI",
	}
}

func validator() *claims.Validator {
	return &claims.Validator{
		Now:     func() time.Time { return fixedNow },
		IatSkew: claims.DefaultIatSkew,
	}
}

func TestParseValid(t *testing.T) {
	raw := makeJWT(validHeader(), validPayload())

	tok, err := validator().Parse(raw)
	require.NoError(t, err)

	require.Equal(t, "RS256", tok.Header.Alg)
	require.Equal(t, "key-1", tok.Header.Kid)
	require.Equal(t, "https://accounts.google.com", tok.Payload.Iss)
	require.Equal(t, "110463452167303598383", tok.Payload.Sub)
	require.Equal(t, []string{"client-id.apps.googleusercontent.com"}, tok.Payload.Aud)
	require.Equal(t, "hTPpgF7XAKbW37rEUS6pEVZqmoI", tok.Payload.Nonce)
	require.Equal(t, []byte("test-signature"), tok.Signature)
	require.Equal(t, raw, tok.Compact())
	require.Equal(t, strings.Join(strings.Split(raw, ".")[:2], "."), tok.SigningInput())

	sub, ok := tok.StringClaim("sub")
	require.True(t, ok)
	require.Equal(t, "110463452167303598383", sub)
}

func TestParseAudienceArray(t *testing.T) {
	p := validPayload()
	p["aud"] = []string{"a", "b"}

	tok, err := validator().Parse(makeJWT(validHeader(), p))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tok.Payload.Aud)
	require.Equal(t, "a", tok.Audience())
}

func TestParsePaddedSegments(t *testing.T) {
	h, _ := json.Marshal(validHeader())
	p, _ := json.Marshal(validPayload())
	raw := base64.URLEncoding.EncodeToString(h) + "." +
		base64.URLEncoding.EncodeToString(p) + "." +
		base64.URLEncoding.EncodeToString([]byte("sig"))

	_, err := validator().Parse(raw)
	require.NoError(t, err)
}

func TestParseMalformed(t *testing.T) {
	good := makeJWT(validHeader(), validPayload())
	parts := strings.Split(good, ".")
	notJSON := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	array := base64.RawURLEncoding.EncodeToString([]byte(`["a"]`))

	tests := map[string]string{
		"two segments":        parts[0] + "." + parts[1],
		"four segments":       good + ".extra",
		"header not base64":   "!!!." + parts[1] + "." + parts[2],
		"payload not base64":  parts[0] + ".***." + parts[2],
		"header not json":     notJSON + "." + parts[1] + "." + parts[2],
		"payload not json":    parts[0] + "." + notJSON + "." + parts[2],
		"payload json array":  parts[0] + "." + array + "." + parts[2],
		"empty signature":     parts[0] + "." + parts[1] + ".",
		"signature not b64":   parts[0] + "." + parts[1] + ".a+b/",
		"empty":               "",
		"standard b64 header": strings.ReplaceAll(parts[0], "-", "+") + "+." + parts[1] + "." + parts[2],
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validator().Parse(raw)
			require.ErrorIs(t, err, models.ErrMalformedToken)
		})
	}
}

func TestParseInvalidHeader(t *testing.T) {
	tests := map[string]map[string]any{
		"missing alg":   {"typ": "JWT", "kid": "k"},
		"missing typ":   {"alg": "RS256", "kid": "k"},
		"wrong typ":     {"alg": "RS256", "typ": "JWS", "kid": "k"},
		"missing kid":   {"alg": "RS256", "typ": "JWT"},
		"numeric alg":   {"alg": 256, "typ": "JWT", "kid": "k"},
		"lowercase typ": {"alg": "RS256", "typ": "jwt", "kid": "k"},
	}

	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validator().Parse(makeJWT(h, validPayload()))
			require.ErrorIs(t, err, models.ErrInvalidHeader)
		})
	}
}

func TestParseInvalidClaims(t *testing.T) {
	tests := map[string]func(p map[string]any){
		"missing iss":     func(p map[string]any) { delete(p, "iss") },
		"empty sub":       func(p map[string]any) { p["sub"] = "" },
		"missing aud":     func(p map[string]any) { delete(p, "aud") },
		"empty aud array": func(p map[string]any) { p["aud"] = []string{} },
		"numeric aud":     func(p map[string]any) { p["aud"] = 5 },
		"string exp":      func(p map[string]any) { p["exp"] = "tomorrow" },
		"numeric nonce":   func(p map[string]any) { p["nonce"] = 12 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := validPayload()
			mutate(p)
			_, err := validator().Parse(makeJWT(validHeader(), p))
			require.ErrorIs(t, err, models.ErrInvalidClaims)
		})
	}
}

func TestParseTemporal(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p map[string]any)
		wantErr error
	}{
		{"exp in the past", func(p map[string]any) { p["exp"] = fixedNow.Add(-time.Second).Unix() }, models.ErrTokenExpired},
		{"exp equals now", func(p map[string]any) { p["exp"] = fixedNow.Unix() }, models.ErrTokenExpired},
		{"exp in the future", func(p map[string]any) { p["exp"] = fixedNow.Add(time.Second).Unix() }, nil},
		{"no exp", func(p map[string]any) { delete(p, "exp") }, nil},
		{"fractional exp", func(p map[string]any) { p["exp"] = float64(fixedNow.Unix()) + 60.5 }, nil},
		{"nbf in the future", func(p map[string]any) { p["nbf"] = fixedNow.Add(time.Minute).Unix() }, models.ErrTokenNotYetValid},
		{"nbf reached", func(p map[string]any) { p["nbf"] = fixedNow.Unix() }, nil},
		{"iat within skew", func(p map[string]any) { p["iat"] = fixedNow.Add(299 * time.Second).Unix() }, nil},
		{"iat beyond skew", func(p map[string]any) { p["iat"] = fixedNow.Add(301 * time.Second).Unix() }, models.ErrTokenIssuedInFuture},
		{"nbf overflowing int64", func(p map[string]any) { p["nbf"] = 1e19 }, models.ErrInvalidClaims},
		{"nbf near max int64", func(p map[string]any) { p["nbf"] = int64(9223372036854775000) }, models.ErrInvalidClaims},
		{"iat overflowing int64", func(p map[string]any) { p["iat"] = 1e19 }, models.ErrInvalidClaims},
		{"iat near max int64", func(p map[string]any) { p["iat"] = int64(9223372036854775000) }, models.ErrInvalidClaims},
		{"exp overflowing int64", func(p map[string]any) { p["exp"] = 1e19 }, models.ErrInvalidClaims},
		{"exp after year 9999", func(p map[string]any) { p["exp"] = int64(253402300800) }, models.ErrInvalidClaims},
		{"exp at year 9999", func(p map[string]any) { p["exp"] = int64(253402300799) }, nil},
		{"negative iat", func(p map[string]any) { p["iat"] = -1 }, models.ErrInvalidClaims},
		{"negative fractional nbf", func(p map[string]any) { p["nbf"] = -0.5 }, models.ErrInvalidClaims},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(p)
			_, err := validator().Parse(makeJWT(validHeader(), p))
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func rawPayloadJWT(payload string) string {
	h, _ := json.Marshal(validHeader())
	return base64.RawURLEncoding.EncodeToString(h) + "." +
		base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("test-signature"))
}

func TestParseNumericDateLiterals(t *testing.T) {
	const base = `"iss":"https://accounts.google.com","sub":"1","aud":"a"`

	tests := map[string]string{
		"nbf exponent":  `"nbf":1e19`,
		"nbf max int":   `"nbf":9223372036854775000`,
		"iat exponent":  `"iat":1e19`,
		"iat max int":   `"iat":9223372036854775000`,
		"exp exponent":  `"exp":1e19`,
		"exp huge":      `"exp":1e400`,
		"iat below min": `"iat":-9223372036854775808`,
	}
	for name, member := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validator().Parse(rawPayloadJWT("{" + base + "," + member + "}"))
			require.ErrorIs(t, err, models.ErrInvalidClaims)
			require.ErrorContains(t, err, "out of range")
		})
	}

	tok, err := validator().Parse(rawPayloadJWT("{" + base + `,"iat":1.6999e9,"nbf":0}`))
	require.NoError(t, err)
	require.Equal(t, int64(1_699_900_000), *tok.Payload.Iat)
	require.Equal(t, int64(0), *tok.Payload.Nbf)
}

func TestParseDuplicateMembers(t *testing.T) {
	tests := map[string]string{
		"repeated iss": `{"iss":"https://evil.example","sub":"1","aud":"a","iss":"https://accounts.google.com"}`,
		"escaped iss":  `{"iss":"https://evil.example","sub":"1","aud":"a","i\u0073s":"https://accounts.google.com"}`,
		"repeated sub": `{"iss":"https://accounts.google.com","sub":"1","aud":"a","sub":"2"}`,
		"null repeat":  `{"iss":"https://accounts.google.com","sub":"1","aud":"a","nonce":null,"nonce":"n"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validator().Parse(rawPayloadJWT(payload))
			require.ErrorIs(t, err, models.ErrMalformedToken)
			require.ErrorContains(t, err, "duplicate member")
		})
	}

	h := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","kid":"a","kid":"b"}`))
	p := strings.Split(makeJWT(validHeader(), validPayload()), ".")
	_, err := validator().Parse(h + "." + p[1] + "." + p[2])
	require.ErrorIs(t, err, models.ErrMalformedToken)
}

func TestParseDeterministicErrors(t *testing.T) {
	raw := makeJWT(map[string]any{"alg": "RS256"}, validPayload())
	_, err1 := validator().Parse(raw)
	_, err2 := validator().Parse(raw)
	require.Equal(t, err1.Error(), err2.Error())
}

func TestIssuerBase64Details(t *testing.T) {
	for _, iss := range []string{"https://accounts.google.com", "https://id.twitch.tv/oauth2", "https://www.facebook.com"} {
		for pad := 0; pad < 3; pad++ {
			p := validPayload()
			p["iss"] = iss
			p["a"] = strings.Repeat("x", pad)

			tok, err := validator().Parse(makeJWT(validHeader(), p))
			require.NoError(t, err)

			d, err := tok.IssuerBase64Details()
			require.NoError(t, err)

			seg := tok.Raw.Payload
			idx := strings.Index(seg, d.Value)
			require.GreaterOrEqual(t, idx, 0)
			require.Equal(t, idx%4, d.IndexMod4)

			// decoding the enclosing 4-character groups must reveal the whole member
			from := idx - idx%4
			to := idx + len(d.Value)
			if r := to % 4; r != 0 {
				to += 4 - r
			}
			if to > len(seg) {
				to = len(seg)
			}
			decoded, err := base64.RawURLEncoding.DecodeString(seg[from:to])
			require.NoError(t, err)
			require.Contains(t, string(decoded), `"iss":"`+iss+`"`)
		}
	}
}
