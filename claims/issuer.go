package claims

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mynextid/zklogin-prover/models"
)

// IssuerBase64Details returns the part of the base64url payload segment that
// covers the complete "iss" member (including its trailing ',' or '}') and the
// offset of that substring modulo 4, so verifiers can decode it in place.
func (t *Token) IssuerBase64Details() (*models.IssBase64Details, error) {
	start, end, err := memberSpan(t.payloadJSON, "iss")
	if err != nil {
		return nil, err
	}

	seg := t.Raw.Payload
	from := 4*(start/3) + start%3
	last := end - 1
	to := 4*(last/3) + last%3 + 2
	if to > len(seg) {
		to = len(seg)
	}
	if from >= to {
		return nil, fmt.Errorf("%w: iss span outside payload segment", models.ErrInvalidClaims)
	}

	return &models.IssBase64Details{
		Value:     seg[from:to],
		IndexMod4: from % 4,
	}, nil
}

// memberSpan returns the byte range of the top-level member name in the JSON
// object, from the opening quote of the key to the delimiter after the value.
func memberSpan(obj []byte, name string) (int, int, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))

	tok, err := dec.Token()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", models.ErrInvalidClaims, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return 0, 0, fmt.Errorf("%w: payload is not an object", models.ErrInvalidClaims)
	}

	for dec.More() {
		keyStart := skip(obj, int(dec.InputOffset()), " \t\r\n,")

		kt, err := dec.Token()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", models.ErrInvalidClaims, err)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", models.ErrInvalidClaims, err)
		}

		if key, _ := kt.(string); key == name {
			end := skip(obj, int(dec.InputOffset()), " \t\r\n")
			if end < len(obj) && (obj[end] == ',' || obj[end] == '}') {
				end++
			}
			return keyStart, end, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: missing %s", models.ErrInvalidClaims, name)
}

func skip(b []byte, i int, chars string) int {
	for i < len(b) && bytes.IndexByte([]byte(chars), b[i]) >= 0 {
		i++
	}
	return i
}
