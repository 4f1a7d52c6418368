package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	zkcircuit "github.com/mynextid/zklogin-prover/circuits/zklogin"
	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/models"
	"github.com/mynextid/zklogin-prover/server/api"
	"github.com/mynextid/zklogin-prover/zklogin"
)

type proverFunc func(ctx context.Context, req zklogin.Request) (*models.WireResponse, error)

func (f proverFunc) Prove(ctx context.Context, req zklogin.Request) (*models.WireResponse, error) {
	return f(ctx, req)
}

type keyLister struct {
	keys []jwks.ResolvedKey
	ok   bool
}

func (l keyLister) CachedKeys() ([]jwks.ResolvedKey, bool) {
	return l.keys, l.ok
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Error)
	require.False(t, resp.Timestamp.IsZero())
	return resp
}

func TestHandleProve(t *testing.T) {
	var got zklogin.Request
	s := api.NewServer(api.Config{Prover: proverFunc(func(_ context.Context, req zklogin.Request) (*models.WireResponse, error) {
		got = req
		return &models.WireResponse{
			ProofPoints:   models.ProofPoints{A: []string{"1", "2"}},
			Protocol:      "groth16",
			Curve:         "bn128",
			PublicSignals: []string{"1", "7"},
			AddressSeed:   "7",
		}, nil
	})})

	rec := post(s.HandleProve, `{
		"jwt": "h.p.s",
		"ephemeralPublicKey": "AQID",
		"maxEpoch": 10,
		"jwtRandomness": "100681567828351849884072155819400689117",
		"salt": "129390038577185583942388216820280642146",
		"keyClaimName": "sub"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "h.p.s", got.JWT)
	require.Equal(t, zklogin.Numeric("10"), got.MaxEpoch)
	require.Equal(t, "sub", got.KeyClaimName)

	var resp models.WireResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "7", resp.AddressSeed)
	require.Equal(t, []string{"1", "7"}, resp.PublicSignals)
}

func TestHandleProveErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad json", `{"jwt":`, nil, http.StatusBadRequest, "invalid_request"},
		{"bad numeric type", `{"maxEpoch": {}}`, nil, http.StatusBadRequest, "invalid_request"},
		{"nonce mismatch", `{}`, fmt.Errorf("bind: %w", models.ErrNonceMismatch), http.StatusBadRequest, "nonce_mismatch"},
		{"expired", `{}`, models.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{"discovery", `{}`, models.ErrKeyDiscoveryUnavailable, http.StatusBadGateway, "key_discovery_unavailable"},
		{"timeout", `{}`, models.ErrProverTimeout, http.StatusGatewayTimeout, "prover_timeout"},
		{"not ready", `{}`, models.ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", `{}`, fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			s := api.NewServer(api.Config{Prover: proverFunc(func(context.Context, zklogin.Request) (*models.WireResponse, error) {
				called = true
				return nil, tc.err
			})})

			rec := post(s.HandleProve, tc.body)
			require.Equal(t, tc.wantStatus, rec.Code)
			require.Equal(t, tc.wantCode, errorBody(t, rec).Code)
			require.Equal(t, tc.err != nil, called)
		})
	}
}

const verifyBody = `{
	"proofPoints": {"a": ["1", "2"], "b": [["1", "2"], ["3", "4"]], "c": ["5", "6"]},
	"protocol": "groth16",
	"curve": "bn128",
	"publicSignals": ["1", "2", "3", "4", "5", "6"]
}`

func TestHandleVerify(t *testing.T) {
	var got *models.ProofArtifact
	s := api.NewServer(api.Config{
		Prover: proverFunc(nil),
		Verify: func(a *models.ProofArtifact) error {
			got = a
			return nil
		},
	})

	rec := post(s.HandleVerify, verifyBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Valid)

	require.Equal(t, []string{"1", "2"}, got.PiA)
	require.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, got.PiB)
	require.Equal(t, []string{"5", "6"}, got.PiC)
	require.Len(t, got.PublicSignals, zkcircuit.NbPublic)
}

func TestHandleVerifyOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		verifyErr  error
		wantStatus int
		wantValid  bool
		wantCode   string
	}{
		{"invalid proof", verifyBody, fmt.Errorf("%w: pairing", models.ErrInvalidProof), http.StatusOK, false, ""},
		{"malformed", verifyBody, models.ErrMalformedProofArtifact, http.StatusInternalServerError, false, "malformed_proof_artifact"},
		{"no signals", `{"protocol":"groth16"}`, nil, http.StatusBadRequest, false, "invalid_request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := api.NewServer(api.Config{
				Prover: proverFunc(nil),
				Verify: func(*models.ProofArtifact) error { return tc.verifyErr },
			})

			rec := post(s.HandleVerify, tc.body)
			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantCode != "" {
				require.Equal(t, tc.wantCode, errorBody(t, rec).Code)
				return
			}
			var resp api.VerifyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.wantValid, resp.Valid)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestHandleVerifyWithoutKey(t *testing.T) {
	s := api.NewServer(api.Config{Prover: proverFunc(nil)})
	rec := post(s.HandleVerify, verifyBody)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListKeys(t *testing.T) {
	fetched := time.Unix(1_700_000_000, 0).UTC()
	mod := make([]byte, 256)
	mod[0] = 0xc1

	s := api.NewServer(api.Config{
		Prover: proverFunc(nil),
		Keys: keyLister{ok: true, keys: []jwks.ResolvedKey{
			{Provider: "google", KeyID: "k1", Modulus: mod, Exponent: []byte{1, 0, 1}, FetchedAt: fetched},
		}},
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/keys", nil)
	rec := httptest.NewRecorder()
	s.HandleListKeys(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.KeyListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "k1", resp.Keys[0].KeyID)
	require.Equal(t, 2048, resp.Keys[0].ModulusBits)
	require.Equal(t, "AQAB", resp.Keys[0].ExponentBase64)
	require.True(t, fetched.Equal(resp.Keys[0].FetchedAt))

	s = api.NewServer(api.Config{Prover: proverFunc(nil), Keys: keyLister{}})
	rec = httptest.NewRecorder()
	s.HandleListKeys(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleGetCircuit(t *testing.T) {
	s := api.NewServer(api.Config{Prover: proverFunc(nil)})

	rec := httptest.NewRecorder()
	s.HandleGetCircuit(rec, httptest.NewRequest(http.MethodGet, "/v1/circuit", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.CircuitInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, zkcircuit.Name, resp.Name)
	require.Equal(t, "bn128", resp.Curve)
	require.Equal(t, zkcircuit.NbPublic, resp.NbPublic)
	require.False(t, resp.Verifying)
}
