package zklogin_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/claims"
	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/models"
	"github.com/mynextid/zklogin-prover/nonce"
	"github.com/mynextid/zklogin-prover/prover"
	"github.com/mynextid/zklogin-prover/prover/provertest"
	"github.com/mynextid/zklogin-prover/zklogin"
)

func TestMain(m *testing.M) {
	provertest.Main(m)
}

const (
	testIssuer = "https://accounts.google.com"
	testKid    = "test-kid"
)

var (
	now = time.Unix(1_700_000_000, 0)

	keyOnce sync.Once
	rsaKey  *rsa.PrivateKey

	// pkA
	ephemeralKey = []byte{
		0x8f, 0x1a, 0x55, 0x02, 0x6b, 0xee, 0x90, 0x13, 0x42, 0x7c, 0x01, 0xaa, 0x5d, 0x3e, 0x77, 0x19,
		0x20, 0xc4, 0x0b, 0x6f, 0x88, 0x12, 0x3d, 0x9e, 0x4a, 0x71, 0xb2, 0x05, 0xfe, 0x63, 0x2c, 0xd0,
	}
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if rsaKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return rsaKey
}

func resolvedKey(t *testing.T) *jwks.ResolvedKey {
	k := signingKey(t)
	return &jwks.ResolvedKey{
		Provider:  "google",
		KeyID:     testKid,
		Modulus:   k.N.Bytes(),
		Exponent:  big.NewInt(int64(k.E)).Bytes(),
		FetchedAt: now,
	}
}

func signJWT(t *testing.T, key *rsa.PrivateKey, payload map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", testKid),
	)
	require.NoError(t, err)

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	obj, err := signer.Sign(b)
	require.NoError(t, err)
	raw, err := obj.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func boundNonce(t *testing.T, maxEpoch uint64, randomness int64) string {
	t.Helper()
	n, err := nonce.Derive(ephemeralKey, maxEpoch, big.NewInt(randomness))
	require.NoError(t, err)
	return n.Value
}

func payload(n string) map[string]any {
	return map[string]any{
		"iss":   testIssuer,
		"sub":   "110463452167303598383",
		"aud":   "client.apps.googleusercontent.com",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": n,
	}
}

func request(jwt string) zklogin.Request {
	return zklogin.Request{
		JWT:                jwt,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeralKey),
		MaxEpoch:           "5",
		JWTRandomness:      "1234",
		Salt:               "129390038577185583942388216820280642146",
	}
}

type stubResolver struct {
	key   *jwks.ResolvedKey
	err   error
	calls atomic.Int32
}

func (r *stubResolver) Resolve(context.Context, string, string) (*jwks.ResolvedKey, error) {
	r.calls.Add(1)
	return r.key, r.err
}

type countingProver struct {
	zklogin.Prover
	calls atomic.Int32
}

func (p *countingProver) Prove(ctx context.Context, in *circuitinput.CircuitInput) (*models.ProofArtifact, error) {
	p.calls.Add(1)
	return p.Prover.Prove(ctx, in)
}

type fixture struct {
	service  *zklogin.Service
	resolver *stubResolver
	prover   *countingProver
	config   prover.Config
}

func newFixture(t *testing.T, mode string, opts ...func(*zklogin.Config)) *fixture {
	t.Helper()

	cfg := provertest.Config(t, mode)
	f := &fixture{
		resolver: &stubResolver{key: resolvedKey(t)},
		prover:   &countingProver{Prover: provertest.Coordinator(t, cfg)},
		config:   cfg,
	}

	c := zklogin.Config{
		Validator:       &claims.Validator{Now: func() time.Time { return now }, IatSkew: claims.DefaultIatSkew},
		Resolver:        f.resolver,
		Prover:          f.prover,
		VerifySignature: true,
	}
	for _, o := range opts {
		o(&c)
	}

	var err error
	f.service, err = zklogin.New(c)
	require.NoError(t, err)
	return f
}

func (f *fixture) requireClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.config.WorkDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// scenario A
func TestProveSucceeds(t *testing.T) {
	f := newFixture(t, provertest.ModeOK)
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	resp, err := f.service.Prove(context.Background(), request(jwt))
	require.NoError(t, err)

	require.Equal(t, "1", resp.PublicSignals[0])
	require.Equal(t, resp.AddressSeed, resp.PublicSignals[1])
	require.Equal(t, "5", resp.PublicSignals[2])
	require.Equal(t, provertest.PiA[:2], resp.ProofPoints.A)
	require.Equal(t, [][]string{provertest.PiB[0], provertest.PiB[1]}, resp.ProofPoints.B)
	require.Equal(t, provertest.PiC[:2], resp.ProofPoints.C)
	require.Equal(t, "groth16", resp.Protocol)
	require.Equal(t, strings.Split(jwt, ".")[0], resp.HeaderBase64)
	require.NotNil(t, resp.IssBase64Details)
	require.Contains(t, strings.Split(jwt, ".")[1], resp.IssBase64Details.Value)

	require.EqualValues(t, 1, f.prover.calls.Load())
	f.requireClean(t)
}

// scenario B
func TestProveNonceMismatch(t *testing.T) {
	f := newFixture(t, provertest.ModeOK)
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 6, 1234)))

	_, err := f.service.Prove(context.Background(), request(jwt))
	require.ErrorIs(t, err, models.ErrNonceMismatch)
	require.Zero(t, f.resolver.calls.Load())
	require.Zero(t, f.prover.calls.Load())
}

func TestProveNonceWarnPolicy(t *testing.T) {
	f := newFixture(t, provertest.ModeOK, func(c *zklogin.Config) { c.NoncePolicy = nonce.PolicyWarn })
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 6, 1234)))

	_, err := f.service.Prove(context.Background(), request(jwt))
	require.NoError(t, err)
}

// scenario C
func TestProveInvalidSalt(t *testing.T) {
	f := newFixture(t, provertest.ModeOK)
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	req := request(jwt)
	req.Salt = "12345abc"
	_, err := f.service.Prove(context.Background(), req)
	require.ErrorIs(t, err, models.ErrInvalidNumericInput)
	require.NotContains(t, err.Error(), "12345abc")
	require.Zero(t, f.prover.calls.Load())
}

// scenario D
func TestProveProverFails(t *testing.T) {
	f := newFixture(t, provertest.ModeProveFail)
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	_, err := f.service.Prove(context.Background(), request(jwt))
	require.ErrorIs(t, err, models.ErrProofGenerationFailed)
	require.Contains(t, err.Error(), provertest.FailureMessage)
	f.requireClean(t)
}

func TestProveMalformedArtifact(t *testing.T) {
	f := newFixture(t, provertest.ModeShortProof)
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	_, err := f.service.Prove(context.Background(), request(jwt))
	require.ErrorIs(t, err, models.ErrMalformedProofArtifact)
}

func TestProveSignature(t *testing.T) {
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwt := signJWT(t, other, payload(boundNonce(t, 5, 1234)))

	f := newFixture(t, provertest.ModeOK)
	_, err = f.service.Prove(context.Background(), request(jwt))
	require.ErrorIs(t, err, models.ErrInvalidSignature)
	require.Zero(t, f.prover.calls.Load())

	f = newFixture(t, provertest.ModeOK, func(c *zklogin.Config) { c.VerifySignature = false })
	_, err = f.service.Prove(context.Background(), request(jwt))
	require.NoError(t, err)
}

func TestProveStageErrors(t *testing.T) {
	good := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	tests := []struct {
		name    string
		mutate  func(r *zklogin.Request)
		wantErr error
	}{
		{"malformed jwt", func(r *zklogin.Request) { r.JWT = "a.b" }, models.ErrMalformedToken},
		{"bad ephemeral key", func(r *zklogin.Request) { r.EphemeralPublicKey = "%%%" }, models.ErrInvalidEphemeralKey},
		{"negative epoch", func(r *zklogin.Request) { r.MaxEpoch = "-5" }, models.ErrInvalidNumericInput},
		{"huge randomness", func(r *zklogin.Request) { r.JWTRandomness = zklogin.Numeric(strings.Repeat("9", 50)) }, models.ErrInvalidNumericInput},
		{"unknown key claim", func(r *zklogin.Request) { r.KeyClaimName = "name" }, models.ErrInvalidClaims},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, provertest.ModeOK)
			req := request(good)
			tc.mutate(&req)

			_, err := f.service.Prove(context.Background(), req)
			require.ErrorIs(t, err, tc.wantErr)
			require.Zero(t, f.prover.calls.Load())
		})
	}
}

func TestProveResolverError(t *testing.T) {
	f := newFixture(t, provertest.ModeOK)
	f.resolver.err = models.ErrKeyNotFound
	jwt := signJWT(t, signingKey(t), payload(boundNonce(t, 5, 1234)))

	_, err := f.service.Prove(context.Background(), request(jwt))
	require.ErrorIs(t, err, models.ErrKeyNotFound)
	require.Zero(t, f.prover.calls.Load())
}

func TestProveWithKeyServer(t *testing.T) {
	k := signingKey(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{map[string]any{
			"kty": "RSA",
			"kid": testKid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(k.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	resolver := jwks.NewResolver(jwks.Providers{{Name: "google", Issuer: testIssuer, JWKSURI: srv.URL}})
	cfg := provertest.Config(t, provertest.ModeOK)
	svc, err := zklogin.New(zklogin.Config{
		Validator:       &claims.Validator{Now: func() time.Time { return now }, IatSkew: claims.DefaultIatSkew},
		Resolver:        resolver,
		Prover:          provertest.Coordinator(t, cfg),
		VerifySignature: true,
	})
	require.NoError(t, err)

	jwt := signJWT(t, k, payload(boundNonce(t, 5, 1234)))
	for i := 0; i < 3; i++ {
		_, err := svc.Prove(context.Background(), request(jwt))
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestRequestNumericJSON(t *testing.T) {
	var r zklogin.Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"jwt": "x",
		"ephemeralPublicKey": "AQ==",
		"maxEpoch": 10,
		"jwtRandomness": "340282366920938463463374607431768211455",
		"salt": 129390038577185583942388216820280642146
	}`), &r))

	require.Equal(t, zklogin.Numeric("10"), r.MaxEpoch)
	require.Equal(t, zklogin.Numeric("340282366920938463463374607431768211455"), r.JWTRandomness)
	require.Equal(t, zklogin.Numeric("129390038577185583942388216820280642146"), r.Salt)

	require.Error(t, json.Unmarshal([]byte(`{"maxEpoch": true}`), &r))
}
