// Package zklogin runs the proof request pipeline: token validation, nonce
// binding, key resolution, signature check, circuit input encoding, proving and
// response assembly.
package zklogin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/claims"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/field"
	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/metrics"
	"github.com/mynextid/zklogin-prover/models"
	"github.com/mynextid/zklogin-prover/nonce"
)

// KeyResolver resolves token signing keys
type KeyResolver interface {
	Resolve(ctx context.Context, issuer, keyID string) (*jwks.ResolvedKey, error)
}

// Prover turns a circuit input into a proof
type Prover interface {
	Prove(ctx context.Context, in *circuitinput.CircuitInput) (*models.ProofArtifact, error)
}

// Config wires the pipeline stages
type Config struct {
	Validator       *claims.Validator
	Resolver        KeyResolver
	Prover          Prover
	NoncePolicy     nonce.Policy
	VerifySignature bool
	Logger          common.Logger
	Metrics         *metrics.Metrics
}

// Service is the proof request pipeline
type Service struct {
	validator       *claims.Validator
	resolver        KeyResolver
	prover          Prover
	policy          nonce.Policy
	verifySignature bool
	logger          common.Logger
	metrics         *metrics.Metrics
}

// New creates a service. Resolver and Prover are required.
func New(cfg Config) (*Service, error) {
	if cfg.Resolver == nil || cfg.Prover == nil {
		return nil, errors.New("resolver and prover are required")
	}
	if cfg.Validator == nil {
		cfg.Validator = claims.NewValidator()
	}
	if cfg.NoncePolicy == "" {
		cfg.NoncePolicy = nonce.PolicyReject
	}
	if cfg.Logger == nil {
		cfg.Logger = common.NopLogger()
	}

	return &Service{
		validator:       cfg.Validator,
		resolver:        cfg.Resolver,
		prover:          cfg.Prover,
		policy:          cfg.NoncePolicy,
		verifySignature: cfg.VerifySignature,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
	}, nil
}

// Prove runs the full pipeline for req. Stages run in order and the first
// failure is returned; nonce binding happens before any network access or
// subprocess.
func (s *Service) Prove(ctx context.Context, req Request) (resp *models.WireResponse, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome, _ = models.ErrorCode(err)
		}
		s.metrics.ProofCompleted(outcome)
		s.logger.Info("proof request", "outcome", outcome, "duration", time.Since(start))
	}()

	tok, err := s.validator.Parse(req.JWT)
	if err != nil {
		return nil, err
	}

	ephemeralKey, err := nonce.ParseEphemeralKey(req.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	maxEpoch, err := field.ParseNumeric("maxEpoch", req.MaxEpoch.String(), circuitinput.MaxEpochBits)
	if err != nil {
		return nil, err
	}
	randomness, err := field.ParseNumeric("jwtRandomness", req.JWTRandomness.String(), circuitinput.RandomnessBits)
	if err != nil {
		return nil, err
	}

	binding, err := nonce.Bind(tok, ephemeralKey, maxEpoch.Uint64(), randomness)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Enforce(binding, s.logger); err != nil {
		return nil, err
	}

	if tok.Header.Alg != "RS256" {
		return nil, fmt.Errorf("%w: alg %q", models.ErrUnsupportedKeyType, tok.Header.Alg)
	}

	key, err := s.resolver.Resolve(ctx, tok.Payload.Iss, tok.Header.Kid)
	if err != nil {
		return nil, err
	}

	if s.verifySignature {
		if err := VerifySignature(tok, key); err != nil {
			return nil, err
		}
	}

	salt, err := field.ParseNumeric("salt", req.Salt.String(), circuitinput.SaltBits)
	if err != nil {
		return nil, err
	}

	in, err := circuitinput.Encode(circuitinput.Params{
		Token:        tok,
		Modulus:      key.Modulus,
		Exponent:     key.Exponent,
		EphemeralKey: ephemeralKey,
		MaxEpoch:     maxEpoch.Uint64(),
		Randomness:   randomness,
		Salt:         salt,
		KeyClaimName: req.KeyClaimName,
		Nonce:        binding.Nonce.Field,
	})
	if err != nil {
		return nil, err
	}

	issDetails, err := tok.IssuerBase64Details()
	if err != nil {
		return nil, err
	}

	artifact, err := s.prover.Prove(ctx, in)
	if err != nil {
		return nil, err
	}

	return models.Assemble(artifact, models.AssembleContext{
		HeaderBase64:     tok.Raw.Header,
		IssBase64Details: issDetails,
		AddressSeed:      in.AddressSeed,
	})
}

// VerifySignature checks the token's RS256 signature against key
func VerifySignature(tok *claims.Token, key *jwks.ResolvedKey) error {
	pub, err := key.PublicKey()
	if err != nil {
		return err
	}

	jws, err := jose.ParseSigned(tok.Compact(), []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}
	if _, err := jws.Verify(pub); err != nil {
		return fmt.Errorf("%w: signature does not match key %s", models.ErrInvalidSignature, key.KeyID)
	}
	return nil
}
