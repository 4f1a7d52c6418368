package models

import (
	"errors"
	"net/http"
)

// Input shape
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidHeader  = errors.New("invalid token header")
	ErrInvalidClaims  = errors.New("invalid token claims")
)

// Temporal
var (
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenNotYetValid    = errors.New("token not yet valid")
	ErrTokenIssuedInFuture = errors.New("token issued in the future")
)

// Trust resolution
var (
	ErrUnsupportedIssuer       = errors.New("unsupported issuer")
	ErrKeyDiscoveryUnavailable = errors.New("key discovery unavailable")
	ErrInvalidKeySet           = errors.New("invalid key set")
	ErrKeyNotFound             = errors.New("signing key not found")
	ErrUnsupportedKeyType      = errors.New("unsupported key type")
	ErrInvalidKeyUsage         = errors.New("invalid key usage")
	ErrInsufficientKeySize     = errors.New("insufficient key size")
	ErrInvalidSignature        = errors.New("invalid token signature")
)

// Nonce binding
var (
	ErrMissingNonceClaim   = errors.New("missing nonce claim")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInvalidEphemeralKey = errors.New("invalid ephemeral public key")
)

// Encoding
var (
	ErrInvalidNumericInput = errors.New("invalid numeric input")
	ErrEncodingOverflow    = errors.New("encoding overflow")
	ErrKeyMaterialTooLarge = errors.New("key material too large")
)

// Proving pipeline
var (
	ErrWitnessGenerationFailed = errors.New("witness generation failed")
	ErrProofGenerationFailed   = errors.New("proof generation failed")
	ErrProverTimeout           = errors.New("prover timeout")
	ErrProofOutputCorrupt      = errors.New("proof output corrupt")
	ErrMalformedProofArtifact  = errors.New("malformed proof artifact")
	ErrServiceUnavailable      = errors.New("service unavailable")
	ErrInvalidProof            = errors.New("invalid proof")
)

type errorClass struct {
	err    error
	code   string
	status int
}

var errorClasses = []errorClass{
	{ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{ErrMalformedToken, "malformed_token", http.StatusBadRequest},
	{ErrInvalidHeader, "invalid_header", http.StatusBadRequest},
	{ErrInvalidClaims, "invalid_claims", http.StatusBadRequest},
	{ErrTokenExpired, "token_expired", http.StatusUnauthorized},
	{ErrTokenNotYetValid, "token_not_yet_valid", http.StatusUnauthorized},
	{ErrTokenIssuedInFuture, "token_issued_in_future", http.StatusUnauthorized},
	{ErrUnsupportedIssuer, "unsupported_issuer", http.StatusBadRequest},
	{ErrKeyDiscoveryUnavailable, "key_discovery_unavailable", http.StatusBadGateway},
	{ErrInvalidKeySet, "invalid_key_set", http.StatusBadGateway},
	{ErrKeyNotFound, "key_not_found", http.StatusBadRequest},
	{ErrUnsupportedKeyType, "unsupported_key_type", http.StatusBadRequest},
	{ErrInvalidKeyUsage, "invalid_key_usage", http.StatusBadRequest},
	{ErrInsufficientKeySize, "insufficient_key_size", http.StatusBadRequest},
	{ErrInvalidSignature, "invalid_signature", http.StatusUnauthorized},
	{ErrMissingNonceClaim, "missing_nonce_claim", http.StatusBadRequest},
	{ErrNonceMismatch, "nonce_mismatch", http.StatusBadRequest},
	{ErrInvalidEphemeralKey, "invalid_ephemeral_key", http.StatusBadRequest},
	{ErrInvalidNumericInput, "invalid_numeric_input", http.StatusBadRequest},
	{ErrEncodingOverflow, "encoding_overflow", http.StatusBadRequest},
	{ErrKeyMaterialTooLarge, "key_material_too_large", http.StatusBadRequest},
	{ErrWitnessGenerationFailed, "witness_generation_failed", http.StatusInternalServerError},
	{ErrProofGenerationFailed, "proof_generation_failed", http.StatusInternalServerError},
	{ErrProverTimeout, "prover_timeout", http.StatusGatewayTimeout},
	{ErrProofOutputCorrupt, "proof_output_corrupt", http.StatusInternalServerError},
	{ErrMalformedProofArtifact, "malformed_proof_artifact", http.StatusInternalServerError},
	{ErrServiceUnavailable, "service_unavailable", http.StatusServiceUnavailable},
	{ErrInvalidProof, "invalid_proof", http.StatusOK},
}

// ErrorCode returns the wire code and HTTP status for err. Unknown errors map to
// internal_error/500.
func ErrorCode(err error) (string, int) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return "internal_error", http.StatusInternalServerError
}
