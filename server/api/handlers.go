package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/models"
	"github.com/mynextid/zklogin-prover/zklogin"
)

// Prover runs the proof request pipeline
type Prover interface {
	Prove(ctx context.Context, req zklogin.Request) (*models.WireResponse, error)
}

// VerifyFunc checks a proof off-chain
type VerifyFunc func(a *models.ProofArtifact) error

// KeyLister exposes the cached signing keys
type KeyLister interface {
	CachedKeys() ([]jwks.ResolvedKey, bool)
}

// Config wires the handlers. Verify and Keys are optional; the routes they back
// answer 404 when unset.
type Config struct {
	Prover Prover
	Verify VerifyFunc
	Keys   KeyLister
	Logger common.Logger
}

// Server handles HTTP requests for zkLogin proofs
type Server struct {
	prover Prover
	verify VerifyFunc
	keys   KeyLister
	logger common.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = common.NopLogger()
	}
	return &Server{
		prover: cfg.Prover,
		verify: cfg.Verify,
		keys:   cfg.Keys,
		logger: cfg.Logger,
	}
}

// ==== Request/Response Types ====

// VerifyRequest carries a proof as returned by the prove endpoint
type VerifyRequest struct {
	ProofPoints   models.ProofPoints `json:"proofPoints"`
	Protocol      string             `json:"protocol"`
	Curve         string             `json:"curve"`
	PublicSignals []string           `json:"publicSignals"`
}

// VerifyResponse represents a proof verification response
type VerifyResponse struct {
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KeyInfo describes a cached signing key
type KeyInfo struct {
	Provider       string    `json:"provider"`
	KeyID          string    `json:"kid"`
	ModulusBits    int       `json:"modulusBits"`
	FetchedAt      time.Time `json:"fetchedAt"`
	ModulusBase64  string    `json:"n"`
	ExponentBase64 string    `json:"e"`
}

// KeyListResponse lists cached signing keys
type KeyListResponse struct {
	Keys  []KeyInfo `json:"keys"`
	Count int       `json:"count"`
}

// ==== Handlers ====

// HandleProve handles proof generation requests
func (s *Server) HandleProve(w http.ResponseWriter, r *http.Request) {
	var req zklogin.Request
	if err := decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	resp, err := s.prover.Prove(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// HandleVerify handles off-chain proof verification requests
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verify == nil {
		respondError(w, http.StatusNotFound, "verifier_not_loaded", "no verifying key is loaded")
		return
	}

	var req VerifyRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if len(req.PublicSignals) == 0 {
		s.respondErr(w, fmt.Errorf("%w: publicSignals are required", models.ErrInvalidRequest))
		return
	}

	err := s.verify(req.artifact())
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, VerifyResponse{Valid: true, Timestamp: time.Now(), Message: "proof is valid"})
	case errors.Is(err, models.ErrInvalidProof):
		respondJSON(w, http.StatusOK, VerifyResponse{Valid: false, Timestamp: time.Now(), Message: err.Error()})
	default:
		s.respondErr(w, err)
	}
}

// HandleListKeys lists the cached signing keys
func (s *Server) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		respondError(w, http.StatusNotFound, "not_found", "key listing is disabled")
		return
	}
	keys, ok := s.keys.CachedKeys()
	if !ok {
		respondError(w, http.StatusNotImplemented, "not_supported", "the configured key cache cannot be listed")
		return
	}

	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyInfo(k))
	}
	respondJSON(w, http.StatusOK, KeyListResponse{Keys: out, Count: len(out)})
}

func (req *VerifyRequest) artifact() *models.ProofArtifact {
	return &models.ProofArtifact{
		PiA:           req.ProofPoints.A,
		PiB:           req.ProofPoints.B,
		PiC:           req.ProofPoints.C,
		Protocol:      req.Protocol,
		Curve:         req.Curve,
		PublicSignals: req.PublicSignals,
	}
}

// ==== Helper Functions ====

func decode(r *http.Request, v any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body exceeds %d bytes", models.ErrInvalidRequest, maxErr.Limit)
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	code, status := models.ErrorCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	} else {
		s.logger.Debug("request rejected", "code", code, "error", err)
	}
	respondError(w, status, code, err.Error())
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})
}
