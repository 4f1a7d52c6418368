package api

import (
	"fmt"
	"net/http"

	"github.com/consensys/gnark/backend/groth16"

	zkcircuit "github.com/mynextid/zklogin-prover/circuits/zklogin"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/models"
)

// Circuit is the loaded verifying side of the zkLogin circuit
type Circuit struct {
	Name         string
	VerifyingKey groth16.VerifyingKey
}

// LoadCircuit loads the verifying key from the setup artifacts
func LoadCircuit(a common.Artifacts) (*Circuit, error) {
	vk, err := common.LoadVerifyingKey(a.VerifyingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load the circuit: %w", err)
	}
	if n := vk.NbPublicWitness(); n != zkcircuit.NbPublic {
		return nil, fmt.Errorf("verifying key expects %d public inputs, circuit has %d", n, zkcircuit.NbPublic)
	}
	return &Circuit{Name: zkcircuit.Name, VerifyingKey: vk}, nil
}

// Verify checks a proof against the verifying key
func (c *Circuit) Verify(a *models.ProofArtifact) error {
	return zkcircuit.VerifyProof(c.VerifyingKey, a)
}

// CircuitInfoResponse represents circuit information
type CircuitInfoResponse struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"`
	Curve     string `json:"curve"`
	NbPublic  int    `json:"nbPublic"`
	Verifying bool   `json:"verifying"`
}

// HandleGetCircuit describes the circuit served by this instance
func (s *Server) HandleGetCircuit(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CircuitInfoResponse{
		Name:      zkcircuit.Name,
		Protocol:  zkcircuit.Protocol,
		Curve:     zkcircuit.Curve,
		NbPublic:  zkcircuit.NbPublic,
		Verifying: s.verify != nil,
	})
}
