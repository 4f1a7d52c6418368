package prover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mynextid/zklogin-prover/models"
)

// ReadArtifact parses the prover's proof and public signal files. Some provers
// pad their output buffers with NUL bytes, which are stripped first.
func ReadArtifact(proofPath, publicPath string) (*models.ProofArtifact, error) {
	var artifact models.ProofArtifact
	if err := readJSON(proofPath, &artifact); err != nil {
		return nil, fmt.Errorf("%w: proof: %v", models.ErrProofOutputCorrupt, err)
	}

	var public []string
	if err := readJSON(publicPath, &public); err != nil {
		return nil, fmt.Errorf("%w: public signals: %v", models.ErrProofOutputCorrupt, err)
	}
	artifact.PublicSignals = public

	return &artifact, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b = bytes.TrimRight(b, "\x00")
	if len(bytes.TrimSpace(b)) == 0 {
		return fmt.Errorf("empty file")
	}
	return json.Unmarshal(b, v)
}
