package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Artifacts are the files produced by circuit setup
type Artifacts struct {
	CCS          string
	ProvingKey   string
	VerifyingKey string
}

// ArtifactsIn returns the artifact paths for circuit name inside dir
func ArtifactsIn(dir, name string) Artifacts {
	return Artifacts{
		CCS:          filepath.Join(dir, name+".ccs"),
		ProvingKey:   filepath.Join(dir, name+".pk"),
		VerifyingKey: filepath.Join(dir, name+".vk"),
	}
}

// Exist reports whether all three artifacts are present
func (a Artifacts) Exist() bool {
	for _, p := range []string{a.CCS, a.ProvingKey, a.VerifyingKey} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// SetupAndSave compiles the circuit, runs a local groth16 setup and writes the
// constraint system and both keys. The setup is not a ceremony and its keys
// are only suitable for development.
func SetupAndSave(circuitTemplate frontend.Circuit, a Artifacts, logger Logger) error {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuitTemplate)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	logger.Info("circuit compiled", "constraints", ccs.GetNbConstraints(), "public", ccs.GetNbPublicVariables())

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	for _, dir := range []string{filepath.Dir(a.CCS), filepath.Dir(a.ProvingKey), filepath.Dir(a.VerifyingKey)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := save(a.CCS, ccs); err != nil {
		return err
	}
	if err := save(a.ProvingKey, pk); err != nil {
		return err
	}
	if err := save(a.VerifyingKey, vk); err != nil {
		return err
	}

	logger.Info("setup saved", "ccs", a.CCS, "pk", a.ProvingKey, "vk", a.VerifyingKey)
	return nil
}

// LoadSetup loads the constraint system and both keys
func LoadSetup(a Artifacts) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	ccs, err := LoadConstraintSystem(a.CCS)
	if err != nil {
		return nil, nil, nil, err
	}
	pk, err := LoadProvingKey(a.ProvingKey)
	if err != nil {
		return nil, nil, nil, err
	}
	vk, err := LoadVerifyingKey(a.VerifyingKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return ccs, pk, vk, nil
}

func LoadConstraintSystem(path string) (constraint.ConstraintSystem, error) {
	ccs := groth16.NewCS(ecc.BN254)
	if err := load(path, ccs); err != nil {
		return nil, err
	}
	return ccs, nil
}

func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := load(path, pk); err != nil {
		return nil, err
	}
	return pk, nil
}

func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := load(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}

func save(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := w.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func load(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := r.ReadFrom(f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
