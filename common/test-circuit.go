package common

import (
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// InitCircuit loads the circuit artifacts, compiling and running setup first
// when any of them is missing or forceCompile is set
func InitCircuit(a Artifacts, forceCompile bool, circuitTemplate frontend.Circuit, logger Logger) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	if forceCompile || !a.Exist() {
		logger.Info("compiling the circuit", "forced", forceCompile)
		if err := SetupAndSave(circuitTemplate, a, logger); err != nil {
			return nil, nil, nil, fmt.Errorf("setup and save failed: %w", err)
		}
	}
	return LoadSetup(a)
}

// Timings of a ProveAndVerify run
type Timings struct {
	Witness time.Duration
	Prove   time.Duration
	Verify  time.Duration
}

func (t Timings) Total() time.Duration {
	return t.Witness + t.Prove + t.Verify
}

// ProveAndVerify builds the witness for assignment, proves it and verifies the
// proof against the public part of the witness
func ProveAndVerify(assignment frontend.Circuit, ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) (Timings, error) {
	var t Timings

	start := time.Now()
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return t, fmt.Errorf("witness creation failed: %w", err)
	}
	publicWitness, err := witness.Public()
	if err != nil {
		return t, fmt.Errorf("public witness extraction failed: %w", err)
	}
	t.Witness = time.Since(start)

	start = time.Now()
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		return t, fmt.Errorf("proof creation failed: %w", err)
	}
	t.Prove = time.Since(start)

	start = time.Now()
	if err := groth16.Verify(proof, vk, publicWitness); err != nil {
		return t, fmt.Errorf("proof verification failed: %w", err)
	}
	t.Verify = time.Since(start)

	return t, nil
}
