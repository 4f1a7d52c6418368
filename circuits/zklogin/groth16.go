package zklogin

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/models"
)

const (
	Protocol = "groth16"
	// Curve is the snarkjs name of BN254
	Curve = "bn128"
)

// Assignment maps a circuit input to a full witness assignment
func Assignment(in *circuitinput.CircuitInput) (*Circuit, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	c := &Circuit{
		Valid:       1,
		AddressSeed: in.AddressSeed,
		MaxEpoch:    in.MaxEpoch,
		Randomness:  in.Randomness,
		Nonce:       in.Nonce,
		Salt:        in.Salt,
	}
	assign(c.EphemeralKey[:], in.EphemeralKey)
	assign(c.SigningInputDigest[:], in.SigningInputDigest)
	assign(c.IssuerDigest[:], in.IssuerDigest)
	assign(c.AudienceDigest[:], in.AudienceDigest)
	assign(c.KeyClaimDigest[:], in.KeyClaimDigest)
	assign(c.Modulus[:], in.Modulus)
	assign(c.Exponent[:], in.Exponent)
	assign(c.Signature[:], in.Signature)
	return c, nil
}

// PublicAssignment maps public signals (Valid first) to a public-only assignment
func PublicAssignment(signals []string) (*Circuit, error) {
	if len(signals) != NbPublic {
		return nil, fmt.Errorf("%w: %d public signals, want %d", models.ErrMalformedProofArtifact, len(signals), NbPublic)
	}
	for i, s := range signals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
			return nil, fmt.Errorf("%w: public signal %d is not a field element", models.ErrMalformedProofArtifact, i)
		}
	}

	c := &Circuit{
		Valid:       signals[0],
		AddressSeed: signals[1],
		MaxEpoch:    signals[2],
	}
	assign(c.EphemeralKey[:], signals[3:])
	return c, nil
}

func assign(dst []frontend.Variable, src []string) {
	for i := range dst {
		dst[i] = src[i]
	}
}

// GenerateWitness reads a circuit input file, checks that it satisfies the
// circuit and writes the binary witness
func GenerateWitness(ccsPath, inputPath, witnessPath string) error {
	ccs, err := common.LoadConstraintSystem(ccsPath)
	if err != nil {
		return err
	}
	in, err := circuitinput.ReadFile(inputPath)
	if err != nil {
		return err
	}
	assignment, err := Assignment(in)
	if err != nil {
		return err
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return fmt.Errorf("witness creation failed: %w", err)
	}
	if err := ccs.IsSolved(w); err != nil {
		return fmt.Errorf("input does not satisfy the circuit: %w", err)
	}

	f, err := os.Create(witnessPath)
	if err != nil {
		return fmt.Errorf("failed to create witness file: %w", err)
	}
	defer f.Close()
	if _, err := w.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write witness: %w", err)
	}
	return nil
}

// ProveWitness proves a binary witness and writes the proof and public
// signals in snarkjs JSON layout
func ProveWitness(ccsPath, pkPath, witnessPath, proofPath, publicPath string) error {
	ccs, err := common.LoadConstraintSystem(ccsPath)
	if err != nil {
		return err
	}
	pk, err := common.LoadProvingKey(pkPath)
	if err != nil {
		return err
	}

	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return err
	}
	f, err := os.Open(witnessPath)
	if err != nil {
		return fmt.Errorf("failed to open witness: %w", err)
	}
	defer f.Close()
	if _, err := w.ReadFrom(f); err != nil {
		return fmt.Errorf("failed to read witness: %w", err)
	}

	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return fmt.Errorf("proof creation failed: %w", err)
	}
	public, err := w.Public()
	if err != nil {
		return fmt.Errorf("public witness extraction failed: %w", err)
	}

	artifact, err := Artifact(proof, public)
	if err != nil {
		return err
	}
	if err := writeJSON(proofPath, artifact); err != nil {
		return err
	}
	return writeJSON(publicPath, artifact.PublicSignals)
}

// Artifact converts a gnark BN254 proof and public witness to the snarkjs layout
func Artifact(proof groth16.Proof, public witness.Witness) (*models.ProofArtifact, error) {
	p, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unexpected proof type %T", proof)
	}
	vec, ok := public.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected witness vector type %T", public.Vector())
	}

	signals := make([]string, len(vec))
	for i := range vec {
		signals[i] = vec[i].String()
	}

	return &models.ProofArtifact{
		PiA: []string{p.Ar.X.String(), p.Ar.Y.String(), "1"},
		PiB: [][]string{
			{p.Bs.X.A0.String(), p.Bs.X.A1.String()},
			{p.Bs.Y.A0.String(), p.Bs.Y.A1.String()},
			{"1", "0"},
		},
		PiC:           []string{p.Krs.X.String(), p.Krs.Y.String(), "1"},
		Protocol:      Protocol,
		Curve:         Curve,
		PublicSignals: signals,
	}, nil
}

// VerifyProof checks a snarkjs-layout proof against vk. A well-formed proof
// that does not verify yields ErrInvalidProof.
func VerifyProof(vk groth16.VerifyingKey, a *models.ProofArtifact) error {
	proof, err := parseProof(a)
	if err != nil {
		return err
	}
	assignment, err := PublicAssignment(a.PublicSignals)
	if err != nil {
		return err
	}
	public, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedProofArtifact, err)
	}

	if err := groth16.Verify(proof, vk, public); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidProof, err)
	}
	return nil
}

func parseProof(a *models.ProofArtifact) (*groth16_bn254.Proof, error) {
	if a == nil || a.Protocol != Protocol {
		return nil, fmt.Errorf("%w: protocol must be %s", models.ErrMalformedProofArtifact, Protocol)
	}
	if len(a.PiA) < 2 || len(a.PiB) < 2 || len(a.PiB[0]) < 2 || len(a.PiB[1]) < 2 || len(a.PiC) < 2 {
		return nil, fmt.Errorf("%w: short proof coordinates", models.ErrMalformedProofArtifact)
	}

	var p groth16_bn254.Proof
	coords := []struct {
		dst *fp.Element
		v   string
	}{
		{&p.Ar.X, a.PiA[0]}, {&p.Ar.Y, a.PiA[1]},
		{&p.Bs.X.A0, a.PiB[0][0]}, {&p.Bs.X.A1, a.PiB[0][1]},
		{&p.Bs.Y.A0, a.PiB[1][0]}, {&p.Bs.Y.A1, a.PiB[1][1]},
		{&p.Krs.X, a.PiC[0]}, {&p.Krs.Y, a.PiC[1]},
	}
	for _, c := range coords {
		if _, err := c.dst.SetString(c.v); err != nil {
			return nil, fmt.Errorf("%w: bad coordinate: %v", models.ErrMalformedProofArtifact, err)
		}
	}

	if !p.Ar.IsInSubGroup() || !p.Bs.IsInSubGroup() || !p.Krs.IsInSubGroup() {
		return nil, fmt.Errorf("%w: point not on curve", models.ErrInvalidProof)
	}
	return &p, nil
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
