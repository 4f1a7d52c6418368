package models

import (
	"fmt"
)

// ProofArtifact is a Groth16 proof in snarkjs JSON layout together with the
// public signals read from the prover's second output file.
type ProofArtifact struct {
	PiA           []string   `json:"pi_a"`
	PiB           [][]string `json:"pi_b"`
	PiC           []string   `json:"pi_c"`
	Protocol      string     `json:"protocol"`
	Curve         string     `json:"curve"`
	PublicSignals []string   `json:"-"`
}

// ProofPoints are the affine proof coordinates consumed by on-chain verifiers
type ProofPoints struct {
	A []string   `json:"a"`
	B [][]string `json:"b"`
	C []string   `json:"c"`
}

// IssBase64Details locates the base64url-encoded iss claim inside the JWT payload
type IssBase64Details struct {
	Value     string `json:"value"`
	IndexMod4 int    `json:"indexMod4"`
}

// WireResponse is the proof response returned to callers
type WireResponse struct {
	ProofPoints      ProofPoints       `json:"proofPoints"`
	Protocol         string            `json:"protocol"`
	Curve            string            `json:"curve"`
	PublicSignals    []string          `json:"publicSignals"`
	IssBase64Details *IssBase64Details `json:"issBase64Details,omitempty"`
	HeaderBase64     string            `json:"headerBase64,omitempty"`
	AddressSeed      string            `json:"addressSeed,omitempty"`
}

// AssembleContext carries the request-scoped passthrough fields
type AssembleContext struct {
	HeaderBase64     string
	IssBase64Details *IssBase64Details
	AddressSeed      string
}

// Assemble maps the prover output into the wire response
func Assemble(a *ProofArtifact, ctx AssembleContext) (*WireResponse, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil artifact", ErrMalformedProofArtifact)
	}

	if err := checkCoords("pi_a", a.PiA); err != nil {
		return nil, err
	}
	if err := checkCoords("pi_c", a.PiC); err != nil {
		return nil, err
	}
	if len(a.PiB) < 2 {
		return nil, fmt.Errorf("%w: pi_b has %d points, want at least 2", ErrMalformedProofArtifact, len(a.PiB))
	}
	b := make([][]string, 2)
	for i := range b {
		if err := checkCoords(fmt.Sprintf("pi_b[%d]", i), a.PiB[i]); err != nil {
			return nil, err
		}
		b[i] = []string{a.PiB[i][0], a.PiB[i][1]}
	}

	if a.Protocol == "" || a.Curve == "" {
		return nil, fmt.Errorf("%w: missing protocol or curve", ErrMalformedProofArtifact)
	}
	if len(a.PublicSignals) == 0 {
		return nil, fmt.Errorf("%w: no public signals", ErrMalformedProofArtifact)
	}

	return &WireResponse{
		ProofPoints: ProofPoints{
			A: []string{a.PiA[0], a.PiA[1]},
			B: b,
			C: []string{a.PiC[0], a.PiC[1]},
		},
		Protocol:         a.Protocol,
		Curve:            a.Curve,
		PublicSignals:    append([]string(nil), a.PublicSignals...),
		IssBase64Details: ctx.IssBase64Details,
		HeaderBase64:     ctx.HeaderBase64,
		AddressSeed:      ctx.AddressSeed,
	}, nil
}

func checkCoords(name string, coords []string) error {
	if len(coords) < 2 {
		return fmt.Errorf("%w: %s has %d coordinates, want at least 2", ErrMalformedProofArtifact, name, len(coords))
	}
	if coords[0] == "" || coords[1] == "" {
		return fmt.Errorf("%w: %s has empty coordinates", ErrMalformedProofArtifact, name)
	}
	return nil
}
