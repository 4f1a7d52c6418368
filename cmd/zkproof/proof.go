package zkproof

import (
	"fmt"

	"github.com/spf13/cobra"

	zkcircuit "github.com/mynextid/zklogin-prover/circuits/zklogin"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/prover"
)

// NewWitnessCmd is the witness generator run by the prover coordinator
func NewWitnessCmd() *cobra.Command {
	var circuit, input, out string

	cmd := &cobra.Command{
		Use:     "witness",
		Short:   "Generate a witness from a circuit input file",
		Example: `  zklogin witness --circuit ./setup/zklogin.ccs --input input.json --out witness.wtns`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return zkcircuit.GenerateWitness(circuit, input, out)
		},
	}

	cmd.Flags().StringVar(&circuit, "circuit", "", "Compiled constraint system (.ccs)")
	cmd.Flags().StringVar(&input, "input", "", "Circuit input JSON")
	cmd.Flags().StringVar(&out, "out", "", "Witness output file")
	markRequired(cmd, "circuit", "input", "out")

	return cmd
}

// NewProveCmd is the Groth16 prover run by the prover coordinator
func NewProveCmd() *cobra.Command {
	var circuit, pk, witness, proof, public string

	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove a witness and write snarkjs-compatible proof and public signals",
		Example: `  zklogin prove --circuit ./setup/zklogin.ccs --pk ./setup/zklogin.pk \
    --witness witness.wtns --proof proof.json --public public.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return zkcircuit.ProveWitness(circuit, pk, witness, proof, public)
		},
	}

	cmd.Flags().StringVar(&circuit, "circuit", "", "Compiled constraint system (.ccs)")
	cmd.Flags().StringVar(&pk, "pk", "", "Proving key (.pk)")
	cmd.Flags().StringVar(&witness, "witness", "", "Witness file")
	cmd.Flags().StringVar(&proof, "proof", "", "Proof output file")
	cmd.Flags().StringVar(&public, "public", "", "Public signals output file")
	markRequired(cmd, "circuit", "pk", "witness", "proof", "public")

	return cmd
}

// NewVerifyCmd verifies a proof off-chain
func NewVerifyCmd() *cobra.Command {
	var vk, proof, public string

	cmd := &cobra.Command{
		Use:     "verify",
		Short:   "Verify a proof against the verifying key",
		Example: `  zklogin verify --vk ./setup/zklogin.vk --proof proof.json --public public.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := common.LoadVerifyingKey(vk)
			if err != nil {
				return err
			}
			artifact, err := prover.ReadArtifact(proof, public)
			if err != nil {
				return err
			}
			if err := zkcircuit.VerifyProof(key, artifact); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "proof is valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&vk, "vk", "./setup/zklogin.vk", "Verifying key (.vk)")
	cmd.Flags().StringVar(&proof, "proof", "", "Proof JSON")
	cmd.Flags().StringVar(&public, "public", "", "Public signals JSON")
	markRequired(cmd, "proof", "public")

	return cmd
}

func markRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		_ = cmd.MarkFlagRequired(n)
	}
}
