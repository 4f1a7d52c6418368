package main

import (
	"github.com/spf13/cobra"

	"github.com/mynextid/zklogin-prover/cmd/zkproof"
)

// Init the cmd
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "zklogin",
		Short:         "zkLogin proving service",
		Long:          `Validates OAuth ID tokens, binds them to ephemeral keys and produces zkLogin Groth16 proofs`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		zkproof.NewServeCmd(),
		zkproof.NewCompileCmd(),
		zkproof.NewWitnessCmd(),
		zkproof.NewProveCmd(),
		zkproof.NewVerifyCmd(),
		NewVersionCmd(),
	)

	return rootCmd
}
