package zkproof

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	zkcircuit "github.com/mynextid/zklogin-prover/circuits/zklogin"
	"github.com/mynextid/zklogin-prover/common"
)

type compileConfig struct {
	outputDir string
	force     bool
	logLevel  string
}

func NewCompileCmd() *cobra.Command {
	cfg := &compileConfig{}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the zkLogin circuit and generate setup files",
		Long: `Compile the zkLogin circuit and run the Groth16 setup, writing the constraint
system (.ccs), proving key (.pk) and verifying key (.vk). The setup is for
development only; production deployments use keys from a trusted ceremony.`,
		Example: `  # Compile into ./setup
  zklogin compile -o ./setup

  # Recompile, overwriting existing files
  zklogin compile -o ./setup --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.outputDir, "output", "o", "./setup", "Output directory for compiled circuits")
	cmd.Flags().BoolVarP(&cfg.force, "force", "f", false, "Overwrite existing files")
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runCompile(cfg *compileConfig) error {
	artifacts := common.ArtifactsIn(cfg.outputDir, zkcircuit.Name)
	if artifacts.Exist() && !cfg.force {
		fmt.Printf("%s already exists in %s, skipping (use --force to overwrite)\n", zkcircuit.Name, cfg.outputDir)
		return nil
	}

	fmt.Printf("\n==== Compiling %s to %s ====\n", zkcircuit.Name, cfg.outputDir)
	start := time.Now()

	logger := common.NewLogger(cfg.logLevel, "text")
	if err := common.SetupAndSave(&zkcircuit.Circuit{}, artifacts, logger); err != nil {
		return fmt.Errorf("failed to compile %s: %w", zkcircuit.Name, err)
	}

	fmt.Printf("[OK] Compiled %s in %s\n", zkcircuit.Name, time.Since(start).Round(time.Second))
	fmt.Printf("  circuit:       %s\n", artifacts.CCS)
	fmt.Printf("  proving key:   %s\n", artifacts.ProvingKey)
	fmt.Printf("  verifying key: %s\n", artifacts.VerifyingKey)
	return nil
}
