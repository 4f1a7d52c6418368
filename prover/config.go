// Package prover runs the external witness generator and Groth16 prover for
// each request, bounding concurrency and cleaning up intermediate files.
package prover

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/metrics"
)

// Placeholders understood by command templates
const (
	PlaceholderCircuit = "{circuit}"
	PlaceholderInput   = "{input}"
	PlaceholderWitness = "{witness}"
	PlaceholderZkey    = "{zkey}"
	PlaceholderProof   = "{proof}"
	PlaceholderPublic  = "{public}"
)

const (
	DefaultWitnessCommand = "zklogin witness --circuit {circuit} --input {input} --out {witness}"
	DefaultProverCommand  = "zklogin prove --circuit {circuit} --pk {zkey} --witness {witness} --proof {proof} --public {public}"

	// snarkjs/rapidsnark equivalents
	SnarkjsWitnessCommand = "snarkjs wtns calculate {circuit} {input} {witness}"
	RapidsnarkCommand     = "prover {zkey} {witness} {proof} {public}"

	DefaultWitnessTimeout = 60 * time.Second
	DefaultProveTimeout   = 120 * time.Second
)

// Config configures the coordinator
type Config struct {
	WorkDir        string
	CircuitPath    string
	ProvingKeyPath string
	WitnessCommand string
	ProverCommand  string
	// Env is appended to the environment of both subprocesses
	Env            []string
	Slots          int
	WitnessTimeout time.Duration
	ProveTimeout   time.Duration

	Logger  common.Logger
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.WitnessCommand == "" {
		c.WitnessCommand = DefaultWitnessCommand
	}
	if c.ProverCommand == "" {
		c.ProverCommand = DefaultProverCommand
	}
	if c.Slots <= 0 {
		c.Slots = runtime.NumCPU()
	}
	if c.WitnessTimeout <= 0 {
		c.WitnessTimeout = DefaultWitnessTimeout
	}
	if c.ProveTimeout <= 0 {
		c.ProveTimeout = DefaultProveTimeout
	}
	if c.Logger == nil {
		c.Logger = common.NopLogger()
	}
}

func (c *Config) validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if c.CircuitPath == "" {
		return fmt.Errorf("circuit path is required")
	}
	if c.ProvingKeyPath == "" {
		return fmt.Errorf("proving key path is required")
	}
	return nil
}

// template is a parsed command line with placeholders
type template []string

func parseTemplate(name, s string) (template, error) {
	t := template(strings.Fields(s))
	if len(t) == 0 {
		return nil, fmt.Errorf("%s command is empty", name)
	}
	if strings.Contains(t[0], "{") {
		return nil, fmt.Errorf("%s command must start with an executable", name)
	}
	return t, nil
}

func (t template) expand(r *strings.Replacer) []string {
	out := make([]string, len(t))
	for i, arg := range t {
		out[i] = r.Replace(arg)
	}
	return out
}
