// Package provertest provides a fake witness generator and prover for tests.
// The test binary re-executes itself: call Main from TestMain and build the
// coordinator with Config.
package provertest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/prover"
)

const (
	EnvMode  = "ZKLOGIN_FAKE_PROVER"
	EnvTrace = "ZKLOGIN_FAKE_PROVER_TRACE"
	EnvDelay = "ZKLOGIN_FAKE_PROVER_DELAY"
)

// Modes
const (
	ModeOK          = "ok"
	ModeNULPadded   = "nul"
	ModeWitnessFail = "witness-fail"
	ModeNoWitness   = "no-witness"
	ModeProveFail   = "prove-fail"
	ModeSlow        = "slow"
	ModeGarbage     = "garbage"
	ModeShortProof  = "short"
)

// FailureMessage is written to stderr by the failing modes
const FailureMessage = "Error: assert failed: constraint #4212 not satisfied"

// Fixed proof coordinates returned by the fake prover
var (
	PiA = []string{
		"14125296762497065001182820090155008161146766663259912659363835465243039841726",
		"16927717413484437016211811547380587218398512640212405722440339087474290328573",
		"1",
	}
	PiB = [][]string{
		{"10135902723452640766372734669133476470484400994470394925467447063478633962735", "1836155306024640632567402766622296596468364405290566939405329516006232883106"},
		{"7419355745131325466926467700000735405640339853716339908587924591530853389330", "12470574470651359426225089935208212689706223087127960219282883318416562024960"},
		{"1", "0"},
	}
	PiC = []string{
		"4256159930213958127512998153340436013624543458211734104011651919651963434441",
		"11366706286627418476722702744788958153366633779453290049221010093155530005225",
		"1",
	}
)

// Main runs the fake binary when the mode variable is set, and the tests otherwise
func Main(m *testing.M) {
	if mode := os.Getenv(EnvMode); mode != "" {
		os.Exit(run(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

// Config returns a coordinator config whose subprocesses are this test binary
// running in mode. Circuit and proving key are placeholder files.
func Config(t testing.TB, mode string, env ...string) prover.Config {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}

	dir := t.TempDir()
	circuit := filepath.Join(dir, "zklogin.ccs")
	zkey := filepath.Join(dir, "zklogin.pk")
	for _, p := range []string{circuit, zkey} {
		if err := os.WriteFile(p, []byte("placeholder"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	return prover.Config{
		WorkDir:        filepath.Join(dir, "work"),
		CircuitPath:    circuit,
		ProvingKeyPath: zkey,
		WitnessCommand: exe + " witness {circuit} {input} {witness}",
		ProverCommand:  exe + " prove {zkey} {witness} {proof} {public}",
		Env:            append([]string{EnvMode + "=" + mode}, env...),
		Slots:          2,
		WitnessTimeout: 10 * time.Second,
		ProveTimeout:   10 * time.Second,
	}
}

// Coordinator creates and initializes a coordinator for cfg
func Coordinator(t testing.TB, cfg prover.Config) *prover.Coordinator {
	t.Helper()

	c, err := prover.New(cfg)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init coordinator: %v", err)
	}
	return c
}

// TraceEntry is one fake prover invocation
type TraceEntry struct {
	Dir   string
	Start time.Time
	End   time.Time
}

// ReadTrace parses the trace file written by prove invocations
func ReadTrace(t testing.TB, path string) []TraceEntry {
	t.Helper()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}

	var out []TraceEntry
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		f := strings.Fields(line)
		if len(f) != 3 {
			continue
		}
		start, _ := strconv.ParseInt(f[1], 10, 64)
		end, _ := strconv.ParseInt(f[2], 10, 64)
		out = append(out, TraceEntry{Dir: f[0], Start: time.Unix(0, start), End: time.Unix(0, end)})
	}
	return out
}

func run(mode string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing stage")
		return 2
	}

	switch args[0] {
	case "witness":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: witness <circuit> <input> <witness>")
			return 2
		}
		return witness(mode, args[2], args[3])
	case "prove":
		if len(args) != 5 {
			fmt.Fprintln(os.Stderr, "usage: prove <zkey> <witness> <proof> <public>")
			return 2
		}
		start := time.Now()
		code := prove(mode, args[2], args[3], args[4])
		trace(filepath.Dir(args[3]), start)
		return code
	}

	fmt.Fprintf(os.Stderr, "unknown stage %q\n", args[0])
	return 2
}

func witness(mode, inputPath, witnessPath string) int {
	switch mode {
	case ModeWitnessFail:
		fmt.Fprintln(os.Stderr, FailureMessage)
		return 3
	case ModeNoWitness:
		return 0
	}

	if _, err := circuitinput.ReadFile(inputPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	b, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := os.WriteFile(witnessPath, b, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func prove(mode, witnessPath, proofPath, publicPath string) int {
	if d, err := time.ParseDuration(os.Getenv(EnvDelay)); err == nil {
		time.Sleep(d)
	}

	switch mode {
	case ModeProveFail:
		fmt.Fprintln(os.Stderr, FailureMessage)
		return 3
	case ModeSlow:
		time.Sleep(time.Minute)
		return 0
	case ModeGarbage:
		_ = os.WriteFile(proofPath, []byte("{\"pi_a\": [1, 2"), 0o600)
		_ = os.WriteFile(publicPath, []byte("not json"), 0o600)
		return 0
	}

	in, err := circuitinput.ReadFile(witnessPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	proof := map[string]any{
		"pi_a":     PiA,
		"pi_b":     PiB,
		"pi_c":     PiC,
		"protocol": "groth16",
		"curve":    "bn128",
	}
	if mode == ModeShortProof {
		proof["pi_c"] = []string{PiC[0]}
	}
	public := append([]string{"1", in.AddressSeed, in.MaxEpoch}, in.EphemeralKey...)

	pb, _ := json.Marshal(proof)
	sb, _ := json.Marshal(public)
	if mode == ModeNULPadded {
		pb = append(pb, make([]byte, 64)...)
		sb = append(sb, make([]byte, 17)...)
	}

	if err := os.WriteFile(proofPath, pb, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := os.WriteFile(publicPath, sb, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func trace(dir string, start time.Time) {
	path := os.Getenv(EnvTrace)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %d %d\n", dir, start.UnixNano(), time.Now().UnixNano())
}
