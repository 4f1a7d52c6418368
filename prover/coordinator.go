package prover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mynextid/zklogin-prover/circuitinput"
	"github.com/mynextid/zklogin-prover/models"
)

// State is the coordinator readiness
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	stderrTail = 512
	waitDelay  = 2 * time.Second

	inputFile   = "input.json"
	witnessFile = "witness.wtns"
	proofFile   = "proof.json"
	publicFile  = "public.json"
)

// Coordinator serializes access to the prover binaries
type Coordinator struct {
	cfg     Config
	witness template
	prover  template
	sem     *semaphore.Weighted

	state   atomic.Int32
	mu      sync.Mutex
	initErr error
}

// New validates cfg and returns an uninitialized coordinator
func New(cfg Config) (*Coordinator, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	w, err := parseTemplate("witness", cfg.WitnessCommand)
	if err != nil {
		return nil, err
	}
	p, err := parseTemplate("prover", cfg.ProverCommand)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:     cfg,
		witness: w,
		prover:  p,
		sem:     semaphore.NewWeighted(int64(cfg.Slots)),
	}, nil
}

// State returns the current readiness state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Slots returns the number of concurrent proofs allowed
func (c *Coordinator) Slots() int {
	return c.cfg.Slots
}

// Init checks the artifacts and executables and moves to Ready or Failed.
// It may be called again after a failure.
func (c *Coordinator) Init(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) &&
		!c.state.CompareAndSwap(int32(StateFailed), int32(StateInitializing)) {
		if c.State() == StateReady {
			return nil
		}
		return fmt.Errorf("%w: initialization in progress", models.ErrServiceUnavailable)
	}

	err := c.check(ctx)

	c.mu.Lock()
	c.initErr = err
	c.mu.Unlock()

	if err != nil {
		c.state.Store(int32(StateFailed))
		c.cfg.Logger.Error("prover initialization failed", "error", err)
		return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}

	c.state.Store(int32(StateReady))
	c.cfg.Logger.Info("prover ready",
		"slots", c.cfg.Slots,
		"circuit", c.cfg.CircuitPath,
		"witness", c.witness[0],
		"prover", c.prover[0])
	return nil
}

func (c *Coordinator) check(ctx context.Context) error {
	for _, path := range []string{c.cfg.CircuitPath, c.cfg.ProvingKeyPath} {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("artifact not readable: %w", err)
		}
		f.Close()
	}

	for _, bin := range []string{c.witness[0], c.prover[0]} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("executable not found: %w", err)
		}
	}

	if err := os.MkdirAll(c.cfg.WorkDir, 0o700); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	return nil
}

// Ready returns nil when proofs can be served
func (c *Coordinator) Ready(context.Context) error {
	s := c.State()
	if s == StateReady {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr != nil {
		return fmt.Errorf("%w: prover %s: %v", models.ErrServiceUnavailable, s, c.initErr)
	}
	return fmt.Errorf("%w: prover %s", models.ErrServiceUnavailable, s)
}

// Prove generates a witness and a proof for in. Calls beyond the slot count
// wait for a free slot. Once started, subprocesses are bounded by their own
// timeouts rather than by ctx.
func (c *Coordinator) Prove(ctx context.Context, in *circuitinput.CircuitInput) (*models.ProofArtifact, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}

	dequeue := c.cfg.Metrics.Queued()
	err := c.sem.Acquire(ctx, 1)
	dequeue()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waiting for a prover slot", models.ErrProverTimeout)
		}
		return nil, fmt.Errorf("%w: request canceled while waiting for a prover slot: %w", models.ErrServiceUnavailable, err)
	}
	defer c.sem.Release(1)

	done := c.cfg.Metrics.Running()
	defer done()

	dir := filepath.Join(c.cfg.WorkDir, "proof-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create request dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.cfg.Logger.Warn("failed to remove request dir", "dir", dir, "error", err)
		}
	}()

	paths := strings.NewReplacer(
		PlaceholderCircuit, c.cfg.CircuitPath,
		PlaceholderZkey, c.cfg.ProvingKeyPath,
		PlaceholderInput, filepath.Join(dir, inputFile),
		PlaceholderWitness, filepath.Join(dir, witnessFile),
		PlaceholderProof, filepath.Join(dir, proofFile),
		PlaceholderPublic, filepath.Join(dir, publicFile),
	)

	if err := in.WriteFile(filepath.Join(dir, inputFile)); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := c.run(ctx, "witness", c.witness.expand(paths), dir, c.cfg.WitnessTimeout, models.ErrWitnessGenerationFailed); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, witnessFile)); err != nil {
		return nil, fmt.Errorf("%w: no witness written", models.ErrWitnessGenerationFailed)
	}

	if err := c.run(ctx, "prove", c.prover.expand(paths), dir, c.cfg.ProveTimeout, models.ErrProofGenerationFailed); err != nil {
		return nil, err
	}
	c.cfg.Metrics.ProofTime(time.Since(start))

	artifact, err := ReadArtifact(filepath.Join(dir, proofFile), filepath.Join(dir, publicFile))
	if err != nil {
		return nil, err
	}

	c.cfg.Logger.Debug("proof generated", "duration", time.Since(start))
	return artifact, nil
}

func (c *Coordinator) run(ctx context.Context, stage string, args []string, dir string, timeout time.Duration, failure error) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	stderr := newTailWriter(2 * stderrTail)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		c.cfg.Logger.Warn("prover stage timed out", "stage", stage, "timeout", timeout)
		return fmt.Errorf("%w: %s exceeded %s", models.ErrProverTimeout, stage, timeout)
	}
	if err != nil {
		msg := tail(stderr.Bytes(), stderrTail)
		c.cfg.Logger.Warn("prover stage failed", "stage", stage, "error", err, "stderr", msg)
		return fmt.Errorf("%w: %s: %v: %s", failure, stage, err, msg)
	}
	return nil
}

// tailWriter keeps the last limit bytes written to it
type tailWriter struct {
	limit int
	buf   []byte
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit, buf: make([]byte, 0, limit)}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n >= w.limit {
		w.buf = append(w.buf[:0], p[n-w.limit:]...)
		return n, nil
	}
	if over := len(w.buf) + n - w.limit; over > 0 {
		w.buf = w.buf[:copy(w.buf, w.buf[over:])]
	}
	w.buf = append(w.buf, p...)
	return n, nil
}

func (w *tailWriter) Bytes() []byte {
	return w.buf
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
