// Package metrics exposes Prometheus instruments for the proving pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zklogin"

const (
	subsystemProver = "prover"
	subsystemKeys   = "keys"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheExpired   = "expired"
)

// Metrics holds the service instruments
type Metrics struct {
	proofs        *prometheus.CounterVec
	proofDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
	inFlight      prometheus.Gauge
	keyFetches    *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		proofs: newCounterVec(subsystemProver, "proofs_total",
			"Proof requests by outcome code.", "outcome"),
		proofDuration: newHistogram(subsystemProver, "proof_duration_seconds",
			"The time (in seconds) spent in witness generation and proving.",
			[]float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}),
		queueDepth: newGauge(subsystemProver, "queue_depth",
			"Requests waiting for a prover slot."),
		inFlight: newGauge(subsystemProver, "in_flight",
			"Requests holding a prover slot."),
		keyFetches: newCounterVec(subsystemKeys, "fetches_total",
			"Key set fetches by outcome.", "outcome"),
		cacheLookups: newCounterVec(subsystemKeys, "cache_lookups_total",
			"Key cache lookups by result.", "result"),
	}

	if reg != nil {
		reg.MustRegister(m.proofs, m.proofDuration, m.queueDepth, m.inFlight, m.keyFetches, m.cacheLookups)
	}
	return m
}

// ProofCompleted records a finished proof request
func (m *Metrics) ProofCompleted(outcome string) {
	if m == nil {
		return
	}
	m.proofs.WithLabelValues(outcome).Inc()
}

// ProofTime records the time spent in the prover
func (m *Metrics) ProofTime(d time.Duration) {
	if m == nil {
		return
	}
	m.proofDuration.Observe(d.Seconds())
}

// Queued tracks a request waiting for a slot; call the returned func once it leaves the queue
func (m *Metrics) Queued() func() {
	if m == nil {
		return func() {}
	}
	m.queueDepth.Inc()
	return m.queueDepth.Dec
}

// Running tracks a request holding a slot
func (m *Metrics) Running() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) KeyFetch(outcome string) {
	if m == nil {
		return
	}
	m.keyFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newHistogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}
