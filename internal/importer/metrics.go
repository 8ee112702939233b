package importer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Metrics are the importer's Prometheus collectors.
type Metrics struct {
	lines    *prometheus.CounterVec
	imports  *prometheus.CounterVec
	duration prometheus.Histogram
	evicted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftimport",
			Subsystem: "importer",
			Name:      "lines_total",
			Help:      "Trace lines processed, by result",
		}, []string{"result"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftimport",
			Subsystem: "importer",
			Name:      "imports_total",
			Help:      "Finished imports, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ftimport",
			Subsystem: "importer",
			Name:      "import_duration_seconds",
			Help:      "Wall time of one import",
			Buckets:   durationBuckets,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ftimport",
			Subsystem: "importer",
			Name:      "evicted_bytes_total",
			Help:      "Bytes dropped from the stream reader's lookback",
		}),
	}
	if reg == nil {
		return m
	}

	m.lines = register(reg, m.lines)
	m.imports = register(reg, m.imports)
	m.duration = register(reg, m.duration)
	m.evicted = register(reg, m.evicted)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Import outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeAborted  = "aborted"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

func (m *Metrics) record(s Stats, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues("parsed").Add(float64(s.Parsed))
	m.lines.WithLabelValues("failed").Add(float64(s.Failed))
	m.lines.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.imports.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
	m.evicted.Add(float64(s.EvictedBytes))
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(OutcomeRejected).Inc()
}
