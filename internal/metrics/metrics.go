// Package metrics counts recipe executions in Prometheus form.
//
// Collectors live on a private registry rather than the global default, so
// that several executors in one process (tests, the daemon) never collide.
// The CLI writes a snapshot to a text file after each run, for the node
// exporter's textfile collector; the daemon reports totals in its status
// response.
package metrics

import (
	"sync"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/prometheus/client_golang/prometheus"
)

// Collects execution counters and durations.
//
// A Metrics value satisfies [build.Observer].
type Metrics struct {
	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	retries    prometheus.Counter
	duration   *prometheus.HistogramVec

	mu     sync.Mutex
	counts map[build.Outcome]int
}

// Creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keg_executions_total",
				Help: "Number of recipe executions by outcome.",
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keg_fetch_retries_total",
				Help: "Number of source download attempts retried after a transient failure.",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keg_execution_duration_seconds",
				Help:    "Time from start to terminal state of recipe executions.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"outcome"},
		),
		counts: make(map[build.Outcome]int),
	}

	m.registry.MustRegister(m.executions, m.retries, m.duration)

	// Every outcome is exported from the start, so rates work before the
	// first failure of a kind.
	for _, o := range build.Outcomes {
		m.executions.WithLabelValues(string(o))
	}
	return m
}

// Records a finished execution. Skipped reinstalls count as successes but
// are left out of the duration histogram.
func (m *Metrics) Observe(r *build.Result) {
	m.executions.WithLabelValues(string(r.Outcome)).Inc()
	if !r.Skipped {
		m.duration.WithLabelValues(string(r.Outcome)).Observe(r.Duration.Seconds())
	}

	m.mu.Lock()
	m.counts[r.Outcome]++
	m.mu.Unlock()
}

// Records one retried download. Suits the fetcher's retry callback.
func (m *Metrics) Retried() {
	m.retries.Inc()
}

// Returns the number of executions per outcome seen so far.
func (m *Metrics) Counts() map[build.Outcome]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[build.Outcome]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Writes the current values to path in the text exposition format.
//
// The file is replaced atomically. An empty path does nothing.
func (m *Metrics) WriteFile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
