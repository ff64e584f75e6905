// Package metrics exposes Prometheus instrumentation for the contract
// runtime. All methods are safe on a nil receiver so callers never guard
// the instrumentation path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's instruments. Construct one per process with
// New; pass nil to disable collection.
type Metrics struct {
	submitted  *prometheus.CounterVec
	accepted   prometheus.Counter
	conflicted prometheus.Counter
	rejected   prometheus.Counter
	malformed  prometheus.Counter
	evicted    prometheus.Counter
	pending    prometheus.Gauge
	commitSecs prometheus.Histogram
	height     prometheus.Gauge
}

// New registers the runtime instruments with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_submitted_total",
			Help:      "Operations submitted, by staging outcome.",
		}, []string{"outcome"}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_accepted_total",
			Help:      "Operations appended to the accepted sequence.",
		}),
		conflicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_conflicted_total",
			Help:      "Operations terminally conflicted on a spent cell.",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_rejected_total",
			Help:      "Operations that failed verification.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_malformed_total",
			Help:      "Submissions refused before staging.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "operations_evicted_total",
			Help:      "Pending operations discarded by retention.",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stash",
			Name:      "operations_pending",
			Help:      "Operations staged and waiting on dependencies.",
		}),
		commitSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stash",
			Name:      "commit_duration_seconds",
			Help:      "Wall time of Commit batches.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		height: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stash",
			Name:      "accepted_height",
			Help:      "Length of the accepted sequence.",
		}),
	}
}

// Submitted counts one submission by staging outcome ("ready", "pending",
// "conflicted", "duplicate").
func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(outcome).Inc()
}

// Accepted counts one accepted operation and tracks the sequence height.
func (m *Metrics) Accepted(height uint64) {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.height.Set(float64(height))
}

// Conflicted counts operations terminally conflicted.
func (m *Metrics) Conflicted(n int) {
	if m == nil {
		return
	}
	m.conflicted.Add(float64(n))
}

// Rejected counts one verification failure.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// Malformed counts one refused submission.
func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// Evicted counts pending operations discarded by retention.
func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}

// Pending tracks the size of the pending pool.
func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// CommitObserved records the duration of one Commit batch.
func (m *Metrics) CommitObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.commitSecs.Observe(d.Seconds())
}
