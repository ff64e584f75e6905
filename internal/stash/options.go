package stash

import (
	"log/slog"

	"github.com/stashworks/stash/internal/metrics"
	"github.com/stashworks/stash/internal/verify"
)

const (
	// DefaultRetentionWindow is how many logical clock ticks a pending
	// operation may wait before eviction. Zero disables eviction.
	DefaultRetentionWindow = 4096

	// DefaultCheckpointEvery is the accepted-operation cadence for
	// snapshot checkpoints. Zero disables checkpointing.
	DefaultCheckpointEvery = 256
)

// Option configures a Contract.
type Option func(*config)

type config struct {
	retentionWindow int64
	checkpointEvery uint64
	parallelVerify  int
	verifier        verify.Verifier
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

func defaultConfig() config {
	return config{
		retentionWindow: DefaultRetentionWindow,
		checkpointEvery: DefaultCheckpointEvery,
		parallelVerify:  4,
		verifier:        verify.Embedded{},
		logger:          slog.Default(),
	}
}

// WithRetentionWindow sets the pending-pool retention in logical clock
// ticks. Zero keeps pending operations forever.
func WithRetentionWindow(ticks int64) Option {
	return func(c *config) { c.retentionWindow = ticks }
}

// WithCheckpointEvery sets how many accepted operations pass between
// checkpoints. Zero disables checkpointing.
func WithCheckpointEvery(n uint64) Option {
	return func(c *config) { c.checkpointEvery = n }
}

// WithParallelVerify bounds the goroutines verifying a ready batch.
// Values below 1 force serial verification.
func WithParallelVerify(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = 1
		}
		c.parallelVerify = n
	}
}

// WithVerifier swaps the embedded verifier, e.g. for tests.
func WithVerifier(v verify.Verifier) Option {
	return func(c *config) { c.verifier = v }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
