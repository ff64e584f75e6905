package stash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stashworks/stash/internal/graph"
)

func TestRunner_ConcurrentSubmitters(t *testing.T) {
	c, _ := newTestContract(t)
	r := NewRunner(c)

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(context.Background()) }()

	var eg errgroup.Group
	receipts := make([]Receipt, 3)
	for i := 0; i < 3; i++ {
		o := castVote(t, c, genesisCell(c, uint16(i)), "pro", int64(i+1))
		eg.Go(func() error {
			receipt, err := r.Submit(context.Background(), o)
			receipts[i] = receipt
			return err
		})
	}
	require.NoError(t, eg.Wait())

	r.Close()
	require.NoError(t, <-runDone)

	// Every submission settled before Run returned.
	for _, receipt := range receipts {
		st, ok := c.StatusOf(receipt.OpID)
		require.True(t, ok)
		assert.Equal(t, graph.StatusAccepted, st)
	}
	assert.Equal(t, uint64(3), c.State().Height())
}

func TestRunner_SubmitAfterClose(t *testing.T) {
	c, _ := newTestContract(t)
	r := NewRunner(c)
	r.Close()

	_, err := r.Submit(context.Background(), castVote(t, c, genesisCell(c, 0), "pro", 1))
	assert.Error(t, err)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	c, _ := newTestContract(t)
	r := NewRunner(c)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)
}
