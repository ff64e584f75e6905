package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashworks/stash/internal/op"
)

func cell(producer string, index uint16) op.CellID {
	return op.CellID{Producer: producer, Index: index}
}

func consuming(cells ...op.CellID) *op.Operation {
	o := &op.Operation{ContractID: "bafycontract", Method: "transfer"}
	for _, c := range cells {
		o.Consumed = append(o.Consumed, op.Input{Cell: c})
	}
	o.Produced = []op.Output{{Label: "out", Value: op.Str("x"), Lock: op.Lock{Kind: op.LockOpen}}}
	return o
}

func genesis(n int) []op.Cell {
	cells := make([]op.Cell, n)
	for i := range cells {
		cells[i] = op.Cell{ID: cell("bafycontract", uint16(i))}
	}
	return cells
}

func TestInsertClassification(t *testing.T) {
	g := New(genesis(2))

	st, err := g.Insert(consuming(cell("bafycontract", 0)), "op-a", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)

	// Depends on op-a's output, which is not live until op-a is accepted.
	st, err = g.Insert(consuming(cell("op-a", 0)), "op-b", 2)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
	assert.Equal(t, []op.CellID{cell("op-a", 0)}, g.MissingFor("op-b"))

	// Reinsertion is idempotent.
	st, err = g.Insert(consuming(cell("bafycontract", 0)), "op-a", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)
}

func TestAcceptWakesWaiters(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("bafycontract", 0)), "op-a", 1)
	require.NoError(t, err)
	_, err = g.Insert(consuming(cell("op-a", 0)), "op-b", 2)
	require.NoError(t, err)

	readied, conflicted, err := g.Accept("op-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"op-b"}, readied)
	assert.Empty(t, conflicted)

	st, ok := g.StatusOf("op-b")
	require.True(t, ok)
	assert.Equal(t, StatusReady, st)
	assert.True(t, g.IsLive(cell("op-a", 0)))
	assert.False(t, g.IsLive(cell("bafycontract", 0)))

	spender, ok := g.SpentBy(cell("bafycontract", 0))
	require.True(t, ok)
	assert.Equal(t, "op-a", spender)
}

func TestAcceptConflictsRivals(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("bafycontract", 0)), "op-a", 1)
	require.NoError(t, err)
	_, err = g.Insert(consuming(cell("bafycontract", 0)), "op-z", 2)
	require.NoError(t, err)

	_, conflicted, err := g.Accept("op-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"op-z"}, conflicted)

	st, _ := g.StatusOf("op-z")
	assert.Equal(t, StatusConflicted, st)

	// A consumer arriving after the spend conflicts on insert.
	st, err = g.Insert(consuming(cell("bafycontract", 0)), "op-late", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConflicted, st)
}

func TestAcceptRequiresReady(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("op-x", 0)), "op-b", 1)
	require.NoError(t, err)

	_, _, err = g.Accept("op-b")
	assert.Error(t, err)

	_, _, err = g.Accept("op-missing")
	assert.Error(t, err)
}

func TestRejectLeavesOutputsDead(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("bafycontract", 0)), "op-a", 1)
	require.NoError(t, err)
	_, err = g.Insert(consuming(cell("op-a", 0)), "op-b", 2)
	require.NoError(t, err)

	require.NoError(t, g.Reject("op-a"))

	st, _ := g.StatusOf("op-a")
	assert.Equal(t, StatusRejected, st)
	st, _ = g.StatusOf("op-b")
	assert.Equal(t, StatusPending, st)
	assert.False(t, g.IsLive(cell("op-a", 0)))

	// The genesis cell survives the rejection and remains spendable.
	st, err = g.Insert(consuming(cell("bafycontract", 0)), "op-c", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)
}

func TestReadyIDsCanonicalOrder(t *testing.T) {
	g := New(genesis(3))

	for _, tc := range []struct {
		id    string
		index uint16
	}{
		{"op-zebra", 0},
		{"op-alpha", 1},
		{"op-mid", 2},
	} {
		_, err := g.Insert(consuming(cell("bafycontract", tc.index)), tc.id, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"op-alpha", "op-mid", "op-zebra"}, g.ReadyIDs())
}

func TestSelfConsumptionIsFatal(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("op-self", 0)), "op-self", 1)
	assert.Error(t, err)
}

func TestEvictStale(t *testing.T) {
	g := New(genesis(1))

	_, err := g.Insert(consuming(cell("op-x", 0)), "op-old", 1)
	require.NoError(t, err)
	_, err = g.Insert(consuming(cell("op-y", 0)), "op-new", 10)
	require.NoError(t, err)

	evicted := g.EvictStale(5)
	assert.Equal(t, []string{"op-old"}, evicted)
	assert.Equal(t, 1, g.PendingCount())

	_, known := g.StatusOf("op-old")
	assert.False(t, known)

	// Evicted operations can be resubmitted.
	st, err := g.Insert(consuming(cell("op-x", 0)), "op-old", 11)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
}

func TestDetectCycle(t *testing.T) {
	g := New(genesis(1))

	// op-a waits on op-b's output and vice versa. Content addressing makes
	// this pair impossible to mint, so the graph must flag it.
	_, err := g.Insert(consuming(cell("op-b", 0)), "op-a", 1)
	require.NoError(t, err)
	_, err = g.Insert(consuming(cell("op-a", 0)), "op-b", 2)
	require.NoError(t, err)

	cycle := g.DetectCycle()
	require.NotEmpty(t, cycle)
	assert.ElementsMatch(t, []string{"op-a", "op-b"}, cycle)

	// Acyclic pending chains pass.
	h := New(genesis(1))
	_, err = h.Insert(consuming(cell("bafycontract", 0)), "op-a", 1)
	require.NoError(t, err)
	_, err = h.Insert(consuming(cell("op-a", 0)), "op-b", 2)
	require.NoError(t, err)
	assert.Nil(t, h.DetectCycle())
}
