package stash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashworks/stash/internal/op"
)

func signerCell(producer string, index uint16, owner string) op.Cell {
	return op.Cell{
		ID:    op.CellID{Producer: producer, Index: index},
		Label: "signer",
		Owner: owner,
		Value: op.Int(int64(index)),
		Lock:  op.Lock{Kind: op.LockOpen},
	}
}

func TestSnapshotApply(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{
		signerCell("bafygen", 0, "S1"),
		signerCell("bafygen", 1, "S2"),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), snap.Height())

	o := &op.Operation{
		ContractID: "bafygen",
		Method:     "castVote",
		Consumed:   []op.Input{{Cell: op.CellID{Producer: "bafygen", Index: 0}}},
		Produced: []op.Output{
			{Label: "vote", Value: op.Str("pro"), Lock: op.Lock{Kind: op.LockOpen}},
		},
	}
	produced := []op.Cell{{
		ID:    op.CellID{Producer: "bafyop", Index: 0},
		Label: "vote",
		Value: op.Str("pro"),
		Lock:  op.Lock{Kind: op.LockOpen},
	}}

	tr, err := snap.Apply(o, "bafyop", produced)
	require.NoError(t, err)
	assert.Equal(t, "bafyop", tr.OpID)
	require.Len(t, tr.Destroyed, 1)
	assert.Equal(t, "S1", tr.Destroyed[0].Owner)

	assert.Equal(t, uint64(1), snap.Height())
	assert.Equal(t, 1, snap.Count("vote"))
	assert.Equal(t, 1, snap.Count("signer"))

	_, alive := snap.ByOwner("S1")
	assert.False(t, alive)
	_, alive = snap.ByOwner("S2")
	assert.True(t, alive)

	// Consuming the same cell again is an invariant breach.
	_, err = snap.Apply(o, "bafyop2", nil)
	assert.Error(t, err)
}

func TestSnapshotApply_RejectsForeignProducer(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{signerCell("bafygen", 0, "S1")})
	require.NoError(t, err)

	o := &op.Operation{
		ContractID: "bafygen",
		Method:     "castVote",
		Consumed:   []op.Input{{Cell: op.CellID{Producer: "bafygen", Index: 0}}},
	}
	forged := []op.Cell{signerCell("bafyimpostor", 0, "")}
	_, err = snap.Apply(o, "bafyop", forged)
	assert.Error(t, err)
}

func TestSnapshotValidateApply_OwnerCollision(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{
		signerCell("bafygen", 0, "S1"),
		signerCell("bafygen", 1, "S2"),
	})
	require.NoError(t, err)

	consumeS2 := &op.Operation{
		ContractID: "bafygen",
		Method:     "castVote",
		Consumed:   []op.Input{{Cell: op.CellID{Producer: "bafygen", Index: 1}}},
	}

	// Claiming a token bound to an untouched cell fails.
	err = snap.ValidateApply(consumeS2, "bafyop", []op.Cell{{
		ID:    op.CellID{Producer: "bafyop", Index: 0},
		Label: "signer",
		Owner: "S1",
		Value: op.Int(9),
		Lock:  op.Lock{Kind: op.LockOpen},
	}})
	assert.Error(t, err)

	// Reclaiming the token freed by the operation's own consumption passes.
	err = snap.ValidateApply(consumeS2, "bafyop", []op.Cell{{
		ID:    op.CellID{Producer: "bafyop", Index: 0},
		Label: "signer",
		Owner: "S2",
		Value: op.Int(9),
		Lock:  op.Lock{Kind: op.LockOpen},
	}})
	assert.NoError(t, err)

	// Claiming the same token twice in one operation fails.
	err = snap.ValidateApply(consumeS2, "bafyop", []op.Cell{
		{ID: op.CellID{Producer: "bafyop", Index: 0}, Label: "signer",
			Owner: "S2", Value: op.Int(9), Lock: op.Lock{Kind: op.LockOpen}},
		{ID: op.CellID{Producer: "bafyop", Index: 1}, Label: "signer",
			Owner: "S2", Value: op.Int(10), Lock: op.Lock{Kind: op.LockOpen}},
	})
	assert.Error(t, err)

	// Validation never mutates.
	assert.Equal(t, uint64(0), snap.Height())
	assert.Equal(t, 2, snap.Count("signer"))
}

func TestSnapshot_OwnerUniqueness(t *testing.T) {
	_, err := NewSnapshot([]op.Cell{
		signerCell("bafygen", 0, "S1"),
		signerCell("bafygen", 1, "S1"),
	})
	assert.Error(t, err)
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{
		signerCell("bafygen", 0, "S1"),
		signerCell("bafygen", 1, "S2"),
	})
	require.NoError(t, err)

	encoded, err := snap.MarshalCanonical()
	require.NoError(t, err)
	want, err := snap.Commitment()
	require.NoError(t, err)

	restored, err := RestoreSnapshot(encoded)
	require.NoError(t, err)
	got, err := restored.Commitment()
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, snap.Height(), restored.Height())
	assert.Equal(t, snap.Cells(), restored.Cells())
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{signerCell("bafygen", 0, "S1")})
	require.NoError(t, err)
	clone := snap.Clone()

	o := &op.Operation{
		ContractID: "bafygen",
		Method:     "castVote",
		Consumed:   []op.Input{{Cell: op.CellID{Producer: "bafygen", Index: 0}}},
	}
	_, err = snap.Apply(o, "bafyop", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Count("signer"))
	assert.Equal(t, 1, clone.Count("signer"))
	assert.Equal(t, uint64(0), clone.Height())
}

func TestSnapshot_SelectSortedByCellID(t *testing.T) {
	snap, err := NewSnapshot([]op.Cell{
		signerCell("bafyzz", 0, "S1"),
		signerCell("bafyaa", 0, "S2"),
		signerCell("bafymm", 0, "S3"),
	})
	require.NoError(t, err)

	cells := snap.Select("signer")
	require.Len(t, cells, 3)
	assert.Equal(t, "bafyaa", cells[0].ID.Producer)
	assert.Equal(t, "bafymm", cells[1].ID.Producer)
	assert.Equal(t, "bafyzz", cells[2].ID.Producer)
}
