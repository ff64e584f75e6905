package stash

import (
	"github.com/stashworks/stash/internal/graph"
	"github.com/stashworks/stash/internal/op"
)

// Persistence is the durable log a contract writes through. Implementations
// must be idempotent on operation identity: storing the same opid twice is a
// no-op, and the accepted sequence is append-only.
//
// internal/store provides the SQLite implementation; MemStore backs tests
// and the scenario harness.
type Persistence interface {
	// PutArticles records the contract's articles exactly once.
	PutArticles(contractID string, raw []byte) error

	// PutOperation stores an operation keyed by its commitment. Returns
	// false when the opid was already present (the stored row wins).
	PutOperation(opid string, o *op.Operation, arrival int64) (bool, error)

	// GetOperation loads a stored operation.
	GetOperation(opid string) (*op.Operation, error)

	// SetStatus records an operation's current classification.
	SetStatus(opid string, status graph.Status) error

	// AppendAccepted extends the accepted sequence. Position is the
	// zero-based index; appending an occupied position with a different
	// opid must fail.
	AppendAccepted(position uint64, opid string) error

	// PutCheckpoint stores a snapshot covering the accepted sequence up to
	// (and excluding) position upTo. Only the latest checkpoint needs to
	// survive.
	PutCheckpoint(upTo uint64, snapshot []byte, commitment string) error

	// Load reads everything needed to resume a contract. Every field of the
	// result is populated even when no articles are bound yet; an empty
	// ContractID marks a fresh store.
	Load() (*LoadResult, error)

	// Close releases the underlying resources.
	Close() error
}

// PendingRecord is a staged but not yet terminal operation, as persisted.
type PendingRecord struct {
	OpID    string
	Status  graph.Status
	Arrival int64
}

// CheckpointRecord is the latest stored snapshot.
type CheckpointRecord struct {
	UpTo       uint64
	Snapshot   []byte
	Commitment string
}

// LoadResult is the durable image of a contract at open time.
type LoadResult struct {
	// ContractID and ArticlesRaw identify the contract. Empty ContractID
	// means the store is fresh.
	ContractID  string
	ArticlesRaw []byte

	// Accepted holds the opids of the accepted sequence in position order.
	Accepted []string

	// Pending holds the non-terminal staged operations by arrival order.
	Pending []PendingRecord

	// Checkpoint is the latest snapshot, nil when none was taken.
	Checkpoint *CheckpointRecord

	// NextArrival is the first unused logical arrival sequence number.
	NextArrival int64
}
