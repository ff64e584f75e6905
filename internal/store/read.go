package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stashworks/stash/internal/graph"
	"github.com/stashworks/stash/internal/op"
	"github.com/stashworks/stash/internal/stash"
)

// GetOperation loads a stored operation by its commitment.
func (s *Store) GetOperation(opid string) (*op.Operation, error) {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM operations WHERE opid = ?`, opid).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s not stored", opid)
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", opid, err)
	}

	var o op.Operation
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", opid, err)
	}
	return &o, nil
}

// Load reads the durable image of the contract: articles, the accepted
// sequence by position, non-terminal operations by arrival, the latest
// checkpoint, and the next arrival sequence number.
func (s *Store) Load() (*stash.LoadResult, error) {
	res := &stash.LoadResult{}

	// A store with no bound contract still reports its operations and clock:
	// both Persistence implementations return the full image unconditionally.
	err := s.db.QueryRow(`SELECT contract_id, articles FROM contract WHERE singleton = 1`).
		Scan(&res.ContractID, &res.ArticlesRaw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load contract: %w", err)
	}

	rows, err := s.db.Query(`SELECT opid FROM accepted ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("load accepted: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var opid string
		if err := rows.Scan(&opid); err != nil {
			return nil, fmt.Errorf("load accepted: %w", err)
		}
		res.Accepted = append(res.Accepted, opid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load accepted: %w", err)
	}

	pending, err := s.db.Query(`
		SELECT opid, status, arrival_seq FROM operations
		WHERE status NOT IN ('accepted', 'conflicted', 'rejected', 'evicted')
		ORDER BY arrival_seq ASC, opid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	defer pending.Close()
	for pending.Next() {
		var rec stash.PendingRecord
		var status string
		if err := pending.Scan(&rec.OpID, &status, &rec.Arrival); err != nil {
			return nil, fmt.Errorf("load pending: %w", err)
		}
		rec.Status = graph.ParseStatus(status)
		res.Pending = append(res.Pending, rec)
	}
	if err := pending.Err(); err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}

	var maxArrival sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(arrival_seq) FROM operations`).Scan(&maxArrival); err != nil {
		return nil, fmt.Errorf("load arrival clock: %w", err)
	}
	if maxArrival.Valid {
		res.NextArrival = maxArrival.Int64 + 1
	}

	var cp stash.CheckpointRecord
	err = s.db.QueryRow(`
		SELECT up_to, snapshot, commitment FROM checkpoints
		ORDER BY up_to DESC LIMIT 1
	`).Scan(&cp.UpTo, &cp.Snapshot, &cp.Commitment)
	switch {
	case err == nil:
		res.Checkpoint = &cp
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	return res, nil
}
