package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stashworks/stash/internal/graph"
	"github.com/stashworks/stash/internal/op"
)

// PutArticles records the contract's identity and manifest. The store holds
// exactly one contract; binding it to a different one is an error.
func (s *Store) PutArticles(contractID string, raw []byte) error {
	var existing string
	err := s.db.QueryRow(`SELECT contract_id FROM contract WHERE singleton = 1`).Scan(&existing)
	switch {
	case err == nil:
		if existing != contractID {
			return fmt.Errorf("store already bound to contract %s", existing)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("put articles: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO contract (singleton, contract_id, articles)
		VALUES (1, ?, ?)
		ON CONFLICT(singleton) DO NOTHING
	`, contractID, raw)
	if err != nil {
		return fmt.Errorf("put articles: %w", err)
	}
	return nil
}

// PutOperation stores an operation keyed by its commitment. Duplicate opids
// are silently ignored; the stored row wins. Returns whether a row was
// actually inserted.
func (s *Store) PutOperation(opid string, o *op.Operation, arrival int64) (bool, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("encode operation %s: %w", opid, err)
	}

	res, err := s.db.Exec(`
		INSERT INTO operations (opid, body, status, arrival_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(opid) DO NOTHING
	`, opid, body, graph.StatusUnknown.String(), arrival)
	if err != nil {
		return false, fmt.Errorf("put operation %s: %w", opid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put operation %s: %w", opid, err)
	}
	return n > 0, nil
}

// SetStatus records an operation's current classification.
func (s *Store) SetStatus(opid string, status graph.Status) error {
	res, err := s.db.Exec(`UPDATE operations SET status = ? WHERE opid = ?`,
		status.String(), opid)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", opid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status for %s: %w", opid, err)
	}
	if n == 0 {
		return fmt.Errorf("status for unknown operation %s", opid)
	}
	return nil
}

// AppendAccepted extends the accepted sequence. Re-appending the same opid
// at its position is a no-op; anything else at an occupied position, or a
// position leaving a gap, is an error.
func (s *Store) AppendAccepted(position uint64, opid string) error {
	var existing string
	err := s.db.QueryRow(`SELECT opid FROM accepted WHERE position = ?`, position).Scan(&existing)
	switch {
	case err == nil:
		if existing != opid {
			return fmt.Errorf("position %d already holds %s", position, existing)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("append accepted: %w", err)
	}

	var count uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM accepted`).Scan(&count); err != nil {
		return fmt.Errorf("append accepted: %w", err)
	}
	if position != count {
		return fmt.Errorf("append at position %d would leave a gap (next is %d)", position, count)
	}

	if _, err := s.db.Exec(`INSERT INTO accepted (position, opid) VALUES (?, ?)`,
		position, opid); err != nil {
		return fmt.Errorf("append accepted at %d: %w", position, err)
	}
	return nil
}

// PutCheckpoint stores a snapshot covering the accepted sequence up to
// upTo. Older checkpoints are pruned; only the latest survives.
func (s *Store) PutCheckpoint(upTo uint64, snapshot []byte, commitment string) error {
	var latest sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(up_to) FROM checkpoints`).Scan(&latest); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	if latest.Valid && uint64(latest.Int64) > upTo {
		return fmt.Errorf("checkpoint regression: have %d, got %d", latest.Int64, upTo)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO checkpoints (up_to, snapshot, commitment)
		VALUES (?, ?, ?)
		ON CONFLICT(up_to) DO NOTHING
	`, upTo, snapshot, commitment); err != nil {
		return fmt.Errorf("put checkpoint at %d: %w", upTo, err)
	}
	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE up_to < ?`, upTo); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return tx.Commit()
}
