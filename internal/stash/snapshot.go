package stash

import (
	"fmt"
	"sort"

	"github.com/stashworks/stash/internal/op"
)

// Snapshot is the effective state of a contract: the set of live cells,
// indexed for lookup by id and by owner token. It is a pure value derived
// from the accepted sequence; applying the same sequence to a fresh snapshot
// reproduces it bit for bit.
//
// Snapshot is not thread-safe. The contract runtime owns the live instance
// behind its writer lock and hands out copies.
type Snapshot struct {
	cells  map[op.CellID]op.Cell
	owners map[string]op.CellID
	height uint64
}

// Transition records what one accepted operation did to the snapshot.
type Transition struct {
	OpID      string
	Destroyed []op.Cell
	Created   []op.Cell
}

// NewSnapshot builds the height-zero state from the genesis cell set.
func NewSnapshot(genesis []op.Cell) (*Snapshot, error) {
	s := &Snapshot{
		cells:  make(map[op.CellID]op.Cell, len(genesis)),
		owners: make(map[string]op.CellID),
	}
	for _, c := range genesis {
		if err := s.insert(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Apply destroys the operation's consumed cells and creates the produced
// ones. The caller has already verified the operation; Apply failing means
// the runtime's invariants are broken, so every error from it is fatal to
// the contract.
func (s *Snapshot) Apply(o *op.Operation, opid string, produced []op.Cell) (Transition, error) {
	destroyed := make([]op.Cell, 0, len(o.Consumed))
	for _, in := range o.Consumed {
		c, ok := s.cells[in.Cell]
		if !ok {
			return Transition{}, fmt.Errorf("apply %s: consumed cell %s is not live", opid, in.Cell)
		}
		destroyed = append(destroyed, c)
	}

	for _, c := range destroyed {
		delete(s.cells, c.ID)
		if c.Owner != "" {
			delete(s.owners, c.Owner)
		}
	}

	for _, c := range produced {
		if c.ID.Producer != opid {
			return Transition{}, fmt.Errorf("apply %s: produced cell %s has foreign producer", opid, c.ID)
		}
		if err := s.insert(c); err != nil {
			return Transition{}, fmt.Errorf("apply %s: %w", opid, err)
		}
	}

	s.height++
	return Transition{OpID: opid, Destroyed: destroyed, Created: produced}, nil
}

// ValidateApply reports whether Apply would succeed, without mutating the
// snapshot. The runtime runs it before durably accepting an operation, so an
// owner-token collision settles as a per-operation rejection instead of
// leaving an unreplayable position in the log.
func (s *Snapshot) ValidateApply(o *op.Operation, opid string, produced []op.Cell) error {
	freed := make(map[string]struct{}, len(o.Consumed))
	for _, in := range o.Consumed {
		c, ok := s.cells[in.Cell]
		if !ok {
			return fmt.Errorf("consumed cell %s is not live", in.Cell)
		}
		if c.Owner != "" {
			freed[c.Owner] = struct{}{}
		}
	}

	claimed := make(map[string]struct{}, len(produced))
	for _, c := range produced {
		if c.ID.Producer != opid {
			return fmt.Errorf("produced cell %s has foreign producer", c.ID)
		}
		if c.Owner == "" {
			continue
		}
		if _, dup := claimed[c.Owner]; dup {
			return fmt.Errorf("owner token %s claimed twice", c.Owner)
		}
		claimed[c.Owner] = struct{}{}
		if holder, taken := s.owners[c.Owner]; taken {
			if _, ok := freed[c.Owner]; !ok {
				return fmt.Errorf("owner token %s already bound to cell %s", c.Owner, holder)
			}
		}
	}
	return nil
}

func (s *Snapshot) insert(c op.Cell) error {
	if _, dup := s.cells[c.ID]; dup {
		return fmt.Errorf("cell %s already live", c.ID)
	}
	if c.Owner != "" {
		if holder, taken := s.owners[c.Owner]; taken {
			return fmt.Errorf("owner token %s already bound to cell %s", c.Owner, holder)
		}
		s.owners[c.Owner] = c.ID
	}
	s.cells[c.ID] = c
	return nil
}

// Height reports the number of accepted operations applied so far.
func (s *Snapshot) Height() uint64 {
	return s.height
}

// Get returns a live cell by id.
func (s *Snapshot) Get(id op.CellID) (op.Cell, bool) {
	c, ok := s.cells[id]
	return c, ok
}

// ByOwner returns the live cell bound to an owner token.
func (s *Snapshot) ByOwner(token string) (op.Cell, bool) {
	id, ok := s.owners[token]
	if !ok {
		return op.Cell{}, false
	}
	return s.cells[id], true
}

// Count reports how many live cells carry the given label.
func (s *Snapshot) Count(label string) int {
	n := 0
	for _, c := range s.cells {
		if c.Label == label {
			n++
		}
	}
	return n
}

// Select returns the live cells carrying the given label, in canonical
// cell-id order.
func (s *Snapshot) Select(label string) []op.Cell {
	var out []op.Cell
	for _, c := range s.cells {
		if c.Label == label {
			out = append(out, c)
		}
	}
	sortCells(out)
	return out
}

// Cells returns every live cell in canonical cell-id order.
func (s *Snapshot) Cells() []op.Cell {
	out := make([]op.Cell, 0, len(s.cells))
	for _, c := range s.cells {
		out = append(out, c)
	}
	sortCells(out)
	return out
}

// Clone returns an independent copy. Checkpointing and read queries work on
// clones so the writer never blocks on readers.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		cells:  make(map[op.CellID]op.Cell, len(s.cells)),
		owners: make(map[string]op.CellID, len(s.owners)),
		height: s.height,
	}
	for id, cell := range s.cells {
		c.cells[id] = cell
	}
	for token, id := range s.owners {
		c.owners[token] = id
	}
	return c
}

// Commitment computes the content-derived identity of the snapshot: a
// commitment over the canonical encoding of the height and the sorted live
// cell set. Two replicas that applied the same accepted sequence produce
// the same commitment.
func (s *Snapshot) Commitment() (string, error) {
	canonical, err := s.MarshalCanonical()
	if err != nil {
		return "", err
	}
	return op.Commit(op.DomainSnapshot, canonical), nil
}

// MarshalCanonical encodes the snapshot for checkpoints. The encoding is
// the canonical JSON of {"height": h, "cells": [...]} with cells sorted by
// id, so it doubles as the commitment preimage.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	cells := s.Cells()
	list := make(op.List, len(cells))
	for i, c := range cells {
		list[i] = c.Canonical()
	}
	return op.MarshalCanonical(op.Map{
		"height": op.Int(int64(s.height)),
		"cells":  list,
	})
}

// RestoreSnapshot rebuilds a snapshot from its checkpoint encoding.
func RestoreSnapshot(data []byte) (*Snapshot, error) {
	var doc struct {
		Height int64     `json:"height"`
		Cells  []op.Cell `json:"cells"`
	}
	if err := unmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if doc.Height < 0 {
		return nil, fmt.Errorf("restore snapshot: negative height %d", doc.Height)
	}
	s, err := NewSnapshot(doc.Cells)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	s.height = uint64(doc.Height)
	return s, nil
}

func sortCells(cells []op.Cell) {
	sort.Slice(cells, func(i, j int) bool {
		return cells[i].ID.String() < cells[j].ID.String()
	})
}
