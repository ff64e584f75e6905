// Package graph maintains the dependency DAG between operations. An edge
// a -> b exists whenever b consumes a cell produced by a. Nodes are keyed by
// operation id and edges are id pairs, never in-memory pointers, so the
// structure mirrors the content-addressed identity of the operations.
//
// The graph restricted to accepted operations is acyclic by construction:
// cell ids embed their producer's commitment, so a cycle would require an
// operation to name a cell derived from its own (not yet computed) identity.
// A detected cycle therefore indicates corruption, never a normal case.
package graph

import (
	"fmt"
	"sort"

	"github.com/stashworks/stash/internal/op"
)

// Node is one operation's entry in the graph.
type Node struct {
	ID      string
	Op      *op.Operation
	Status  Status
	Arrival int64 // logical arrival sequence, drives pending-pool retention

	// missing holds the consumed cells not yet live (their producer is
	// unknown or not yet accepted). Empty for Ready and terminal nodes.
	missing map[op.CellID]struct{}
}

// Graph is the mutable dependency structure for one contract. It is NOT
// thread-safe: the contract runtime owns it behind the single-writer lock.
type Graph struct {
	nodes map[string]*Node

	// live is the set of cell ids that exist and are unconsumed: produced by
	// genesis or an accepted operation, not yet spent.
	live map[op.CellID]struct{}

	// spent maps a consumed cell to the accepted operation that consumed it.
	spent map[op.CellID]string

	// waiting maps a not-yet-live cell to the pending operations blocked on it.
	waiting map[op.CellID]map[string]struct{}

	// consumers maps a cell to the non-terminal operations that declare it as
	// input. Used to conflict competing consumers as soon as the cell is spent.
	consumers map[op.CellID]map[string]struct{}
}

// New creates an empty graph seeded with the genesis cell set.
func New(genesis []op.Cell) *Graph {
	g := &Graph{
		nodes:     make(map[string]*Node),
		live:      make(map[op.CellID]struct{}, len(genesis)),
		spent:     make(map[op.CellID]string),
		waiting:   make(map[op.CellID]map[string]struct{}),
		consumers: make(map[op.CellID]map[string]struct{}),
	}
	for _, c := range genesis {
		g.live[c.ID] = struct{}{}
	}
	return g
}

// Insert adds an operation and classifies it. Inserting a known id returns
// the current status unchanged (idempotent). The cost is linear in
// |consumed| + |produced|.
func (g *Graph) Insert(o *op.Operation, opid string, arrival int64) (Status, error) {
	if n, ok := g.nodes[opid]; ok {
		return n.Status, nil
	}

	// Cycle attempt: an input naming a cell this very operation would
	// produce. Content addressing makes this unforgeable, so seeing it means
	// corrupted input or a broken invariant upstream.
	for _, in := range o.Consumed {
		if in.Cell.Producer == opid {
			return StatusUnknown, fmt.Errorf("integrity: operation %s consumes its own output %s", opid, in.Cell)
		}
	}

	n := &Node{
		ID:      opid,
		Op:      o,
		Arrival: arrival,
		missing: make(map[op.CellID]struct{}),
	}

	for _, in := range o.Consumed {
		if _, ok := g.spent[in.Cell]; ok {
			// Hard conflict, not a missing dependency: the cell is gone.
			n.Status = StatusConflicted
			n.missing = nil
			g.nodes[opid] = n
			return StatusConflicted, nil
		}
		if _, ok := g.live[in.Cell]; !ok {
			n.missing[in.Cell] = struct{}{}
		}
	}

	for _, in := range o.Consumed {
		addToIndex(g.consumers, in.Cell, opid)
		if _, miss := n.missing[in.Cell]; miss {
			addToIndex(g.waiting, in.Cell, opid)
		}
	}

	if len(n.missing) == 0 {
		n.Status = StatusReady
	} else {
		n.Status = StatusPending
	}
	g.nodes[opid] = n
	return n.Status, nil
}

// Accept marks a Ready operation Accepted: its consumed cells die, its
// produced cells go live, and dependents are re-classified. Returns the
// newly Ready operation ids and the ids conflicted by the spends.
func (g *Graph) Accept(opid string) (readied, conflicted []string, err error) {
	n, ok := g.nodes[opid]
	if !ok {
		return nil, nil, fmt.Errorf("integrity: accepting unknown operation %s", opid)
	}
	if n.Status != StatusReady {
		return nil, nil, fmt.Errorf("integrity: accepting operation %s in state %s", opid, n.Status)
	}
	n.Status = StatusAccepted

	// Spend the inputs. Every other live consumer of a spent cell is now in
	// terminal conflict: at most one accepted consumer per cell, ever.
	for _, in := range n.Op.Consumed {
		delete(g.live, in.Cell)
		g.spent[in.Cell] = opid

		for rival := range g.consumers[in.Cell] {
			if rival == opid {
				continue
			}
			rn := g.nodes[rival]
			if rn == nil || rn.Status.Terminal() || rn.Status == StatusEvicted {
				continue
			}
			rn.Status = StatusConflicted
			g.detach(rn)
			conflicted = append(conflicted, rival)
		}
		delete(g.consumers, in.Cell)
	}

	// Bring the outputs live and wake waiters.
	for i := range n.Op.Produced {
		cellID := op.CellID{Producer: opid, Index: uint16(i)}
		g.live[cellID] = struct{}{}

		for waiter := range g.waiting[cellID] {
			wn := g.nodes[waiter]
			if wn == nil || wn.Status != StatusPending {
				continue
			}
			delete(wn.missing, cellID)
			if len(wn.missing) == 0 {
				wn.Status = StatusReady
				readied = append(readied, waiter)
			}
		}
		delete(g.waiting, cellID)
	}

	n.missing = nil
	sort.Strings(readied)
	sort.Strings(conflicted)
	return readied, conflicted, nil
}

// Reject marks a Ready operation as failed verification. Its outputs never
// become live; waiters stay pending until the producer is evicted or the
// pool retention discards them.
func (g *Graph) Reject(opid string) error {
	n, ok := g.nodes[opid]
	if !ok {
		return fmt.Errorf("integrity: rejecting unknown operation %s", opid)
	}
	if n.Status != StatusReady {
		return fmt.Errorf("integrity: rejecting operation %s in state %s", opid, n.Status)
	}
	n.Status = StatusRejected
	g.detach(n)
	return nil
}

// detach removes a non-accepted node from the waiting and consumer indexes.
func (g *Graph) detach(n *Node) {
	for _, in := range n.Op.Consumed {
		removeFromIndex(g.consumers, in.Cell, n.ID)
		removeFromIndex(g.waiting, in.Cell, n.ID)
	}
	n.missing = nil
}

// ReadyIDs returns the Ready operations in canonical (lexicographic) order.
func (g *Graph) ReadyIDs() []string {
	var ids []string
	for id, n := range g.nodes {
		if n.Status == StatusReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// StatusOf reports the classification of a known operation.
func (g *Graph) StatusOf(opid string) (Status, bool) {
	n, ok := g.nodes[opid]
	if !ok {
		return StatusUnknown, false
	}
	return n.Status, true
}

// Get returns a known operation.
func (g *Graph) Get(opid string) (*op.Operation, bool) {
	n, ok := g.nodes[opid]
	if !ok {
		return nil, false
	}
	return n.Op, true
}

// MissingFor lists the unresolved cells of a pending operation, sorted.
func (g *Graph) MissingFor(opid string) []op.CellID {
	n, ok := g.nodes[opid]
	if !ok || n.Status != StatusPending {
		return nil
	}
	ids := make([]op.CellID, 0, len(n.missing))
	for c := range n.missing {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// IsLive reports whether a cell currently exists unconsumed.
func (g *Graph) IsLive(cell op.CellID) bool {
	_, ok := g.live[cell]
	return ok
}

// SpentBy reports the accepted consumer of a cell, if any.
func (g *Graph) SpentBy(cell op.CellID) (string, bool) {
	spender, ok := g.spent[cell]
	return spender, ok
}

// PendingCount reports the size of the pending pool.
func (g *Graph) PendingCount() int {
	count := 0
	for _, n := range g.nodes {
		if n.Status == StatusPending {
			count++
		}
	}
	return count
}

// EvictStale removes pending operations that arrived before the cutoff,
// returning their ids. Evicted operations may be resubmitted later; they
// re-enter classification from scratch.
func (g *Graph) EvictStale(cutoff int64) []string {
	var evicted []string
	for id, n := range g.nodes {
		if n.Status == StatusPending && n.Arrival < cutoff {
			n.Status = StatusEvicted
			g.detach(n)
			delete(g.nodes, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// DetectCycle looks for a dependency cycle among non-terminal nodes. Under
// content addressing this should be unreachable; a non-nil result is a fatal
// integrity violation for the contract.
func (g *Graph) DetectCycle() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var cycle []string
	var visit func(id string, stack []string) bool
	visit = func(id string, stack []string) bool {
		color[id] = grey
		stack = append(stack, id)

		n := g.nodes[id]
		for _, in := range n.Op.Consumed {
			dep := in.Cell.Producer
			dn, known := g.nodes[dep]
			if !known || dn.Status.Terminal() {
				continue
			}
			switch color[dep] {
			case grey:
				// Found: slice the stack from the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
				cycle = append([]string(nil), stack...)
				return true
			case white:
				if visit(dep, stack) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	// Deterministic traversal order for reproducible reports.
	ids := make([]string, 0, len(g.nodes))
	for id, n := range g.nodes {
		if !n.Status.Terminal() && n.Status != StatusEvicted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if visit(id, nil) {
				return cycle
			}
		}
	}
	return nil
}

func addToIndex(idx map[op.CellID]map[string]struct{}, cell op.CellID, opid string) {
	set, ok := idx[cell]
	if !ok {
		set = make(map[string]struct{})
		idx[cell] = set
	}
	set[opid] = struct{}{}
}

func removeFromIndex(idx map[op.CellID]map[string]struct{}, cell op.CellID, opid string) {
	if set, ok := idx[cell]; ok {
		delete(set, opid)
		if len(set) == 0 {
			delete(idx, cell)
		}
	}
}
