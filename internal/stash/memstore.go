package stash

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/stashworks/stash/internal/graph"
	"github.com/stashworks/stash/internal/op"
)

// MemStore is an in-memory Persistence. It backs tests and the scenario
// harness; nothing survives the process.
type MemStore struct {
	mu sync.Mutex

	contractID  string
	articlesRaw []byte

	ops      map[string][]byte
	statuses map[string]graph.Status
	arrivals map[string]int64

	accepted   []string
	checkpoint *CheckpointRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		ops:      make(map[string][]byte),
		statuses: make(map[string]graph.Status),
		arrivals: make(map[string]int64),
	}
}

func (m *MemStore) PutArticles(contractID string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contractID != "" && m.contractID != contractID {
		return fmt.Errorf("store already bound to contract %s", m.contractID)
	}
	m.contractID = contractID
	m.articlesRaw = append([]byte(nil), raw...)
	return nil
}

func (m *MemStore) PutOperation(opid string, o *op.Operation, arrival int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ops[opid]; exists {
		return false, nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("encode operation %s: %w", opid, err)
	}
	m.ops[opid] = data
	m.arrivals[opid] = arrival
	return true, nil
}

func (m *MemStore) GetOperation(opid string) (*op.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.ops[opid]
	if !ok {
		return nil, fmt.Errorf("operation %s not stored", opid)
	}
	var o op.Operation
	if err := unmarshalStrict(data, &o); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", opid, err)
	}
	return &o, nil
}

func (m *MemStore) SetStatus(opid string, status graph.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[opid]; !ok {
		return fmt.Errorf("status for unknown operation %s", opid)
	}
	m.statuses[opid] = status
	return nil
}

func (m *MemStore) AppendAccepted(position uint64, opid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case position < uint64(len(m.accepted)):
		if m.accepted[position] != opid {
			return fmt.Errorf("position %d already holds %s", position, m.accepted[position])
		}
		return nil
	case position == uint64(len(m.accepted)):
		m.accepted = append(m.accepted, opid)
		return nil
	default:
		return fmt.Errorf("append at position %d would leave a gap (next is %d)", position, len(m.accepted))
	}
}

func (m *MemStore) PutCheckpoint(upTo uint64, snapshot []byte, commitment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint != nil && m.checkpoint.UpTo > upTo {
		return fmt.Errorf("checkpoint regression: have %d, got %d", m.checkpoint.UpTo, upTo)
	}
	m.checkpoint = &CheckpointRecord{
		UpTo:       upTo,
		Snapshot:   append([]byte(nil), snapshot...),
		Commitment: commitment,
	}
	return nil
}

func (m *MemStore) Load() (*LoadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &LoadResult{
		ContractID:  m.contractID,
		ArticlesRaw: append([]byte(nil), m.articlesRaw...),
		Accepted:    append([]string(nil), m.accepted...),
	}

	for opid, status := range m.statuses {
		if status.Terminal() || status == graph.StatusEvicted {
			continue
		}
		res.Pending = append(res.Pending, PendingRecord{
			OpID:    opid,
			Status:  status,
			Arrival: m.arrivals[opid],
		})
	}
	sort.Slice(res.Pending, func(i, j int) bool {
		if res.Pending[i].Arrival != res.Pending[j].Arrival {
			return res.Pending[i].Arrival < res.Pending[j].Arrival
		}
		return res.Pending[i].OpID < res.Pending[j].OpID
	})

	for _, arrival := range m.arrivals {
		if arrival >= res.NextArrival {
			res.NextArrival = arrival + 1
		}
	}

	if m.checkpoint != nil {
		cp := *m.checkpoint
		cp.Snapshot = append([]byte(nil), m.checkpoint.Snapshot...)
		res.Checkpoint = &cp
	}
	return res, nil
}

func (m *MemStore) Close() error {
	return nil
}
