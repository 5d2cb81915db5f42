// Package db persists operation and event history. The memory store is the
// default; Postgres is used when DATABASE_URL is configured.
package db

import (
	"sync"

	"github.com/kube9/statuscore/internal/types"
)

// Store records dispatched operations and emitted events and serves them
// back newest first.
type Store interface {
	RecordOperation(op types.OperationSnapshot) error
	RecordEvent(ev types.Event) error
	// Operations returns the most recent operations, newest first. A limit
	// of zero or less means all.
	Operations(limit int) ([]types.OperationSnapshot, error)
	// Events returns the most recent events, newest first.
	Events(limit int) ([]types.Event, error)
	Close() error
}

// MemoryStore keeps a bounded history in memory. Operations are keyed by ID
// so phase transitions update in place; events are a ring.
type MemoryStore struct {
	mu         sync.RWMutex
	maxEvents  int
	operations map[int64]types.OperationSnapshot
	opOrder    []int64
	events     []types.Event
}

func NewMemoryStore(maxEvents int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &MemoryStore{
		maxEvents:  maxEvents,
		operations: make(map[int64]types.OperationSnapshot),
	}
}

func (s *MemoryStore) RecordOperation(op types.OperationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.operations[op.ID]; !seen {
		s.opOrder = append(s.opOrder, op.ID)
		if len(s.opOrder) > s.maxEvents {
			drop := s.opOrder[0]
			s.opOrder = s.opOrder[1:]
			delete(s.operations, drop)
		}
	}
	s.operations[op.ID] = op
	return nil
}

func (s *MemoryStore) RecordEvent(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return nil
}

func (s *MemoryStore) Operations(limit int) ([]types.OperationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.opOrder)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.OperationSnapshot, 0, n)
	for i := len(s.opOrder) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.operations[s.opOrder[i]])
	}
	return out, nil
}

func (s *MemoryStore) Events(limit int) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
