package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps transitions in memory. Contents are lost on restart.
type MemoryStorage struct {
	mu          sync.RWMutex
	transitions []*Transition
	closed      bool
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store appends a copy of t.
func (s *MemoryStorage) Store(ctx context.Context, t *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStorageError("memory", "store", errClosed)
	}
	c := *t
	s.transitions = append(s.transitions, &c)
	return nil
}

// Query returns copies of the matching transitions, newest first.
func (s *MemoryStorage) Query(ctx context.Context, q *Query) ([]*Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*Transition{}
	for _, t := range s.transitions {
		if q.matches(t) {
			c := *t
			results = append(results, &c)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RecordedAt.After(results[j].RecordedAt)
	})

	if q == nil {
		return results, nil
	}
	if q.Offset >= len(results) {
		return []*Transition{}, nil
	}
	results = results[q.Offset:]
	if q.Limit > 0 && q.Limit < len(results) {
		results = results[:q.Limit]
	}
	return results, nil
}

// Ping fails once the store is closed.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return NewStorageError("memory", "ping", errClosed)
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
