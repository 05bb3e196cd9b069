package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/compass/pkg/bandit"
	compassErrors "mercator-hq/compass/pkg/errors"
)

var errClosed = errors.New("snapshot backend closed")

// MemoryBackend keeps snapshots in memory. Saved states are stored as
// encoded JSON so later changes to the caller's value are not visible.
type MemoryBackend struct {
	mu     sync.RWMutex
	items  []memoryItem
	closed bool
}

type memoryItem struct {
	meta  Meta
	state []byte
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Save implements Backend.
func (m *MemoryBackend) Save(ctx context.Context, s *Snapshot) error {
	if err := prepare("snapshot.Save", s); err != nil {
		return err
	}
	data, err := json.Marshal(s.State)
	if err != nil {
		return compassErrors.Wrap(compassErrors.KindInvalidInput, "snapshot.Save", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.items = append(m.items, memoryItem{
		meta:  Meta{ID: s.ID, Domain: s.Domain, Algorithm: s.Algorithm, CreatedAt: s.CreatedAt, Size: len(data)},
		state: data,
	})
	return nil
}

// Latest implements Backend.
func (m *MemoryBackend) Latest(ctx context.Context, domain string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].meta.Domain == domain {
			return m.items[i].decode()
		}
	}
	return nil, compassErrors.NotFound("snapshot.Latest", "no snapshot for domain %q", domain)
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.items {
		if it.meta.ID == id {
			return it.decode()
		}
	}
	return nil, compassErrors.NotFound("snapshot.Get", "no snapshot %q", id)
}

// List implements Backend.
func (m *MemoryBackend) List(ctx context.Context, domain string) ([]Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Meta{}
	for i := len(m.items) - 1; i >= 0; i-- {
		if domain == "" || m.items[i].meta.Domain == domain {
			out = append(out, m.items[i].meta)
		}
	}
	return out, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.meta.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return compassErrors.NotFound("snapshot.Delete", "no snapshot %q", id)
}

// Prune implements Backend.
func (m *MemoryBackend) Prune(ctx context.Context, domain string, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := 0
	removed := 0
	out := make([]memoryItem, 0, len(m.items))
	for i := len(m.items) - 1; i >= 0; i-- {
		it := m.items[i]
		if it.meta.Domain == domain {
			if kept >= retain {
				removed++
				continue
			}
			kept++
		}
		out = append(out, it)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	m.items = out
	return removed, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (it memoryItem) decode() (*Snapshot, error) {
	var st bandit.State
	if err := json.Unmarshal(it.state, &st); err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:        it.meta.ID,
		Domain:    it.meta.Domain,
		Algorithm: it.meta.Algorithm,
		CreatedAt: it.meta.CreatedAt,
		State:     &st,
	}, nil
}

// prepare validates s and fills in its id, timestamp and algorithm.
func prepare(op string, s *Snapshot) error {
	if s == nil || s.State == nil {
		return compassErrors.InvalidInput(op, "snapshot has no state")
	}
	if s.Domain == "" {
		return compassErrors.InvalidInput(op, "snapshot domain is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Algorithm == "" {
		s.Algorithm = s.State.Algorithm
	}
	return nil
}
