package snapshot

import (
	"context"
	"time"

	"mercator-hq/compass/pkg/bandit"
)

// Snapshot is a persisted policy state.
type Snapshot struct {
	ID        string        `json:"id" yaml:"id"`
	Domain    string        `json:"domain" yaml:"domain"`
	Algorithm string        `json:"algorithm" yaml:"algorithm"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	State     *bandit.State `json:"state" yaml:"state"`
}

// Meta describes a snapshot without its state.
type Meta struct {
	ID        string    `json:"id" yaml:"id"`
	Domain    string    `json:"domain" yaml:"domain"`
	Algorithm string    `json:"algorithm" yaml:"algorithm"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Size      int       `json:"size" yaml:"size"`
}

// Backend stores snapshots. Implementations must be safe for concurrent use.
type Backend interface {
	// Save persists s. Empty IDs and zero timestamps are filled in.
	Save(ctx context.Context, s *Snapshot) error

	// Latest returns the most recently saved snapshot of domain.
	// Returns a NotFound error when the domain has none.
	Latest(ctx context.Context, domain string) (*Snapshot, error)

	// Get returns the snapshot with the given id.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// List describes the snapshots of domain, newest first. An empty
	// domain lists every snapshot.
	List(ctx context.Context, domain string) ([]Meta, error)

	// Delete removes a snapshot.
	Delete(ctx context.Context, id string) error

	// Prune keeps the newest retain snapshots of domain and returns how
	// many were removed. retain <= 0 keeps everything.
	Prune(ctx context.Context, domain string, retain int) (int, error)

	// Ping verifies the backend is usable.
	Ping(ctx context.Context) error

	// Close releases resources. Close is idempotent.
	Close() error
}
