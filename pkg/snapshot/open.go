package snapshot

import (
	"fmt"

	"mercator-hq/compass/pkg/config"
)

// Open creates the backend named by cfg.Backend.
func Open(cfg config.SnapshotConfig) (Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackend(SQLiteBackendConfig{DBPath: cfg.Path, BusyTimeout: cfg.BusyTimeout})
	default:
		return nil, fmt.Errorf("unsupported snapshot backend %q (supported: memory, sqlite)", cfg.Backend)
	}
}
