package ledger

import (
	"fmt"

	"mercator-hq/compass/pkg/config"
)

// Open creates the storage backend named by cfg.Backend.
func Open(cfg config.LedgerConfig) (Storage, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "":
		sc := DefaultSQLiteConfig()
		if cfg.Path != "" {
			sc.Path = cfg.Path
		}
		return NewSQLiteStorage(sc)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q (supported: memory, sqlite)", cfg.Backend)
	}
}
