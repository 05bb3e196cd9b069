package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/compass/pkg/bandit"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteBackend implements Backend on a SQLite database in WAL mode.
type SQLiteBackend struct {
	db        *sql.DB
	dbPath    string
	closeOnce sync.Once

	saveStmt   *sql.Stmt
	latestStmt *sql.Stmt
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	b := &SQLiteBackend{db: db, dbPath: cfg.DBPath}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return b, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		domain TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		state TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_domain ON snapshots(domain, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO snapshots (id, domain, algorithm, created_at, state)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.latestStmt, err = s.db.Prepare(`
		SELECT id, domain, algorithm, created_at, state
		FROM snapshots
		WHERE domain = ?
		ORDER BY seq DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare latest statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT id, domain, algorithm, created_at, state
		FROM snapshots
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM snapshots WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`
		DELETE FROM snapshots
		WHERE domain = ? AND seq NOT IN (
			SELECT seq FROM snapshots WHERE domain = ? ORDER BY seq DESC LIMIT ?
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Save implements Backend.
func (s *SQLiteBackend) Save(ctx context.Context, snap *Snapshot) error {
	if err := prepare("snapshot.Save", snap); err != nil {
		return err
	}
	data, err := json.Marshal(snap.State)
	if err != nil {
		return compassErrors.Wrap(compassErrors.KindInvalidInput, "snapshot.Save", err)
	}

	_, err = s.saveStmt.ExecContext(ctx,
		snap.ID,
		snap.Domain,
		snap.Algorithm,
		snap.CreatedAt.UnixNano(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest implements Backend.
func (s *SQLiteBackend) Latest(ctx context.Context, domain string) (*Snapshot, error) {
	snap, err := scanSnapshot(s.latestStmt.QueryRowContext(ctx, domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, compassErrors.NotFound("snapshot.Latest", "no snapshot for domain %q", domain)
	}
	return snap, err
}

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := scanSnapshot(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, compassErrors.NotFound("snapshot.Get", "no snapshot %q", id)
	}
	return snap, err
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var (
		snap      Snapshot
		createdAt int64
		data      string
	)
	if err := row.Scan(&snap.ID, &snap.Domain, &snap.Algorithm, &createdAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	snap.State = &bandit.State{}
	if err := json.Unmarshal([]byte(data), snap.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot state: %w", err)
	}
	return &snap, nil
}

// List implements Backend.
func (s *SQLiteBackend) List(ctx context.Context, domain string) ([]Meta, error) {
	query := `SELECT id, domain, algorithm, created_at, length(state) FROM snapshots`
	var args []any
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY seq DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := []Meta{}
	for rows.Next() {
		var (
			m         Meta
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.Domain, &m.Algorithm, &createdAt, &m.Size); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := s.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return compassErrors.NotFound("snapshot.Delete", "no snapshot %q", id)
	}
	return nil
}

// Prune implements Backend.
func (s *SQLiteBackend) Prune(ctx context.Context, domain string, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}
	res, err := s.pruneStmt.ExecContext(ctx, domain, domain, retain)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Ping implements Backend.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.saveStmt, s.latestStmt, s.getStmt, s.deleteStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}
