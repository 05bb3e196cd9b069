package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var errClosed = errors.New("storage closed")

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/ledger.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements Storage on a SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) the database and its schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}

	logger := slog.Default().With("component", "ledger.sqlite")

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewStorageError("sqlite", "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store persists a transition.
func (s *SQLiteStorage) Store(ctx context.Context, t *Transition) error {
	const query = `
		INSERT INTO transitions (
			id, experiment_id, domain, variant, from_phase, to_phase, trigger_kind, reason,
			samples, mean, baseline_mean, improvement, z_score, p_value, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var reason any
	if t.Reason != "" {
		reason = t.Reason
	}

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.ExperimentID, t.Domain, t.Variant, t.From, t.To, t.Trigger, reason,
		t.Samples, t.Mean, t.BaselineMean, t.Improvement, t.ZScore, t.PValue, t.RecordedAt.UTC(),
	)
	if err != nil {
		return NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query retrieves transitions matching the filters, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, q *Query) ([]*Transition, error) {
	if q == nil {
		q = &Query{}
	}
	where, args := buildWhereClause(q)

	sqlQuery := `SELECT id, experiment_id, domain, variant, from_phase, to_phase, trigger_kind, reason,
		samples, mean, baseline_mean, improvement, z_score, p_value, recorded_at FROM transitions`
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY recorded_at DESC"

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	results := []*Transition{}
	for rows.Next() {
		var t Transition
		var reason sql.NullString
		if err := rows.Scan(
			&t.ID, &t.ExperimentID, &t.Domain, &t.Variant, &t.From, &t.To, &t.Trigger, &reason,
			&t.Samples, &t.Mean, &t.BaselineMean, &t.Improvement, &t.ZScore, &t.PValue, &t.RecordedAt,
		); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		if reason.Valid {
			t.Reason = reason.String
		}
		results = append(results, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	return results, nil
}

func buildWhereClause(q *Query) (string, []any) {
	var conditions []string
	var args []any

	if q.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, q.Domain)
	}
	if q.Variant != "" {
		conditions = append(conditions, "variant = ?")
		args = append(args, q.Variant)
	}
	if q.ExperimentID != "" {
		conditions = append(conditions, "experiment_id = ?")
		args = append(args, q.ExperimentID)
	}
	if q.Since != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, q.Since.UTC())
	}
	return strings.Join(conditions, " AND "), args
}

// Ping verifies the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("ledger storage closed")
	return nil
}
