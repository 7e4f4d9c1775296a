package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/repokit/internal/querysql"
)

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	// Schema is an idempotent DDL script applied after the pragmas.
	Schema string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SQLite executes queries against a SQLite database.
// Uses WAL mode for concurrent read access.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Executor = (*SQLite)(nil)

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and the optional schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if opts.Schema != "" {
		if _, err := db.Exec(opts.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	logger.Info("database opened", "driver", "sqlite", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer the Executor methods.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Dialect returns querysql.SQLite.
func (s *SQLite) Dialect() querysql.Dialect {
	return querysql.SQLite
}

// Query executes a query and returns the resulting rows.
func (s *SQLite) Query(ctx context.Context, q querysql.Query) (Rows, error) {
	s.logger.Debug("query", "sql", q.SQL, "args", len(q.Args))
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// Exec executes a statement and returns the affected row count.
func (s *SQLite) Exec(ctx context.Context, q querysql.Query) (int64, error) {
	s.logger.Debug("exec", "sql", q.SQL, "args", len(q.Args))
	res, err := s.db.ExecContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return res.RowsAffected()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
