package store

import (
	"context"

	"github.com/roach88/repokit/internal/querysql"
)

// Rows is the subset of *sql.Rows the relational backend reads.
// Callers are responsible for closing rows.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor runs emitted queries against one database.
//
// Implementations are safe for concurrent use; the repository adapter issues
// the row and count queries of a page at the same time.
type Executor interface {
	// Query runs a row-returning statement.
	Query(ctx context.Context, q querysql.Query) (Rows, error)

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, q querysql.Query) (int64, error)

	// Dialect is the placeholder dialect queries must be emitted in.
	Dialect() querysql.Dialect

	Close() error
}
