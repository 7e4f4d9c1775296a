// Package sqlrepo is the relational backend: it emits SQL through querysql,
// runs it on a store.Executor and folds joined rows into nested records.
package sqlrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/repokit/internal/filter"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/querysql"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/store"
)

// IDGenerator produces ids for new rows of uuid tables.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7. uuid.NewV7 only fails when the random
// source does, which is fatal for id generation.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Backend implements repository.Backend over one table.
type Backend struct {
	table    *querysql.Table
	exec     store.Executor
	compiler *querysql.Compiler
	ids      IDGenerator
}

var _ repository.Backend[repository.Record] = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithIDGenerator replaces the UUIDv7 generator used for uuid tables.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Backend) { b.ids = g }
}

// New creates a Backend. The table and every table reachable through its
// relations are validated.
func New(table *querysql.Table, exec store.Executor, opts ...Option) (*Backend, error) {
	if table == nil {
		return nil, fmt.Errorf("sqlrepo: nil table")
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("sqlrepo: %w", err)
	}

	b := &Backend{
		table:    table,
		exec:     exec,
		compiler: querysql.NewCompiler(exec.Dialect()),
		ids:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewRepository wraps a new Backend in a repository.Adapter. Aliases are
// upper-cased and the id field defaults to the table's id column.
func NewRepository(cfg repository.Config, table *querysql.Table, exec store.Executor, opts ...Option) (*repository.Adapter[repository.Record], error) {
	b, err := New(table, exec, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = table.Name
	}
	if cfg.IDField == "" {
		cfg.IDField = table.ID()
	}
	if cfg.Compiler.Normalize == nil {
		cfg.Compiler.Normalize = filter.UpperAlias
	}
	return repository.NewAdapter[repository.Record](b, cfg), nil
}

// Table returns the root table.
func (b *Backend) Table() *querysql.Table {
	return b.table
}

// Binding implements repository.Backend.
func (b *Backend) Binding() repository.Binding[repository.Record] {
	return repository.RecordBinding{IDField: b.table.ID()}
}

// ValidateID implements repository.Backend.
func (b *Backend) ValidateID(id string) error {
	return b.table.ValidateID(id)
}

// Find implements repository.Backend. A windowed find first selects the
// page of root ids, then loads those roots with their includes, so LIMIT
// never cuts through the rows of one root.
func (b *Backend) Find(ctx context.Context, plan *queryir.Plan, window *repository.Window) ([]repository.Record, error) {
	var ids []any
	if window != nil {
		var err error
		ids, err = b.pageIDs(ctx, plan, *window)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []repository.Record{}, nil
		}
	}

	q, segments, err := b.compiler.Select(b.table, plan, ids)
	if err != nil {
		return nil, err
	}

	rows, err := b.exec.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := newHydrator(segments)
	width := h.width()
	for rows.Next() {
		values := make([]any, width)
		dest := make([]any, width)
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		h.add(values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return h.records(), nil
}

func (b *Backend) pageIDs(ctx context.Context, plan *queryir.Plan, w repository.Window) ([]any, error) {
	q, err := b.compiler.SelectIDs(b.table, plan, w.Offset, w.Limit)
	if err != nil {
		return nil, err
	}

	rows, err := b.exec.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []any{}
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, normalize(id))
	}
	return ids, rows.Err()
}

// Count implements repository.Backend.
func (b *Backend) Count(ctx context.Context, plan *queryir.Plan) (int64, error) {
	q, err := b.compiler.Count(b.table, plan)
	if err != nil {
		return 0, err
	}

	rows, err := b.exec.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scan count: %w", err)
		}
	}
	return n, rows.Err()
}

// Insert implements repository.Backend. uuid tables get a generated id when
// the payload has none; a supplied id must match the table's id format.
func (b *Backend) Insert(ctx context.Context, payload repository.Payload) (repository.Record, error) {
	values := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		values[k] = v
	}

	idCol := b.table.ID()
	if id, ok := values[idCol]; ok && id != nil {
		if err := b.table.ValidateID(fmt.Sprint(id)); err != nil {
			return nil, err
		}
	} else if b.table.Format() == querysql.IDUUID {
		values[idCol] = b.ids.Generate()
	}

	q, err := b.compiler.Insert(b.table, values)
	if err != nil {
		return nil, err
	}

	rows, err := b.exec.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var id any
	if rows.Next() {
		err = rows.Scan(&id)
	}
	if err == nil {
		err = rows.Err()
	}
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", b.table.Name, err)
	}

	return b.load(ctx, normalize(id))
}

// Save implements repository.Backend. Only the changed columns are written;
// the merged model is returned as is.
func (b *Backend) Save(ctx context.Context, model repository.Record, changes repository.Payload) (repository.Record, error) {
	if len(changes) == 0 {
		return model, nil
	}

	id, ok := model[b.table.ID()]
	if !ok || id == nil {
		return nil, repoerr.NotFound(b.table.Name, "")
	}

	q, err := b.compiler.Update(b.table, id, changes)
	if err != nil {
		return nil, err
	}

	n, err := b.exec.Exec(ctx, q)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, repoerr.NotFound(b.table.Name, fmt.Sprint(id))
	}
	return model, nil
}

// Remove implements repository.Backend.
func (b *Backend) Remove(ctx context.Context, model repository.Record) error {
	id, ok := model[b.table.ID()]
	if !ok || id == nil {
		return repoerr.NotFound(b.table.Name, "")
	}

	n, err := b.exec.Exec(ctx, b.compiler.Delete(b.table, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return repoerr.NotFound(b.table.Name, fmt.Sprint(id))
	}
	return nil
}

// load reads one root row by id without includes.
func (b *Backend) load(ctx context.Context, id any) (repository.Record, error) {
	value, err := ir.FromNative(id)
	if err != nil {
		return nil, err
	}
	plan := &queryir.Plan{Root: &queryir.Scope{
		Relation:   b.table.Name,
		Alias:      b.table.Name,
		Conditions: []queryir.Condition{{Field: b.table.ID(), Predicate: queryir.Equals{Value: value}}},
	}}

	records, err := b.Find(ctx, plan, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, repoerr.NotFound(b.table.Name, fmt.Sprint(id))
	}
	return records[0], nil
}
