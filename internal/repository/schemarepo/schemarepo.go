package schemarepo

import (
	"context"
	"fmt"

	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// Delegate is the model API of a schema-first client.
type Delegate interface {
	// FindFirst returns the first match, or nil when nothing matches.
	FindFirst(ctx context.Context, args Args) (repository.Record, error)
	FindMany(ctx context.Context, args Args) ([]repository.Record, error)
	Count(ctx context.Context, where Where) (int64, error)
	Create(ctx context.Context, data map[string]any) (repository.Record, error)
	// Update and Delete fail with NotFound when where matches nothing.
	Update(ctx context.Context, where Where, data map[string]any) (repository.Record, error)
	Delete(ctx context.Context, where Where) (repository.Record, error)
}

// Backend implements repository.Backend over a Delegate.
type Backend struct {
	schema   *Schema
	delegate Delegate
}

var _ repository.Backend[repository.Record] = (*Backend)(nil)

// New creates a Backend.
func New(schema *Schema, delegate Delegate) (*Backend, error) {
	if schema == nil || schema.Name == "" {
		return nil, fmt.Errorf("schemarepo: schema has no name")
	}
	switch schema.Format() {
	case IDString, IDInt, IDUUID:
	default:
		return nil, fmt.Errorf("schemarepo: model %q: unknown id format %q", schema.Name, schema.IDFormat)
	}
	return &Backend{schema: schema, delegate: delegate}, nil
}

// NewRepository wraps a new Backend in a repository.Adapter.
func NewRepository(cfg repository.Config, schema *Schema, delegate Delegate) (*repository.Adapter[repository.Record], error) {
	b, err := New(schema, delegate)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = schema.Name
	}
	if cfg.IDField == "" {
		cfg.IDField = schema.ID()
	}
	return repository.NewAdapter[repository.Record](b, cfg), nil
}

// Binding implements repository.Backend.
func (b *Backend) Binding() repository.Binding[repository.Record] {
	return repository.RecordBinding{IDField: b.schema.ID()}
}

// ValidateID implements repository.Backend.
func (b *Backend) ValidateID(id string) error {
	return b.schema.ValidateID(id)
}

// Find implements repository.Backend. A single-row window from the start
// goes through FindFirst.
func (b *Backend) Find(ctx context.Context, plan *queryir.Plan, window *repository.Window) ([]repository.Record, error) {
	args, err := Emit(b.schema, plan)
	if err != nil {
		return nil, err
	}

	if window != nil && window.Offset == 0 && window.Limit == 1 {
		rec, err := b.delegate.FindFirst(ctx, args)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return []repository.Record{}, nil
		}
		return []repository.Record{rec}, nil
	}

	if window != nil {
		skip, take := window.Offset, window.Limit
		args.Skip, args.Take = &skip, &take
	}
	return b.delegate.FindMany(ctx, args)
}

// Count implements repository.Backend.
func (b *Backend) Count(ctx context.Context, plan *queryir.Plan) (int64, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return 0, err
	}
	where, err := emitWhere(b.schema, plan.Root.Conditions)
	if err != nil {
		return 0, err
	}
	return b.delegate.Count(ctx, where)
}

// Insert implements repository.Backend.
func (b *Backend) Insert(ctx context.Context, payload repository.Payload) (repository.Record, error) {
	if id, ok := payload[b.schema.ID()]; ok && id != nil {
		if err := b.schema.ValidateID(fmt.Sprint(id)); err != nil {
			return nil, err
		}
	}
	return b.delegate.Create(ctx, b.data(payload))
}

// Save implements repository.Backend. The delegate's updated record is
// returned.
func (b *Backend) Save(ctx context.Context, model repository.Record, changes repository.Payload) (repository.Record, error) {
	if len(changes) == 0 {
		return model, nil
	}
	where, err := b.idWhere(model)
	if err != nil {
		return nil, err
	}
	return b.delegate.Update(ctx, where, b.data(changes))
}

// Remove implements repository.Backend.
func (b *Backend) Remove(ctx context.Context, model repository.Record) error {
	where, err := b.idWhere(model)
	if err != nil {
		return err
	}
	_, err = b.delegate.Delete(ctx, where)
	return err
}

func (b *Backend) idWhere(model repository.Record) (Where, error) {
	id, ok := model[b.schema.ID()]
	if !ok || id == nil {
		return nil, repoerr.NotFound(b.schema.Name, "")
	}
	return Where{b.schema.ID(): b.schema.idValue(id)}, nil
}

// data drops relation keys from a payload.
func (b *Backend) data(p repository.Payload) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if _, isRelation := b.schema.Relations[k]; isRelation {
			continue
		}
		out[k] = v
	}
	return out
}
