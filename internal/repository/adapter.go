package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/repokit/internal/filter"
	"github.com/roach88/repokit/internal/guard"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
)

// Default field names.
const (
	DefaultIDField         = "id"
	DefaultSoftDeleteField = "deletedAt"
)

// Config is the read-only configuration of an Adapter, fixed at construction.
type Config struct {
	// Name is the resource name used in errors and logs.
	Name string

	// Whitelist restricts external contracts.
	Whitelist guard.Whitelist

	// IDField is the contract field getOne filters on. Defaults to "id".
	IDField string

	// SoftDeleteField is set on soft delete. Defaults to "deletedAt".
	SoftDeleteField string

	// Compiler configures alias derivation for the backend.
	Compiler filter.Options

	// Clock supplies soft-delete timestamps. Defaults to time.Now.
	Clock func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter implements Repository once for every backend.
//
// Thread-safety: Adapter holds only read-only configuration and is safe
// for concurrent use if the Backend is.
type Adapter[M any] struct {
	cfg      Config
	backend  Backend[M]
	binding  Binding[M]
	compiler *filter.Compiler
	logger   *slog.Logger
}

var _ Repository[Record] = (*Adapter[Record])(nil)

// NewAdapter wraps a backend.
func NewAdapter[M any](backend Backend[M], cfg Config) *Adapter[M] {
	if cfg.IDField == "" {
		cfg.IDField = DefaultIDField
	}
	if cfg.SoftDeleteField == "" {
		cfg.SoftDeleteField = DefaultSoftDeleteField
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Compiler.RootAlias == "" {
		cfg.Compiler.RootAlias = cfg.Name
	}

	return &Adapter[M]{
		cfg:      cfg,
		backend:  backend,
		binding:  backend.Binding(),
		compiler: filter.NewCompiler(guard.New(cfg.Whitelist), cfg.Compiler),
		logger:   cfg.Logger.With("resource", cfg.Name),
	}
}

// Name returns the resource name.
func (a *Adapter[M]) Name() string {
	return a.cfg.Name
}

// Compile compiles opts the way every read does. A nil contract is an
// empty internal contract.
func (a *Adapter[M]) Compile(opts *ir.FilterContract) (*queryir.Plan, error) {
	var contract ir.FilterContract
	if opts != nil {
		contract = *opts
	}

	plan, err := a.compiler.Compile(contract)
	if err != nil {
		return nil, err
	}
	if a.logger.Enabled(context.Background(), slog.LevelDebug) {
		a.logger.Debug("compiled plan", "internal", contract.Internal(), "plan", planAttr{plan})
	}
	return plan, nil
}

// GetOne implements Repository.
//
// The id condition is prepended ahead of every compiled condition, so
// caller filters can narrow but never widen the lookup.
func (a *Adapter[M]) GetOne(ctx context.Context, id string, opts *ir.FilterContract) (M, bool, error) {
	var zero M

	if id != "" {
		if err := a.backend.ValidateID(id); err != nil {
			return zero, false, err
		}
	}

	plan, err := a.Compile(opts)
	if err != nil {
		return zero, false, err
	}
	if id != "" {
		plan.Root.Prepend(queryir.Condition{
			Field:     a.cfg.IDField,
			Predicate: queryir.Equals{Value: ir.String(id)},
		})
	}

	rows, err := a.backend.Find(ctx, plan, &Window{Offset: 0, Limit: 1})
	if err != nil {
		return zero, false, err
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}

// GetAll implements Repository.
//
// With pagination, the row query and the count query run as two
// independent calls with no shared snapshot; under concurrent writes the
// total may disagree with the page.
func (a *Adapter[M]) GetAll(ctx context.Context, pagination *Pagination, opts *ir.FilterContract) (*Page[M], error) {
	plan, err := a.Compile(opts)
	if err != nil {
		return nil, err
	}

	if pagination == nil {
		rows, err := a.backend.Find(ctx, plan, nil)
		if err != nil {
			return nil, err
		}
		return &Page[M]{Data: rows, Total: int64(len(rows))}, nil
	}

	window := pagination.Window()

	var (
		rows  []M
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = a.backend.Find(gctx, plan, &window)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = a.backend.Count(gctx, plan)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Paginate(rows, total, *pagination), nil
}

// StoreOne implements Repository.
func (a *Adapter[M]) StoreOne(ctx context.Context, payload Payload) (M, error) {
	model, err := a.backend.Insert(ctx, payload)
	if err != nil {
		return model, err
	}
	a.logger.Debug("stored record", "id", a.binding.ID(model))
	return model, nil
}

// UpdateOne implements Repository.
//
// An id reference is resolved through an internal GetOne first; when
// nothing matches it fails with NotFound and nothing is written.
func (a *Adapter[M]) UpdateOne(ctx context.Context, ref Ref[M], payload Payload) (M, error) {
	model, err := a.resolve(ctx, ref)
	if err != nil {
		return model, err
	}

	merged, err := a.binding.Merge(model, payload)
	if err != nil {
		var zero M
		return zero, fmt.Errorf("merge payload: %w", err)
	}

	saved, err := a.backend.Save(ctx, merged, payload)
	if err != nil {
		return saved, err
	}
	a.logger.Debug("updated record", "id", a.binding.ID(saved), "fields", len(payload))
	return saved, nil
}

// DeleteOne implements Repository.
//
// Soft deletion sets the soft delete field to the clock's now and fails
// with AlreadyDeleted when it is already set. Hard deletion removes the
// record, soft-deleted or not, and returns the zero model.
func (a *Adapter[M]) DeleteOne(ctx context.Context, ref Ref[M], soft bool) (M, error) {
	var zero M

	model, err := a.resolve(ctx, ref)
	if err != nil {
		return zero, err
	}
	id := a.binding.ID(model)

	if soft {
		if v, ok := a.binding.Field(model, a.cfg.SoftDeleteField); ok && IsSet(v) {
			return zero, repoerr.AlreadyDeleted(id)
		}
		deleted, err := a.UpdateOne(ctx, ByModel(model), Payload{a.cfg.SoftDeleteField: a.cfg.Clock()})
		if err != nil {
			return zero, err
		}
		a.logger.Debug("soft deleted record", "id", id)
		return deleted, nil
	}

	if err := a.backend.Remove(ctx, model); err != nil {
		return zero, err
	}
	a.logger.Debug("removed record", "id", id)
	return zero, nil
}

func (a *Adapter[M]) resolve(ctx context.Context, ref Ref[M]) (M, error) {
	if model, ok := ref.Model(); ok {
		return model, nil
	}

	id, _ := ref.ID()
	if id == "" {
		var zero M
		return zero, repoerr.NotFound(a.cfg.Name, id)
	}

	model, found, err := a.GetOne(ctx, id, nil)
	if err != nil {
		return model, err
	}
	if !found {
		return model, repoerr.NotFound(a.cfg.Name, id)
	}
	return model, nil
}

// planAttr renders a plan lazily for debug logs.
type planAttr struct{ plan *queryir.Plan }

func (p planAttr) LogValue() slog.Value {
	data, err := p.plan.MarshalJSON()
	if err != nil {
		return slog.StringValue(err.Error())
	}
	return slog.StringValue(string(data))
}
