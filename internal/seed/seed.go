// Package seed creates fixture records through a repository.
//
// A Seeder stores payloads; batches fan out one independent StoreOne per
// record, fail fast on the first error and never roll back records already
// stored. A Factory is an immutable builder that produces payloads from a
// blueprint and hands them to a Seeder.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/repokit/internal/repository"
)

// Seeder stores fixture payloads.
type Seeder[M any] struct {
	repo   repository.Repository[M]
	logger *slog.Logger
}

// NewSeeder creates a Seeder. A nil logger means slog.Default().
func NewSeeder[M any](repo repository.Repository[M], logger *slog.Logger) *Seeder[M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder[M]{repo: repo, logger: logger}
}

// Seed stores one payload.
func (s *Seeder[M]) Seed(ctx context.Context, payload repository.Payload) (M, error) {
	return s.repo.StoreOne(ctx, payload)
}

// SeedMany stores n copies of payload.
func (s *Seeder[M]) SeedMany(ctx context.Context, n int, payload repository.Payload) ([]M, error) {
	payloads := make([]repository.Payload, n)
	for i := range payloads {
		payloads[i] = maps.Clone(payload)
	}
	return s.SeedAll(ctx, payloads)
}

// SeedAll stores every payload concurrently. Results keep the order of
// payloads. The first failure cancels the batch context and is returned;
// records stored before it remain.
func (s *Seeder[M]) SeedAll(ctx context.Context, payloads []repository.Payload) ([]M, error) {
	out := make([]M, len(payloads))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range payloads {
		g.Go(func() error {
			m, err := s.repo.StoreOne(gctx, p)
			if err != nil {
				return fmt.Errorf("seed record %d: %w", i, err)
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("seed batch done", "records", len(payloads))
	return out, nil
}

// Blueprint produces the payload of the i-th record of a batch (from 0).
type Blueprint func(i int) repository.Payload

// Factory builds fixture records. Its methods return modified copies, so a
// configured Factory can be shared and reused.
type Factory[M any] struct {
	seeder    *Seeder[M]
	blueprint Blueprint
	count     int
	extra     repository.Payload
	softField string
	clock     func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*factoryConfig)

type factoryConfig struct {
	softField string
	clock     func() time.Time
}

// WithSoftDeleteField names the field Deleted sets. Defaults to
// repository.DefaultSoftDeleteField.
func WithSoftDeleteField(name string) FactoryOption {
	return func(c *factoryConfig) { c.softField = name }
}

// WithClock sets the time source of Deleted. Defaults to time.Now.
func WithClock(clock func() time.Time) FactoryOption {
	return func(c *factoryConfig) { c.clock = clock }
}

// NewFactory creates a Factory producing one record per call.
func NewFactory[M any](seeder *Seeder[M], blueprint Blueprint, opts ...FactoryOption) Factory[M] {
	cfg := factoryConfig{softField: repository.DefaultSoftDeleteField, clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return Factory[M]{
		seeder:    seeder,
		blueprint: blueprint,
		count:     1,
		softField: cfg.softField,
		clock:     cfg.clock,
	}
}

// Count returns a Factory producing n records. n below 1 counts as 1.
func (f Factory[M]) Count(n int) Factory[M] {
	f.count = max(n, 1)
	return f
}

// Deleted returns a Factory producing soft-deleted records. The timestamp
// is taken now, once.
func (f Factory[M]) Deleted() Factory[M] {
	return f.With(repository.Payload{f.softField: f.clock()})
}

// With returns a Factory whose records carry params over the blueprint.
// Later calls override earlier ones key by key.
func (f Factory[M]) With(params repository.Payload) Factory[M] {
	extra := maps.Clone(f.extra)
	if extra == nil {
		extra = repository.Payload{}
	}
	maps.Copy(extra, params)
	f.extra = extra
	return f
}

// Make returns the payloads without storing them.
func (f Factory[M]) Make() []repository.Payload {
	out := make([]repository.Payload, f.count)
	for i := range out {
		p := repository.Payload{}
		if f.blueprint != nil {
			maps.Copy(p, f.blueprint(i))
		}
		maps.Copy(p, f.extra)
		out[i] = p
	}
	return out
}

// Create stores the payloads through the Seeder.
func (f Factory[M]) Create(ctx context.Context) ([]M, error) {
	if f.seeder == nil {
		return nil, fmt.Errorf("factory has no seeder")
	}
	return f.seeder.SeedAll(ctx, f.Make())
}

// CreateOne stores a single record, ignoring Count.
func (f Factory[M]) CreateOne(ctx context.Context) (M, error) {
	out, err := f.Count(1).Create(ctx)
	if err != nil {
		var zero M
		return zero, err
	}
	return out[0], nil
}
