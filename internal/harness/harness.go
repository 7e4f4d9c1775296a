package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/repokit/internal/app"
	"github.com/roach88/repokit/internal/config"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/seed"
	"github.com/roach88/repokit/internal/store"
	"github.com/roach88/repokit/internal/testutil"
)

// Harness executes one scenario on one backend.
type Harness struct {
	app    *app.App
	cfg    *config.Config
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario on backend and returns the result.
//
// Each run gets fresh storage: a new memory store, or a SQLite file in a
// temporary directory initialized with the scenario schema.
//
// Execution flow:
// 1. Load the config and point it at fresh storage
// 2. Seed records one at a time
// 3. Execute steps, checking each expect clause
// 4. Evaluate assertions
//
// A non-nil error means the run could not execute; expectation failures
// are reported in the Result.
func Run(scenario *Scenario, backend string) (*Result, error) {
	ctx := context.Background()

	cfg, err := config.Load(scenario.Config)
	if err != nil {
		return nil, err
	}
	cfg.Backend = backend

	dir, err := os.MkdirTemp("", "repokit-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	defer os.RemoveAll(dir)

	switch backend {
	case config.BackendMemory:
	case config.BackendSQLite:
		cfg.SQLite.Path = filepath.Join(dir, "harness.db")
		exec, err := store.OpenSQLite(cfg.SQLite.Path, store.SQLiteOptions{Schema: scenario.Schema})
		if err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		if err := exec.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}

	h := &Harness{
		cfg:    cfg,
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.app, err = app.New(ctx, cfg, h.logger, app.WithClock(h.clock.Now))
	if err != nil {
		return nil, err
	}
	defer h.app.Close(ctx)

	if err := h.executeSeed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to execute seed: %w", err)
	}

	result := NewResult(backend)
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, errMsg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) repo(name string) (*repository.Adapter[repository.Record], error) {
	repo, ok := h.app.Repository(name)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	return repo, nil
}

// executeSeed stores seed records sequentially so ids are assigned in
// file order.
func (h *Harness) executeSeed(ctx context.Context, steps []SeedStep) error {
	for i, step := range steps {
		repo, err := h.repo(step.Resource)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		seeder := seed.NewSeeder[repository.Record](repo, h.logger)
		for j, rec := range step.Records {
			if _, err := seeder.Seed(ctx, payload(rec)); err != nil {
				return fmt.Errorf("seed[%d] record %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// executeStep runs one step, records its outcome and checks its expect
// clause. Repository errors are outcomes; only unexpected failures are
// returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	repo, err := h.repo(step.Resource)
	if err != nil {
		return err
	}

	out := StepResult{Step: index, Op: step.Op, Resource: step.Resource, Case: CaseOK, IDs: []any{}}
	var records []repository.Record

	switch step.Op {
	case OpGetAll:
		var page *repository.Page[repository.Record]
		page, err = repo.GetAll(ctx, step.Pagination, step.Contract)
		if err == nil {
			records = page.Data
			total := page.Total
			if page.Meta != nil {
				total = page.Meta.TotalItems
			}
			out.Total = &total
		}
	case OpGetOne:
		var (
			rec   repository.Record
			found bool
		)
		rec, found, err = repo.GetOne(ctx, step.ID, step.Contract)
		if found {
			records = []repository.Record{rec}
		}
	case OpStore:
		var rec repository.Record
		rec, err = repo.StoreOne(ctx, payload(step.Payload))
		if err == nil {
			records = []repository.Record{rec}
		}
	case OpUpdate:
		var rec repository.Record
		rec, err = repo.UpdateOne(ctx, repository.ByID[repository.Record](step.ID), payload(step.Payload))
		if err == nil {
			records = []repository.Record{rec}
		}
	case OpDelete:
		soft := step.Soft == nil || *step.Soft
		var rec repository.Record
		rec, err = repo.DeleteOne(ctx, repository.ByID[repository.Record](step.ID), soft)
		if err == nil && rec != nil {
			records = []repository.Record{rec}
		}
	}

	if err != nil {
		code := repoerr.CodeOf(err)
		if code == "" {
			return err
		}
		out.Case = string(code)
	}

	idField := h.idField(step.Resource)
	for _, rec := range records {
		out.IDs = append(out.IDs, normalize(rec[idField]))
	}
	out.Records = records
	result.AddStep(out)

	for _, msg := range checkExpect(index, step.Expect, out) {
		result.AddError(msg)
	}
	return nil
}

func (h *Harness) idField(resource string) string {
	if r, ok := h.cfg.Resource(resource); ok && r.IDField != "" {
		return r.IDField
	}
	return repository.DefaultIDField
}

// checkExpect compares a step outcome with its expect clause.
func checkExpect(index int, expect *ExpectClause, out StepResult) []string {
	want := CaseOK
	if expect != nil && expect.Case != "" {
		want = expect.Case
	}

	var errs []string
	if out.Case != want {
		errs = append(errs, (&AssertionError{
			Type:     fmt.Sprintf("steps[%d] case", index),
			Expected: want,
			Actual:   out.Case,
		}).Error())
	}
	if expect == nil {
		return errs
	}

	if expect.IDs != nil && !valuesEqual(out.IDs, expect.IDs) {
		errs = append(errs, (&AssertionError{
			Type:     fmt.Sprintf("steps[%d] ids", index),
			Expected: fmt.Sprint(expect.IDs),
			Actual:   fmt.Sprint(out.IDs),
		}).Error())
	}
	if expect.Total != nil && (out.Total == nil || *out.Total != *expect.Total) {
		actual := "none"
		if out.Total != nil {
			actual = fmt.Sprint(*out.Total)
		}
		errs = append(errs, (&AssertionError{
			Type:     fmt.Sprintf("steps[%d] total", index),
			Expected: fmt.Sprint(*expect.Total),
			Actual:   actual,
		}).Error())
	}
	if expect.Result != nil {
		var first repository.Record
		if len(out.Records) > 0 {
			first = out.Records[0]
		}
		if !matchRecord(first, expect.Result) {
			errs = append(errs, (&AssertionError{
				Type:     fmt.Sprintf("steps[%d] result", index),
				Expected: fmt.Sprint(expect.Result),
				Actual:   fmt.Sprint(first),
			}).Error())
		}
	}
	return errs
}

// payload converts decoded YAML to a repository payload.
func payload(m map[string]any) repository.Payload {
	p := make(repository.Payload, len(m))
	for k, v := range m {
		p[k] = normalize(v)
	}
	return p
}
