// Package app wires configured resources to repositories and services for
// the selected backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/repokit/internal/config"
	"github.com/roach88/repokit/internal/guard"
	"github.com/roach88/repokit/internal/querysql"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/repository/mongorepo"
	"github.com/roach88/repokit/internal/repository/schemarepo"
	"github.com/roach88/repokit/internal/repository/sqlrepo"
	"github.com/roach88/repokit/internal/service"
	"github.com/roach88/repokit/internal/store"
)

// App holds one repository and one service per configured resource.
//
// Thread-safety: App is read-only after New and safe for concurrent use.
type App struct {
	cfg      *config.Config
	repos    map[string]*repository.Adapter[repository.Record]
	services map[string]*service.Service[repository.Record]
	closers  []func(context.Context) error
	logger   *slog.Logger
	clock    func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithClock sets the soft-delete time source of every repository.
func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.clock = clock }
}

// New opens the configured backend and builds every resource. On error,
// anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		repos:    make(map[string]*repository.Adapter[repository.Record], len(cfg.Resources)),
		services: make(map[string]*service.Service[repository.Record], len(cfg.Resources)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	switch cfg.Backend {
	case config.BackendSQLite:
		err = a.openSQLite()
	case config.BackendPostgres:
		err = a.openPostgres(ctx)
	case config.BackendMongo:
		err = a.openMongo(ctx)
	case config.BackendMemory:
		err = a.openMemory()
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, errors.Join(err, a.Close(ctx))
	}

	for name, repo := range a.repos {
		a.services[name] = service.New[repository.Record](name, repo,
			service.WithLogger[repository.Record](logger))
	}
	logger.Info("app ready", "backend", cfg.Backend, "resources", len(a.repos))
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Repository returns the repository of a resource.
func (a *App) Repository(name string) (*repository.Adapter[repository.Record], bool) {
	r, ok := a.repos[name]
	return r, ok
}

// Service returns the service of a resource.
func (a *App) Service(name string) (*service.Service[repository.Record], bool) {
	s, ok := a.services[name]
	return s, ok
}

// Resources returns the resource names in order.
func (a *App) Resources() []string {
	names := make([]string, 0, len(a.repos))
	for name := range a.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases storage connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) repoConfig(r config.Resource) repository.Config {
	return repository.Config{
		Name:            r.Name,
		Whitelist:       guard.Whitelist{Wheres: r.Wheres, Relations: r.Relations},
		IDField:         r.IDField,
		SoftDeleteField: r.SoftDeleteField,
		Clock:           a.clock,
		Logger:          a.logger,
	}
}

func (a *App) openSQLite() error {
	exec, err := store.OpenSQLite(a.cfg.SQLite.Path, store.SQLiteOptions{Logger: a.logger})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return exec.Close() })
	return a.buildSQL(exec)
}

func (a *App) openPostgres(ctx context.Context) error {
	exec, err := store.OpenPostgres(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return exec.Close() })
	return a.buildSQL(exec)
}

// Tables builds the relational description of the configured resources.
func Tables(cfg *config.Config) (map[string]*querysql.Table, error) {
	tables := make(map[string]*querysql.Table, len(cfg.Resources))
	for _, r := range cfg.Resources {
		format, err := sqlFormat(r.IDFormat)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", r.Name, err)
		}
		tables[r.Name] = &querysql.Table{
			Name:     r.StorageName(),
			IDColumn: r.IDField,
			IDFormat: format,
			Columns:  r.Columns,
		}
	}
	for _, r := range cfg.Resources {
		for _, l := range r.Links {
			t := tables[r.Name]
			if t.Relations == nil {
				t.Relations = map[string]querysql.Join{}
			}
			t.Relations[l.Name] = querysql.Join{
				Table:      tables[l.Resource],
				LocalKey:   l.LocalKey,
				ForeignKey: l.ForeignKey,
				Many:       l.Many,
			}
		}
	}
	return tables, nil
}

func (a *App) buildSQL(exec store.Executor) error {
	tables, err := Tables(a.cfg)
	if err != nil {
		return err
	}
	for _, r := range a.cfg.Resources {
		repo, err := sqlrepo.NewRepository(a.repoConfig(r), tables[r.Name], exec)
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		a.repos[r.Name] = repo
	}
	return nil
}

func sqlFormat(f string) (querysql.IDFormat, error) {
	switch f {
	case "", "any", "string":
		return querysql.IDAny, nil
	case "integer":
		return querysql.IDInteger, nil
	case "uuid":
		return querysql.IDUUID, nil
	}
	return "", fmt.Errorf("id format %q is not supported by SQL backends", f)
}

func (a *App) openMongo(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	a.closers = append(a.closers, client.Disconnect)
	a.logger.Info("mongo connected", "database", a.cfg.Mongo.Database)

	models, err := Models(a.cfg)
	if err != nil {
		return err
	}
	db := client.Database(a.cfg.Mongo.Database)
	for _, r := range a.cfg.Resources {
		m := models[r.Name]
		repo, err := mongorepo.NewRepository(a.repoConfig(r), m, db.Collection(m.Collection))
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		a.repos[r.Name] = repo
	}
	return nil
}

// Models builds the document-store description of the configured resources.
func Models(cfg *config.Config) (map[string]*mongorepo.Model, error) {
	models := make(map[string]*mongorepo.Model, len(cfg.Resources))
	for _, r := range cfg.Resources {
		var format mongorepo.IDFormat
		switch r.IDFormat {
		case "", "objectid":
			format = mongorepo.IDObjectID
		case "string", "any":
			format = mongorepo.IDString
		default:
			return nil, fmt.Errorf("resource %s: id format %q is not supported by mongo", r.Name, r.IDFormat)
		}
		m := &mongorepo.Model{Collection: r.StorageName(), IDFormat: format}
		for _, f := range r.Fields {
			if m.Fields == nil {
				m.Fields = make(map[string]mongorepo.FieldKind, len(r.Fields))
			}
			m.Fields[f.Name] = mongorepo.FieldKind(f.Type)
		}
		models[r.Name] = m
	}
	for _, r := range cfg.Resources {
		for _, l := range r.Links {
			m := models[r.Name]
			if m.Relations == nil {
				m.Relations = map[string]mongorepo.Relation{}
			}
			m.Relations[l.Name] = mongorepo.Relation{
				Model:        models[l.Resource],
				LocalField:   l.LocalKey,
				ForeignField: l.ForeignKey,
				Many:         l.Many,
			}
		}
	}
	return models, nil
}

func (a *App) openMemory() error {
	schemas, err := Schemas(a.cfg)
	if err != nil {
		return err
	}
	mem := schemarepo.NewMemoryStore()
	for _, r := range a.cfg.Resources {
		s := schemas[r.Name]
		repo, err := schemarepo.NewRepository(a.repoConfig(r), s, mem.Delegate(s))
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		a.repos[r.Name] = repo
	}
	return nil
}

// Schemas builds the schema-first description of the configured resources.
func Schemas(cfg *config.Config) (map[string]*schemarepo.Schema, error) {
	schemas := make(map[string]*schemarepo.Schema, len(cfg.Resources))
	for _, r := range cfg.Resources {
		var format schemarepo.IDFormat
		switch r.IDFormat {
		case "", "any", "string":
			format = schemarepo.IDString
		case "integer":
			format = schemarepo.IDInt
		case "uuid":
			format = schemarepo.IDUUID
		default:
			return nil, fmt.Errorf("resource %s: id format %q is not supported by the schema backend", r.Name, r.IDFormat)
		}
		schemas[r.Name] = &schemarepo.Schema{Name: r.StorageName(), IDField: r.IDField, IDFormat: format}
	}
	for _, r := range cfg.Resources {
		for _, l := range r.Links {
			s := schemas[r.Name]
			if s.Relations == nil {
				s.Relations = map[string]schemarepo.Relation{}
			}
			s.Relations[l.Name] = schemarepo.Relation{
				Schema:       schemas[l.Resource],
				LocalField:   l.LocalKey,
				ForeignField: l.ForeignKey,
				Many:         l.Many,
			}
		}
	}
	return schemas, nil
}
