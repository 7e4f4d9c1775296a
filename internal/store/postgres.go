package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/repokit/internal/querysql"
)

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	// DSN, when set, is used as-is and the discrete fields are ignored.
	DSN string `mapstructure:"dsn" json:"dsn,omitempty"`

	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`

	// MaxConns caps the pool. Zero keeps the pgxpool default.
	MaxConns int32 `mapstructure:"maxConns" json:"maxConns,omitempty"`
}

// DefaultPostgresConfig returns a local development configuration.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "repokit",
		SSLMode:  "disable",
	}
}

// ConnString renders the keyword/value connection string.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// poolConfig parses the connection settings without connecting.
func (c PostgresConfig) poolConfig() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	return cfg, nil
}

// Postgres executes queries against a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Executor = (*Postgres)(nil)

// OpenPostgres creates a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database opened", "driver", "postgres", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Postgres{pool: pool, logger: logger}, nil
}

// Pool returns the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Dialect returns querysql.Postgres.
func (p *Postgres) Dialect() querysql.Dialect {
	return querysql.Postgres
}

// Query executes a query and returns the resulting rows.
func (p *Postgres) Query(ctx context.Context, q querysql.Query) (Rows, error) {
	p.logger.Debug("query", "sql", q.SQL, "args", len(q.Args))
	rows, err := p.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return pgxRows{rows: rows}, nil
}

// Exec executes a statement and returns the affected row count.
func (p *Postgres) Exec(ctx context.Context, q querysql.Query) (int64, error) {
	p.logger.Debug("exec", "sql", q.SQL, "args", len(q.Args))
	tag, err := p.pool.Exec(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// pgxRows adapts pgx.Rows to Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Columns() ([]string, error) {
	fields := r.rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols, nil
}

func (r pgxRows) Next() bool             { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error             { return r.rows.Err() }

func (r pgxRows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}
