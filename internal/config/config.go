// Package config loads the repokit configuration.
//
// Values come from repokit.yaml (or an explicit file), overridden by
// REPOKIT_* environment variables (REPOKIT_HTTP_ADDR for http.addr), and
// are validated against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/repokit/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config is the decoded configuration.
type Config struct {
	Backend   string               `mapstructure:"backend" json:"backend"`
	SQLite    SQLiteConfig         `mapstructure:"sqlite" json:"sqlite"`
	Postgres  store.PostgresConfig `mapstructure:"postgres" json:"postgres"`
	Mongo     MongoConfig          `mapstructure:"mongo" json:"mongo"`
	HTTP      HTTPConfig           `mapstructure:"http" json:"http"`
	Resources []Resource           `mapstructure:"resources" json:"resources,omitempty"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// MongoConfig selects the document database.
type MongoConfig struct {
	URI      string `mapstructure:"uri" json:"uri"`
	Database string `mapstructure:"database" json:"database"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr" json:"addr"`
	AllowedOrigins []string `mapstructure:"allowedOrigins" json:"allowedOrigins,omitempty"`
}

// Resource describes one exposed resource and its storage.
type Resource struct {
	// Name is the resource name used in routes and errors.
	Name string `mapstructure:"name" json:"name"`

	// Table is the table or collection. Defaults to Name.
	Table string `mapstructure:"table" json:"table,omitempty"`

	IDField  string `mapstructure:"idField" json:"idField,omitempty"`
	IDFormat string `mapstructure:"idFormat" json:"idFormat,omitempty"`

	// Columns lists the stored fields besides the id.
	Columns []string `mapstructure:"columns" json:"columns,omitempty"`

	// Wheres and Relations are the whitelist applied to external requests.
	Wheres    []string `mapstructure:"wheres" json:"wheres,omitempty"`
	Relations []string `mapstructure:"relations" json:"relations,omitempty"`

	SoftDeleteField string `mapstructure:"softDeleteField" json:"softDeleteField,omitempty"`

	// Fields declares the stored types of fields for backends that do not
	// cast filter text themselves.
	Fields []Field `mapstructure:"fields" json:"fields,omitempty"`

	Links []Link `mapstructure:"links" json:"links,omitempty"`
}

// Field is the declared type of one stored field.
type Field struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`
}

// Link is a relation to another resource:
//
//	related.ForeignKey = this.LocalKey
type Link struct {
	Name       string `mapstructure:"name" json:"name"`
	Resource   string `mapstructure:"resource" json:"resource"`
	LocalKey   string `mapstructure:"localKey" json:"localKey"`
	ForeignKey string `mapstructure:"foreignKey" json:"foreignKey"`
	Many       bool   `mapstructure:"many" json:"many,omitempty"`
}

// StorageName returns the table or collection name.
func (r Resource) StorageName() string {
	if r.Table != "" {
		return r.Table
	}
	return r.Name
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:  BackendSQLite,
		SQLite:   SQLiteConfig{Path: "repokit.db"},
		Postgres: store.DefaultPostgresConfig(),
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Database: "repokit"},
		HTTP:     HTTPConfig{Addr: ":8080"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("sqlite.path", d.SQLite.Path)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.user", d.Postgres.User)
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", d.Postgres.Database)
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.maxConns", 0)
	v.SetDefault("mongo.uri", d.Mongo.URI)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.allowedOrigins", []string{})
}

// Load reads the configuration. An empty path searches for repokit.yaml in
// the working directory and falls back to defaults when there is none; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REPOKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("repokit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks c against the schema, then checks that resource names
// are unique and every link targets a configured resource.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if seen[r.Name] {
			return fmt.Errorf("invalid config: duplicate resource %q", r.Name)
		}
		seen[r.Name] = true
	}
	for _, r := range c.Resources {
		for _, l := range r.Links {
			if !seen[l.Resource] {
				return fmt.Errorf("invalid config: resource %q: link %q targets unknown resource %q", r.Name, l.Name, l.Resource)
			}
		}
	}
	return nil
}

// Resource returns the named resource.
func (c *Config) Resource(name string) (Resource, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}
