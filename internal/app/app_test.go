package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repokit/internal/config"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/querysql"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/repository/mongorepo"
	"github.com/roach88/repokit/internal/repository/schemarepo"
	"github.com/roach88/repokit/internal/store"
)

func testConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.Backend = backend
	cfg.Resources = []config.Resource{
		{
			Name:      "users",
			IDFormat:  "integer",
			Columns:   []string{"name", "deletedAt"},
			Wheres:    []string{"name"},
			Relations: []string{"pets"},
			Links:     []config.Link{{Name: "pets", Resource: "pets", LocalKey: "id", ForeignKey: "owner_id", Many: true}},
		},
		{
			Name:     "pets",
			Table:    "animals",
			IDFormat: "integer",
			Columns:  []string{"name", "owner_id"},
			Links:    []config.Link{{Name: "owner", Resource: "users", LocalKey: "owner_id", ForeignKey: "id"}},
		},
	}
	return cfg
}

func TestTables(t *testing.T) {
	tables, err := Tables(testConfig(config.BackendSQLite))
	require.NoError(t, err)

	users, pets := tables["users"], tables["pets"]
	assert.Equal(t, "animals", pets.Name)
	assert.Equal(t, querysql.IDInteger, users.IDFormat)
	assert.Same(t, pets, users.Relations["pets"].Table)
	assert.Same(t, users, pets.Relations["owner"].Table)
	assert.True(t, users.Relations["pets"].Many)
	require.NoError(t, users.Validate())

	cfg := testConfig(config.BackendSQLite)
	cfg.Resources[0].IDFormat = "objectid"
	_, err = Tables(cfg)
	assert.Error(t, err)
}

func TestModels(t *testing.T) {
	cfg := testConfig(config.BackendMongo)
	cfg.Resources[0].IDFormat = ""
	cfg.Resources[1].IDFormat = "string"
	cfg.Resources[0].Fields = []config.Field{{Name: "age", Type: "integer"}}

	models, err := Models(cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]mongorepo.FieldKind{"age": mongorepo.KindInteger}, models["users"].Fields)
	assert.Nil(t, models["pets"].Fields)
	assert.Equal(t, mongorepo.IDObjectID, models["users"].Format())
	assert.Equal(t, mongorepo.IDString, models["pets"].Format())
	assert.Equal(t, "animals", models["pets"].Collection)
	assert.Same(t, models["users"], models["pets"].Relations["owner"].Model)

	cfg.Resources[0].IDFormat = "integer"
	_, err = Models(cfg)
	assert.Error(t, err)
}

func TestSchemas(t *testing.T) {
	schemas, err := Schemas(testConfig(config.BackendMemory))
	require.NoError(t, err)
	assert.Equal(t, schemarepo.IDInt, schemas["users"].Format())
	assert.Same(t, schemas["pets"], schemas["users"].Relations["pets"].Schema)
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(config.BackendMemory), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, []string{"pets", "users"}, a.Resources())

	users, ok := a.Service("users")
	require.True(t, ok)
	_, err = users.CreateOne(ctx, repository.Payload{"name": "ann"})
	require.NoError(t, err)

	pets, ok := a.Repository("pets")
	require.True(t, ok)
	_, err = pets.StoreOne(ctx, repository.Payload{"name": "rex", "owner_id": int64(1)})
	require.NoError(t, err)

	res, err := users.FindOne(ctx, "1", &ir.FilterContract{Includes: []ir.Include{{Relation: "pets"}}})
	require.NoError(t, err)
	assert.Equal(t, "ann", res["name"])
	assert.Len(t, res["pets"], 1)

	_, ok = a.Service("toys")
	assert.False(t, ok)
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	exec, err := store.OpenSQLite(path, store.SQLiteOptions{Schema: `
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, deletedAt DATETIME);
		CREATE TABLE animals (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, owner_id INTEGER);`})
	require.NoError(t, err)
	require.NoError(t, exec.Close())

	cfg := testConfig(config.BackendSQLite)
	cfg.SQLite.Path = path
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	users, _ := a.Repository("users")
	rec, err := users.StoreOne(ctx, repository.Payload{"name": "ann"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])

	external := ir.FilterContract{Where: ir.Where{"deletedAt": ir.String("null")}}.External()
	_, err = users.GetAll(ctx, nil, &external)
	assert.Error(t, err, "whitelist applies to external contracts")
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testConfig("redis"), nil)
	assert.Error(t, err)
}
