package seed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/repository/schemarepo"
	"github.com/roach88/repokit/internal/testutil"
)

func newUsers(t *testing.T) *repository.Adapter[repository.Record] {
	t.Helper()
	schema := &schemarepo.Schema{Name: "users", IDFormat: schemarepo.IDInt}
	repo, err := schemarepo.NewRepository(repository.Config{}, schema, schemarepo.NewMemoryStore().Delegate(schema))
	require.NoError(t, err)
	return repo
}

func userBlueprint(i int) repository.Payload {
	return repository.Payload{"name": fmt.Sprintf("user-%d", i), "role": "member"}
}

func TestFactory_IsImmutable(t *testing.T) {
	base := NewFactory[repository.Record](nil, userBlueprint)
	three := base.Count(3)
	admins := three.With(repository.Payload{"role": "admin"})

	assert.Len(t, base.Make(), 1)
	assert.Len(t, three.Make(), 3)
	assert.Equal(t, "member", three.Make()[0]["role"])
	assert.Equal(t, "admin", admins.Make()[2]["role"])
	assert.Equal(t, "user-2", admins.Make()[2]["name"])
}

func TestFactory_WithMerges(t *testing.T) {
	f := NewFactory[repository.Record](nil, userBlueprint).
		With(repository.Payload{"role": "admin", "team": "a"}).
		With(repository.Payload{"team": "b"})

	assert.Equal(t, []repository.Payload{{"name": "user-0", "role": "admin", "team": "b"}}, f.Make())
}

func TestFactory_Deleted(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	f := NewFactory[repository.Record](nil, userBlueprint, WithClock(clock.Now), WithSoftDeleteField("removedAt")).Deleted()

	p := f.Make()[0]
	assert.Equal(t, testutil.Epoch.Add(time.Second), p["removedAt"])
}

func TestFactory_Create(t *testing.T) {
	users := newUsers(t)
	f := NewFactory(NewSeeder[repository.Record](users, nil), userBlueprint)

	created, err := f.Count(4).Create(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 4)
	for i, rec := range created {
		assert.Equal(t, fmt.Sprintf("user-%d", i), rec["name"])
	}

	page, err := users.GetAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)

	one, err := f.CreateOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), one["id"])
}

func TestFactory_CreateWithoutSeeder(t *testing.T) {
	_, err := NewFactory[repository.Record](nil, userBlueprint).Create(context.Background())
	assert.Error(t, err)
}

func TestSeeder_SeedMany(t *testing.T) {
	users := newUsers(t)
	s := NewSeeder[repository.Record](users, nil)

	out, err := s.SeedMany(context.Background(), 3, repository.Payload{"name": "same"})
	require.NoError(t, err)
	assert.Len(t, out, 3)

	page, err := users.GetAll(context.Background(), nil, &ir.FilterContract{Where: ir.Where{"name": ir.String("same")}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
}

// failingRepo fails every StoreOne after the first n.
type failingRepo struct {
	repository.Repository[repository.Record]
	n     int32
	calls atomic.Int32
}

var errBoom = errors.New("boom")

func (r *failingRepo) StoreOne(ctx context.Context, p repository.Payload) (repository.Record, error) {
	if r.calls.Add(1) > r.n {
		return nil, errBoom
	}
	return r.Repository.StoreOne(ctx, p)
}

func TestSeeder_FailsFastWithoutRollback(t *testing.T) {
	users := newUsers(t)
	repo := &failingRepo{Repository: users, n: 2}
	s := NewSeeder[repository.Record](repo, nil)

	_, err := s.SeedAll(context.Background(), NewFactory[repository.Record](nil, userBlueprint).Count(5).Make())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	page, err := users.GetAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total, "records stored before the failure remain")
}
