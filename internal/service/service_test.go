package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/repository/schemarepo"
	"github.com/roach88/repokit/internal/testutil"
)

func newUsers(t *testing.T) *Service[repository.Record] {
	t.Helper()

	schema := &schemarepo.Schema{Name: "users", IDFormat: schemarepo.IDInt}
	repo, err := schemarepo.NewRepository(repository.Config{
		Clock: testutil.NewDeterministicClock().Now,
	}, schema, schemarepo.NewMemoryStore().Delegate(schema))
	require.NoError(t, err)

	svc := New[repository.Record]("users", repo)
	ctx := context.Background()
	for _, name := range []string{"ann", "bob"} {
		_, err := svc.CreateOne(ctx, repository.Payload{"name": name, "email": "", "admin": false})
		require.NoError(t, err)
	}
	return svc
}

func TestFindOneInstance_NotFound(t *testing.T) {
	svc := newUsers(t)

	_, err := svc.FindOneInstance(context.Background(), "9", nil)
	require.Error(t, err)
	assert.True(t, repoerr.IsNotFound(err))

	var rerr *repoerr.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "NOT_FOUND_USERS", rerr.Message)
	assert.Equal(t, "9", rerr.Field)
}

func TestFindOne_ProjectsWithoutEmptyFields(t *testing.T) {
	svc := newUsers(t)

	res, err := svc.FindOne(context.Background(), "1", nil)
	require.NoError(t, err)
	assert.Equal(t, Resource{"id": int64(1), "name": "ann"}, res)
}

func TestFindAll(t *testing.T) {
	svc := newUsers(t)
	ctx := context.Background()

	list, err := svc.FindAll(ctx, nil, &ir.FilterContract{Where: ir.Where{"name": ir.String("bob")}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
	assert.Nil(t, list.Meta)
	assert.Equal(t, []Resource{{"id": int64(2), "name": "bob"}}, list.Data)

	list, err = svc.FindAll(ctx, &repository.Pagination{Page: 0, Limit: 1}, nil)
	require.NoError(t, err)
	require.NotNil(t, list.Meta)
	assert.Equal(t, 2, list.Meta.TotalPages)
	assert.Len(t, list.Data, 1)
}

func TestUpdateOne(t *testing.T) {
	svc := newUsers(t)
	ctx := context.Background()

	res, err := svc.UpdateOne(ctx, "2", repository.Payload{"admin": true})
	require.NoError(t, err)
	assert.Equal(t, true, res["admin"])

	_, err = svc.UpdateOne(ctx, "5", repository.Payload{"admin": true})
	assert.True(t, repoerr.IsNotFound(err))
}

func TestDeleteOne(t *testing.T) {
	svc := newUsers(t)
	ctx := context.Background()

	res, err := svc.DeleteOne(ctx, "1", true)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(time.Second).Format(time.RFC3339), res["deletedAt"])

	_, err = svc.DeleteOne(ctx, "1", true)
	assert.True(t, repoerr.IsAlreadyDeleted(err))

	res, err = svc.DeleteOne(ctx, "2", false)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = svc.FindOne(ctx, "2", nil)
	assert.True(t, repoerr.IsNotFound(err))
}

func TestProject(t *testing.T) {
	type pet struct {
		ID    int64   `json:"id"`
		Name  string  `json:"name"`
		Tag   *string `json:"tag"`
		Alive bool    `json:"alive"`
	}

	res, err := Project(&pet{ID: 3, Name: "rex"})
	require.NoError(t, err)
	assert.Equal(t, Resource{"id": int64(3), "name": "rex"}, res)

	res, err = Project[*pet](nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestWithProjector(t *testing.T) {
	schema := &schemarepo.Schema{Name: "tags"}
	store := schemarepo.NewMemoryStore().WithIDs(func() string { return "t1" })
	repo, err := schemarepo.NewRepository(repository.Config{}, schema, store.Delegate(schema))
	require.NoError(t, err)

	svc := New[repository.Record]("tags", repo, WithProjector(func(r repository.Record) (Resource, error) {
		return Resource{"label": r["name"]}, nil
	}))
	res, err := svc.CreateOne(context.Background(), repository.Payload{"name": "blue"})
	require.NoError(t, err)
	assert.Equal(t, Resource{"label": "blue"}, res)
}
