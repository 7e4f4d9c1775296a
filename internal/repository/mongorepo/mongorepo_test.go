package mongorepo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/repokit/internal/guard"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/testutil"
)

const (
	annHex = "65a000000000000000000001"
	rexHex = "65b000000000000000000001"
)

// fakeCollection records every call and replays canned documents.
type fakeCollection struct {
	mu sync.Mutex

	docs      []any
	pipelines []any
	filters   []any
	total     int64
	inserted  []any
	updates   [][2]any
	deletes   []any
	matched   int64
	err       error
}

func (f *fakeCollection) Aggregate(_ context.Context, pipeline any, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelines = append(f.pipelines, pipeline)
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func (f *fakeCollection) CountDocuments(_ context.Context, filter any, _ ...*options.CountOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.total, f.err
}

func (f *fakeCollection) InsertOne(_ context.Context, doc any, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, doc)
	return &mongo.InsertOneResult{}, f.err
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, [2]any{filter, update})
	return &mongo.UpdateResult{MatchedCount: f.matched}, f.err
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	return &mongo.DeleteResult{DeletedCount: f.matched}, f.err
}

func oid(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

func models() (users, pets *Model) {
	users = &Model{Collection: "users"}
	pets = &Model{Collection: "pets"}
	users.Relations = map[string]Relation{
		"pets": {Model: pets, LocalField: "id", ForeignField: "ownerId", Many: true},
	}
	pets.Relations = map[string]Relation{
		"owner": {Model: users, LocalField: "ownerId", ForeignField: "id"},
	}
	return users, pets
}

func newRepo(t *testing.T, coll *fakeCollection) (*repository.Adapter[repository.Record], *testutil.DeterministicClock) {
	t.Helper()
	users, _ := models()
	clock := testutil.NewDeterministicClock()
	repo, err := NewRepository(repository.Config{
		Whitelist: guard.Whitelist{Wheres: []string{"name"}},
		Clock:     clock.Now,
	}, users, coll, WithObjectIDs(func() primitive.ObjectID { return oid(t, annHex) }))
	require.NoError(t, err)
	return repo, clock
}

func annDoc(t *testing.T) bson.D {
	return bson.D{
		{Key: "_id", Value: oid(t, annHex)},
		{Key: "name", Value: "ann"},
		{Key: "age", Value: 31},
		{Key: "pets", Value: bson.A{
			bson.D{{Key: "_id", Value: oid(t, rexHex)}, {Key: "name", Value: "rex"}, {Key: "ownerId", Value: oid(t, annHex)}},
		}},
	}
}

func TestFilter_Predicates(t *testing.T) {
	users, _ := models()

	tests := []struct {
		name string
		cond queryir.Condition
		want bson.D
	}{
		{"equals", queryir.Condition{Field: "name", Predicate: queryir.Equals{Value: ir.String("ann")}},
			bson.D{{Key: "name", Value: "ann"}}},
		{"not equals", queryir.Condition{Field: "age", Predicate: queryir.NotEquals{Value: ir.Int(3)}},
			bson.D{{Key: "age", Value: bson.D{{Key: "$ne", Value: int64(3)}}}}},
		{"in", queryir.Condition{Field: "name", Predicate: queryir.In{Values: []ir.Value{ir.String("a"), ir.String("b")}}},
			bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"a", "b"}}}}}},
		{"not in", queryir.Condition{Field: "name", Predicate: queryir.NotIn{Values: []ir.Value{ir.String("a")}}},
			bson.D{{Key: "name", Value: bson.D{{Key: "$nin", Value: bson.A{"a"}}}}}},
		{"range", queryir.Condition{Field: "born", Predicate: queryir.Range{Lo: "2020", Hi: "2021"}},
			bson.D{{Key: "born", Value: bson.D{{Key: "$gte", Value: "2020"}, {Key: "$lte", Value: "2021"}}}}},
		{"is null", queryir.Condition{Field: "deletedAt", Predicate: queryir.IsNull{}},
			bson.D{{Key: "deletedAt", Value: nil}}},
		{"is not null", queryir.Condition{Field: "deletedAt", Predicate: queryir.IsNotNull{}},
			bson.D{{Key: "deletedAt", Value: bson.D{{Key: "$ne", Value: nil}}}}},
		{"contains quotes regex", queryir.Condition{Field: "name", Predicate: queryir.Contains{Substring: "a.b"}},
			bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: `a\.b`}, {Key: "$options", Value: "i"}}}}},
		{"id becomes object id", queryir.Condition{Field: "id", Predicate: queryir.Equals{Value: ir.String(annHex)}},
			bson.D{{Key: "_id", Value: oid(t, annHex)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(users, []queryir.Condition{tt.cond})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_CastsTextToFieldKinds(t *testing.T) {
	m := &Model{Collection: "users", Fields: map[string]FieldKind{
		"age":      KindInteger,
		"score":    KindNumber,
		"active":   KindBoolean,
		"joinedAt": KindDate,
		"zip":      KindString,
	}}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cond queryir.Condition
		want bson.D
	}{
		{"integer range", queryir.Condition{Field: "age", Predicate: queryir.Range{Lo: "18", Hi: "30"}},
			bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: int64(18)}, {Key: "$lte", Value: int64(30)}}}}},
		{"integer equals", queryir.Condition{Field: "age", Predicate: queryir.Equals{Value: ir.String("5")}},
			bson.D{{Key: "age", Value: int64(5)}}},
		{"integer literal untouched", queryir.Condition{Field: "age", Predicate: queryir.Equals{Value: ir.Int(5)}},
			bson.D{{Key: "age", Value: int64(5)}}},
		{"number membership", queryir.Condition{Field: "score", Predicate: queryir.In{Values: []ir.Value{ir.String("1.5"), ir.String("2")}}},
			bson.D{{Key: "score", Value: bson.D{{Key: "$in", Value: bson.A{1.5, 2.0}}}}}},
		{"boolean", queryir.Condition{Field: "active", Predicate: queryir.NotEquals{Value: ir.String("true")}},
			bson.D{{Key: "active", Value: bson.D{{Key: "$ne", Value: true}}}}},
		{"date range", queryir.Condition{Field: "joinedAt", Predicate: queryir.Range{Lo: "2024-01-01", Hi: "2024-01-01T00:00:00Z"}},
			bson.D{{Key: "joinedAt", Value: bson.D{{Key: "$gte", Value: day}, {Key: "$lte", Value: day}}}}},
		{"string kind keeps text", queryir.Condition{Field: "zip", Predicate: queryir.Equals{Value: ir.String("01234")}},
			bson.D{{Key: "zip", Value: "01234"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(m, []queryir.Condition{tt.cond})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_UncastableText(t *testing.T) {
	m := &Model{Collection: "users", Fields: map[string]FieldKind{"age": KindInteger}}
	_, err := Filter(m, []queryir.Condition{{Field: "age", Predicate: queryir.Range{Lo: "ten", Hi: "30"}}})
	assert.ErrorIs(t, err, repoerr.ErrInvalidFilterValue)
}

func TestGetAll_NumericRangeOnTypedField(t *testing.T) {
	coll := &fakeCollection{docs: []any{annDoc(t)}, total: 1}
	users, _ := models()
	users.Fields = map[string]FieldKind{"age": KindInteger}
	repo, err := NewRepository(repository.Config{}, users, coll)
	require.NoError(t, err)

	page, err := repo.GetAll(context.Background(), &repository.Pagination{Limit: 5}, &ir.FilterContract{
		Where: ir.Where{"age": ir.String("18->40")},
	})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)

	want := bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: int64(18)}, {Key: "$lte", Value: int64(40)}}}}
	require.Len(t, coll.filters, 1)
	assert.Equal(t, want, coll.filters[0])
	stages := coll.pipelines[0].(mongo.Pipeline)
	assert.Equal(t, bson.D{{Key: "$match", Value: want}}, stages[0])
}

func TestFilter_RepeatedFieldUsesAnd(t *testing.T) {
	users, _ := models()
	got, err := Filter(users, []queryir.Condition{
		{Field: "id", Predicate: queryir.Equals{Value: ir.String(annHex)}},
		{Field: "id", Predicate: queryir.NotIn{Values: []ir.Value{ir.String(rexHex)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "_id", Value: oid(t, annHex)}},
		bson.D{{Key: "_id", Value: bson.D{{Key: "$nin", Value: bson.A{oid(t, rexHex)}}}}},
	}}}, got)
}

func TestFilter_InvalidObjectID(t *testing.T) {
	users, _ := models()
	_, err := Filter(users, []queryir.Condition{{Field: "id", Predicate: queryir.Equals{Value: ir.String("zz")}}})
	assert.True(t, repoerr.IsInvalidIdentifier(err))

	strings := &Model{Collection: "tags", IDFormat: IDString}
	got, err := Filter(strings, []queryir.Condition{{Field: "id", Predicate: queryir.Equals{Value: ir.String("zz")}}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: "zz"}}, got)
}

func TestPipeline_WithNestedLookups(t *testing.T) {
	_, pets := models()
	plan := &queryir.Plan{Root: &queryir.Scope{
		Alias:      "pets",
		Conditions: []queryir.Condition{{Field: "name", Predicate: queryir.Equals{Value: ir.String("rex")}}},
		Order:      []queryir.Order{{Field: "name", Direction: queryir.Desc}},
		Includes: []*queryir.Scope{{
			Relation: "owner",
			Path:     "owner",
			Alias:    "owner_a40741dd",
			Includes: []*queryir.Scope{{
				Relation:   "pets",
				Path:       "owner.pets",
				Alias:      "pets_e538f961",
				Conditions: []queryir.Condition{{Field: "name", Predicate: queryir.IsNotNull{}}},
			}},
		}},
	}}

	got, err := Pipeline(pets, plan, &repository.Window{Offset: 20, Limit: 10})
	require.NoError(t, err)

	innerPets := bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "pets"},
		{Key: "let", Value: bson.D{{Key: "ref1", Value: "$_id"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$ownerId", "$$ref1"}}}}}}},
			{{Key: "$match", Value: bson.D{{Key: "name", Value: bson.D{{Key: "$ne", Value: nil}}}}}},
			{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		}},
		{Key: "as", Value: "pets"},
	}}}

	want := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "name", Value: "rex"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "name", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$skip", Value: int64(20)}},
		{{Key: "$limit", Value: int64(10)}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "let", Value: bson.D{{Key: "ref0", Value: "$ownerId"}}},
			{Key: "pipeline", Value: mongo.Pipeline{
				{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$_id", "$$ref0"}}}}}}},
				{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
				innerPets,
			}},
			{Key: "as", Value: "owner"},
		}}},
		{{Key: "$unwind", Value: bson.D{{Key: "path", Value: "$owner"}, {Key: "preserveNullAndEmptyArrays", Value: true}}}},
	}
	assert.Equal(t, want, got)
}

func TestPipeline_UnknownRelation(t *testing.T) {
	users, _ := models()
	plan := &queryir.Plan{Root: &queryir.Scope{
		Alias:    "users",
		Includes: []*queryir.Scope{{Relation: "friends", Path: "friends", Alias: "f"}},
	}}
	_, err := Pipeline(users, plan, nil)
	assert.ErrorIs(t, err, repoerr.ErrInvalidFieldName)
}

func TestGetOne(t *testing.T) {
	coll := &fakeCollection{docs: []any{annDoc(t)}}
	repo, _ := newRepo(t, coll)

	rec, found, err := repo.GetOne(context.Background(), annHex, &ir.FilterContract{
		Includes: []ir.Include{{Relation: "pets"}},
	})
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, annHex, rec["id"])
	assert.Equal(t, "ann", rec["name"])
	assert.Equal(t, int64(31), rec["age"])
	pets, ok := rec["pets"].([]repository.Record)
	require.True(t, ok)
	require.Len(t, pets, 1)
	assert.Equal(t, repository.Record{"id": rexHex, "name": "rex", "ownerId": annHex}, pets[0])

	require.Len(t, coll.pipelines, 1)
	stages := coll.pipelines[0].(mongo.Pipeline)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: oid(t, annHex)}}}}, stages[0])
	assert.Equal(t, bson.D{{Key: "$limit", Value: int64(1)}}, stages[3])
}

func TestGetOne_InvalidID(t *testing.T) {
	coll := &fakeCollection{}
	repo, _ := newRepo(t, coll)

	_, _, err := repo.GetOne(context.Background(), "not-hex", nil)
	assert.True(t, repoerr.IsInvalidIdentifier(err))
	assert.Empty(t, coll.pipelines, "nothing reaches storage")
}

func TestGetOne_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	repo, _ := newRepo(t, &fakeCollection{err: boom})

	_, _, err := repo.GetOne(context.Background(), annHex, nil)
	assert.ErrorIs(t, err, boom)
}

func TestGetAll_Paginated(t *testing.T) {
	coll := &fakeCollection{docs: []any{annDoc(t)}, total: 11}
	repo, _ := newRepo(t, coll)

	page, err := repo.GetAll(context.Background(), &repository.Pagination{Page: 2, Limit: 5}, &ir.FilterContract{
		Where: ir.Where{"name": ir.String("%an%")},
	})
	require.NoError(t, err)

	assert.Len(t, page.Data, 1)
	assert.Equal(t, int64(11), page.Total)
	assert.Equal(t, 3, page.Meta.TotalPages)

	require.Len(t, coll.filters, 1)
	assert.Equal(t, bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "an"}, {Key: "$options", Value: "i"}}}}, coll.filters[0])
	stages := coll.pipelines[0].(mongo.Pipeline)
	assert.Equal(t, bson.D{{Key: "$skip", Value: int64(10)}}, stages[2])
}

func TestGetAll_ExternalGuard(t *testing.T) {
	coll := &fakeCollection{}
	repo, _ := newRepo(t, coll)
	external := ir.FilterContract{Includes: []ir.Include{{Relation: "pets"}}}.External()

	_, err := repo.GetAll(context.Background(), nil, &external)
	assert.ErrorIs(t, err, repoerr.ErrIncludeNotAllowed)
	assert.Empty(t, coll.pipelines)
}

func TestStoreOne(t *testing.T) {
	coll := &fakeCollection{}
	repo, _ := newRepo(t, coll)

	rec, err := repo.StoreOne(context.Background(), repository.Payload{"name": "ann", "pets": []any{"ignored"}})
	require.NoError(t, err)
	assert.Equal(t, repository.Record{"id": annHex, "name": "ann"}, rec)

	require.Len(t, coll.inserted, 1)
	assert.Equal(t, bson.D{{Key: "_id", Value: oid(t, annHex)}, {Key: "name", Value: "ann"}}, coll.inserted[0])

	_, err = repo.StoreOne(context.Background(), repository.Payload{"$where": "1"})
	assert.ErrorIs(t, err, repoerr.ErrInvalidFieldName)
}

func TestUpdateOne_ByModel(t *testing.T) {
	coll := &fakeCollection{matched: 1}
	repo, _ := newRepo(t, coll)

	model := repository.Record{"id": annHex, "name": "ann"}
	rec, err := repo.UpdateOne(context.Background(), repository.ByModel(model), repository.Payload{"name": "anna"})
	require.NoError(t, err)
	assert.Equal(t, "anna", rec["name"])

	require.Len(t, coll.updates, 1)
	assert.Equal(t, bson.D{{Key: "_id", Value: oid(t, annHex)}}, coll.updates[0][0])
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "name", Value: "anna"}}}}, coll.updates[0][1])
}

func TestUpdateOne_NotMatched(t *testing.T) {
	coll := &fakeCollection{matched: 0}
	repo, _ := newRepo(t, coll)

	_, err := repo.UpdateOne(context.Background(), repository.ByModel(repository.Record{"id": annHex}), repository.Payload{"name": "x"})
	assert.True(t, repoerr.IsNotFound(err))
}

func TestDeleteOne(t *testing.T) {
	coll := &fakeCollection{docs: []any{annDoc(t)}, matched: 1}
	repo, _ := newRepo(t, coll)
	ctx := context.Background()

	deleted, err := repo.DeleteOne(ctx, repository.ByID[repository.Record](annHex), true)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(time.Second), deleted["deletedAt"])
	require.Len(t, coll.updates, 1)

	already := repository.Record{"id": annHex, "deletedAt": testutil.Epoch}
	_, err = repo.DeleteOne(ctx, repository.ByModel(already), true)
	assert.True(t, repoerr.IsAlreadyDeleted(err))

	gone, err := repo.DeleteOne(ctx, repository.ByModel(already), false)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Equal(t, []any{bson.D{{Key: "_id", Value: oid(t, annHex)}}}, coll.deletes)
}

func TestModelValidate(t *testing.T) {
	users, _ := models()
	require.NoError(t, users.Validate())

	assert.Error(t, (&Model{}).Validate())
	assert.Error(t, (&Model{Collection: "x", IDFormat: "uuid"}).Validate())
	assert.Error(t, (&Model{Collection: "x", Relations: map[string]Relation{"y": {}}}).Validate())
	assert.Error(t, (&Model{Collection: "x", Fields: map[string]FieldKind{"age": "decimal"}}).Validate())
}
