// Package mongorepo is the document-store backend. Plans become aggregation
// pipelines; includes become $lookup population stages.
package mongorepo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// Collection is the subset of *mongo.Collection the backend uses.
type Collection interface {
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

var _ Collection = (*mongo.Collection)(nil)

// Backend implements repository.Backend over one collection.
type Backend struct {
	model *Model
	coll  Collection
	newID func() primitive.ObjectID
}

var _ repository.Backend[repository.Record] = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithObjectIDs replaces primitive.NewObjectID for new documents.
func WithObjectIDs(fn func() primitive.ObjectID) Option {
	return func(b *Backend) { b.newID = fn }
}

// New creates a Backend.
func New(model *Model, coll Collection, opts ...Option) (*Backend, error) {
	if model == nil {
		return nil, fmt.Errorf("mongorepo: nil model")
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("mongorepo: %w", err)
	}

	b := &Backend{model: model, coll: coll, newID: primitive.NewObjectID}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewRepository wraps a new Backend in a repository.Adapter.
func NewRepository(cfg repository.Config, model *Model, coll Collection, opts ...Option) (*repository.Adapter[repository.Record], error) {
	b, err := New(model, coll, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = model.Collection
	}
	return repository.NewAdapter[repository.Record](b, cfg), nil
}

// Binding implements repository.Backend.
func (b *Backend) Binding() repository.Binding[repository.Record] {
	return repository.RecordBinding{IDField: "id"}
}

// ValidateID implements repository.Backend.
func (b *Backend) ValidateID(id string) error {
	return b.model.ValidateID(id)
}

// Find implements repository.Backend.
func (b *Backend) Find(ctx context.Context, plan *queryir.Plan, window *repository.Window) ([]repository.Record, error) {
	pipeline, err := Pipeline(b.model, plan, window)
	if err != nil {
		return nil, err
	}

	cur, err := b.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", b.model.Collection, err)
	}

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.model.Collection, err)
	}

	records := make([]repository.Record, len(docs))
	for i, doc := range docs {
		records[i] = toRecord(b.model, doc)
	}
	return records, nil
}

// Count implements repository.Backend.
func (b *Backend) Count(ctx context.Context, plan *queryir.Plan) (int64, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return 0, err
	}
	filter, err := Filter(b.model, plan.Root.Conditions)
	if err != nil {
		return 0, err
	}
	n, err := b.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", b.model.Collection, err)
	}
	return n, nil
}

// Insert implements repository.Backend. The stored document is returned as
// a record; ObjectID collections get a new id when the payload has none.
func (b *Backend) Insert(ctx context.Context, payload repository.Payload) (repository.Record, error) {
	doc, err := b.document(payload)
	if err != nil {
		return nil, err
	}
	if _, ok := docField(doc, "_id"); !ok && b.model.Format() == IDObjectID {
		doc = append(bson.D{{Key: "_id", Value: b.newID()}}, doc...)
	}

	if _, err := b.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert %s: %w", b.model.Collection, err)
	}
	return toRecord(b.model, doc), nil
}

// Save implements repository.Backend with a $set of the changed fields.
func (b *Backend) Save(ctx context.Context, model repository.Record, changes repository.Payload) (repository.Record, error) {
	if len(changes) == 0 {
		return model, nil
	}

	filter, err := b.idFilter(model)
	if err != nil {
		return nil, err
	}
	set, err := b.document(changes)
	if err != nil {
		return nil, err
	}

	res, err := b.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", b.model.Collection, err)
	}
	if res.MatchedCount == 0 {
		return nil, repoerr.NotFound(b.model.Collection, fmt.Sprint(model["id"]))
	}
	return model, nil
}

// Remove implements repository.Backend.
func (b *Backend) Remove(ctx context.Context, model repository.Record) error {
	filter, err := b.idFilter(model)
	if err != nil {
		return err
	}

	res, err := b.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", b.model.Collection, err)
	}
	if res.DeletedCount == 0 {
		return repoerr.NotFound(b.model.Collection, fmt.Sprint(model["id"]))
	}
	return nil
}

func (b *Backend) idFilter(model repository.Record) (bson.D, error) {
	id, ok := model["id"]
	if !ok || id == nil {
		return nil, repoerr.NotFound(b.model.Collection, "")
	}
	stored, err := b.model.idValue(id)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "_id", Value: stored}}, nil
}

// document converts a payload to a document with sorted keys; "id" is
// stored as "_id". Relation keys are not stored.
func (b *Backend) document(p repository.Payload) (bson.D, error) {
	doc := make(bson.D, 0, len(p))
	for _, k := range sortedPayloadKeys(p) {
		if _, isRelation := b.model.Relations[k]; isRelation {
			continue
		}
		if len(k) > 0 && k[0] == '$' {
			return nil, repoerr.InvalidFieldName(k)
		}
		v := p[k]
		if k == "id" {
			stored, err := b.model.idValue(v)
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: "_id", Value: stored})
			continue
		}
		doc = append(doc, bson.E{Key: k, Value: v})
	}
	return doc, nil
}

func docField(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
