package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
)

// Payload carries caller-supplied field values for create and update.
type Payload map[string]any

// Record is the model type of map-based backends (relational, document,
// schema-first). Related records appear under their relation name, as a
// Record for single relations and a []Record for many relations.
type Record map[string]any

// Repository is the storage-agnostic CRUD surface.
//
// opts may be nil, which means an empty internal contract.
type Repository[M any] interface {
	// GetOne returns the first record matching id (when non-empty) and opts.
	// found is false when nothing matched; that is not an error.
	GetOne(ctx context.Context, id string, opts *ir.FilterContract) (model M, found bool, err error)

	// GetAll returns all records matching opts. With a non-nil pagination
	// it returns one page plus the total count and page metadata.
	GetAll(ctx context.Context, pagination *Pagination, opts *ir.FilterContract) (*Page[M], error)

	// StoreOne creates a record from payload.
	StoreOne(ctx context.Context, payload Payload) (M, error)

	// UpdateOne merges payload into the referenced record and persists it.
	UpdateOne(ctx context.Context, ref Ref[M], payload Payload) (M, error)

	// DeleteOne soft-deletes (sets the soft delete field) or removes the
	// referenced record. Hard deletion returns the zero model.
	DeleteOne(ctx context.Context, ref Ref[M], soft bool) (M, error)
}

// Backend is the capability contract one storage engine implements. The
// Adapter supplies every shared semantic (compilation, guard, id
// pre-pending, pagination, resolution, soft delete) on top of it.
type Backend[M any] interface {
	// ValidateID fails with InvalidIdentifierFormat when id cannot be a key.
	ValidateID(id string) error

	// Find returns the records matching plan. A nil window means no limit.
	Find(ctx context.Context, plan *queryir.Plan, window *Window) ([]M, error)

	// Count returns the number of root records matching plan's root scope.
	Count(ctx context.Context, plan *queryir.Plan) (int64, error)

	// Insert creates a record.
	Insert(ctx context.Context, payload Payload) (M, error)

	// Save persists model, whose fields already include changes. changes
	// names the fields that differ from storage.
	Save(ctx context.Context, model M, changes Payload) (M, error)

	// Remove deletes model permanently.
	Remove(ctx context.Context, model M) error

	// Binding exposes field access on models.
	Binding() Binding[M]
}

// Binding gives the Adapter field-level access to a backend's model type.
type Binding[M any] interface {
	// ID returns the model's identifier as text, "" when absent.
	ID(model M) string

	// Field returns the value of a named field.
	Field(model M, name string) (any, bool)

	// Merge returns model with changes applied field by field.
	Merge(model M, changes Payload) (M, error)
}

// Ref addresses the target of UpdateOne and DeleteOne: either an id to
// resolve or an already loaded model.
type Ref[M any] struct {
	id      string
	model   M
	byModel bool
}

// ByID references a record by identifier.
func ByID[M any](id string) Ref[M] {
	return Ref[M]{id: id}
}

// ByModel references an already loaded record.
func ByModel[M any](model M) Ref[M] {
	return Ref[M]{model: model, byModel: true}
}

// ID returns the id of an id reference.
func (r Ref[M]) ID() (string, bool) {
	return r.id, !r.byModel
}

// Model returns the model of a model reference.
func (r Ref[M]) Model() (M, bool) {
	return r.model, r.byModel
}

// String implements fmt.Stringer for logs.
func (r Ref[M]) String() string {
	if r.byModel {
		return "model"
	}
	return "id=" + r.id
}

// Window is a row range: skip Offset root records, return at most Limit.
type Window struct {
	Offset int
	Limit  int
}

// RecordBinding is the Binding of Record models.
type RecordBinding struct {
	IDField string
}

// ID implements Binding.
func (b RecordBinding) ID(r Record) string {
	v, ok := r[b.IDField]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Field implements Binding.
func (RecordBinding) Field(r Record, name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// Merge implements Binding. The input record is not modified.
func (RecordBinding) Merge(r Record, changes Payload) (Record, error) {
	out := make(Record, len(r)+len(changes))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out, nil
}

// IsSet reports whether a field value counts as present: non-nil, not a nil
// pointer, and not a zero value (a zero time is unset).
func IsSet(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		if rv.Kind() == reflect.Pointer {
			return IsSet(rv.Elem().Interface())
		}
		return true
	}
	return !rv.IsZero()
}

// DecodePayload parses a JSON object into a Payload. Integral numbers
// become int64 and other numbers float64, so integer ids survive decoding.
func DecodePayload(data []byte) (Payload, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	p := make(Payload, len(raw))
	for k, v := range raw {
		p[k] = normalizeNumber(v)
	}
	return p, nil
}

func normalizeNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = normalizeNumber(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumber(val[k])
		}
		return val
	default:
		return v
	}
}
