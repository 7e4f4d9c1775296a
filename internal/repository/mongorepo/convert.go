package mongorepo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repository"
)

// toRecord converts a decoded document. "_id" becomes "id", ObjectIDs
// become hex strings and populated relations become records: a list for
// has-many relations, a record or nil for single ones.
func toRecord(m *Model, doc any) repository.Record {
	rec := repository.Record{}
	eachField(doc, func(k string, v any) {
		if k == "_id" {
			k = "id"
		}
		if rel, ok := m.Relations[k]; ok {
			rec[k] = relationValue(rel, v)
			return
		}
		rec[k] = plain(v)
	})
	return rec
}

func relationValue(rel Relation, v any) any {
	if rel.Many {
		list := []repository.Record{}
		for _, elem := range asSlice(v) {
			list = append(list, toRecord(rel.Model, elem))
		}
		return list
	}
	if v == nil || !isDocument(v) {
		return nil
	}
	return toRecord(rel.Model, v)
}

// plain converts BSON values to record values.
func plain(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case primitive.A, []any:
		elems := asSlice(val)
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = plain(e)
		}
		return out
	case bson.M, bson.D, map[string]any:
		out := map[string]any{}
		eachField(val, func(k string, e any) { out[k] = plain(e) })
		return out
	default:
		return v
	}
}

func isDocument(v any) bool {
	switch v.(type) {
	case bson.M, bson.D, map[string]any:
		return true
	}
	return false
}

func asSlice(v any) []any {
	switch val := v.(type) {
	case primitive.A:
		return val
	case []any:
		return val
	}
	return nil
}

// eachField visits a document's fields; maps are visited in key order.
func eachField(doc any, fn func(k string, v any)) {
	switch d := doc.(type) {
	case bson.D:
		for _, e := range d {
			fn(e.Key, e.Value)
		}
	case bson.M:
		for _, k := range ir.SortedKeys(map[string]any(d)) {
			fn(k, d[k])
		}
	case map[string]any:
		for _, k := range ir.SortedKeys(d) {
			fn(k, d[k])
		}
	}
}

func sortedPayloadKeys(p repository.Payload) []string {
	return ir.SortedKeys(map[string]any(p))
}
