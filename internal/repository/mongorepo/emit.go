package mongorepo

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// Filter emits the match document of one scope's conditions. A field that
// appears more than once (the prepended id and a caller filter on id) turns
// the document into an $and of single-field documents.
func Filter(m *Model, conds []queryir.Condition) (bson.D, error) {
	parts := make([]bson.E, 0, len(conds))
	seen := make(map[string]bool, len(conds))
	repeated := false

	for _, c := range conds {
		field := storedField(c.Field)
		v, err := predicateDoc(m, field, c.Predicate)
		if err != nil {
			return nil, err
		}
		if seen[field] {
			repeated = true
		}
		seen[field] = true
		parts = append(parts, bson.E{Key: field, Value: v})
	}

	if !repeated {
		return bson.D(parts), nil
	}
	and := make(bson.A, len(parts))
	for i, p := range parts {
		and[i] = bson.D{p}
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

func predicateDoc(m *Model, field string, p queryir.Predicate) (any, error) {
	value := func(v ir.Value) (any, error) {
		native := ir.Native(v)
		if field == "_id" {
			return m.idValue(native)
		}
		return m.cast(field, native)
	}
	values := func(vs []ir.Value) (bson.A, error) {
		out := make(bson.A, len(vs))
		for i, v := range vs {
			n, err := value(v)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	switch p := p.(type) {
	case queryir.Equals:
		return value(p.Value)
	case queryir.NotEquals:
		v, err := value(p.Value)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$ne", Value: v}}, nil
	case queryir.In:
		vs, err := values(p.Values)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$in", Value: vs}}, nil
	case queryir.NotIn:
		vs, err := values(p.Values)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nin", Value: vs}}, nil
	case queryir.Range:
		lo, err := value(ir.String(p.Lo))
		if err != nil {
			return nil, err
		}
		hi, err := value(ir.String(p.Hi))
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$gte", Value: lo}, {Key: "$lte", Value: hi}}, nil
	case queryir.IsNull:
		return nil, nil
	case queryir.IsNotNull:
		return bson.D{{Key: "$ne", Value: nil}}, nil
	case queryir.Contains:
		return bson.D{{Key: "$regex", Value: regexp.QuoteMeta(p.Substring)}, {Key: "$options", Value: "i"}}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Sort emits the sort document of a scope: its order terms, then _id
// ascending unless the scope already orders by id.
func Sort(s *queryir.Scope) bson.D {
	sort := make(bson.D, 0, len(s.Order)+1)
	hasID := false
	for _, o := range s.Order {
		field := storedField(o.Field)
		if field == "_id" {
			hasID = true
		}
		dir := 1
		if o.Direction == queryir.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: field, Value: dir})
	}
	if !hasID {
		sort = append(sort, bson.E{Key: "_id", Value: 1})
	}
	return sort
}

// Pipeline emits the aggregation pipeline of a read:
//
//	$match, $sort, [$skip, $limit], then one $lookup (+ $unwind for
//	single relations) per include
//
// The window applies before population, so it counts root documents.
func Pipeline(m *Model, plan *queryir.Plan, window *repository.Window) (mongo.Pipeline, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return nil, err
	}
	root := plan.Root

	match, err := Filter(m, root.Conditions)
	if err != nil {
		return nil, err
	}

	stages := mongo.Pipeline{}
	if len(match) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: match}})
	}
	stages = append(stages, bson.D{{Key: "$sort", Value: Sort(root)}})
	if window != nil {
		stages = append(stages,
			bson.D{{Key: "$skip", Value: int64(window.Offset)}},
			bson.D{{Key: "$limit", Value: int64(window.Limit)}},
		)
	}

	lookups, err := lookupStages(m, root, 0)
	if err != nil {
		return nil, err
	}
	return append(stages, lookups...), nil
}

// lookupStages emits the population stages of s's includes. Each lookup
// binds the parent's local field to a depth-numbered variable, so nested
// sub-pipelines never shadow an outer binding.
func lookupStages(m *Model, s *queryir.Scope, depth int) ([]bson.D, error) {
	var stages []bson.D
	for _, inc := range s.Includes {
		rel, ok := m.Relations[inc.Relation]
		if !ok {
			return nil, repoerr.InvalidFieldName(inc.Path)
		}

		ref := fmt.Sprintf("ref%d", depth)
		sub := mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
				{Key: "$eq", Value: bson.A{"$" + storedField(rel.ForeignField), "$$" + ref}},
			}}}}},
		}

		match, err := Filter(rel.Model, inc.Conditions)
		if err != nil {
			return nil, err
		}
		if len(match) > 0 {
			sub = append(sub, bson.D{{Key: "$match", Value: match}})
		}
		sub = append(sub, bson.D{{Key: "$sort", Value: Sort(inc)}})

		nested, err := lookupStages(rel.Model, inc, depth+1)
		if err != nil {
			return nil, err
		}
		sub = append(sub, nested...)

		stages = append(stages, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: rel.Model.Collection},
			{Key: "let", Value: bson.D{{Key: ref, Value: "$" + storedField(rel.LocalField)}}},
			{Key: "pipeline", Value: sub},
			{Key: "as", Value: inc.Relation},
		}}})
		if !rel.Many {
			stages = append(stages, bson.D{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$" + inc.Relation},
				{Key: "preserveNullAndEmptyArrays", Value: true},
			}}})
		}
	}
	return stages, nil
}
