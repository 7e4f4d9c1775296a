// Package schemarepo is the schema-first ORM backend. Plans become
// structured query arguments (where / orderBy / include / skip / take)
// handed to a model Delegate.
package schemarepo

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
)

// Where is a structured filter. Keys are field names or "AND"; values are
// plain values (equality), nil (is null) or operator objects:
//
//	{"not": v} {"in": [...]} {"notIn": [...]} {"gte": lo, "lte": hi}
//	{"contains": s, "mode": "insensitive"}
type Where map[string]any

// Args are the arguments of findFirst / findMany.
type Args struct {
	Where   Where               `json:"where,omitempty"`
	OrderBy []map[string]string `json:"orderBy,omitempty"`
	Include map[string]any      `json:"include,omitempty"`
	Skip    *int                `json:"skip,omitempty"`
	Take    *int                `json:"take,omitempty"`
}

// IDFormat constrains the ids of a model.
type IDFormat string

const (
	// IDString accepts any non-empty id; new ids come from the delegate.
	IDString IDFormat = "string"

	// IDInt requires base-10 integer ids.
	IDInt IDFormat = "int"

	// IDUUID requires uuids.
	IDUUID IDFormat = "uuid"
)

// Schema describes one model.
type Schema struct {
	// Name is the model name.
	Name string

	// IDField defaults to "id".
	IDField string

	// IDFormat defaults to IDString.
	IDFormat IDFormat

	// Relations maps relation names to related models.
	Relations map[string]Relation
}

// Relation links a related model:
//
//	related.ForeignField = model.LocalField
type Relation struct {
	Schema       *Schema
	LocalField   string
	ForeignField string
	Many         bool
}

// ID returns the id field.
func (s *Schema) ID() string {
	if s.IDField == "" {
		return "id"
	}
	return s.IDField
}

// Format returns the id format, defaulting to IDString.
func (s *Schema) Format() IDFormat {
	if s.IDFormat == "" {
		return IDString
	}
	return s.IDFormat
}

// ValidateID checks id against the id format.
func (s *Schema) ValidateID(id string) error {
	switch s.Format() {
	case IDInt:
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected an integer")
		}
	case IDUUID:
		if _, err := uuid.Parse(id); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected a uuid")
		}
	}
	return nil
}

// idValue converts a textual id to the id field's type.
func (s *Schema) idValue(v any) any {
	str, ok := v.(string)
	if !ok || s.Format() != IDInt {
		return v
	}
	if i, err := strconv.ParseInt(str, 10, 64); err == nil {
		return i
	}
	return v
}

// Emit translates a plan into findMany arguments (without skip/take).
func Emit(s *Schema, plan *queryir.Plan) (Args, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return Args{}, err
	}
	return emitScope(s, plan.Root)
}

func emitScope(s *Schema, scope *queryir.Scope) (Args, error) {
	where, err := emitWhere(s, scope.Conditions)
	if err != nil {
		return Args{}, err
	}
	args := Args{Where: where, OrderBy: emitOrder(s, scope.Order)}

	for _, inc := range scope.Includes {
		rel, ok := s.Relations[inc.Relation]
		if !ok {
			return Args{}, repoerr.InvalidFieldName(inc.Path)
		}
		if args.Include == nil {
			args.Include = map[string]any{}
		}
		if len(inc.Conditions) == 0 && len(inc.Order) == 0 && len(inc.Includes) == 0 {
			args.Include[inc.Relation] = true
			continue
		}
		nested, err := emitScope(rel.Schema, inc)
		if err != nil {
			return Args{}, err
		}
		args.Include[inc.Relation] = nested
	}
	return args, nil
}

// emitWhere builds the where object. A field named twice (the prepended id
// and a caller filter on id) moves every condition under AND.
func emitWhere(s *Schema, conds []queryir.Condition) (Where, error) {
	if len(conds) == 0 {
		return nil, nil
	}

	type entry struct {
		field string
		value any
	}
	entries := make([]entry, 0, len(conds))
	seen := make(map[string]bool, len(conds))
	repeated := false
	for _, c := range conds {
		v, err := emitPredicate(s, c.Field, c.Predicate)
		if err != nil {
			return nil, err
		}
		if seen[c.Field] {
			repeated = true
		}
		seen[c.Field] = true
		entries = append(entries, entry{c.Field, v})
	}

	if repeated {
		and := make([]any, len(entries))
		for i, e := range entries {
			and[i] = Where{e.field: e.value}
		}
		return Where{"AND": and}, nil
	}
	where := make(Where, len(entries))
	for _, e := range entries {
		where[e.field] = e.value
	}
	return where, nil
}

func emitPredicate(s *Schema, field string, p queryir.Predicate) (any, error) {
	value := func(v ir.Value) any {
		n := ir.Native(v)
		if field == s.ID() {
			return s.idValue(n)
		}
		return n
	}
	values := func(vs []ir.Value) []any {
		out := make([]any, len(vs))
		for i, v := range vs {
			out[i] = value(v)
		}
		return out
	}

	switch p := p.(type) {
	case queryir.Equals:
		return value(p.Value), nil
	case queryir.NotEquals:
		return map[string]any{"not": value(p.Value)}, nil
	case queryir.In:
		return map[string]any{"in": values(p.Values)}, nil
	case queryir.NotIn:
		return map[string]any{"notIn": values(p.Values)}, nil
	case queryir.Range:
		return map[string]any{"gte": p.Lo, "lte": p.Hi}, nil
	case queryir.IsNull:
		return nil, nil
	case queryir.IsNotNull:
		return map[string]any{"not": nil}, nil
	case queryir.Contains:
		return map[string]any{"contains": p.Substring, "mode": "insensitive"}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// emitOrder lists the order terms followed by the id ascending.
func emitOrder(s *Schema, order []queryir.Order) []map[string]string {
	out := make([]map[string]string, 0, len(order)+1)
	hasID := false
	for _, o := range order {
		if o.Field == s.ID() {
			hasID = true
		}
		out = append(out, map[string]string{o.Field: string(o.Direction)})
	}
	if !hasID {
		out = append(out, map[string]string{s.ID(): string(queryir.Asc)})
	}
	return out
}
