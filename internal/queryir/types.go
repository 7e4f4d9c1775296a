package queryir

import (
	"strings"

	"github.com/roach88/repokit/internal/ir"
)

// Predicate represents a filter condition on one field.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = value
//   - NotEquals: field <> value (never produced by the parser)
//   - In / NotIn: membership
//   - Range: inclusive lo..hi
//   - IsNull / IsNotNull: absence checks
//   - Contains: case-insensitive substring match
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Equals matches records whose field equals Value.
type Equals struct {
	Value ir.Value
}

func (Equals) predicateNode() {}

// NotEquals matches records whose field differs from Value.
//
// The encoded grammar has no form for it. It exists for programmatic plans
// and every emitter supports it.
type NotEquals struct {
	Value ir.Value
}

func (NotEquals) predicateNode() {}

// In matches records whose field equals any of Values. Values is never empty
// in a valid plan.
type In struct {
	Values []ir.Value
}

func (In) predicateNode() {}

// NotIn matches records whose field equals none of Values.
type NotIn struct {
	Values []ir.Value
}

func (NotIn) predicateNode() {}

// Range matches records whose field lies between Lo and Hi, both inclusive.
//
// Bounds are the trimmed text from the encoded value. Backends compare them
// with the field's native ordering.
type Range struct {
	Lo string
	Hi string
}

func (Range) predicateNode() {}

// IsNull matches records whose field is absent or null.
type IsNull struct{}

func (IsNull) predicateNode() {}

// IsNotNull matches records whose field is present and not null.
type IsNotNull struct{}

func (IsNotNull) predicateNode() {}

// Contains matches records whose field contains Substring, ignoring case.
// Substring is the literal text with the encoded % markers removed.
type Contains struct {
	Substring string
}

func (Contains) predicateNode() {}

// Condition binds a predicate to a field.
type Condition struct {
	Field     string
	Predicate Predicate
}

// Direction is a normalised sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection normalises a caller-supplied direction. Matching ignores
// case and surrounding whitespace; anything other than asc or desc is
// rejected.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc":
		return Asc, true
	case "desc":
		return Desc, true
	default:
		return "", false
	}
}

// Order is one sort term of a scope.
type Order struct {
	Field     string
	Direction Direction
}

// Scope is one node of the plan tree.
//
// The root scope has an empty Relation and Path. Include scopes carry the
// relation name as written by the caller and the dotted Path from the root
// ("owner", "owner.pets"). Alias is the backend-normalised name emitters use
// to reference the scope; it is unique within a plan.
type Scope struct {
	Relation   string
	Path       string
	Alias      string
	Conditions []Condition
	Order      []Order
	Includes   []*Scope
}

// Prepend inserts c ahead of all existing conditions of the scope.
func (s *Scope) Prepend(c Condition) {
	s.Conditions = append([]Condition{c}, s.Conditions...)
}

// Include returns the direct include scope for relation, or nil.
func (s *Scope) Include(relation string) *Scope {
	for _, inc := range s.Includes {
		if inc.Relation == relation {
			return inc
		}
	}
	return nil
}

// Plan is a compiled, backend-neutral query.
type Plan struct {
	Root *Scope
}

// Walk visits every scope depth-first, parents before children, siblings in
// declaration order. parent is nil for the root. A non-nil error from fn
// stops the walk and is returned.
func (p *Plan) Walk(fn func(scope, parent *Scope) error) error {
	if p == nil || p.Root == nil {
		return nil
	}
	return walk(p.Root, nil, fn)
}

func walk(s, parent *Scope, fn func(scope, parent *Scope) error) error {
	if err := fn(s, parent); err != nil {
		return err
	}
	for _, inc := range s.Includes {
		if inc == nil {
			continue
		}
		if err := walk(inc, s, fn); err != nil {
			return err
		}
	}
	return nil
}
