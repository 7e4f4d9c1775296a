package queryir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/repokit/internal/ir"
)

// ValidationResult contains the structural analysis of a plan.
type ValidationResult struct {
	// Valid indicates the plan can be handed to any emitter.
	Valid bool

	// Problems lists every structural defect found, in walk order.
	// Empty when Valid is true.
	Problems []string
}

// String renders the result for logs and CLI output.
func (r ValidationResult) String() string {
	if r.Valid {
		return "valid"
	}
	return "invalid: " + strings.Join(r.Problems, "; ")
}

// Err returns nil for a valid plan and an error listing the problems
// otherwise.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return errors.New("invalid query plan: " + strings.Join(r.Problems, "; "))
}

// Validate checks that a plan is well formed.
//
// Rules:
//  1. The plan has a root scope
//  2. Every condition names a field and carries a predicate
//  3. Membership predicates have at least one value
//  4. Equality predicates carry a non-null value (use IsNull instead)
//  5. Order terms name a field and use a normalised direction
//  6. Include scopes name a relation, and aliases are unique and non-empty
//
// Emitters call Validate before translating and refuse invalid plans.
// Validate is a pure function with no side effects.
func Validate(plan *Plan) ValidationResult {
	v := &validator{problems: []string{}, aliases: map[string]string{}}

	if plan == nil || plan.Root == nil {
		v.addProblem("nil root scope")
	} else {
		_ = plan.Walk(func(scope, parent *Scope) error {
			v.validateScope(scope, parent)
			return nil
		})
	}

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
	aliases  map[string]string // alias -> path that claimed it
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateScope(s, parent *Scope) {
	where := "root"
	if parent != nil {
		where = fmt.Sprintf("include %q", s.Path)
		if s.Relation == "" {
			v.addProblem("%s: empty relation", where)
		}
	}

	if s.Alias == "" {
		v.addProblem("%s: empty alias", where)
	} else if other, dup := v.aliases[s.Alias]; dup {
		v.addProblem("%s: alias %q already used by %q", where, s.Alias, other)
	} else {
		v.aliases[s.Alias] = s.Path
	}

	for i, c := range s.Conditions {
		v.validateCondition(where, i, c)
	}

	for i, o := range s.Order {
		if o.Field == "" {
			v.addProblem("%s: order[%d] has empty field", where, i)
		}
		if o.Direction != Asc && o.Direction != Desc {
			v.addProblem("%s: order[%d] has direction %q", where, i, o.Direction)
		}
	}

	for i, inc := range s.Includes {
		if inc == nil {
			v.addProblem("%s: include[%d] is nil", where, i)
		}
	}
}

func (v *validator) validateCondition(where string, i int, c Condition) {
	if c.Field == "" {
		v.addProblem("%s: condition[%d] has empty field", where, i)
	}

	switch p := c.Predicate.(type) {
	case nil:
		v.addProblem("%s: condition[%d] on %q has nil predicate", where, i, c.Field)
	case Equals:
		v.checkValue(where, c.Field, p.Value)
	case NotEquals:
		v.checkValue(where, c.Field, p.Value)
	case In:
		if len(p.Values) == 0 {
			v.addProblem("%s: %q has empty membership list", where, c.Field)
		}
	case NotIn:
		if len(p.Values) == 0 {
			v.addProblem("%s: %q has empty exclusion list", where, c.Field)
		}
	case Range, IsNull, IsNotNull, Contains:
		// always well formed
	default:
		v.addProblem("%s: unknown predicate type %T", where, p)
	}
}

func (v *validator) checkValue(where, field string, val ir.Value) {
	switch val.(type) {
	case nil, ir.Null:
		v.addProblem("%s: %q compared to null - use IsNull", where, field)
	case ir.List:
		v.addProblem("%s: %q compared to a list - use In", where, field)
	}
}
