package queryir

import (
	"encoding/json"

	"github.com/roach88/repokit/internal/ir"
)

// Shape returns the canonical JSON of a plan without aliases.
//
// Two compilations of the same contract always have the same shape, even
// when alias derivation differs, so Shape is the basis for idempotence
// checks and plan fingerprints.
func Shape(plan *Plan) ([]byte, error) {
	if plan == nil || plan.Root == nil {
		return ir.MarshalCanonical(map[string]any{})
	}
	return ir.MarshalCanonical(scopeMap(plan.Root, false))
}

// Fingerprint returns the domain-separated hash of a plan's shape.
func Fingerprint(plan *Plan) (string, error) {
	shape, err := Shape(plan)
	if err != nil {
		return "", err
	}
	return ir.ShapeHash(shape), nil
}

// MarshalJSON renders the plan with aliases, for CLI output and debug logs.
func (p *Plan) MarshalJSON() ([]byte, error) {
	if p == nil || p.Root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(scopeMap(p.Root, true))
}

func scopeMap(s *Scope, withAlias bool) map[string]any {
	conds := make([]any, len(s.Conditions))
	for i, c := range s.Conditions {
		m := PredicateMap(c.Predicate)
		m["field"] = c.Field
		conds[i] = m
	}

	order := make([]any, len(s.Order))
	for i, o := range s.Order {
		order[i] = map[string]any{"field": o.Field, "direction": string(o.Direction)}
	}

	includes := make([]any, 0, len(s.Includes))
	for _, inc := range s.Includes {
		if inc != nil {
			includes = append(includes, scopeMap(inc, withAlias))
		}
	}

	m := map[string]any{
		"relation":   s.Relation,
		"path":       s.Path,
		"conditions": conds,
		"order":      order,
		"includes":   includes,
	}
	if withAlias {
		m["alias"] = s.Alias
	}
	return m
}

// PredicateMap describes a predicate as a plain map with an "op" key.
func PredicateMap(p Predicate) map[string]any {
	switch pred := p.(type) {
	case Equals:
		return map[string]any{"op": "equals", "value": valueOrNull(pred.Value)}
	case NotEquals:
		return map[string]any{"op": "notEquals", "value": valueOrNull(pred.Value)}
	case In:
		return map[string]any{"op": "in", "values": listOf(pred.Values)}
	case NotIn:
		return map[string]any{"op": "notIn", "values": listOf(pred.Values)}
	case Range:
		return map[string]any{"op": "range", "lo": pred.Lo, "hi": pred.Hi}
	case IsNull:
		return map[string]any{"op": "isNull"}
	case IsNotNull:
		return map[string]any{"op": "isNotNull"}
	case Contains:
		return map[string]any{"op": "contains", "substring": pred.Substring}
	default:
		return map[string]any{"op": "unknown"}
	}
}

func valueOrNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}

func listOf(values []ir.Value) ir.List {
	out := make(ir.List, len(values))
	copy(out, values)
	return out
}
