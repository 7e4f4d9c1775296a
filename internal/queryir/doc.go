// Package queryir provides the canonical query plan that every repokit
// backend consumes.
//
// The plan is the abstraction boundary between the caller-facing filter
// contract and backend query engines:
//
//	[FilterContract] → [filter.Compile] → [Plan] → [SQL emitter]
//	                                             → [document pipeline]
//	                                             → [schema-first args]
//	                                             → [GORM chain]
//
// A Plan is a tree of Scopes. The root scope filters and orders the primary
// records; every include scope filters and orders the related records it
// loads and never the parent. Backends translate the tree, they never
// re-interpret the contract.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, so emitters can switch exhaustively:
//
//	switch p := cond.Predicate.(type) {
//	case Equals:
//	case NotEquals:
//	case In:
//	case NotIn:
//	case Range:
//	case IsNull:
//	case IsNotNull:
//	case Contains:
//	}
//
// Predicates carry no field name. A Condition pairs a field with one
// Predicate, and all Conditions of a scope are ANDed.
//
// CRITICAL PATTERNS:
//
// Values are ir.Value types only (no floats), so plans hash and compare
// deterministically.
//
// Ordering inside a scope follows the caller's orderBy order. Backends append
// their own identifier tiebreaker after it.
package queryir
