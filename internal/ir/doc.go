// Package ir provides the caller-facing contract types for repokit.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere. Non-integral numbers travel as decimal text.
//   - JSON tags use the camelCase names callers already send
//     (where, orderBy, includes, isInternalRequest)
//   - Map iteration is always in canonical key order (SortedKeys)
package ir
