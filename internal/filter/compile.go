// Package filter compiles caller filter contracts into query plans.
//
// Compilation runs in a fixed order for every scope: includes first (so
// their aliases exist before anything references them), then where, then
// orderBy. External contracts pass the whitelist guard before any of it.
package filter

import (
	"regexp"

	"github.com/roach88/repokit/internal/guard"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
)

var (
	fieldPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	relationPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Options configures a Compiler.
type Options struct {
	// RootAlias names the root scope. Defaults to "root".
	RootAlias string

	// Alias derives the raw alias of an include scope. Defaults to DeriveAlias.
	Alias AliasFunc

	// Normalize adapts aliases to the backend's identifier rules.
	// Defaults to leaving them unchanged.
	Normalize func(string) string
}

// Compiler turns FilterContracts into Plans. It holds only read-only
// configuration and is safe for concurrent use.
type Compiler struct {
	guard *guard.Guard
	opts  Options
}

// NewCompiler creates a Compiler. A nil guard is an empty whitelist.
func NewCompiler(g *guard.Guard, opts Options) *Compiler {
	if opts.RootAlias == "" {
		opts.RootAlias = "root"
	}
	if opts.Alias == nil {
		opts.Alias = DeriveAlias
	}
	if opts.Normalize == nil {
		opts.Normalize = func(s string) string { return s }
	}
	if g == nil {
		g = guard.New(guard.Whitelist{})
	}
	return &Compiler{guard: g, opts: opts}
}

// Compile produces the plan for c.
//
// Errors:
//   - FilterFieldNotAllowed / IncludeNotAllowed from the guard (external only)
//   - InvalidFieldName for names that are not identifier paths
//   - InvalidFilterValue for unusable encoded values
//   - InvalidOrderDirection for directions other than asc/desc
func (c *Compiler) Compile(contract ir.FilterContract) (*queryir.Plan, error) {
	if err := c.guard.Check(contract); err != nil {
		return nil, err
	}

	root := &queryir.Scope{Alias: c.opts.Normalize(c.opts.RootAlias)}
	if err := c.compileScope(root, contract, ""); err != nil {
		return nil, err
	}

	plan := &queryir.Plan{Root: root}
	if err := queryir.Validate(plan).Err(); err != nil {
		return nil, err
	}
	return plan, nil
}

// compileScope fills s from contract. key is the scope key of s ("" for the
// root) and seeds the aliases of its includes.
func (c *Compiler) compileScope(s *queryir.Scope, contract ir.FilterContract, key string) error {
	for i, inc := range contract.Includes {
		if !relationPattern.MatchString(inc.Relation) {
			return repoerr.InvalidFieldName(inc.Relation)
		}
		child := &queryir.Scope{
			Relation: inc.Relation,
			Path:     joinPath(s.Path, inc.Relation),
			Alias:    c.opts.Normalize(c.opts.Alias(key, i, inc.Relation)),
		}
		if err := c.compileScope(child, inc.FilterContract, ir.ScopeKey(key, i, inc.Relation)); err != nil {
			return err
		}
		s.Includes = append(s.Includes, child)
	}

	for _, field := range contract.Where.Fields() {
		if !fieldPattern.MatchString(field) {
			return repoerr.InvalidFieldName(field)
		}
		pred, err := ParseValue(joinPath(s.Path, field), contract.Where[field])
		if err != nil {
			return err
		}
		s.Conditions = append(s.Conditions, queryir.Condition{Field: field, Predicate: pred})
	}

	for _, term := range contract.OrderBy {
		if !fieldPattern.MatchString(term.Field) {
			return repoerr.InvalidFieldName(term.Field)
		}
		dir, ok := queryir.ParseDirection(term.Direction)
		if !ok {
			return repoerr.InvalidOrderDirection(joinPath(s.Path, term.Field), term.Direction)
		}
		s.Order = append(s.Order, queryir.Order{Field: term.Field, Direction: dir})
	}
	return nil
}

// ValidField reports whether name is an identifier path usable as a field.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
