// Package guard enforces per-repository whitelists on untrusted contracts.
//
// Internal contracts (IsInternalRequest absent or true) bypass the guard.
// External contracts must only filter by whitelisted fields and include
// whitelisted relations. The guard runs to completion before any predicate
// is derived, so a rejected contract never produces a plan.
//
// Names inside includes are checked as dotted paths from the root: a filter
// on "name" inside the "owner" include is checked as "owner.name", and an
// include of "pets" inside "owner" is checked as "owner.pets".
package guard

import (
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repoerr"
)

// Whitelist is the static allow-list configuration of one repository.
type Whitelist struct {
	Wheres    []string `json:"wheres" mapstructure:"wheres"`
	Relations []string `json:"relations" mapstructure:"relations"`
}

// Guard checks contracts against a whitelist. It is read-only after New
// and safe for concurrent use.
type Guard struct {
	wheres    map[string]struct{}
	relations map[string]struct{}
}

// New builds a Guard from a whitelist.
func New(w Whitelist) *Guard {
	g := &Guard{
		wheres:    make(map[string]struct{}, len(w.Wheres)),
		relations: make(map[string]struct{}, len(w.Relations)),
	}
	for _, f := range w.Wheres {
		g.wheres[f] = struct{}{}
	}
	for _, r := range w.Relations {
		g.relations[r] = struct{}{}
	}
	return g
}

// Check returns nil for internal contracts. For external contracts it
// returns the first violation as FilterFieldNotAllowed or IncludeNotAllowed.
//
// Traversal mirrors compilation: includes in declaration order (each one's
// relation, then its own contract), then where keys in canonical order.
func (g *Guard) Check(c ir.FilterContract) error {
	if c.Internal() {
		return nil
	}
	return g.check(c, "")
}

func (g *Guard) check(c ir.FilterContract, prefix string) error {
	for _, inc := range c.Includes {
		path := join(prefix, inc.Relation)
		if !g.AllowsRelation(path) {
			return repoerr.IncludeNotAllowed(path)
		}
		if err := g.check(inc.FilterContract, path); err != nil {
			return err
		}
	}

	for _, field := range c.Where.Fields() {
		path := join(prefix, field)
		if !g.AllowsField(path) {
			return repoerr.FilterFieldNotAllowed(path)
		}
	}
	return nil
}

// AllowsField reports whether external contracts may filter by path.
func (g *Guard) AllowsField(path string) bool {
	_, ok := g.wheres[path]
	return ok
}

// AllowsRelation reports whether external contracts may include path.
func (g *Guard) AllowsRelation(path string) bool {
	_, ok := g.relations[path]
	return ok
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
