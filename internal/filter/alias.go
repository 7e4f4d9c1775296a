package filter

import (
	"strings"

	"github.com/roach88/repokit/internal/ir"
)

// AliasFunc derives the alias of the include at position index under the
// scope identified by parentKey.
type AliasFunc func(parentKey string, index int, relation string) string

// aliasSuffixLen is the number of hex digits of the scope hash kept in an alias.
const aliasSuffixLen = 8

// DeriveAlias returns relation + "_" + a short digest of the scope position.
// The digest depends on the whole path from the root, so the same relation
// included twice, or under two parents, never shares an alias.
func DeriveAlias(parentKey string, index int, relation string) string {
	return relation + "_" + ir.ScopeHash(parentKey, index, relation)[:aliasSuffixLen]
}

// UpperAlias normalises aliases for SQL builders, which address joins by
// upper-case alias.
func UpperAlias(alias string) string {
	return strings.ToUpper(alias)
}
