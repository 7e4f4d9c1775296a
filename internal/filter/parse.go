package filter

import (
	"strings"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
)

// Encoded grammar tokens.
const (
	tokenNull     = "null"
	tokenNotNull  = "!null"
	tokenRange    = "->"
	tokenList     = ","
	tokenNegate   = "!"
	tokenContains = "%"
)

// ParseValue turns one encoded where value into a predicate.
//
// The first matching rule wins:
//  1. a sequence is membership (In)
//  2. "null" is IsNull, "!null" is IsNotNull
//  3. text containing "->" is an inclusive Range split on the first "->"
//  4. text containing "," is In, or NotIn when the first token starts with "!"
//  5. text containing "%" is a case-insensitive Contains
//  6. anything else is Equals
//
// Empty text, null, empty sequences and empty range bounds fail with
// InvalidFilterValue. field is only used for error reporting.
func ParseValue(field string, v ir.Value) (queryir.Predicate, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return nil, repoerr.InvalidFilterValue(field, `value is null; use the string "null" to match missing values`)
	case ir.List:
		return parseList(field, val)
	case ir.String:
		return parseString(field, string(val))
	case ir.Int, ir.Bool:
		return queryir.Equals{Value: val}, nil
	default:
		return nil, repoerr.InvalidFilterValue(field, "unsupported value")
	}
}

func parseList(field string, list ir.List) (queryir.Predicate, error) {
	if len(list) == 0 {
		return nil, repoerr.InvalidFilterValue(field, "membership list is empty")
	}

	values := make([]ir.Value, 0, len(list))
	for _, elem := range list {
		switch elem.(type) {
		case nil, ir.Null:
			return nil, repoerr.InvalidFilterValue(field, "membership list contains null")
		case ir.List:
			return nil, repoerr.InvalidFilterValue(field, "membership list contains a list")
		}
		values = append(values, elem)
	}
	return queryir.In{Values: values}, nil
}

func parseString(field, s string) (queryir.Predicate, error) {
	if s == "" {
		return nil, repoerr.InvalidFilterValue(field, "value is empty")
	}

	switch s {
	case tokenNull:
		return queryir.IsNull{}, nil
	case tokenNotNull:
		return queryir.IsNotNull{}, nil
	}

	if lo, hi, ok := strings.Cut(s, tokenRange); ok {
		lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
		if lo == "" || hi == "" {
			return nil, repoerr.InvalidFilterValue(field, "range needs both bounds")
		}
		return queryir.Range{Lo: lo, Hi: hi}, nil
	}

	if strings.Contains(s, tokenList) {
		return parseMembership(field, s)
	}

	if strings.Contains(s, tokenContains) {
		sub := strings.ReplaceAll(s, tokenContains, "")
		if sub == "" {
			return nil, repoerr.InvalidFilterValue(field, "contains needs a substring")
		}
		return queryir.Contains{Substring: sub}, nil
	}

	return queryir.Equals{Value: ir.String(s)}, nil
}

// parseMembership splits a comma list. Tokens are trimmed and empty tokens
// dropped, so "a,,b," is In(a, b). A "!" on the first trimmed token makes
// the list NotIn.
func parseMembership(field, s string) (queryir.Predicate, error) {
	var (
		values []ir.Value
		negate bool
	)
	for i, tok := range strings.Split(s, tokenList) {
		tok = strings.TrimSpace(tok)
		if i == 0 && strings.HasPrefix(tok, tokenNegate) {
			negate = true
			tok = strings.TrimSpace(strings.TrimPrefix(tok, tokenNegate))
		}
		if tok == "" {
			continue
		}
		values = append(values, ir.String(tok))
	}
	if len(values) == 0 {
		return nil, repoerr.InvalidFilterValue(field, "membership list is empty")
	}

	if negate {
		return queryir.NotIn{Values: values}, nil
	}
	return queryir.In{Values: values}, nil
}
