package querysql

import (
	"strconv"
	"strings"
)

// Dialect selects the placeholder style of emitted SQL.
type Dialect string

const (
	// SQLite uses positional "?" placeholders.
	SQLite Dialect = "sqlite"

	// Postgres uses numbered "$1".."$n" placeholders.
	Postgres Dialect = "postgres"
)

// Query is emitted SQL with its bound parameters.
type Query struct {
	SQL  string
	Args []any
}

// Rebind rewrites "?" placeholders for the dialect. Question marks inside
// quoted identifiers or string literals are left alone.
func (d Dialect) Rebind(sql string) string {
	if d != Postgres || !strings.Contains(sql, "?") {
		return sql
	}

	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// quoteIdent double-quotes an identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualified renders "alias"."column".
func qualified(alias, column string) string {
	return quoteIdent(alias) + "." + quoteIdent(column)
}

// escapeLike escapes LIKE metacharacters with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
