package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
)

// Compiler emits parameterized SQL for query plans.
//
// CRITICAL: All identifiers are quoted and all values are parameterized
// (never interpolated).
// CRITICAL: Every row query ends with the root id as a deterministic
// tiebreaker, so pagination windows are stable.
//
// Thread-safety: Compiler is stateless apart from its dialect.
type Compiler struct {
	dialect Dialect
}

// NewCompiler creates a Compiler for a dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Segment describes the columns one scope contributes to a row query.
// Segments appear in walk order and their columns in select order.
type Segment struct {
	// Path is the scope path ("" for the root, "owner.pets" for nested).
	Path string

	// Parent is the parent scope path. Unused for the root.
	Parent string

	// Relation is the relation name the scope hydrates into.
	Relation string

	// Many is true for has-many relations.
	Many bool

	// Columns lists the selected columns, id first.
	Columns []string
}

// scopeInfo binds a plan scope to its table.
type scopeInfo struct {
	scope *queryir.Scope
	table *Table
	join  Join
	// parentAlias and parentPath are empty for the root.
	parentAlias string
	parentPath  string
}

// resolve pairs every scope of plan with its table, rejecting unknown
// relations and columns.
func (c *Compiler) resolve(root *Table, plan *queryir.Plan) ([]scopeInfo, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return nil, err
	}

	tables := map[*queryir.Scope]*Table{plan.Root: root}
	var infos []scopeInfo
	err := plan.Walk(func(s, parent *queryir.Scope) error {
		info := scopeInfo{scope: s, table: tables[s]}
		if parent != nil {
			parentTable := tables[parent]
			j, ok := parentTable.Relations[s.Relation]
			if !ok {
				return repoerr.InvalidFieldName(s.Path)
			}
			info.table = j.Table
			info.join = j
			info.parentAlias = parent.Alias
			info.parentPath = parent.Path
			tables[s] = j.Table
		}
		for _, cond := range s.Conditions {
			if !info.table.HasColumn(cond.Field) {
				return unknownColumn(s.Path, cond.Field)
			}
		}
		for _, o := range s.Order {
			if !info.table.HasColumn(o.Field) {
				return unknownColumn(s.Path, o.Field)
			}
		}
		infos = append(infos, info)
		return nil
	})
	return infos, err
}

func unknownColumn(path, field string) error {
	if path != "" {
		field = path + "." + field
	}
	return repoerr.InvalidFieldName(field)
}

// Count emits SELECT COUNT(*) over the root scope's conditions. Include
// scopes never change the root count.
func (c *Compiler) Count(root *Table, plan *queryir.Plan) (Query, error) {
	infos, err := c.resolve(root, plan)
	if err != nil {
		return Query{}, err
	}
	rootInfo := infos[0]

	var b strings.Builder
	var args []any
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(fromClause(rootInfo))
	args, err = writeWhere(&b, rootInfo, args)
	if err != nil {
		return Query{}, err
	}
	return c.finish(b.String(), args), nil
}

// SelectIDs emits the id page query: root ids matching the root
// conditions, in result order, windowed by LIMIT/OFFSET.
func (c *Compiler) SelectIDs(root *Table, plan *queryir.Plan, offset, limit int) (Query, error) {
	infos, err := c.resolve(root, plan)
	if err != nil {
		return Query{}, err
	}
	rootInfo := infos[0]

	var b strings.Builder
	var args []any
	b.WriteString("SELECT ")
	b.WriteString(qualified(rootInfo.scope.Alias, root.ID()))
	b.WriteString(" FROM ")
	b.WriteString(fromClause(rootInfo))
	args, err = writeWhere(&b, rootInfo, args)
	if err != nil {
		return Query{}, err
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(rootOrder(rootInfo), ", "))
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	return c.finish(b.String(), args), nil
}

// Select emits the joined row query. Every scope's columns are selected in
// walk order (see the returned segments); includes become LEFT JOINs whose ON
// clause carries the include's own conditions, so they filter the related
// rows and never the root rows.
//
// With a non-nil ids the root is restricted to those ids instead of the
// root conditions (the second step of a windowed read).
func (c *Compiler) Select(root *Table, plan *queryir.Plan, ids []any) (Query, []Segment, error) {
	infos, err := c.resolve(root, plan)
	if err != nil {
		return Query{}, nil, err
	}

	segments := make([]Segment, 0, len(infos))
	var cols []string
	for _, info := range infos {
		seg := Segment{
			Path:     info.scope.Path,
			Parent:   info.parentPath,
			Relation: info.scope.Relation,
			Many:     info.join.Many,
			Columns:  info.table.SelectColumns(),
		}
		for _, col := range seg.Columns {
			cols = append(cols, qualified(info.scope.Alias, col))
		}
		segments = append(segments, seg)
	}

	var b strings.Builder
	var args []any
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(fromClause(infos[0]))

	for _, info := range infos[1:] {
		b.WriteString(" LEFT JOIN ")
		b.WriteString(fromClause(info))
		b.WriteString(" ON ")
		b.WriteString(qualified(info.scope.Alias, info.join.ForeignKey))
		b.WriteString(" = ")
		b.WriteString(qualified(info.parentAlias, info.join.LocalKey))
		for _, cond := range info.scope.Conditions {
			clause, condArgs, err := conditionSQL(info, cond)
			if err != nil {
				return Query{}, nil, err
			}
			b.WriteString(" AND ")
			b.WriteString(clause)
			args = append(args, condArgs...)
		}
	}

	if ids != nil {
		rootInfo := infos[0]
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, rootInfo.table.idParam(id))
		}
		b.WriteString(" WHERE ")
		b.WriteString(qualified(rootInfo.scope.Alias, root.ID()))
		b.WriteString(" IN (")
		b.WriteString(strings.Join(placeholders, ", "))
		b.WriteString(")")
	} else {
		args, err = writeWhere(&b, infos[0], args)
		if err != nil {
			return Query{}, nil, err
		}
	}

	order := rootOrder(infos[0])
	for _, info := range infos[1:] {
		for _, o := range info.scope.Order {
			order = append(order, orderTerm(info.scope.Alias, o.Field, o.Direction))
		}
		order = append(order, orderTerm(info.scope.Alias, info.table.ID(), queryir.Asc))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))

	return c.finish(b.String(), args), segments, nil
}

// Insert emits INSERT ... RETURNING id. Columns are written in sorted order.
func (c *Compiler) Insert(t *Table, values map[string]any) (Query, error) {
	cols := ir.SortedKeys(values)
	if len(cols) == 0 {
		q := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quoteIdent(t.Name), quoteIdent(t.ID()))
		return c.finish(q, nil), nil
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		if !t.HasColumn(col) {
			return Query{}, unknownColumn("", col)
		}
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
		args[i] = values[col]
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteIdent(t.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		quoteIdent(t.ID()))
	return c.finish(q, args), nil
}

// Update emits UPDATE ... SET for the changed columns only.
func (c *Compiler) Update(t *Table, id any, changes map[string]any) (Query, error) {
	cols := ir.SortedKeys(changes)
	if len(cols) == 0 {
		return Query{}, fmt.Errorf("update %q: no changes", t.Name)
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		if !t.HasColumn(col) || col == t.ID() {
			return Query{}, unknownColumn("", col)
		}
		sets[i] = quoteIdent(col) + " = ?"
		args = append(args, changes[col])
	}
	args = append(args, t.idParam(id))

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(t.Name),
		strings.Join(sets, ", "),
		quoteIdent(t.ID()))
	return c.finish(q, args), nil
}

// Delete emits DELETE for one id.
func (c *Compiler) Delete(t *Table, id any) Query {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Name), quoteIdent(t.ID()))
	return c.finish(q, []any{t.idParam(id)})
}

func (c *Compiler) finish(sql string, args []any) Query {
	return Query{SQL: c.dialect.Rebind(sql), Args: args}
}

func fromClause(info scopeInfo) string {
	return quoteIdent(info.table.Name) + " AS " + quoteIdent(info.scope.Alias)
}

func writeWhere(b *strings.Builder, info scopeInfo, args []any) ([]any, error) {
	if len(info.scope.Conditions) == 0 {
		return args, nil
	}

	clauses := make([]string, 0, len(info.scope.Conditions))
	for _, cond := range info.scope.Conditions {
		clause, condArgs, err := conditionSQL(info, cond)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, condArgs...)
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(clauses, " AND "))
	return args, nil
}

// rootOrder returns the root order terms followed by the root id tiebreaker.
func rootOrder(info scopeInfo) []string {
	var terms []string
	for _, o := range info.scope.Order {
		terms = append(terms, orderTerm(info.scope.Alias, o.Field, o.Direction))
	}
	return append(terms, orderTerm(info.scope.Alias, info.table.ID(), queryir.Asc))
}

func orderTerm(alias, column string, dir queryir.Direction) string {
	return qualified(alias, column) + " " + strings.ToUpper(string(dir))
}

// conditionSQL compiles one condition to a SQL fragment.
// CRITICAL: Values are NEVER interpolated - always "?" placeholders.
func conditionSQL(info scopeInfo, cond queryir.Condition) (string, []any, error) {
	col := qualified(info.scope.Alias, cond.Field)
	param := func(v ir.Value) any {
		native := ir.Native(v)
		if cond.Field == info.table.ID() {
			return info.table.idParam(native)
		}
		return native
	}

	switch p := cond.Predicate.(type) {
	case queryir.Equals:
		return col + " = ?", []any{param(p.Value)}, nil
	case queryir.NotEquals:
		return col + " <> ?", []any{param(p.Value)}, nil
	case queryir.In:
		sql, args := membership(col, "IN", p.Values, param)
		return sql, args, nil
	case queryir.NotIn:
		sql, args := membership(col, "NOT IN", p.Values, param)
		return sql, args, nil
	case queryir.Range:
		return col + " BETWEEN ? AND ?", []any{param(ir.String(p.Lo)), param(ir.String(p.Hi))}, nil
	case queryir.IsNull:
		return col + " IS NULL", nil, nil
	case queryir.IsNotNull:
		return col + " IS NOT NULL", nil, nil
	case queryir.Contains:
		pattern := "%" + escapeLike(strings.ToLower(p.Substring)) + "%"
		return "LOWER(" + col + `) LIKE ? ESCAPE '\'`, []any{pattern}, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func membership(col, op string, values []ir.Value, param func(ir.Value) any) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = param(v)
	}
	return col + " " + op + " (" + strings.Join(placeholders, ", ") + ")", args
}
