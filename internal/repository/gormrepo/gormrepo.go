// Package gormrepo is the active-record backend: plans become chained
// *gorm.DB calls, includes become Preload eager loads with sub-filters.
//
// The model type is a struct; repositories work with pointers to it.
// Contract fields resolve to struct fields by json tag first, then through
// the GORM naming strategy. Relation names are title-cased to find the
// struct field of the association ("pets" -> Pets).
package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

var titler = cases.Title(language.Und, cases.NoLower)

// Backend implements repository.Backend[*T] on GORM.
type Backend[T any] struct {
	db     *gorm.DB
	schema *schema.Schema
	name   string
}

// New parses T's schema with db's naming strategy.
func New[T any](db *gorm.DB) (*Backend[T], error) {
	sch, err := schema.Parse(new(T), &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("gormrepo: parse model: %w", err)
	}
	if sch.PrioritizedPrimaryField == nil {
		return nil, fmt.Errorf("gormrepo: model %s has no primary key", sch.Name)
	}
	return &Backend[T]{db: db, schema: sch, name: sch.Table}, nil
}

// NewRepository wraps a new Backend in a repository.Adapter.
func NewRepository[T any](cfg repository.Config, db *gorm.DB) (*repository.Adapter[*T], error) {
	b, err := New[T](db)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = b.name
	}
	if cfg.IDField == "" {
		cfg.IDField = fieldName(b.schema.PrioritizedPrimaryField)
	}
	return repository.NewAdapter[*T](b, cfg), nil
}

// Binding implements repository.Backend.
func (b *Backend[T]) Binding() repository.Binding[*T] {
	return binding[T]{b: b}
}

// ValidateID implements repository.Backend.
func (b *Backend[T]) ValidateID(id string) error {
	pk := b.schema.PrioritizedPrimaryField
	switch {
	case pk.DataType == schema.Int || pk.DataType == schema.Uint:
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected an integer")
		}
	case pk.FieldType == reflect.TypeOf(uuid.UUID{}):
		if _, err := uuid.Parse(id); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected a uuid")
		}
	}
	return nil
}

// Find implements repository.Backend.
func (b *Backend[T]) Find(ctx context.Context, plan *queryir.Plan, window *repository.Window) ([]*T, error) {
	tx, err := b.query(ctx, plan)
	if err != nil {
		return nil, err
	}
	tx, err = b.preload(tx, b.schema, plan.Root, "")
	if err != nil {
		return nil, err
	}
	if window != nil {
		tx = tx.Offset(window.Offset).Limit(window.Limit)
	}

	out := []*T{}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Count implements repository.Backend.
func (b *Backend[T]) Count(ctx context.Context, plan *queryir.Plan) (int64, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return 0, err
	}
	conds, err := conditions(b.db, b.schema, plan.Root.Conditions)
	if err != nil {
		return 0, err
	}

	tx := b.db.WithContext(ctx).Model(new(T))
	if len(conds) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: conds})
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Insert implements repository.Backend.
func (b *Backend[T]) Insert(ctx context.Context, payload repository.Payload) (*T, error) {
	if id, ok := payload[fieldName(b.schema.PrioritizedPrimaryField)]; ok && id != nil {
		if err := b.ValidateID(fmt.Sprint(id)); err != nil {
			return nil, err
		}
	}

	model := new(T)
	if err := b.decode(payload, model); err != nil {
		return nil, err
	}
	if err := b.db.WithContext(ctx).Omit(clause.Associations).Create(model).Error; err != nil {
		return nil, err
	}
	return model, nil
}

// Save implements repository.Backend. model already carries changes.
func (b *Backend[T]) Save(ctx context.Context, model *T, changes repository.Payload) (*T, error) {
	if len(changes) == 0 {
		return model, nil
	}
	res := b.db.WithContext(ctx).Omit(clause.Associations).Save(model)
	if res.Error != nil {
		return nil, res.Error
	}
	return model, nil
}

// Remove implements repository.Backend.
func (b *Backend[T]) Remove(ctx context.Context, model *T) error {
	res := b.db.WithContext(ctx).Delete(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repoerr.NotFound(b.name, binding[T]{b: b}.ID(model))
	}
	return nil
}

// query applies the root scope's conditions and order.
func (b *Backend[T]) query(ctx context.Context, plan *queryir.Plan) (*gorm.DB, error) {
	if err := queryir.Validate(plan).Err(); err != nil {
		return nil, err
	}
	tx := b.db.WithContext(ctx).Model(new(T))
	return scoped(b.db, b.schema, plan.Root, tx)
}

// scoped adds a scope's where clause and order, ending with the primary key.
func scoped(db *gorm.DB, sch *schema.Schema, s *queryir.Scope, tx *gorm.DB) (*gorm.DB, error) {
	conds, err := conditions(db, sch, s.Conditions)
	if err != nil {
		return nil, err
	}
	orders, err := ordering(db, sch, s)
	if err != nil {
		return nil, err
	}
	if len(conds) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: conds})
	}
	for _, o := range orders {
		tx = tx.Order(o)
	}
	return tx, nil
}

// preload registers one Preload per include, depth first. Conditions are
// compiled up front so errors surface before the query runs.
func (b *Backend[T]) preload(tx *gorm.DB, sch *schema.Schema, s *queryir.Scope, prefix string) (*gorm.DB, error) {
	for _, inc := range s.Includes {
		name := titler.String(inc.Relation)
		rel, ok := sch.Relationships.Relations[name]
		if !ok {
			return nil, repoerr.InvalidFieldName(inc.Path)
		}
		target := rel.FieldSchema

		conds, err := conditions(b.db, target, inc.Conditions)
		if err != nil {
			return nil, err
		}
		orders, err := ordering(b.db, target, inc)
		if err != nil {
			return nil, err
		}

		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		tx = tx.Preload(path, func(db *gorm.DB) *gorm.DB {
			if len(conds) > 0 {
				db = db.Clauses(clause.Where{Exprs: conds})
			}
			for _, o := range orders {
				db = db.Order(o)
			}
			return db
		})

		tx, err = b.preload(tx, target, inc, path)
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func conditions(db *gorm.DB, sch *schema.Schema, conds []queryir.Condition) ([]clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(conds))
	for _, c := range conds {
		f := lookup(db, sch, c.Field)
		if f == nil {
			return nil, repoerr.InvalidFieldName(c.Field)
		}
		e, err := expression(f, c.Predicate)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func expression(f *schema.Field, p queryir.Predicate) (clause.Expression, error) {
	col := clause.Column{Table: clause.CurrentTable, Name: f.DBName}
	value := func(v ir.Value) any {
		return coerce(f, ir.Native(v))
	}
	values := func(vs []ir.Value) []any {
		out := make([]any, len(vs))
		for i, v := range vs {
			out[i] = value(v)
		}
		return out
	}

	switch p := p.(type) {
	case queryir.Equals:
		return clause.Eq{Column: col, Value: value(p.Value)}, nil
	case queryir.NotEquals:
		return clause.Neq{Column: col, Value: value(p.Value)}, nil
	case queryir.In:
		return clause.IN{Column: col, Values: values(p.Values)}, nil
	case queryir.NotIn:
		return clause.Not(clause.IN{Column: col, Values: values(p.Values)}), nil
	case queryir.Range:
		return clause.And(
			clause.Gte{Column: col, Value: coerce(f, p.Lo)},
			clause.Lte{Column: col, Value: coerce(f, p.Hi)},
		), nil
	case queryir.IsNull:
		return clause.Eq{Column: col, Value: nil}, nil
	case queryir.IsNotNull:
		return clause.Neq{Column: col, Value: nil}, nil
	case queryir.Contains:
		return clause.Expr{
			SQL:  `LOWER(?) LIKE ? ESCAPE '\'`,
			Vars: []any{col, "%" + escapeLike(strings.ToLower(p.Substring)) + "%"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func ordering(db *gorm.DB, sch *schema.Schema, s *queryir.Scope) ([]clause.OrderByColumn, error) {
	pk := sch.PrioritizedPrimaryField
	orders := make([]clause.OrderByColumn, 0, len(s.Order)+1)
	hasPK := false
	for _, o := range s.Order {
		f := lookup(db, sch, o.Field)
		if f == nil {
			return nil, repoerr.InvalidFieldName(o.Field)
		}
		if f == pk {
			hasPK = true
		}
		orders = append(orders, clause.OrderByColumn{
			Column: clause.Column{Table: clause.CurrentTable, Name: f.DBName},
			Desc:   o.Direction == queryir.Desc,
		})
	}
	if !hasPK && pk != nil {
		orders = append(orders, clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: pk.DBName}})
	}
	return orders, nil
}

// lookup resolves a contract field: json tag, struct field or column
// name, then the naming strategy's column for it.
func lookup(db *gorm.DB, sch *schema.Schema, name string) *schema.Field {
	for _, f := range sch.Fields {
		if f.DBName != "" && jsonName(f) == name {
			return f
		}
	}
	if f := sch.LookUpField(name); f != nil && f.DBName != "" {
		return f
	}
	if f := sch.LookUpField(db.NamingStrategy.ColumnName("", name)); f != nil && f.DBName != "" {
		return f
	}
	return nil
}

func jsonName(f *schema.Field) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// fieldName is the contract name of a field.
func fieldName(f *schema.Field) string {
	if name := jsonName(f); name != "" {
		return name
	}
	return f.DBName
}

// coerce converts textual values for integer columns.
func coerce(f *schema.Field, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch f.DataType {
	case schema.Int, schema.Uint:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	return v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// decode writes payload fields into model through json tags. Relation keys
// are skipped; any other unknown key is an invalid field.
func (b *Backend[T]) decode(payload repository.Payload, model *T) error {
	input := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, isRelation := b.schema.Relationships.Relations[titler.String(k)]; isRelation {
			continue
		}
		input[k] = v
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Metadata:   &md,
		Result:     model,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if len(md.Unused) > 0 {
		unused := append([]string(nil), md.Unused...)
		sort.Strings(unused)
		return repoerr.InvalidFieldName(unused[0])
	}
	return nil
}

// binding implements repository.Binding[*T].
type binding[T any] struct {
	b *Backend[T]
}

func (bd binding[T]) ID(model *T) string {
	if model == nil {
		return ""
	}
	v, zero := bd.b.schema.PrioritizedPrimaryField.ValueOf(context.Background(), reflect.ValueOf(model).Elem())
	if zero {
		return ""
	}
	return fmt.Sprint(v)
}

func (bd binding[T]) Field(model *T, name string) (any, bool) {
	if model == nil {
		return nil, false
	}
	f := lookup(bd.b.db, bd.b.schema, name)
	if f == nil {
		return nil, false
	}
	v, _ := f.ValueOf(context.Background(), reflect.ValueOf(model).Elem())
	return v, true
}

func (bd binding[T]) Merge(model *T, changes repository.Payload) (*T, error) {
	if model == nil {
		return nil, errors.New("merge into nil model")
	}
	merged := new(T)
	*merged = *model
	if err := bd.b.decode(changes, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
