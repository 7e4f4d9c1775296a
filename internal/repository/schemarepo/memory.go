package schemarepo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// MemoryStore holds the tables of every model served by MemoryDelegates.
// It evaluates Args the way a schema-first client would.
//
// Thread-safety: MemoryStore is safe for concurrent use via internal mutex.
// Records handed out are copies.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]repository.Record
	serial map[string]int64
	newID  func() string
}

// NewMemoryStore creates an empty store. String and uuid ids default to
// UUIDv7s.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: map[string][]repository.Record{},
		serial: map[string]int64{},
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// WithIDs replaces the generator of string and uuid ids.
func (s *MemoryStore) WithIDs(fn func() string) *MemoryStore {
	s.newID = fn
	return s
}

// Delegate returns the delegate of one model.
func (s *MemoryStore) Delegate(schema *Schema) *MemoryDelegate {
	return &MemoryDelegate{store: s, schema: schema}
}

// MemoryDelegate is an in-memory Delegate.
type MemoryDelegate struct {
	store  *MemoryStore
	schema *Schema
}

var _ Delegate = (*MemoryDelegate)(nil)

// FindFirst implements Delegate.
func (d *MemoryDelegate) FindFirst(ctx context.Context, args Args) (repository.Record, error) {
	one := 1
	args.Take = &one
	recs, err := d.FindMany(ctx, args)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindMany implements Delegate.
func (d *MemoryDelegate) FindMany(_ context.Context, args Args) ([]repository.Record, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()
	return d.store.find(d.schema, d.store.tables[d.schema.Name], args), nil
}

// Count implements Delegate.
func (d *MemoryDelegate) Count(_ context.Context, where Where) (int64, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	var n int64
	for _, rec := range d.store.tables[d.schema.Name] {
		if matches(rec, where) {
			n++
		}
	}
	return n, nil
}

// Create implements Delegate.
func (d *MemoryDelegate) Create(_ context.Context, data map[string]any) (repository.Record, error) {
	s := d.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := make(repository.Record, len(data)+1)
	for k, v := range data {
		rec[k] = v
	}

	idField := d.schema.ID()
	id, ok := rec[idField]
	switch {
	case ok && id != nil:
		rec[idField] = d.schema.idValue(id)
		if d.schema.Format() == IDInt {
			if n, isInt := rec[idField].(int64); isInt && n > s.serial[d.schema.Name] {
				s.serial[d.schema.Name] = n
			}
		}
	case d.schema.Format() == IDInt:
		s.serial[d.schema.Name]++
		rec[idField] = s.serial[d.schema.Name]
	default:
		rec[idField] = s.newID()
	}

	for _, existing := range s.tables[d.schema.Name] {
		if equal(existing[idField], rec[idField]) {
			return nil, fmt.Errorf("%s: unique constraint failed on %s = %v", d.schema.Name, idField, rec[idField])
		}
	}

	s.tables[d.schema.Name] = append(s.tables[d.schema.Name], rec)
	return copyRecord(rec), nil
}

// Update implements Delegate.
func (d *MemoryDelegate) Update(_ context.Context, where Where, data map[string]any) (repository.Record, error) {
	s := d.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.tables[d.schema.Name] {
		if !matches(rec, where) {
			continue
		}
		for k, v := range data {
			if k == d.schema.ID() {
				continue
			}
			rec[k] = v
		}
		return copyRecord(rec), nil
	}
	return nil, repoerr.NotFound(d.schema.Name, whereID(d.schema, where))
}

// Delete implements Delegate.
func (d *MemoryDelegate) Delete(_ context.Context, where Where) (repository.Record, error) {
	s := d.store
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.tables[d.schema.Name]
	for i, rec := range table {
		if !matches(rec, where) {
			continue
		}
		s.tables[d.schema.Name] = append(table[:i:i], table[i+1:]...)
		return copyRecord(rec), nil
	}
	return nil, repoerr.NotFound(d.schema.Name, whereID(d.schema, where))
}

func whereID(s *Schema, where Where) string {
	if id, ok := where[s.ID()]; ok {
		return fmt.Sprint(id)
	}
	return ""
}

// find filters, orders, windows and populates rows. Callers hold the read
// lock.
func (s *MemoryStore) find(schema *Schema, rows []repository.Record, args Args) []repository.Record {
	matched := make([]repository.Record, 0, len(rows))
	for _, rec := range rows {
		if matches(rec, args.Where) {
			matched = append(matched, rec)
		}
	}

	sortRecords(matched, args.OrderBy)

	if args.Skip != nil {
		if *args.Skip >= len(matched) {
			matched = matched[:0]
		} else if *args.Skip > 0 {
			matched = matched[*args.Skip:]
		}
	}
	if args.Take != nil && *args.Take >= 0 && *args.Take < len(matched) {
		matched = matched[:*args.Take]
	}

	out := make([]repository.Record, len(matched))
	for i, rec := range matched {
		out[i] = s.populate(schema, copyRecord(rec), args.Include)
	}
	return out
}

func (s *MemoryStore) populate(schema *Schema, rec repository.Record, include map[string]any) repository.Record {
	for name, spec := range include {
		rel, ok := schema.Relations[name]
		if !ok {
			continue
		}

		var nested Args
		if a, ok := spec.(Args); ok {
			nested = a
		}
		nested.Skip, nested.Take = nil, nil

		related := make([]repository.Record, 0)
		for _, other := range s.tables[rel.Schema.Name] {
			if other[rel.ForeignField] != nil && equal(other[rel.ForeignField], rec[rel.LocalField]) {
				related = append(related, other)
			}
		}
		found := s.find(rel.Schema, related, nested)

		if rel.Many {
			rec[name] = found
		} else if len(found) > 0 {
			rec[name] = found[0]
		} else {
			rec[name] = nil
		}
	}
	return rec
}

// matches evaluates a where object against a record.
func matches(rec repository.Record, where Where) bool {
	for field, cond := range where {
		if field == "AND" {
			parts, _ := cond.([]any)
			for _, p := range parts {
				sub, _ := p.(Where)
				if !matches(rec, sub) {
					return false
				}
			}
			continue
		}
		if !matchField(rec[field], cond) {
			return false
		}
	}
	return true
}

func matchField(v, cond any) bool {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		if cond == nil {
			return v == nil
		}
		return equal(v, cond)
	}

	for op, arg := range ops {
		switch op {
		case "not":
			if arg == nil {
				if v == nil {
					return false
				}
			} else if v == nil || equal(v, arg) {
				return false
			}
		case "in":
			if !contains(arg, v) {
				return false
			}
		case "notIn":
			if v == nil || contains(arg, v) {
				return false
			}
		case "gte":
			if c, ok := compare(v, arg); !ok || c < 0 {
				return false
			}
		case "lte":
			if c, ok := compare(v, arg); !ok || c > 0 {
				return false
			}
		case "contains":
			str, ok := v.(string)
			sub, _ := arg.(string)
			if !ok {
				return false
			}
			if ops["mode"] == "insensitive" {
				str, sub = strings.ToLower(str), strings.ToLower(sub)
			}
			if !strings.Contains(str, sub) {
				return false
			}
		case "mode":
		default:
			return false
		}
	}
	return true
}

func contains(list, v any) bool {
	items, _ := list.([]any)
	for _, item := range items {
		if v != nil && equal(v, item) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two values. Numbers compare numerically (numeric strings
// count as numbers against numbers), times chronologically and everything
// else by text.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

// sortRecords orders rows stably by orderBy; nulls sort first ascending.
func sortRecords(rows []repository.Record, orderBy []map[string]string) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range orderBy {
			for field, dir := range term {
				c := compareNullable(rows[i][field], rows[j][field])
				if c == 0 {
					continue
				}
				if dir == "desc" {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compare(a, b)
	return c
}

func copyRecord(r repository.Record) repository.Record {
	out := make(repository.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
