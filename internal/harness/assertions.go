package harness

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/repokit/internal/repository"
)

// AssertionError is returned when an expectation fails.
type AssertionError struct {
	Type     string // what was checked
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion against the harness state and
// returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertCount:
			err = h.assertCount(ctx, a)
		case AssertContains:
			err = h.assertContains(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) records(ctx context.Context, a Assertion) ([]repository.Record, error) {
	repo, err := h.repo(a.Resource)
	if err != nil {
		return nil, err
	}
	page, err := repo.GetAll(ctx, nil, a.Contract)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (h *Harness) assertCount(ctx context.Context, a Assertion) error {
	rows, err := h.records(ctx, a)
	if err != nil {
		return err
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s record(s)", a.Count, a.Resource),
			Actual:   fmt.Sprintf("%d", len(rows)),
		}
	}
	return nil
}

func (h *Harness) assertContains(ctx context.Context, a Assertion) error {
	rows, err := h.records(ctx, a)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if matchRecord(row, a.Expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertContains,
		Expected: fmt.Sprintf("%s record matching %v", a.Resource, a.Expect),
		Actual:   fmt.Sprintf("%d record(s), none matching", len(rows)),
	}
}

// matchRecord reports whether every expected field is present in rec with
// an equal value. Extra fields in rec are ignored.
func matchRecord(rec repository.Record, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	if rec == nil {
		return false
	}
	for key, want := range expected {
		got, ok := rec[key]
		if !ok {
			// Backends that only store set fields omit nulls.
			if want == nil {
				continue
			}
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares values across backends: integers of any width
// compare by value, and a time compares equal to its RFC 3339 text.
func valuesEqual(actual, expected any) bool {
	a, e := normalize(actual), normalize(expected)
	if a == nil || e == nil {
		return a == nil && e == nil
	}

	if at, ok := a.(time.Time); ok {
		return sameTime(at, e)
	}
	if et, ok := e.(time.Time); ok {
		return sameTime(et, a)
	}

	as, aok := a.([]any)
	es, eok := e.([]any)
	if aok && eok {
		if len(as) != len(es) {
			return false
		}
		for i := range as {
			if !valuesEqual(as[i], es[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, e)
}

func sameTime(t time.Time, other any) bool {
	switch o := other.(type) {
	case time.Time:
		return t.Equal(o)
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, o)
		return err == nil && t.Equal(parsed)
	}
	return false
}

// normalize widens integers to int64 and converts typed slices so values
// decoded from YAML compare with values read from storage.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}
