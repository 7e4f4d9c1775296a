package queryir

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repokit/internal/ir"
)

func samplePlan() *Plan {
	return &Plan{Root: &Scope{
		Alias: "pets",
		Conditions: []Condition{
			{Field: "name", Predicate: Contains{Substring: "rex"}},
			{Field: "age", Predicate: Range{Lo: "1", Hi: "5"}},
		},
		Order: []Order{{Field: "name", Direction: Desc}},
		Includes: []*Scope{
			{
				Relation: "owner",
				Path:     "owner",
				Alias:    "OWNER_1",
				Conditions: []Condition{
					{Field: "active", Predicate: Equals{Value: ir.Bool(true)}},
				},
				Includes: []*Scope{
					{Relation: "address", Path: "owner.address", Alias: "ADDRESS_1"},
				},
			},
			{Relation: "tags", Path: "tags", Alias: "TAGS_1"},
		},
	}}
}

func TestPredicate_Sealed(t *testing.T) {
	preds := []Predicate{
		Equals{Value: ir.String("a")},
		NotEquals{Value: ir.String("a")},
		In{Values: []ir.Value{ir.String("a")}},
		NotIn{Values: []ir.Value{ir.String("a")}},
		Range{Lo: "1", Hi: "2"},
		IsNull{},
		IsNotNull{},
		Contains{Substring: "a"},
	}

	for _, p := range preds {
		switch p.(type) {
		case Equals, NotEquals, In, NotIn, Range, IsNull, IsNotNull, Contains:
		default:
			t.Fatalf("unexpected predicate type %T", p)
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input string
		want  Direction
		ok    bool
	}{
		{"asc", Asc, true},
		{"ASC", Asc, true},
		{"Desc", Desc, true},
		{" desc ", Desc, true},
		{"ascending", "", false},
		{"", "", false},
		{"up", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDirection(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScope_Prepend(t *testing.T) {
	s := &Scope{Conditions: []Condition{{Field: "b", Predicate: IsNull{}}}}
	s.Prepend(Condition{Field: "id", Predicate: Equals{Value: ir.Int(1)}})

	require.Len(t, s.Conditions, 2)
	assert.Equal(t, "id", s.Conditions[0].Field)
	assert.Equal(t, "b", s.Conditions[1].Field)
}

func TestScope_Include(t *testing.T) {
	plan := samplePlan()
	require.NotNil(t, plan.Root.Include("owner"))
	assert.Equal(t, "OWNER_1", plan.Root.Include("owner").Alias)
	assert.Nil(t, plan.Root.Include("missing"))
}

func TestPlan_WalkOrder(t *testing.T) {
	var paths []string
	var parents []string
	err := samplePlan().Walk(func(scope, parent *Scope) error {
		paths = append(paths, scope.Path)
		if parent == nil {
			parents = append(parents, "<nil>")
		} else {
			parents = append(parents, parent.Alias)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "owner", "owner.address", "tags"}, paths)
	assert.Equal(t, []string{"<nil>", "pets", "OWNER_1", "pets"}, parents)
}

func TestPlan_WalkStopsOnError(t *testing.T) {
	stop := errors.New("stop")
	visited := 0
	err := samplePlan().Walk(func(scope, parent *Scope) error {
		visited++
		if scope.Path == "owner" {
			return stop
		}
		return nil
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, visited)
}

func TestPlan_WalkNil(t *testing.T) {
	var p *Plan
	assert.NoError(t, p.Walk(func(scope, parent *Scope) error { return errors.New("never") }))
}

func TestShape_IgnoresAliases(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.Root.Alias = "other"
	b.Root.Includes[0].Alias = "X"

	shapeA, err := Shape(a)
	require.NoError(t, err)
	shapeB, err := Shape(b)
	require.NoError(t, err)

	assert.Equal(t, string(shapeA), string(shapeB))
	assert.NotContains(t, string(shapeA), "OWNER_1")

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestShape_DetectsDifferences(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.Root.Order[0].Direction = Asc

	shapeA, err := Shape(a)
	require.NoError(t, err)
	shapeB, err := Shape(b)
	require.NoError(t, err)
	assert.NotEqual(t, string(shapeA), string(shapeB))
}

func TestShape_SingleScope(t *testing.T) {
	plan := &Plan{Root: &Scope{
		Alias:      "users",
		Conditions: []Condition{{Field: "id", Predicate: In{Values: []ir.Value{ir.Int(1), ir.String("2")}}}},
	}}

	shape, err := Shape(plan)
	require.NoError(t, err)
	assert.Equal(t,
		`{"conditions":[{"field":"id","op":"in","values":[1,"2"]}],"includes":[],"order":[],"path":"","relation":""}`,
		string(shape))
}

func TestPlan_MarshalJSONIncludesAliases(t *testing.T) {
	data, err := json.Marshal(samplePlan())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pets", decoded["alias"])

	includes, ok := decoded["includes"].([]any)
	require.True(t, ok)
	require.Len(t, includes, 2)
	assert.Equal(t, "OWNER_1", includes[0].(map[string]any)["alias"])
}

func TestPredicateMap(t *testing.T) {
	assert.Equal(t, map[string]any{"op": "isNull"}, PredicateMap(IsNull{}))
	assert.Equal(t, map[string]any{"op": "range", "lo": "a", "hi": "b"}, PredicateMap(Range{Lo: "a", Hi: "b"}))
	assert.Equal(t, map[string]any{"op": "notEquals", "value": ir.String("x")}, PredicateMap(NotEquals{Value: ir.String("x")}))
}
