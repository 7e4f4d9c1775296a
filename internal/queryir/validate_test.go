package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repokit/internal/ir"
)

func TestValidate_ValidPlan(t *testing.T) {
	result := Validate(samplePlan())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Problems)
	assert.NoError(t, result.Err())
	assert.Equal(t, "valid", result.String())
}

func TestValidate_NilPlan(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "nil root")

	result = Validate(&Plan{})
	assert.False(t, result.Valid)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		problem string
	}{
		{
			name:    "empty field",
			mutate:  func(p *Plan) { p.Root.Conditions[0].Field = "" },
			problem: "empty field",
		},
		{
			name:    "nil predicate",
			mutate:  func(p *Plan) { p.Root.Conditions[0].Predicate = nil },
			problem: "nil predicate",
		},
		{
			name: "empty in",
			mutate: func(p *Plan) {
				p.Root.Conditions = append(p.Root.Conditions, Condition{Field: "x", Predicate: In{}})
			},
			problem: "empty membership list",
		},
		{
			name: "empty not in",
			mutate: func(p *Plan) {
				p.Root.Conditions = append(p.Root.Conditions, Condition{Field: "x", Predicate: NotIn{}})
			},
			problem: "empty exclusion list",
		},
		{
			name: "null equals",
			mutate: func(p *Plan) {
				p.Root.Conditions = append(p.Root.Conditions, Condition{Field: "x", Predicate: Equals{Value: ir.Null{}}})
			},
			problem: "compared to null",
		},
		{
			name: "list not equals",
			mutate: func(p *Plan) {
				p.Root.Conditions = append(p.Root.Conditions, Condition{Field: "x", Predicate: NotEquals{Value: ir.List{ir.Int(1)}}})
			},
			problem: "compared to a list",
		},
		{
			name:    "bad direction",
			mutate:  func(p *Plan) { p.Root.Order[0].Direction = "ASC" },
			problem: `direction "ASC"`,
		},
		{
			name:    "duplicate alias",
			mutate:  func(p *Plan) { p.Root.Includes[1].Alias = "OWNER_1" },
			problem: `alias "OWNER_1" already used`,
		},
		{
			name:    "empty alias",
			mutate:  func(p *Plan) { p.Root.Includes[1].Alias = "" },
			problem: "empty alias",
		},
		{
			name:    "empty relation",
			mutate:  func(p *Plan) { p.Root.Includes[0].Includes[0].Relation = "" },
			problem: "empty relation",
		},
		{
			name:    "nil include",
			mutate:  func(p *Plan) { p.Root.Includes = append(p.Root.Includes[:1], nil) },
			problem: "is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := samplePlan()
			tt.mutate(plan)

			result := Validate(plan)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Problems)
			assert.Contains(t, result.String(), tt.problem)
			assert.Error(t, result.Err())
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	plan := samplePlan()
	plan.Root.Conditions[0].Field = ""

	first := Validate(plan)
	second := Validate(plan)
	assert.Equal(t, first, second)
}
