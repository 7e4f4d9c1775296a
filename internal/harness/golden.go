package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/repokit/internal/ir"
)

// TraceSnapshot is the backend-independent part of a run: step cases, ids
// and totals. Every backend must produce the same snapshot.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []StepResult
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles plain values.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Trace))
	for i, step := range s.Trace {
		m := map[string]any{
			"step":     step.Step,
			"op":       step.Op,
			"resource": step.Resource,
			"case":     step.Case,
			"ids":      step.IDs,
		}
		if step.Total != nil {
			m["total"] = *step.Total
		}
		steps[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         steps,
	}
}

// Snapshot returns the canonical JSON of a result's trace.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden runs a scenario on each of its backends and compares every
// trace against testdata/golden/{scenario.Name}.golden. One golden file
// serves all backends.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) []*Result {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	results := make([]*Result, 0, len(scenario.Backends))
	for _, backend := range scenario.Backends {
		result, err := Run(scenario, backend)
		if err != nil {
			t.Fatalf("%s on %s: %v", scenario.Name, backend, err)
		}
		traceJSON, err := Snapshot(scenario.Name, result)
		if err != nil {
			t.Fatalf("%s on %s: snapshot: %v", scenario.Name, backend, err)
		}
		g.Assert(t, scenario.Name, traceJSON)
		results = append(results, result)
	}
	return results
}
