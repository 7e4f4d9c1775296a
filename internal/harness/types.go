package harness

import "github.com/roach88/repokit/internal/repository"

// CaseOK is the case of a step that returned no error.
const CaseOK = "ok"

// StepResult is the observable outcome of one step.
type StepResult struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	Resource string `json:"resource"`

	// Case is CaseOK or the repository error code.
	Case string `json:"case"`

	// IDs of the returned records, in order. Empty for a getOne miss.
	IDs []any `json:"ids"`

	// Total is set for getAll: the page total when paginated, the row
	// count otherwise.
	Total *int64 `json:"total,omitempty"`

	// Records are the returned records. Not part of the golden trace:
	// field sets differ between backends.
	Records []repository.Record `json:"-"`
}

// Result is the outcome of a scenario run on one backend.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Backend string       `json:"backend"`
	Trace   []StepResult `json:"trace"`
	Errors  []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(backend string) *Result {
	return &Result{
		Pass:    true,
		Backend: backend,
		Trace:   []StepResult{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step outcome to the trace.
func (r *Result) AddStep(step StepResult) {
	r.Trace = append(r.Trace, step)
}
