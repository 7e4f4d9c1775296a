package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/repokit/internal/config"
	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repository"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the path of the repokit config declaring the resources.
	// Relative paths resolve against the scenario file. The backend and
	// storage location in it are ignored.
	Config string `yaml:"config"`

	// Schema is executed on SQL backends before seeding.
	Schema string `yaml:"schema,omitempty"`

	// Backends to run on. Defaults to DefaultBackends.
	Backends []string `yaml:"backends,omitempty"`

	// Seed stores records before the steps run. Seeding is assumed to
	// succeed.
	Seed []SeedStep `yaml:"seed,omitempty"`

	// Steps are the repository operations under test.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DefaultBackends are the backends that need no external service.
var DefaultBackends = []string{config.BackendMemory, config.BackendSQLite}

// SeedStep stores records into one resource, in order.
type SeedStep struct {
	Resource string           `yaml:"resource"`
	Records  []map[string]any `yaml:"records"`
}

// Step is one repository operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	Resource string `yaml:"resource"`

	// ID addresses getOne, update and delete.
	ID string `yaml:"id,omitempty"`

	Contract   *ir.FilterContract     `yaml:"contract,omitempty"`
	Pagination *repository.Pagination `yaml:"pagination,omitempty"`

	// Payload is the store or update payload.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Soft selects soft delete. Defaults to true.
	Soft *bool `yaml:"soft,omitempty"`

	// Expect validates the outcome. Nil expects CaseOK only.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Operations.
const (
	OpGetAll = "getAll"
	OpGetOne = "getOne"
	OpStore  = "store"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is CaseOK (the default) or a repository error code.
	Case string `yaml:"case,omitempty"`

	// IDs are the expected record ids in order.
	IDs []any `yaml:"ids,omitempty"`

	// Total is the expected getAll total.
	Total *int64 `yaml:"total,omitempty"`

	// Result is a subset match on the first returned record.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates final state through getAll.
type Assertion struct {
	// Type is AssertCount or AssertContains.
	Type string `yaml:"type"`

	Resource string             `yaml:"resource"`
	Contract *ir.FilterContract `yaml:"contract,omitempty"`

	// Count is the expected number of records (count).
	Count int `yaml:"count,omitempty"`

	// Expect is a subset match some record must satisfy (contains).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCount    = "count"
	AssertContains = "contains"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}
	if len(scenario.Backends) == 0 {
		scenario.Backends = DefaultBackends
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, b := range s.Backends {
		if b != config.BackendMemory && b != config.BackendSQLite {
			return fmt.Errorf("backends[%d]: unsupported backend %q", i, b)
		}
	}

	for i, seed := range s.Seed {
		if seed.Resource == "" {
			return fmt.Errorf("seed[%d]: resource is required", i)
		}
		if len(seed.Records) == 0 {
			return fmt.Errorf("seed[%d]: records are required", i)
		}
	}

	for i, step := range s.Steps {
		if step.Resource == "" {
			return fmt.Errorf("steps[%d]: resource is required", i)
		}
		switch step.Op {
		case OpGetAll:
		case OpGetOne, OpDelete:
			if step.ID == "" {
				return fmt.Errorf("steps[%d]: id is required for %s", i, step.Op)
			}
		case OpStore:
			if step.Payload == nil {
				return fmt.Errorf("steps[%d]: payload is required for store", i)
			}
		case OpUpdate:
			if step.ID == "" || step.Payload == nil {
				return fmt.Errorf("steps[%d]: id and payload are required for update", i)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Resource == "" {
		return fmt.Errorf("assertions[%d]: resource is required", index)
	}

	switch a.Type {
	case AssertCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertContains:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
