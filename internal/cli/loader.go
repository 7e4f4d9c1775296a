package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeReadFailed      = "E002" // File read error
	ErrCodeParseFailed     = "E003" // YAML/JSON decode error
	ErrCodeConfigInvalid   = "E004" // Config missing or invalid
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeUnknownResource = "E006" // Resource not configured
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeBackend         = "E008" // Storage open/query error
)

// LoadError is a CLI-level failure with an error code.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ContractFile is a filter contract addressed to one resource.
//
//	resource: users
//	pagination: {page: 0, limit: 10}
//	contract:
//	  where: {name: "ann,bob"}
//	  includes: [{relation: pets}]
type ContractFile struct {
	Resource   string                 `yaml:"resource"`
	Contract   ir.FilterContract      `yaml:"contract"`
	Pagination *repository.Pagination `yaml:"pagination,omitempty"`
}

// FixtureFile lists records to seed into one resource. Count repeats the
// records cyclically; zero seeds each record once.
type FixtureFile struct {
	Resource string           `yaml:"resource"`
	Records  []map[string]any `yaml:"records"`
	Count    int              `yaml:"count,omitempty"`
	Deleted  bool             `yaml:"deleted,omitempty"`
}

// LoadContractFile reads a ContractFile from YAML or JSON.
func LoadContractFile(path string) (*ContractFile, error) {
	var f ContractFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFixtureFile reads a FixtureFile from YAML or JSON.
func LoadFixtureFile(path string) (*FixtureFile, error) {
	var f FixtureFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	if len(f.Records) == 0 {
		return nil, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("%s: no records", path)}
	}
	return &f, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return &LoadError{Code: ErrCodeReadFailed, Message: err.Error()}
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	return nil
}

// payload converts decoded YAML to a repository payload. yaml.v3 yields
// int for small integers; backends compare int64.
func payload(m map[string]any) repository.Payload {
	p := make(repository.Payload, len(m))
	for k, v := range m {
		p[k] = normalize(v)
	}
	return p
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		return map[string]any(payload(t))
	}
	return v
}

// errorCode returns the code reported for err: the repository code for
// repository errors, the CLI code for LoadErrors, E001 otherwise.
func errorCode(err error) (code, message string) {
	var rerr *repoerr.Error
	if errors.As(err, &rerr) {
		msg := rerr.Message
		if msg == "" {
			msg = string(rerr.Code)
		}
		if rerr.Field != "" {
			msg = fmt.Sprintf("%s (field %s)", msg, rerr.Field)
		}
		return string(rerr.Code), msg
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// fail reports err through the formatter and returns the exit error.
func fail(formatter *OutputFormatter, exitCode int, err error) error {
	code, message := errorCode(err)
	_ = formatter.Error(code, message, nil)
	return WrapExitError(exitCode, fmt.Sprintf("%s: %s", code, message), nil)
}
