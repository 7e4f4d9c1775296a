package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/repokit/internal/app"
	"github.com/roach88/repokit/internal/config"
	"github.com/roach88/repokit/internal/filter"
	"github.com/roach88/repokit/internal/guard"
	"github.com/roach88/repokit/internal/queryir"
	"github.com/roach88/repokit/internal/querysql"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/repository/mongorepo"
	"github.com/roach88/repokit/internal/repository/schemarepo"
)

// Native query targets of the compile command.
const (
	TargetSQLite   = "sqlite"
	TargetPostgres = "postgres"
	TargetMongo    = "mongo"
	TargetSchema   = "schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Target   string
	Resource string
	Output   string // output file path
}

// CompilationResult is a compiled contract: the backend-neutral plan and
// the native query a backend would run for it.
type CompilationResult struct {
	Resource    string          `json:"resource"`
	Target      string          `json:"target"`
	Fingerprint string          `json:"fingerprint"`
	Plan        *queryir.Plan   `json:"plan"`
	Native      json.RawMessage `json:"native"`
}

// NativeSQL is the SQL emitted for a contract. Page is set for paginated
// reads: the id window query whose result feeds Select.
type NativeSQL struct {
	Select querysql.Query  `json:"select"`
	Count  querysql.Query  `json:"count"`
	Page   *querysql.Query `json:"page,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <contract-file>",
		Short: "Compile a filter contract to a query plan and native query",
		Long: `Compile a filter contract file against the configured resource.

The contract passes the resource whitelist when it is external, compiles
to the backend-neutral query plan, and is emitted as the native query of
the chosen target: SQL (sqlite|postgres), an aggregation pipeline (mongo)
or structured ORM arguments (schema). No storage is opened.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", TargetSQLite, "native query target (sqlite|postgres|mongo|schema)")
	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource name (overrides the file)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	file, err := LoadContractFile(path)
	if err != nil {
		return fail(formatter, ExitCommandError, err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(formatter, ExitCommandError, err)
	}
	res, err := resource(cfg, opts.Resource, file.Resource)
	if err != nil {
		return fail(formatter, ExitCommandError, err)
	}
	formatter.VerboseLog("Compiling %s contract for %s", opts.Target, res.Name)

	result, err := compileContract(cfg, res, file, opts.Target)
	if err != nil {
		return fail(formatter, ExitFailure, err)
	}

	if opts.Output != "" {
		if err := writeResult(result, opts.Output); err != nil {
			return fail(formatter, ExitCommandError, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
		}
		formatter.VerboseLog("Wrote compilation result to %s", opts.Output)
	}
	return formatter.Document(result)
}

// compileContract compiles file for res and renders the target's query.
func compileContract(cfg *config.Config, res config.Resource, file *ContractFile, target string) (*CompilationResult, error) {
	normalize := func(s string) string { return s }
	if target == TargetSQLite || target == TargetPostgres {
		normalize = filter.UpperAlias
	}
	compiler := filter.NewCompiler(
		guard.New(guard.Whitelist{Wheres: res.Wheres, Relations: res.Relations}),
		filter.Options{RootAlias: res.Name, Normalize: normalize},
	)
	plan, err := compiler.Compile(file.Contract)
	if err != nil {
		return nil, err
	}
	fingerprint, err := queryir.Fingerprint(plan)
	if err != nil {
		return nil, err
	}

	var window *repository.Window
	if file.Pagination != nil {
		w := file.Pagination.Window()
		window = &w
	}

	var native json.RawMessage
	switch target {
	case TargetSQLite, TargetPostgres:
		native, err = nativeSQL(cfg, res, plan, window, querysql.Dialect(target))
	case TargetMongo:
		native, err = nativeMongo(cfg, res, plan, window)
	case TargetSchema:
		native, err = nativeSchema(cfg, res, plan, window)
	default:
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("unknown target %q", target)}
	}
	if err != nil {
		return nil, err
	}

	return &CompilationResult{
		Resource:    res.Name,
		Target:      target,
		Fingerprint: fingerprint,
		Plan:        plan,
		Native:      native,
	}, nil
}

func nativeSQL(cfg *config.Config, res config.Resource, plan *queryir.Plan, window *repository.Window, dialect querysql.Dialect) (json.RawMessage, error) {
	tables, err := app.Tables(cfg)
	if err != nil {
		return nil, err
	}
	table := tables[res.Name]
	if err := table.Validate(); err != nil {
		return nil, err
	}
	compiler := querysql.NewCompiler(dialect)

	var out NativeSQL
	if out.Select, _, err = compiler.Select(table, plan, nil); err != nil {
		return nil, err
	}
	if out.Count, err = compiler.Count(table, plan); err != nil {
		return nil, err
	}
	if window != nil {
		page, err := compiler.SelectIDs(table, plan, window.Offset, window.Limit)
		if err != nil {
			return nil, err
		}
		out.Page = &page
	}
	return json.Marshal(out)
}

func nativeMongo(cfg *config.Config, res config.Resource, plan *queryir.Plan, window *repository.Window) (json.RawMessage, error) {
	models, err := app.Models(cfg)
	if err != nil {
		return nil, err
	}
	pipeline, err := mongorepo.Pipeline(models[res.Name], plan, window)
	if err != nil {
		return nil, err
	}
	return bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: pipeline}}, false, false)
}

func nativeSchema(cfg *config.Config, res config.Resource, plan *queryir.Plan, window *repository.Window) (json.RawMessage, error) {
	schemas, err := app.Schemas(cfg)
	if err != nil {
		return nil, err
	}
	args, err := schemarepo.Emit(schemas[res.Name], plan)
	if err != nil {
		return nil, err
	}
	if window != nil {
		args.Skip, args.Take = &window.Offset, &window.Limit
	}
	return json.Marshal(args)
}

// writeResult writes the result as indented JSON.
func writeResult(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
