package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/repokit/internal/app"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Resource string
	External bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <contract-file>",
		Short: "Run a contract against the configured backend",
		Long: `Run getAll with the contract file against the configured backend and
print the result: {data, total}, or {data, meta, links} when the file has
a pagination section.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource name (overrides the file)")
	cmd.Flags().BoolVar(&opts.External, "external", false, "apply the whitelist as for an untrusted caller")

	return cmd
}

func runQuery(opts *QueryOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

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

	a, err := app.New(ctx, cfg, opts.logger())
	if err != nil {
		return fail(formatter, ExitCommandError, &LoadError{Code: ErrCodeBackend, Message: err.Error()})
	}
	defer a.Close(ctx)

	repo, _ := a.Repository(res.Name)
	contract := file.Contract
	if opts.External {
		contract = contract.External()
	}
	page, err := repo.GetAll(ctx, file.Pagination, &contract)
	if err != nil {
		return fail(formatter, ExitFailure, err)
	}
	formatter.VerboseLog("Fetched %d record(s) of %s", len(page.Data), res.Name)
	return formatter.Document(page)
}
