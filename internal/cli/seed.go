package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/repokit/internal/app"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Resource string
	Count    int
	Deleted  bool
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Resource string              `json:"resource"`
	Created  int                 `json:"created"`
	Records  []repository.Record `json:"records,omitempty"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <fixture-file>",
		Short: "Seed fixture records into a resource",
		Long: `Store the records of a fixture file through the resource repository.

Records are stored concurrently and reported in fixture order. --count
repeats the fixture records cyclically; --deleted stamps every record with
the resource's soft-delete field. A failure stops the run without rolling
back records already stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource name (overrides the file)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "number of records (overrides the file)")
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "seed soft-deleted records")

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	file, err := LoadFixtureFile(path)
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
	records := file.Records
	blueprint := func(i int) repository.Payload {
		return payload(records[i%len(records)])
	}

	var factoryOpts []seed.FactoryOption
	if res.SoftDeleteField != "" {
		factoryOpts = append(factoryOpts, seed.WithSoftDeleteField(res.SoftDeleteField))
	}
	factory := seed.NewFactory(seed.NewSeeder[repository.Record](repo, opts.logger()), blueprint, factoryOpts...)

	count := len(records)
	if file.Count > 0 {
		count = file.Count
	}
	if opts.Count > 0 {
		count = opts.Count
	}
	factory = factory.Count(count)
	if opts.Deleted || file.Deleted {
		factory = factory.Deleted()
	}

	created, err := factory.Create(ctx)
	if err != nil {
		return fail(formatter, ExitFailure, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(SeedResult{Resource: res.Name, Created: len(created), Records: created})
	}
	return formatter.Success(fmt.Sprintf("✓ Seeded %d record(s) into %s", len(created), res.Name))
}
