package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/repokit/internal/guard"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Resource string
}

// CheckResult is the outcome of a whitelist check.
type CheckResult struct {
	Resource string `json:"resource"`
	Allowed  bool   `json:"allowed"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <contract-file>",
		Short: "Check a contract against the resource whitelist",
		Long: `Check whether a contract would be accepted from an untrusted caller.

The contract is treated as external regardless of its isInternalRequest
field. Exit code 1 reports the first field or relation the whitelist
rejects.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource name (overrides the file)")

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
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

	g := guard.New(guard.Whitelist{Wheres: res.Wheres, Relations: res.Relations})
	if err := g.Check(file.Contract.External()); err != nil {
		return fail(formatter, ExitFailure, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(CheckResult{Resource: res.Name, Allowed: true})
	}
	return formatter.Success(fmt.Sprintf("✓ contract allowed for %s", res.Name))
}
