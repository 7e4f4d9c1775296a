package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/repokit/internal/app"
	"github.com/roach88/repokit/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured resources over HTTP",
		Long: `Serve every configured resource over HTTP until interrupted.

Query strings become external contracts, so the resource whitelists apply
to every request.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(formatter, ExitCommandError, err)
	}
	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.logger()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fail(formatter, ExitCommandError, &LoadError{Code: ErrCodeBackend, Message: err.Error()})
	}
	defer a.Close(cmd.Context())

	formatter.VerboseLog("Serving %d resource(s) on %s", len(a.Resources()), addr)
	srv := httpapi.New(a, httpapi.Options{AllowedOrigins: cfg.HTTP.AllowedOrigins, Logger: logger})
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fail(formatter, ExitFailure, err)
	}
	return nil
}
