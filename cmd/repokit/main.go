// Command repokit compiles, checks, runs and serves filter contracts over
// the configured backend.
package main

import (
	"os"

	"github.com/roach88/repokit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
