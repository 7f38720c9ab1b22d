package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pixelvault/pixelvault/pkg/resize"
)

// workerCmd is the entry point for resize worker subprocesses. The pool
// re-execs the server binary with this subcommand and speaks the job
// protocol over stdin/stdout. Not meant to be invoked by hand.
var workerCmd = &cobra.Command{
	Use:    "resize-worker",
	Short:  "Run a resize worker process (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return resize.RunWorker(os.Stdin, os.Stdout)
	},
}
