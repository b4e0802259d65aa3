package main

import (
	"errors"

	"github.com/Sokol111/ecommerce-mailqueue/internal/app"
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Args:  noArgs,
		Short: "Process the queue periodically until interrupted",
		Long: `Start the dispatcher and run a round every mailqueue.interval until
SIGINT or SIGTERM is received.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := root.appOptions(app.WithRunner())
			if err != nil {
				return err
			}

			a, err := startApp(cmd.Context(), opts)
			if err != nil {
				return err
			}

			var code int
			select {
			case sig := <-a.Wait():
				code = sig.ExitCode
			case <-cmd.Context().Done():
			}

			if err := stopApp(a); err != nil {
				return err
			}
			if code != 0 {
				return withCode(exitError, errors.New("dispatcher stopped after a hard error"))
			}
			return nil
		},
	}
}
