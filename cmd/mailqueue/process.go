package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/spf13/cobra"
)

var errSendFailed = errors.New("one or more sends failed")

// roundProcessor is the part of the dispatcher the process command uses.
type roundProcessor interface {
	ProcessRound(ctx context.Context) (mailqueue.RoundReport, error)
}

func newProcessCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Args:  noArgs,
		Short: "Run a single processing round",
		Long: `Run one processing round and exit.

Exit codes:
  0  every attempted send succeeded, or there was nothing to send
  1  at least one send failed
  2  the round could not be completed`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			opts, err := root.appOptions()
			if err != nil {
				return err
			}

			var d *mailqueue.Dispatcher
			a, err := startApp(cmd.Context(), opts, &d)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, stopApp(a))
			}()

			return runProcess(cmd.Context(), cmd.OutOrStdout(), d)
		},
	}
}

func runProcess(ctx context.Context, out io.Writer, p roundProcessor) error {
	report, err := p.ProcessRound(ctx)
	if err != nil {
		return withCode(exitError, err)
	}

	exhausted := "-"
	if len(report.Exhausted) > 0 {
		exhausted = strings.Join(report.Exhausted, ",")
	}
	fmt.Fprintf(out, "selected=%d attempted=%d sent=%d failed=%d skipped=%d exhausted=%s\n",
		report.Selected, report.Attempted, report.Sent, report.Failed, report.Skipped, exhausted)

	if !report.OK() {
		return withCode(exitSendFailed, errSendFailed)
	}
	return nil
}
