package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/spf13/cobra"
)

type inspectOptions struct {
	state string
	id    string
	limit int
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Args:  noArgs,
		Short: "Show queue counts and records",
		Long: `Print the number of pending, sent and exhausted records, followed by the
records in the requested state. Exhausted records are never retried; this is
where they can be found.

Example:
  mailqueue inspect --state exhausted --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			appOpts, err := root.appOptions(withoutTelemetry())
			if err != nil {
				return err
			}

			var (
				repo mailqueue.Repository
				cfg  mailqueue.Config
			)
			a, err := startApp(cmd.Context(), appOpts, &repo, &cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, stopApp(a))
			}()

			return runInspect(cmd.Context(), cmd.OutOrStdout(), repo, cfg.MaxAttempts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.state, "state", string(mailqueue.StatePending), "Record state to list (pending|sent|exhausted)")
	cmd.Flags().StringVar(&opts.id, "id", "", "Show a single record")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of records to list")

	return cmd
}

func runInspect(ctx context.Context, out io.Writer, repo mailqueue.Inspector, maxAttempts int, opts *inspectOptions) error {
	if opts.id != "" {
		record, err := repo.Get(ctx, opts.id)
		if errors.Is(err, mailqueue.ErrRecordNotFound) {
			return withCode(exitUsage, err)
		}
		if err != nil {
			return withCode(exitError, err)
		}
		return printRecords(out, []mailqueue.QueueRecord{record}, maxAttempts)
	}

	state, err := mailqueue.ParseState(opts.state)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if opts.limit <= 0 {
		return withCode(exitUsage, fmt.Errorf("--limit must be positive, got %d", opts.limit))
	}

	counts, err := repo.Counts(ctx, maxAttempts)
	if err != nil {
		return withCode(exitError, err)
	}
	fmt.Fprintf(out, "pending=%d sent=%d exhausted=%d total=%d\n\n",
		counts.Pending, counts.Sent, counts.Exhausted, counts.Total())

	records, err := repo.ListByState(ctx, state, maxAttempts, opts.limit)
	if err != nil {
		return withCode(exitError, err)
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no %s records\n", state)
		return nil
	}
	return printRecords(out, records, maxAttempts)
}

func printRecords(out io.Writer, records []mailqueue.QueueRecord, maxAttempts int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tQUEUED\tLAST ATTEMPT\tSENT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.State(maxAttempts), r.Attempts,
			formatTime(&r.QueuedTime), formatTime(r.LastAttemptTime), formatTime(r.SentTime))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
