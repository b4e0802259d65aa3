package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/spf13/cobra"
)

type enqueueOptions struct {
	payload mailqueue.Payload
}

func newEnqueueCmd(root *rootOptions) *cobra.Command {
	opts := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Args:  noArgs,
		Short: "Add a message to the queue",
		Long: `Validate a message and store it as a new queue record. The record id is
printed on success.

Example:
  mailqueue enqueue --to bob@example.com --subject "Order shipped" --text "On its way"`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			appOpts, err := root.appOptions(withoutTelemetry())
			if err != nil {
				return err
			}

			var (
				repo         mailqueue.Repository
				materializer mailqueue.Materializer
			)
			a, err := startApp(cmd.Context(), appOpts, &repo, &materializer)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, stopApp(a))
			}()

			return runEnqueue(cmd.Context(), cmd.OutOrStdout(), repo, materializer, opts, time.Now())
		},
	}

	p := &opts.payload
	cmd.Flags().StringSliceVar(&p.To, "to", nil, "Recipient address, repeatable")
	cmd.Flags().StringSliceVar(&p.Cc, "cc", nil, "Cc address, repeatable")
	cmd.Flags().StringSliceVar(&p.Bcc, "bcc", nil, "Bcc address, repeatable")
	cmd.Flags().StringVar(&p.From, "from", "", "Sender address (default: mailqueue.default-from)")
	cmd.Flags().StringVar(&p.ReplyTo, "reply-to", "", "Reply-To address")
	cmd.Flags().StringVarP(&p.Subject, "subject", "s", "", "Subject line")
	cmd.Flags().StringVar(&p.Text, "text", "", "Plain text body")
	cmd.Flags().StringVar(&p.HTML, "html", "", "HTML body")
	cmd.Flags().StringToStringVar(&p.Headers, "header", nil, "Extra header as Name=value, repeatable")

	return cmd
}

// runEnqueue rejects payloads the dispatcher would skip as malformed.
func runEnqueue(ctx context.Context, out io.Writer, w mailqueue.Writer, m mailqueue.Materializer, opts *enqueueOptions, now time.Time) error {
	data, err := mailqueue.EncodePayload(opts.payload)
	if err != nil {
		return withCode(exitUsage, err)
	}

	record := mailqueue.NewRecord(data, now)
	if _, err := m.FromRecord(record); err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid message: %w", err))
	}

	if err := w.Enqueue(ctx, record); err != nil {
		return withCode(exitError, err)
	}

	fmt.Fprintln(out, record.ID)
	return nil
}
