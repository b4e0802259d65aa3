package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sokol111/ecommerce-mailqueue/internal/app"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type rootOptions struct {
	configPath string
	store      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "mailqueue",
		Short:         "Durable, retrying outbound mail dispatcher",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	backends := lo.Map(persistence.Backends, func(b persistence.Backend, _ int) string { return string(b) })
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: $CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.store, "store", string(persistence.BackendMongo),
		fmt.Sprintf("Queue store backend (%s)", strings.Join(backends, "|")))

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newProcessCmd(opts))
	cmd.AddCommand(newEnqueueCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))

	return cmd
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	return withCode(exitUsage, cobra.NoArgs(cmd, args))
}

func (o *rootOptions) appOptions(extra ...app.Option) ([]app.Option, error) {
	backend, err := persistence.ParseBackend(o.store)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}

	var coreOpts []core.Option
	if o.configPath != "" {
		coreOpts = append(coreOpts, core.WithViperOptions(config.WithConfigPath(o.configPath)))
	}

	return append([]app.Option{
		app.WithCoreOptions(coreOpts...),
		app.WithPersistenceOptions(persistence.WithBackend(backend)),
	}, extra...), nil
}

// withoutTelemetry is for commands that never run a round.
func withoutTelemetry() app.Option {
	return app.WithObservabilityOptions(observability.WithoutTracing(), observability.WithoutMetrics())
}

// startApp builds and starts the application, filling targets from the graph.
func startApp(ctx context.Context, opts []app.Option, targets ...any) (*fx.App, error) {
	a := fx.New(app.Module(opts...), fx.Populate(targets...))
	if err := a.Err(); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, a.StartTimeout())
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return nil, fmt.Errorf("failed to start application: %w", err)
	}
	return a, nil
}

func stopApp(a *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.StopTimeout())
	defer cancel()
	return a.Stop(ctx)
}
