// Package app assembles the mailqueue fx application from the library modules.
package app

import (
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/transport"
	"go.uber.org/fx"
)

type appOptions struct {
	core          []core.Option
	observability []observability.Option
	persistence   []persistence.Option
	transport     []transport.Option
	mailqueue     []mailqueue.ModuleOption
	runner        bool
}

// Option configures the application.
type Option func(*appOptions)

// WithCoreOptions forwards options to the core module.
func WithCoreOptions(opts ...core.Option) Option {
	return func(o *appOptions) {
		o.core = append(o.core, opts...)
	}
}

// WithObservabilityOptions forwards options to the observability module.
func WithObservabilityOptions(opts ...observability.Option) Option {
	return func(o *appOptions) {
		o.observability = append(o.observability, opts...)
	}
}

// WithPersistenceOptions forwards options to the persistence module.
func WithPersistenceOptions(opts ...persistence.Option) Option {
	return func(o *appOptions) {
		o.persistence = append(o.persistence, opts...)
	}
}

// WithTransportOptions forwards options to the transport module.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *appOptions) {
		o.transport = append(o.transport, opts...)
	}
}

// WithMailQueueOptions forwards options to the mailqueue module.
func WithMailQueueOptions(opts ...mailqueue.ModuleOption) Option {
	return func(o *appOptions) {
		o.mailqueue = append(o.mailqueue, opts...)
	}
}

// WithRunner registers the periodic runner as a background worker.
func WithRunner() Option {
	return func(o *appOptions) {
		o.runner = true
	}
}

// Module returns every module the service needs. Constructors are lazy, so
// commands that only need the store never dial the transport.
func Module(opts ...Option) fx.Option {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}

	modules := []fx.Option{
		core.NewCoreModule(o.core...),
		observability.NewObservabilityModule(o.observability...),
		persistence.NewPersistenceModule(o.persistence...),
		transport.NewTransportModule(o.transport...),
		mailqueue.NewMailQueueModule(o.mailqueue...),
	}
	if o.runner {
		modules = append(modules, mailqueue.NewRunnerModule())
	}
	return fx.Options(modules...)
}
