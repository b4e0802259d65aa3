package health

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewReadinessModule() fx.Option {
	return fx.Provide(
		func(logger *zap.Logger) *readiness {
			return newReadiness(logger)
		},
		func(r *readiness) ComponentManager { return r },
		func(r *readiness) ReadinessChecker { return r },
		func(r *readiness) ReadinessWaiter { return r },
	)
}
