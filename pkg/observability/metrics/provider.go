package metrics

import (
	"context"
	"errors"
	"fmt"

	appconfig "github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	otelconfig "github.com/Sokol111/ecommerce-mailqueue/pkg/observability/config"
	otelinternal "github.com/Sokol111/ecommerce-mailqueue/pkg/observability/internal"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var errNoEndpoint = errors.New("metrics: otel-collector-endpoint is required")

// newProvider exports dispatcher metrics to the collector every
// cfg.Metrics.Interval. Unlike tracing there is no local mode.
func newProvider(ctx context.Context, cfg otelconfig.Config, appCfg appconfig.AppConfig) (*sdkmetric.MeterProvider, error) {
	if cfg.OtelCollectorEndpoint == "" {
		return nil, errNoEndpoint
	}

	res, err := otelinternal.NewResource(ctx, appCfg)
	if err != nil {
		return nil, err
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OtelCollectorEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Metrics.Interval))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}
