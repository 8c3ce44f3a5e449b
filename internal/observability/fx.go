// Package observability wires tracing and prometheus metrics from config.Config.
package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/feedlink/internal/config"
	"github.com/smallbiznis/feedlink/internal/observability/metrics"
	"github.com/smallbiznis/feedlink/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.New,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		func() prometheus.Gatherer { return prometheus.DefaultGatherer },
	),
	// The provider installs the global tracer, so build it even if nothing asks for it.
	fx.Invoke(func(trace.TracerProvider) {}),
)

func serviceName(cfg config.Config) string {
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		return name
	}
	return "feedlink"
}

func tracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OTelEnabled,
		ServiceName:      serviceName(cfg),
		ServiceVersion:   strings.TrimSpace(cfg.AppVersion),
		Environment:      strings.TrimSpace(cfg.Environment),
		ExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		ExporterProtocol: cfg.OTLPProtocol,
		SamplingRatio:    cfg.OTelSampling,
	}
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: serviceName(cfg),
		Environment: strings.TrimSpace(cfg.Environment),
	}
}
