package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowline/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewTracer exports spans over OTLP when enabled and falls back to a no-op
// tracer otherwise.
//
//nolint:ireturn
func NewTracer(ctx context.Context, logger *slog.Logger, enabled bool) trace.Tracer {
	if !enabled {
		return noop.NewTracerProvider().Tracer(serviceName)
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return noop.NewTracerProvider().Tracer(serviceName)
	}

	return tracer
}
