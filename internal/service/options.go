package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollgate-labs/tollgate/internal/ctxkey"
)

const tracerName = "github.com/tollgate-labs/tollgate/internal/service"

// ServiceOption configures the services.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	recorder Recorder
	tracer   trace.Tracer
	stats    *StatsService
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(o *serviceOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer sets the tracer. The default comes from the global provider.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithStats sets the payment counters shared with the HTTP surface.
func WithStats(s *StatsService) ServiceOption {
	return func(o *serviceOptions) {
		if s != nil {
			o.stats = s
		}
	}
}

func applyOptions(opts []ServiceOption) serviceOptions {
	o := serviceOptions{
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = NewStatsService()
	}
	return o
}

// loggerFromContext returns the request-scoped logger set by the HTTP
// middleware, or fallback.
func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger.With("component", "toll")
	}
	return fallback
}
