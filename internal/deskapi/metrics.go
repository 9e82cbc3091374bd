package deskapi

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roeyazroel/issuedesk/internal/logger"
)

const instrumentationScope = "github.com/roeyazroel/issuedesk/internal/deskapi"

// metrics records one span plus a counter and latency sample per request.
// Instruments come from the global providers, which are no-ops unless
// telemetry is enabled.
type metrics struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter(instrumentationScope)
	m := &metrics{tracer: otel.Tracer(instrumentationScope)}

	var err error
	m.requests, err = meter.Int64Counter("issuedesk.api.requests",
		metric.WithDescription("API requests by method and outcome"))
	if err != nil {
		logger.Warning("deskapi: request counter unavailable error=%v", err)
	}
	m.duration, err = meter.Float64Histogram("issuedesk.api.duration",
		metric.WithDescription("API request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		logger.Warning("deskapi: latency histogram unavailable error=%v", err)
	}
	return m
}

// start opens a client span and returns a function that closes it and
// records the outcome.
func (m *metrics) start(ctx context.Context, method, path string) (context.Context, func(status int, err *Error)) {
	began := time.Now()
	ctx, span := m.tracer.Start(ctx, "deskapi "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))

	return ctx, func(status int, apiErr *Error) {
		outcome := "ok"
		if apiErr != nil {
			outcome = apiErr.Kind.String()
			span.RecordError(apiErr)
			span.SetStatus(codes.Error, apiErr.Message)
		}
		if status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		span.End()

		attrs := metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
			attribute.String("status", strconv.Itoa(status)),
		)
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, float64(time.Since(began).Microseconds())/1000, attrs)
		}
	}
}
