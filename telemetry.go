package nestedtx

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/Thiht/nestedtx"

	scopeSpanName    = "nestedtx.scope"
	scopeExitsMetric = "nestedtx.scope.exits"
	attrSavepoint    = attribute.Key("nestedtx.savepoint")
	attrDepth        = attribute.Key("nestedtx.depth")
	attrOutermost    = attribute.Key("nestedtx.outermost")
	attrForceDiscard = attribute.Key("nestedtx.force_discard")
	attrOutcome      = attribute.Key("nestedtx.outcome")
	exitReleased     = "released"
	exitRolledBack   = "rolled_back"
	exitFailed       = "failed"
)

type telemetry struct {
	tracer trace.Tracer
	exits  metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, logger zerolog.Logger) *telemetry {
	exits, err := mp.Meter(instrumentationName).Int64Counter(scopeExitsMetric,
		metric.WithDescription("Number of transaction scope exits, by outcome"),
		metric.WithUnit("{exit}"),
	)
	if err != nil {
		logger.Warn().Err(err).Str("metric", scopeExitsMetric).Msg("failed to create metric, falling back to no-op")
		exits = noop.Int64Counter{}
	}

	return &telemetry{
		tracer: tp.Tracer(instrumentationName),
		exits:  exits,
	}
}

func (t *telemetry) startScope(ctx context.Context, scope *Scope) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, scopeSpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrForceDiscard.Bool(scope.forceDiscard)),
	)
}

func (t *telemetry) endScope(ctx context.Context, span trace.Span, result string, err error) {
	t.exits.Add(ctx, 1, metric.WithAttributes(attrOutcome.String(result)))

	span.SetAttributes(attrOutcome.String(result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
