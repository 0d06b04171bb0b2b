package nestedtx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Thiht/nestedtx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTelemetry(t *testing.T) (*nestedtx.Registry, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown(context.Background()))
		require.NoError(t, mp.Shutdown(context.Background()))
	})

	return nestedtx.NewRegistry(nestedtx.WithTracerProvider(tp), nestedtx.WithMeterProvider(mp)), exporter, reader
}

func spanAttributes(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		m[string(attr.Key)] = attr.Value.AsInterface()
	}

	return m
}

func exitCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "nestedtx.scope.exits" {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("nestedtx.outcome")
				counts[outcome.AsString()] += dp.Value
			}
		}
	}

	return counts
}

func TestTelemetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("it should record a span per scope", func(t *testing.T) {
		t.Parallel()

		registry, exporter, reader := setupTelemetry(t)
		conn := newFakeConn()

		err := registry.WithinScope(ctx, conn, func(ctx context.Context, _ *nestedtx.Scope) error {
			_ = registry.WithinScope(ctx, conn, func(context.Context, *nestedtx.Scope) error {
				return errors.New("an error occurred")
			}, nestedtx.WithForceDiscard())

			return nil
		})
		require.NoError(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		inner, outer := spans[0], spans[1]

		assert.Equal(t, "nestedtx.scope", outer.Name)
		assert.Equal(t, map[string]any{
			"nestedtx.force_discard": false,
			"nestedtx.savepoint":     "savepoint_0",
			"nestedtx.depth":         int64(0),
			"nestedtx.outermost":     true,
			"nestedtx.outcome":       "released",
		}, spanAttributes(outer.Attributes))
		assert.Equal(t, codes.Unset, outer.Status.Code)

		assert.Equal(t, map[string]any{
			"nestedtx.force_discard": true,
			"nestedtx.savepoint":     "savepoint_1",
			"nestedtx.depth":         int64(1),
			"nestedtx.outermost":     false,
			"nestedtx.outcome":       "rolled_back",
		}, spanAttributes(inner.Attributes))
		assert.Equal(t, outer.SpanContext.SpanID(), inner.Parent.SpanID())

		assert.Equal(t, map[string]int64{"released": 1, "rolled_back": 1}, exitCounts(t, reader))
	})

	t.Run("it should record the errors of a scope", func(t *testing.T) {
		t.Parallel()

		registry, exporter, reader := setupTelemetry(t)
		conn := newFakeConn()
		conn.failOn("INSERT duplicate", errors.New("duplicate key value violates unique constraint"))

		scope, err := registry.NewScope(conn).Enter(ctx)
		require.NoError(t, err)
		require.Error(t, conn.Exec(ctx, "INSERT duplicate"))
		require.ErrorIs(t, scope.Exit(ctx, nestedtx.Succeeded), nestedtx.ErrInvariantViolation)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "failed", spanAttributes(spans[0].Attributes)["nestedtx.outcome"])
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "exception", spans[0].Events[0].Name)

		assert.Equal(t, map[string]int64{"failed": 1}, exitCounts(t, reader))
	})
}
