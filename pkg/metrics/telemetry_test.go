package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewTelemetry(t *testing.T) {
	tele, err := NewTelemetry(noop.NewMeterProvider(), tracenoop.NewTracerProvider())
	require.NoError(t, err)
	require.NotNil(t, tele.Tracer)
	require.NotNil(t, tele.UnitDuration)

	ctx, span := tele.StartSpan(context.Background(), "Extract")
	defer span.End()

	tele.ExtractDone(ctx, 2, 0)
	tele.UnitStarted(ctx)
	tele.UnitFinished(ctx, 1500)
	tele.CollectFailed(ctx, "stopwatch")
}

func TestGlobalProviders(t *testing.T) {
	tele, err := NewWithGlobalProviders()
	require.NoError(t, err)
	require.NotNil(t, tele.ExtractCalls)
}

func TestNilTelemetry(t *testing.T) {
	var tele *Telemetry
	ctx, span := tele.StartSpan(context.Background(), "noop")
	span.End()

	require.NotPanics(t, func() {
		tele.ExtractDone(ctx, 1, 1)
		tele.UnitStarted(ctx)
		tele.UnitFinished(ctx, 10)
		tele.CollectFailed(ctx, "config")
	})
}
