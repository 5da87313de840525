package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func (t *Telemetry) ExtractDone(ctx context.Context, detached, evicted int) {
	if t == nil {
		return
	}
	t.ExtractCalls.Add(ctx, 1)
	if detached > 0 {
		t.ExtractDetached.Add(ctx, int64(detached))
	}
	if evicted > 0 {
		t.ExtractEvicted.Add(ctx, int64(evicted))
	}
}

func (t *Telemetry) UnitStarted(ctx context.Context) {
	if t == nil {
		return
	}
	t.UnitsStarted.Add(ctx, 1)
	t.UnitsActive.Add(ctx, 1)
}

// UnitFinished records a finished unit of work and its duration in
// microseconds.
func (t *Telemetry) UnitFinished(ctx context.Context, durationMicros int64) {
	if t == nil {
		return
	}
	t.UnitsFinished.Add(ctx, 1)
	t.UnitsActive.Add(ctx, -1)
	t.UnitDuration.Record(ctx, float64(durationMicros)/1000)
}

func (t *Telemetry) CollectFailed(ctx context.Context, collector string) {
	if t == nil {
		return
	}
	t.CollectErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("collector", collector)))
}
