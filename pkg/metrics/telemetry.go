// Package metrics holds the OpenTelemetry instruments of spanwatch.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	MeterName  = "spanwatch"
	TracerName = "spanwatch"
)

// Telemetry holds the tracer and every metric instrument. Build it with
// NewTelemetry; a nil *Telemetry is valid and records nothing.
type Telemetry struct {
	Tracer trace.Tracer

	ExtractCalls    metric.Int64Counter
	ExtractDetached metric.Int64Counter
	ExtractEvicted  metric.Int64Counter
	UnitsStarted    metric.Int64Counter
	UnitsFinished   metric.Int64Counter
	UnitsActive     metric.Int64UpDownCounter
	UnitDuration    metric.Float64Histogram
	CollectErrors   metric.Int64Counter
}

// NewWithGlobalProviders uses the global meter and tracer providers.
func NewWithGlobalProviders() (*Telemetry, error) {
	return NewTelemetry(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// NewTelemetry builds the instruments on the given providers. Nil providers
// fall back to the global ones.
func NewTelemetry(meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) (*Telemetry, error) {
	var err error

	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	t := &Telemetry{
		Tracer: tracerProvider.Tracer(TracerName),
	}
	meter := meterProvider.Meter(MeterName)

	t.ExtractCalls, err = meter.Int64Counter("spanwatch.extract.calls", metric.WithDescription("Number of window extractions"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.extract.calls counter: %w", err)
	}

	t.ExtractDetached, err = meter.Int64Counter("spanwatch.extract.detached", metric.WithDescription("Sections detached from the shared tree"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.extract.detached counter: %w", err)
	}

	t.ExtractEvicted, err = meter.Int64Counter("spanwatch.extract.evicted", metric.WithDescription("Stale periods evicted from the shared tree"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.extract.evicted counter: %w", err)
	}

	t.UnitsStarted, err = meter.Int64Counter("spanwatch.units.started", metric.WithDescription("Units of work started"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.units.started counter: %w", err)
	}

	t.UnitsFinished, err = meter.Int64Counter("spanwatch.units.finished", metric.WithDescription("Units of work finished"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.units.finished counter: %w", err)
	}

	t.UnitsActive, err = meter.Int64UpDownCounter("spanwatch.units.active", metric.WithDescription("Units of work in flight"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.units.active counter: %w", err)
	}

	t.UnitDuration, err = meter.Float64Histogram("spanwatch.units.duration", metric.WithDescription("Duration of finished units of work"), metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.units.duration histogram: %w", err)
	}

	t.CollectErrors, err = meter.Int64Counter("spanwatch.collect.errors", metric.WithDescription("Failed data collector runs"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("spanwatch.collect.errors counter: %w", err)
	}

	return t, nil
}

// StartSpan starts a span on the spanwatch tracer, or on the global tracer
// when t is nil.
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.Tracer == nil {
		return otel.Tracer(TracerName).Start(ctx, name, opts...)
	}
	return t.Tracer.Start(ctx, name, opts...)
}
