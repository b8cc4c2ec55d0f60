package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ldotlopez/blemqtt"

// Seconds; a sweep may include the discovery wait on a cold adapter.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Timings records latencies through the otel meter provider. A nil
// *Timings records nothing.
type Timings struct {
	sweep   metric.Float64Histogram
	publish metric.Float64Histogram
	connect metric.Float64Histogram
}

// NewTimings registers the histograms on mp, or on the global provider
// when mp is nil.
func NewTimings(mp metric.MeterProvider) (*Timings, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	sweep, err := m.Float64Histogram("blemqtt.sweep.duration",
		metric.WithDescription("Time spent on one scan sweep."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	if err != nil {
		return nil, err
	}
	publish, err := m.Float64Histogram("blemqtt.publish.duration",
		metric.WithDescription("Time to hand one reading to the broker, connect included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	if err != nil {
		return nil, err
	}
	connect, err := m.Float64Histogram("blemqtt.connect.duration",
		metric.WithDescription("Time spent on broker connect attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	if err != nil {
		return nil, err
	}
	return &Timings{sweep: sweep, publish: publish, connect: connect}, nil
}

func (t *Timings) RecordSweep(ctx context.Context, d time.Duration, outcome string) {
	if t == nil {
		return
	}
	t.sweep.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (t *Timings) RecordPublish(ctx context.Context, d time.Duration, result string) {
	if t == nil {
		return
	}
	t.publish.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("result", result)))
}

func (t *Timings) RecordConnect(ctx context.Context, d time.Duration, kind string) {
	if t == nil {
		return
	}
	t.connect.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}
