package gflake

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Lzww0608/gflake"

// generatorMetrics holds the counters of one Generator. All fields are
// usable on a nil receiver so that metrics can be disabled.
type generatorMetrics struct {
	issued      metric.Int64Counter
	overflows   metric.Int64Counter
	regressions metric.Int64Counter
	contended   metric.Int64Counter
	attrs       metric.MeasurementOption
}

func newGeneratorMetrics(mp metric.MeterProvider, identity NodeIdentity) (*generatorMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	m := &generatorMetrics{
		attrs: metric.WithAttributes(
			attribute.String("data_center", strconv.FormatInt(identity.DataCenter(), 10)),
			attribute.String("worker", strconv.FormatInt(identity.Worker(), 10)),
			attribute.String("overflow_strategy", identity.OverflowPolicy().Strategy.String()),
		),
	}

	var err error
	if m.issued, err = meter.Int64Counter("gflake.ids.issued",
		metric.WithDescription("Number of IDs issued"),
		metric.WithUnit("{id}")); err != nil {
		return nil, err
	}
	if m.overflows, err = meter.Int64Counter("gflake.sequence.overflows",
		metric.WithDescription("Number of times the sequence of a tick was exhausted")); err != nil {
		return nil, err
	}
	if m.regressions, err = meter.Int64Counter("gflake.clock.regressions",
		metric.WithDescription("Number of calls failed because the clock moved backwards")); err != nil {
		return nil, err
	}
	if m.contended, err = meter.Int64Counter("gflake.lock.contended",
		metric.WithDescription("Number of TryNext calls that found the generator busy")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *generatorMetrics) issue(ctx context.Context) {
	if m != nil {
		m.issued.Add(ctx, 1, m.attrs)
	}
}

func (m *generatorMetrics) overflow(ctx context.Context) {
	if m != nil {
		m.overflows.Add(ctx, 1, m.attrs)
	}
}

func (m *generatorMetrics) regression(ctx context.Context) {
	if m != nil {
		m.regressions.Add(ctx, 1, m.attrs)
	}
}

func (m *generatorMetrics) contention(ctx context.Context) {
	if m != nil {
		m.contended.Add(ctx, 1, m.attrs)
	}
}
