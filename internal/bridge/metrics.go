package bridge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "tickbridge.ai/internal/bridge"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	connects     metric.Int64Counter
	enqueued     metric.Int64Counter
}

func newInstruments() *instruments {
	m := meter()
	ticks, _ := m.Int64Counter("bridge.ticks",
		metric.WithDescription("Tick calls by outcome"))
	dur, _ := m.Float64Histogram("bridge.tick.duration",
		metric.WithDescription("Time from ACT send to acknowledged frame"),
		metric.WithUnit("ms"))
	connects, _ := m.Int64Counter("bridge.connects",
		metric.WithDescription("Connect attempts by outcome"))
	enq, _ := m.Int64Counter("bridge.actions.enqueued",
		metric.WithDescription("Actions accepted into session queues"))
	return &instruments{ticks: ticks, tickDuration: dur, connects: connects, enqueued: enq}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func (i *instruments) tick(ctx context.Context, ms float64, err error) {
	o := attribute.String("outcome", outcome(err))
	i.ticks.Add(ctx, 1, metric.WithAttributes(o))
	if err == nil {
		i.tickDuration.Record(ctx, ms)
	}
}

func (i *instruments) connect(ctx context.Context, err error) {
	i.connects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func (i *instruments) enqueue(ctx context.Context, kind ActionKind) {
	i.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
