package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "@agentuity/tiercache/cache"

var tracer = otel.Tracer(instrumentationName)

const (
	resultHit  = "hit"
	resultMiss = "miss"
)

type instruments struct {
	lookups    metric.Int64Counter
	promotions metric.Int64Counter
	degraded   metric.Int64Counter
	writes     metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return &instruments{
		lookups:    counter("tiercache.lookups", "Cache lookups by tier and result"),
		promotions: counter("tiercache.promotions", "Durable hits copied into the memory tier"),
		degraded:   counter("tiercache.degraded", "Durable tier operations that failed and were contained"),
		writes:     counter("tiercache.writes", "Durable writes by compression"),
	}
}

func (i *instruments) lookup(ctx context.Context, tier, result string) {
	i.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

func (i *instruments) degrade(ctx context.Context, tier, op, reason string) {
	i.degraded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("op", op),
		attribute.String("reason", reason),
	))
}

func (i *instruments) write(ctx context.Context, tier string, compressed bool) {
	i.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.Bool("compressed", compressed),
	))
}
