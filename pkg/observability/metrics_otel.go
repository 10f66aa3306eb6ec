package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LifecycleInstruments mirrors the lifecycle Prometheus metrics onto the
// OpenTelemetry meter so they reach the OTLP collector alongside traces.
type LifecycleInstruments struct {
	transitions metric.Int64Counter
	proration   metric.Float64Histogram
}

// NewLifecycleInstruments creates the instruments on the global meter provider
func NewLifecycleInstruments() (*LifecycleInstruments, error) {
	return NewLifecycleInstrumentsWithMeter(otel.Meter("github.com/platinummonkey/tenancy/billing"))
}

// NewLifecycleInstrumentsWithMeter creates the instruments on the given meter
func NewLifecycleInstrumentsWithMeter(meter metric.Meter) (*LifecycleInstruments, error) {
	transitions, err := meter.Int64Counter(
		"subscription.transitions",
		metric.WithDescription("Subscription state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription.transitions counter: %w", err)
	}

	proration, err := meter.Float64Histogram(
		"subscription.proration.amount",
		metric.WithDescription("Billed amount of plan switches after proration"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription.proration.amount histogram: %w", err)
	}

	return &LifecycleInstruments{transitions: transitions, proration: proration}, nil
}

// RecordTransition adds one transition. Safe on a nil receiver.
func (i *LifecycleInstruments) RecordTransition(ctx context.Context, from, to string) {
	if i == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordProration records a billed plan switch amount. Safe on a nil receiver.
func (i *LifecycleInstruments) RecordProration(ctx context.Context, amount float64, direction string) {
	if i == nil {
		return
	}
	i.proration.Record(ctx, amount, metric.WithAttributes(attribute.String("direction", direction)))
}
