// Package otelhooks records store and mutation events as OpenTelemetry metrics.
package otelhooks

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/optcache"
)

// Hooks implements optcache.Hooks on top of a metric.Meter.
// Storage keys are never used as attributes; they are unbounded.
type Hooks struct {
	selfHeal       metric.Int64Counter
	staleRejected  metric.Int64Counter
	setRejected    metric.Int64Counter
	seqErrors      metric.Int64Counter
	subPanics      metric.Int64Counter
	settled        metric.Int64Counter
	settleDuration metric.Float64Histogram
	rollbacks      metric.Int64Counter
	violations     metric.Int64Counter
}

var _ optcache.Hooks = (*Hooks)(nil)

func New(meter metric.Meter) (*Hooks, error) {
	h := &Hooks{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&h.selfHeal, "optcache.self_heal", "Corrupt entries dropped on read", "{entry}"},
		{&h.staleRejected, "optcache.stale_write.rejected", "Conditional writes that lost to a newer write", "{write}"},
		{&h.setRejected, "optcache.provider_set.rejected", "Provider writes rejected under pressure", "{write}"},
		{&h.seqErrors, "optcache.seq.errors", "Sequence store failures", "{error}"},
		{&h.subPanics, "optcache.subscriber.panics", "Recovered subscriber panics", "{panic}"},
		{&h.settled, "optcache.mutation.settled", "Settled mutations by kind and outcome", "{mutation}"},
		{&h.rollbacks, "optcache.mutation.rollbacks", "Optimistic updates rolled back", "{rollback}"},
		{&h.violations, "optcache.invariant.violations", "Cache invariant violations", "{violation}"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("otelhooks: %s: %w", c.name, err)
		}
		*c.dst = ctr
	}

	var err error
	h.settleDuration, err = meter.Float64Histogram(
		"optcache.mutation.duration_ms",
		metric.WithDescription("Mutation duration from apply to settle in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelhooks: optcache.mutation.duration_ms: %w", err)
	}
	return h, nil
}

func (h *Hooks) SelfHealEntry(_ string, reason string) {
	h.selfHeal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (h *Hooks) StaleWriteRejected(string) {
	h.staleRejected.Add(context.Background(), 1)
}

func (h *Hooks) ProviderSetRejected(string) {
	h.setRejected.Add(context.Background(), 1)
}

func (h *Hooks) SeqError(string, error) {
	h.seqErrors.Add(context.Background(), 1)
}

func (h *Hooks) SubscriberPanic(string, any) {
	h.subPanics.Add(context.Background(), 1)
}

func (h *Hooks) MutationSettled(kind, outcome string, took time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("mutation.kind", kind),
		attribute.String("mutation.outcome", outcome),
	)
	h.settled.Add(context.Background(), 1, opt)
	h.settleDuration.Record(context.Background(), float64(took.Milliseconds()), opt)
}

func (h *Hooks) RollbackApplied(kind, reason string, restoreErr error) {
	h.rollbacks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("mutation.kind", kind),
		attribute.String("reason", reason),
		attribute.Bool("complete", restoreErr == nil),
	))
}

func (h *Hooks) InvariantViolation(kind string, _ error) {
	h.violations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mutation.kind", kind)))
}
