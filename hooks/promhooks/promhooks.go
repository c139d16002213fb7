// Package promhooks exports store and mutation events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/optcache"
)

// Hooks implements optcache.Hooks with counters registered on a Registerer.
type Hooks struct {
	SelfHeal         *prometheus.CounterVec
	StaleRejected    prometheus.Counter
	SetRejected      prometheus.Counter
	SeqErrors        prometheus.Counter
	SubscriberPanics prometheus.Counter
	Settled          *prometheus.CounterVec
	SettleDuration   *prometheus.HistogramVec
	Rollbacks        *prometheus.CounterVec
	Violations       *prometheus.CounterVec
}

var _ optcache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg (nil => prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		SelfHeal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heal_total",
			Help:      "Corrupt cache entries dropped on read",
		}, []string{"reason"}),
		StaleRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_write_rejected_total",
			Help:      "Conditional writes that lost to a newer write",
		}),
		SetRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_set_rejected_total",
			Help:      "Provider writes rejected under pressure",
		}),
		SeqErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seq_errors_total",
			Help:      "Sequence store failures",
		}),
		SubscriberPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_panics_total",
			Help:      "Recovered subscriber panics",
		}),
		Settled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_settled_total",
			Help:      "Settled mutations by kind and outcome",
		}, []string{"kind", "outcome"}),
		SettleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Mutation duration from apply to settle in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_rollbacks_total",
			Help:      "Optimistic updates rolled back",
		}, []string{"kind", "reason", "complete"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Cache invariant violations by mutation kind",
		}, []string{"kind"}),
	}
}

func (h *Hooks) SelfHealEntry(_ string, reason string) { h.SelfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) StaleWriteRejected(string)             { h.StaleRejected.Inc() }
func (h *Hooks) ProviderSetRejected(string)            { h.SetRejected.Inc() }
func (h *Hooks) SeqError(string, error)                { h.SeqErrors.Inc() }
func (h *Hooks) SubscriberPanic(string, any)           { h.SubscriberPanics.Inc() }

func (h *Hooks) MutationSettled(kind, outcome string, took time.Duration) {
	h.Settled.WithLabelValues(kind, outcome).Inc()
	h.SettleDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (h *Hooks) RollbackApplied(kind, reason string, restoreErr error) {
	complete := "true"
	if restoreErr != nil {
		complete = "false"
	}
	h.Rollbacks.WithLabelValues(kind, reason, complete).Inc()
}

func (h *Hooks) InvariantViolation(kind string, _ error) { h.Violations.WithLabelValues(kind).Inc() }
