package promhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCountersByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "optcache")

	h.MutationSettled("group.settle", "success", 40*time.Millisecond)
	h.MutationSettled("group.settle", "conflict", 10*time.Millisecond)
	h.MutationSettled("group.settle", "conflict", 12*time.Millisecond)
	h.RollbackApplied("group.settle", "conflict", errors.New("partial"))
	h.StaleWriteRejected("accounts")

	if got := testutil.ToFloat64(h.Settled.WithLabelValues("group.settle", "conflict")); got != 2 {
		t.Fatalf("conflict settles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.Rollbacks.WithLabelValues("group.settle", "conflict", "false")); got != 1 {
		t.Fatalf("incomplete rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.StaleRejected); got != 1 {
		t.Fatalf("stale rejected = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(h.SettleDuration); n != 1 {
		t.Fatalf("expected 1 histogram series, got %d", n)
	}
}

func TestSettleDurationInSeconds(t *testing.T) {
	h := New(prometheus.NewRegistry(), "optcache")
	h.MutationSettled("transaction.create", "success", 250*time.Millisecond)
	h.MutationSettled("transaction.create", "network", 750*time.Millisecond)

	var m dto.Metric
	if err := h.SettleDuration.WithLabelValues("transaction.create").(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	hist := m.GetHistogram()
	if hist.GetSampleCount() != 2 {
		t.Fatalf("samples = %d, want 2", hist.GetSampleCount())
	}
	if sum := hist.GetSampleSum(); sum < 0.99 || sum > 1.01 {
		t.Fatalf("sum = %v, want 1s", sum)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// two stores in one process must not collide
	_ = New(prometheus.NewRegistry(), "optcache")
	_ = New(prometheus.NewRegistry(), "optcache")
}
