package asynchook

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/optcache"
)

type countHooks struct {
	optcache.NopHooks
	settled atomic.Int32
}

func (c *countHooks) MutationSettled(string, string, time.Duration) { c.settled.Add(1) }

func TestCloseDrainsQueue(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for range 10 {
		h.MutationSettled("account.create", "success", time.Millisecond)
	}
	h.Close()
	h.Close()
	if n := inner.settled.Load(); n != 10 {
		t.Fatalf("expected 10 delivered events, got %d", n)
	}
}

func TestCallsAfterCloseAreIgnored(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 1, 4)
	h.Close()
	h.MutationSettled("account.create", "success", time.Millisecond)
	h.InvariantViolation("group.settle", errors.New("sum != 0"))
	if n := inner.settled.Load(); n != 0 {
		t.Fatalf("expected nothing delivered after Close, got %d", n)
	}
}

// ==============================
// Backpressure
// ==============================

type blockingHooks struct {
	optcache.NopHooks
	block      chan struct{}
	started    chan struct{}
	stale      atomic.Int32
	violations atomic.Int32
	rollbacks  atomic.Int32
}

func newBlocking() *blockingHooks {
	return &blockingHooks{block: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (b *blockingHooks) SelfHealEntry(string, string) {
	b.started <- struct{}{}
	<-b.block
}

func (b *blockingHooks) StaleWriteRejected(string)        { b.stale.Add(1) }
func (b *blockingHooks) InvariantViolation(string, error) { b.violations.Add(1) }
func (b *blockingHooks) RollbackApplied(string, string, error) {
	b.rollbacks.Add(1)
}

func TestFullQueueDropsRoutineEvents(t *testing.T) {
	inner := newBlocking()
	h := New(inner, 1, 1)
	h.SelfHealEntry("ns:accounts", "corrupt") // taken by the worker, blocks
	<-inner.started
	h.StaleWriteRejected("accounts") // queued
	h.StaleWriteRejected("accounts") // dropped
	close(inner.block)
	h.Close()
	if n := inner.stale.Load(); n != 1 {
		t.Fatalf("expected 1 delivered event, got %d", n)
	}
	if d := h.Dropped(); d != 1 {
		t.Fatalf("expected 1 dropped event, got %d", d)
	}
}

func TestCriticalEventsWaitForRoom(t *testing.T) {
	inner := newBlocking()
	h := New(inner, 1, 1)
	h.SelfHealEntry("ns:accounts", "corrupt")
	<-inner.started
	h.RollbackApplied("transaction.create", "network", nil) // queued

	done := make(chan struct{})
	go func() {
		h.InvariantViolation("group.settle", errors.New("sum != 0"))
		h.RollbackApplied("loan.payment", "invariant", errors.New("provider down"))
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("critical events should wait while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}
	close(inner.block)
	<-done
	h.Close()

	if n := inner.violations.Load(); n != 1 {
		t.Fatalf("expected the violation delivered, got %d", n)
	}
	if n := inner.rollbacks.Load(); n != 2 {
		t.Fatalf("expected 2 rollbacks delivered, got %d", n)
	}
	if d := h.Dropped(); d != 0 {
		t.Fatalf("nothing should be dropped, got %d", d)
	}
}
