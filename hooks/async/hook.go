// Package asynchook moves Hooks calls off the store and executor hot paths.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := optcache.New(optcache.Options{Hooks: hooks})
//
// Routine events are dropped when the queue is full. Invariant violations
// and rollbacks that failed to restore the cache wait for room instead.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/optcache"
)

type Hooks struct {
	inner optcache.Hooks
	q     chan func()
	wg    sync.WaitGroup

	// mu guards q against send-after-close; senders hold it shared.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ optcache.Hooks = (*Hooks)(nil)

func New(inner optcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = optcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later calls are ignored.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped reports how many routine events were discarded on a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) must(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.q <- f
}

func (h *Hooks) SelfHealEntry(k, r string)    { h.try(func() { h.inner.SelfHealEntry(k, r) }) }
func (h *Hooks) StaleWriteRejected(ns string) { h.try(func() { h.inner.StaleWriteRejected(ns) }) }
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) SeqError(k string, err error) { h.try(func() { h.inner.SeqError(k, err) }) }

func (h *Hooks) SubscriberPanic(ns string, r any) {
	h.try(func() { h.inner.SubscriberPanic(ns, r) })
}

func (h *Hooks) MutationSettled(kind, outcome string, d time.Duration) {
	h.try(func() { h.inner.MutationSettled(kind, outcome, d) })
}

func (h *Hooks) RollbackApplied(kind, reason string, err error) {
	f := func() { h.inner.RollbackApplied(kind, reason, err) }
	if err != nil {
		h.must(f)
		return
	}
	h.try(f)
}

func (h *Hooks) InvariantViolation(kind string, err error) {
	h.must(func() { h.inner.InvariantViolation(kind, err) })
}
