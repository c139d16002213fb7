package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/optcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery      uint64
	StaleRejectedEvery uint64
	SettledEvery       uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr      atomic.Uint64
	staleRejectedCtr atomic.Uint64
	settledCtr       atomic.Uint64
}

var _ optcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHealEntry(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("optcache.self_heal_entry",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) StaleWriteRejected(ns string) {
	if h.l == nil || !sample(h.opts.StaleRejectedEvery, &h.staleRejectedCtr) {
		return
	}
	h.l.Debug("optcache.stale_write_rejected",
		"ns", ns)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("optcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) SeqError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("optcache.seq_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) SubscriberPanic(ns string, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("optcache.subscriber_panic",
		"ns", ns,
		"panic", recovered)
}

func (h *Hooks) MutationSettled(kind, outcome string, took time.Duration) {
	if h.l == nil || !sample(h.opts.SettledEvery, &h.settledCtr) {
		return
	}
	h.l.Info("optcache.mutation_settled",
		"kind", kind,
		"outcome", outcome,
		"took", took)
}

func (h *Hooks) RollbackApplied(kind, reason string, restoreErr error) {
	if h.l == nil {
		return
	}
	if restoreErr != nil {
		h.l.Error("optcache.rollback_incomplete",
			"kind", kind,
			"reason", reason,
			"err", restoreErr)
		return
	}
	h.l.Info("optcache.rollback_applied",
		"kind", kind,
		"reason", reason)
}

func (h *Hooks) InvariantViolation(kind string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("optcache.invariant_violation",
		"kind", kind,
		"err", err)
}
