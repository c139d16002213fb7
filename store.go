package optcache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/optcache/codec"
	"github.com/unkn0wn-root/optcache/internal/wire"
	pr "github.com/unkn0wn-root/optcache/provider"
	"github.com/unkn0wn-root/optcache/provider/memory"
	"github.com/unkn0wn-root/optcache/seqstore"
)

const (
	defaultSeqRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
	defaultStaleAfter   = 5 * time.Minute
)

type store struct {
	// mu serializes every read-modify-write of provider bytes together with
	// its sequence bump. Subscribers run outside of it.
	mu sync.Mutex

	provider       pr.Provider
	codec          c.Codec
	seq            seqstore.SeqStore
	log            Logger
	hooks          Hooks
	now            func() time.Time
	computeSetCost SetCostFunc

	defaultStaleAfter time.Duration
	staleAfter        map[Kind]time.Duration

	// index tracks which namespaces live in the provider. Providers that
	// evict on their own are reconciled lazily on read.
	index map[Namespace]struct{}

	// held maps a namespace to the owners of unconfirmed writes on it.
	held map[Namespace]map[string]struct{}

	subs   subscribers
	flight singleflight.Group
	closed atomic.Bool
}

func newStore(opts Options) (*store, error) {
	s := &store{
		index: make(map[Namespace]struct{}),
		held:  make(map[Namespace]map[string]struct{}),
	}

	// defaults
	if opts.Provider != nil {
		s.provider = opts.Provider
	} else {
		s.provider = memory.New()
	}
	if opts.Codec != nil {
		s.codec = opts.Codec
	} else {
		s.codec = c.JSON{}
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.defaultStaleAfter = coalesce[time.Duration](opts.DefaultStaleAfter, defaultStaleAfter)

	s.staleAfter = make(map[Kind]time.Duration, len(opts.StaleAfter))
	for k, d := range opts.StaleAfter {
		s.staleAfter[k] = d
	}

	if opts.Now != nil {
		s.now = opts.Now
	} else {
		s.now = time.Now
	}

	if opts.ComputeSetCost != nil {
		s.computeSetCost = opts.ComputeSetCost
	} else {
		s.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.SeqStore != nil {
		s.seq = opts.SeqStore
	} else {
		// default to in-process sequences with periodic cleanup
		s.seq = seqstore.NewLocalWith(seqstore.LocalOptions{
			CleanupInterval: coalesce[time.Duration](opts.CleanupInterval, defaultSweep),
			Retention:       coalesce[time.Duration](opts.SeqRetention, defaultSeqRetention),
			Now:             s.now,
		})
	}

	return s, nil
}

func (s *store) Codec() c.Codec { return s.codec }

func (s *store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Close seq store first (best effort)
	if s.seq != nil {
		_ = s.seq.Close(ctx)
	}
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}

func (s *store) staleFor(k Kind) time.Duration {
	d, ok := s.staleAfter[k]
	if !ok {
		d = s.defaultStaleAfter
	}
	if d < 0 {
		return 0
	}
	return d
}

func (s *store) Get(ctx context.Context, ns Namespace) (Entry, bool, error) {
	if s.closed.Load() {
		return Entry{}, false, ErrClosed
	}
	s.mu.Lock()
	w, ok, err := s.loadLocked(ctx, ns)
	s.mu.Unlock()
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return toEntry(ns, w, s.now()), true, nil
}

func (s *store) Set(ctx context.Context, ns Namespace, v any) error {
	return s.Update(ctx, func(tx *Txn) error { return tx.Set(ns, v) })
}

func (s *store) SetIfSeq(ctx context.Context, ns Namespace, v any, observed uint64) (bool, error) {
	applied := false
	err := s.Update(ctx, func(tx *Txn) error {
		if s.heldLocked(ns) {
			s.hooks.StaleWriteRejected(ns.Key())
			s.log.Debug("write skipped (pending optimistic value)", Fields{"ns": ns.Key()})
			return nil
		}
		ok, err := s.seqMatchesLocked(ctx, ns, observed)
		if err != nil || !ok {
			return err
		}
		applied = true
		return tx.Set(ns, v)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *store) MarkStale(ctx context.Context, ns Namespace) error {
	return s.Update(ctx, func(tx *Txn) error { return tx.MarkStale(ns) })
}

func (s *store) MarkStaleKind(ctx context.Context, kind Kind) error {
	return s.Update(ctx, func(tx *Txn) error { return tx.MarkStaleKind(kind) })
}

func (s *store) Delete(ctx context.Context, ns Namespace) error {
	return s.Update(ctx, func(tx *Txn) error { return tx.Delete(ns) })
}

func (s *store) Clear(ctx context.Context) error {
	err := s.Update(ctx, func(tx *Txn) error {
		for _, ns := range s.namespacesLocked() {
			if err := tx.Delete(ns); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// a shared backend may hold entries this process never indexed
	cl, ok := s.provider.(pr.Clearer)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := cl.Clear(ctx); err != nil {
		return &CommitError{Op: "clear", Err: err}
	}
	clear(s.index)
	return nil
}

func (s *store) Seq(ctx context.Context, ns Namespace) uint64 {
	k := storageKey(ns)
	g, err := s.seq.Snapshot(ctx, k)
	if err != nil {
		s.hooks.SeqError(k, err)
		s.log.Warn("seq snapshot failed", Fields{"ns": ns.Key(), "err": err})
		return 0
	}
	return g
}

func (s *store) Held(ns Namespace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(ns)
}

func (s *store) heldLocked(ns Namespace) bool { return len(s.held[ns]) > 0 }

func (s *store) Namespaces() []Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespacesLocked()
}

func (s *store) namespacesLocked() []Namespace {
	out := make([]Namespace, 0, len(s.index))
	for ns := range s.index {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (s *store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	return s.update(ctx, nil, fn)
}

func (s *store) UpdateScoped(ctx context.Context, scope []Namespace, fn func(tx *Txn) error) error {
	set := make(map[Namespace]struct{}, len(scope))
	for _, ns := range scope {
		set[ns] = struct{}{}
	}
	return s.update(ctx, set, fn)
}

func (s *store) update(ctx context.Context, scope map[Namespace]struct{}, fn func(tx *Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	tx := newTxn(ctx, s, scope)
	if err := fn(tx); err != nil {
		tx.done = true
		s.mu.Unlock()
		return err
	}
	tx.done = true
	events, err := s.commitLocked(ctx, tx)
	if err == nil {
		for _, h := range tx.holds {
			owners := s.held[h.ns]
			if owners == nil {
				owners = make(map[string]struct{})
				s.held[h.ns] = owners
			}
			owners[h.owner] = struct{}{}
		}
	}
	for _, h := range tx.releases {
		if owners := s.held[h.ns]; owners != nil {
			delete(owners, h.owner)
			if len(owners) == 0 {
				delete(s.held, h.ns)
			}
		}
	}
	s.mu.Unlock()

	// notify what was applied, even on a partial commit
	s.subs.notify(events, s.hooks, s.log)
	return err
}

// loadLocked reads and validates ns. Corrupt bytes are deleted and reported
// as a miss.
func (s *store) loadLocked(ctx context.Context, ns Namespace) (wire.Entry, bool, error) {
	raw, ok, err := s.rawLocked(ctx, ns)
	if err != nil || !ok {
		return wire.Entry{}, false, err
	}
	w, _ := wire.Decode(raw)
	return w, true, nil
}

func (s *store) rawLocked(ctx context.Context, ns Namespace) ([]byte, bool, error) {
	k := storageKey(ns)
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// evicted by the provider (or never written)
		delete(s.index, ns)
		return nil, false, nil
	}
	if _, err := wire.Decode(raw); err != nil {
		_ = s.provider.Del(ctx, k) // self-heal corrupt
		delete(s.index, ns)
		s.hooks.SelfHealEntry(k, "corrupt")
		s.log.Warn("dropped corrupt entry", Fields{"ns": ns.Key(), "err": err})
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *store) seqMatchesLocked(ctx context.Context, ns Namespace, observed uint64) (bool, error) {
	k := storageKey(ns)
	cur, err := s.seq.Snapshot(ctx, k)
	if err != nil {
		s.hooks.SeqError(k, err)
		s.log.Warn("seq snapshot failed; write skipped", Fields{"ns": ns.Key(), "err": err})
		return false, nil
	}
	if cur != observed {
		// sequence moved; skip stale write
		s.hooks.StaleWriteRejected(ns.Key())
		s.log.Debug("write skipped (seq mismatch)", Fields{"ns": ns.Key(), "obs": observed, "cur": cur})
		return false, nil
	}
	return true, nil
}

func (s *store) bumpLocked(ctx context.Context, k string) uint64 {
	g, err := s.seq.Bump(ctx, k)
	if err != nil {
		s.hooks.SeqError(k, err)
		s.log.Error("seq bump failed", Fields{"key": k, "err": err})
	}
	return g
}

func (s *store) commitLocked(ctx context.Context, tx *Txn) ([]Event, error) {
	var events []Event
	for _, ns := range tx.order {
		o := tx.staged[ns]
		k := storageKey(ns)

		prevRaw, prevOK, err := s.rawLocked(ctx, ns)
		if err != nil {
			return events, &CommitError{Namespace: ns, Op: "get", Err: err}
		}

		if o.del {
			if !prevOK {
				continue
			}
			if err := s.provider.Del(ctx, k); err != nil {
				return events, &CommitError{Namespace: ns, Op: "del", Err: err}
			}
			delete(s.index, ns)
			events = append(events, Event{Namespace: ns, Type: EventRemoved, Seq: s.bumpLocked(ctx, k)})
			continue
		}

		if o.restore && prevOK && bytes.Equal(prevRaw, o.raw) {
			continue
		}

		ok, err := s.provider.Set(ctx, k, o.raw, s.computeSetCost(k, o.raw), 0)
		if err != nil {
			return events, &CommitError{Namespace: ns, Op: "set", Err: err}
		}
		if !ok {
			// rejected under pressure: never leave the old bytes behind
			_ = s.provider.Del(ctx, k)
			delete(s.index, ns)
			s.hooks.ProviderSetRejected(k)
			s.log.Debug("set rejected by provider (pressure)", Fields{"ns": ns.Key()})
			seq := s.bumpLocked(ctx, k)
			if prevOK {
				events = append(events, Event{Namespace: ns, Type: EventRemoved, Seq: seq})
			}
			continue
		}
		s.index[ns] = struct{}{}
		seq := s.bumpLocked(ctx, k)
		if t, changed := changeOf(prevRaw, prevOK, o.raw); changed {
			events = append(events, Event{Namespace: ns, Type: t, Seq: seq})
		}
	}
	return events, nil
}

// changeOf decides which event, if any, a put of next over prev produces.
// Rewriting an identical value is silent.
func changeOf(prevRaw []byte, prevOK bool, next []byte) (EventType, bool) {
	if !prevOK {
		return EventReplaced, true
	}
	p, _ := wire.Decode(prevRaw)
	n, _ := wire.Decode(next)
	if p.HasValue != n.HasValue || !bytes.Equal(p.Payload, n.Payload) {
		return EventReplaced, true
	}
	if State(n.State) == Stale && State(p.State) != Stale {
		return EventStale, true
	}
	return 0, false
}
