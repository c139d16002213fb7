package optcache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/optcache/internal/wire"
)

const defaultRefreshLimit = 4

func (s *store) Refresh(ctx context.Context, ns Namespace, fetch Fetcher) (Entry, error) {
	if s.closed.Load() {
		return Entry{}, ErrClosed
	}
	if ns.Kind == "" {
		return Entry{}, ErrEmptyKind
	}
	v, err, _ := s.flight.Do(ns.Key(), func() (any, error) {
		return s.refresh(ctx, ns, fetch)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (s *store) refresh(ctx context.Context, ns Namespace, fetch Fetcher) (Entry, error) {
	k := storageKey(ns)

	// Flag the entry as Fetching without bumping its sequence: that change
	// must not invalidate our own observed sequence. A held entry keeps its
	// unconfirmed value untouched.
	s.mu.Lock()
	prevRaw, prevOK, err := s.rawLocked(ctx, ns)
	if err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	obs, err := s.seq.Snapshot(ctx, k)
	if err != nil {
		s.mu.Unlock()
		s.hooks.SeqError(k, err)
		return Entry{}, fmt.Errorf("optcache: refresh %s: %w", ns, err)
	}
	if !s.heldLocked(ns) {
		var marker wire.Entry
		if prevOK {
			marker, _ = wire.Decode(prevRaw)
		}
		marker.State = byte(Fetching)
		mraw := wire.Encode(marker)
		if ok, err := s.provider.Set(ctx, k, mraw, s.computeSetCost(k, mraw), 0); err == nil && ok {
			s.index[ns] = struct{}{}
		}
	}
	s.mu.Unlock()

	v, ferr := fetch(ctx)

	var events []Event
	s.mu.Lock()
	cur, err := s.seq.Snapshot(ctx, k)
	switch {
	case err != nil:
		s.hooks.SeqError(k, err)
		events = s.settleFetchingLocked(ctx, ns)
	case cur != obs:
		// Someone wrote while we were fetching. Our result predates that
		// write and is dropped.
		if ferr == nil {
			s.hooks.StaleWriteRejected(ns.Key())
			s.log.Debug("refresh result dropped (seq moved)", Fields{"ns": ns.Key(), "obs": obs, "cur": cur})
		}
		events = s.settleFetchingLocked(ctx, ns)
	case s.heldLocked(ns):
		// A mutation applied an optimistic value after we snapshotted the
		// sequence and has not settled. The server answer predates it.
		if ferr == nil {
			s.hooks.StaleWriteRejected(ns.Key())
			s.log.Debug("refresh result dropped (pending optimistic value)", Fields{"ns": ns.Key()})
		}
		events = s.settleFetchingLocked(ctx, ns)
	case ferr != nil:
		// put back exactly what was there
		if !prevOK {
			_ = s.provider.Del(ctx, k)
			delete(s.index, ns)
			break
		}
		ok, err := s.provider.Set(ctx, k, prevRaw, s.computeSetCost(k, prevRaw), 0)
		if err != nil || !ok {
			// never leave the Fetching marker behind
			s.log.Warn("could not restore entry after failed fetch", Fields{"ns": ns.Key(), "err": err})
			if !ok && err == nil {
				s.hooks.ProviderSetRejected(k)
			}
			if derr := s.provider.Del(ctx, k); derr == nil {
				delete(s.index, ns)
				events = append(events, Event{Namespace: ns, Type: EventRemoved, Seq: s.bumpLocked(ctx, k)})
			}
		}
	default:
		tx := newTxn(ctx, s, nil)
		if err := tx.Set(ns, v); err != nil {
			tx.done = true
			events = s.settleFetchingLocked(ctx, ns)
			ferr = err
			break
		}
		tx.done = true
		// commit compares against the marker; Fetching->Fresh with the
		// same value stays silent
		events, err = s.commitLocked(ctx, tx)
		if err != nil {
			ferr = err
		}
	}
	s.mu.Unlock()
	s.subs.notify(events, s.hooks, s.log)

	if ferr != nil {
		return Entry{}, ferr
	}
	e, ok, err := s.Get(ctx, ns)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("optcache: refresh %s: entry evicted", ns)
	}
	return e, nil
}

// settleFetchingLocked turns a leftover Fetching flag into Stale so that a
// dropped refresh never leaves the entry looking busy.
func (s *store) settleFetchingLocked(ctx context.Context, ns Namespace) []Event {
	w, ok, err := s.loadLocked(ctx, ns)
	if err != nil || !ok || State(w.State) != Fetching {
		return nil
	}
	tx := newTxn(ctx, s, nil)
	if w.HasValue {
		w.State = byte(Stale)
		tx.stage(ns, &stagedOp{raw: wire.Encode(w)})
	} else {
		tx.stage(ns, &stagedOp{del: true})
	}
	tx.done = true
	events, err := s.commitLocked(ctx, tx)
	if err != nil {
		s.log.Warn("could not clear fetching flag", Fields{"ns": ns.Key(), "err": err})
	}
	return events
}

func (s *store) RefreshStale(ctx context.Context, fetchers func(Namespace) Fetcher, limit int) error {
	if limit <= 0 {
		limit = defaultRefreshLimit
	}
	var stale []Namespace
	for _, ns := range s.Namespaces() {
		e, ok, err := s.Get(ctx, ns)
		if err != nil {
			return err
		}
		if ok && e.State == Stale {
			stale = append(stale, ns)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	errs := make([]error, len(stale))
	for i, ns := range stale {
		f := fetchers(ns)
		if f == nil {
			continue
		}
		g.Go(func() error {
			if _, err := s.Refresh(gctx, ns, f); err != nil {
				errs[i] = fmt.Errorf("refresh %s: %w", ns, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
