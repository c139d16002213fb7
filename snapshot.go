package optcache

import (
	"bytes"
	"context"
	"fmt"

	"github.com/unkn0wn-root/optcache/internal/wire"
)

// Snapshot is a frozen copy of some namespaces: the exact stored bytes of
// each entry, or the fact that it was absent.
type Snapshot struct {
	items []snapItem
}

type snapItem struct {
	ns      Namespace
	raw     []byte // nil when absent
	present bool
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Snapshot) Namespaces() []Namespace {
	if s == nil {
		return nil
	}
	out := make([]Namespace, len(s.items))
	for i, it := range s.items {
		out[i] = it.ns
	}
	return out
}

// Entry returns the captured entry of ns. ok=false if ns was absent or not
// captured.
func (s *Snapshot) Entry(ns Namespace) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	for _, it := range s.items {
		if it.ns != ns || !it.present {
			continue
		}
		w, _ := wire.Decode(it.raw)
		// keep the stored state; age-based staleness is a read-time view
		e := toEntry(ns, w, w.FetchedAt)
		return e, true
	}
	return Entry{}, false
}

// Snapshot captures nss as currently visible in the transaction.
func (tx *Txn) Snapshot(nss ...Namespace) (*Snapshot, error) {
	if tx.done {
		return nil, ErrTxnDone
	}
	nss = dedupe(nss)
	snap := &Snapshot{items: make([]snapItem, 0, len(nss))}
	for _, ns := range nss {
		it := snapItem{ns: ns}
		if op, ok := tx.staged[ns]; ok {
			if !op.del {
				it.raw, it.present = bytes.Clone(op.raw), true
			}
		} else {
			raw, ok, err := tx.s.rawLocked(tx.ctx, ns)
			if err != nil {
				return nil, fmt.Errorf("optcache: snapshot %s: %w", ns, err)
			}
			if ok {
				it.raw, it.present = bytes.Clone(raw), true
			}
		}
		snap.items = append(snap.items, it)
	}
	return snap, nil
}

// Restore stages every captured namespace back to its captured state:
// bytes rewritten verbatim, absent namespaces deleted. Namespaces already
// equal to the snapshot are left alone, so restoring twice is harmless.
func (tx *Txn) Restore(snap *Snapshot) error {
	if tx.done {
		return ErrTxnDone
	}
	if snap == nil {
		return nil
	}
	for _, it := range snap.items {
		if err := tx.inScope(it.ns); err != nil {
			return err
		}
	}
	for _, it := range snap.items {
		if it.present {
			tx.stage(it.ns, &stagedOp{raw: bytes.Clone(it.raw), restore: true})
		} else {
			tx.stage(it.ns, &stagedOp{del: true})
		}
	}
	return nil
}

func (s *store) Snapshot(ctx context.Context, nss ...Namespace) (*Snapshot, error) {
	var snap *Snapshot
	err := s.Update(ctx, func(tx *Txn) error {
		var err error
		snap, err = tx.Snapshot(nss...)
		return err
	})
	return snap, err
}

func (s *store) Restore(ctx context.Context, snap *Snapshot) error {
	return s.Update(ctx, func(tx *Txn) error { return tx.Restore(snap) })
}
