package optcache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/optcache/internal/wire"
)

type hold struct {
	owner string
	ns    Namespace
}

type stagedOp struct {
	del     bool
	raw     []byte
	restore bool
}

// Txn is a set of cache reads and writes applied atomically.
// Writes are staged and become visible (and notify subscribers) only when the
// function passed to Update returns nil. A Txn must not be used after that
// function returns.
type Txn struct {
	ctx    context.Context
	s      *store
	scope  map[Namespace]struct{} // nil => unrestricted
	staged map[Namespace]*stagedOp
	order  []Namespace
	done   bool

	holds    []hold
	releases []hold
}

func newTxn(ctx context.Context, s *store, scope map[Namespace]struct{}) *Txn {
	return &Txn{
		ctx:    ctx,
		s:      s,
		scope:  scope,
		staged: make(map[Namespace]*stagedOp),
	}
}

func (tx *Txn) inScope(ns Namespace) error {
	if tx.scope == nil {
		return nil
	}
	if _, ok := tx.scope[ns]; !ok {
		return fmt.Errorf("%w: %s", ErrOutOfScope, ns)
	}
	return nil
}

func (tx *Txn) stage(ns Namespace, op *stagedOp) {
	if _, ok := tx.staged[ns]; !ok {
		tx.order = append(tx.order, ns)
	}
	tx.staged[ns] = op
}

// load sees staged writes first, then the provider.
func (tx *Txn) load(ns Namespace) (wire.Entry, bool, error) {
	if op, ok := tx.staged[ns]; ok {
		if op.del {
			return wire.Entry{}, false, nil
		}
		w, _ := wire.Decode(op.raw)
		return w, true, nil
	}
	return tx.s.loadLocked(tx.ctx, ns)
}

func (tx *Txn) Get(ns Namespace) (Entry, bool, error) {
	if tx.done {
		return Entry{}, false, ErrTxnDone
	}
	w, ok, err := tx.load(ns)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return toEntry(ns, w, tx.s.now()), true, nil
}

// Decode reads the value of ns into out. ok=false if ns is absent or has
// no value yet.
func (tx *Txn) Decode(ns Namespace, out any) (bool, error) {
	e, ok, err := tx.Get(ns)
	if err != nil || !ok || !e.HasValue {
		return false, err
	}
	if err := tx.s.codec.Unmarshal(e.Value, out); err != nil {
		return false, fmt.Errorf("optcache: decode %s: %w", ns, err)
	}
	return true, nil
}

// Set stages v as the Fresh value of ns.
func (tx *Txn) Set(ns Namespace, v any) error {
	if tx.done {
		return ErrTxnDone
	}
	if ns.Kind == "" {
		return ErrEmptyKind
	}
	if err := tx.inScope(ns); err != nil {
		return err
	}
	payload, err := tx.s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("optcache: encode %s: %w", ns, err)
	}
	raw := wire.Encode(wire.Entry{
		State:      byte(Fresh),
		HasValue:   true,
		FetchedAt:  tx.s.now(),
		StaleAfter: tx.s.staleFor(ns.Kind),
		Payload:    payload,
	})
	tx.stage(ns, &stagedOp{raw: raw})
	return nil
}

// MarkStale flags ns for refetch, keeping its value. Absent => no-op.
// Allowed outside the transaction scope.
func (tx *Txn) MarkStale(ns Namespace) error {
	if tx.done {
		return ErrTxnDone
	}
	w, ok, err := tx.load(ns)
	if err != nil || !ok {
		return err
	}
	w.State = byte(Stale)
	tx.stage(ns, &stagedOp{raw: wire.Encode(w)})
	return nil
}

// MarkStaleKind marks every cached namespace of kind.
func (tx *Txn) MarkStaleKind(kind Kind) error {
	if tx.done {
		return ErrTxnDone
	}
	for _, ns := range tx.namespaces() {
		if ns.Kind != kind {
			continue
		}
		if err := tx.MarkStale(ns); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Txn) Delete(ns Namespace) error {
	if tx.done {
		return ErrTxnDone
	}
	if err := tx.inScope(ns); err != nil {
		return err
	}
	tx.stage(ns, &stagedOp{del: true})
	return nil
}

// Hold marks nss as carrying a value owner has not confirmed yet, such as
// an optimistic write awaiting the server. Refresh and SetIfSeq leave held
// namespaces alone. Holds take effect only if the transaction commits
// cleanly.
func (tx *Txn) Hold(owner string, nss ...Namespace) error {
	if tx.done {
		return ErrTxnDone
	}
	for _, ns := range nss {
		tx.holds = append(tx.holds, hold{owner: owner, ns: ns})
	}
	return nil
}

// Release drops owner's holds on nss when the transaction commits, even if
// the commit fails part way. Releasing a hold that is not held is a no-op.
func (tx *Txn) Release(owner string, nss ...Namespace) error {
	if tx.done {
		return ErrTxnDone
	}
	for _, ns := range nss {
		tx.releases = append(tx.releases, hold{owner: owner, ns: ns})
	}
	return nil
}

// Namespaces lists namespaces visible to the transaction, staged ones included.
func (tx *Txn) Namespaces() []Namespace {
	if tx.done {
		return nil
	}
	return tx.namespaces()
}

func (tx *Txn) namespaces() []Namespace {
	out := tx.s.namespacesLocked()
	for _, ns := range tx.order {
		if _, ok := tx.s.index[ns]; !ok && !tx.staged[ns].del {
			out = append(out, ns)
		}
	}
	return out
}

// Read decodes ns into a V inside a transaction.
func Read[V any](tx *Txn, ns Namespace) (V, bool, error) {
	var v V
	ok, err := tx.Decode(ns, &v)
	return v, ok, err
}
