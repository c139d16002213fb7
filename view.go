package optcache

import (
	"context"
)

// View is a typed window on the store for one value type.
type View[V any] struct {
	s Store
}

func NewView[V any](s Store) View[V] { return View[V]{s: s} }

// Get returns the cached value of ns. ok=false when absent or not fetched yet.
func (v View[V]) Get(ctx context.Context, ns Namespace) (V, Entry, bool, error) {
	var zero V
	e, ok, err := v.s.Get(ctx, ns)
	if err != nil || !ok || !e.HasValue {
		return zero, e, false, err
	}
	var out V
	if err := e.Decode(v.s.Codec(), &out); err != nil {
		return zero, e, false, err
	}
	return out, e, true, nil
}

func (v View[V]) Set(ctx context.Context, ns Namespace, val V) error {
	return v.s.Set(ctx, ns, val)
}

// Load returns the cached value when Fresh, otherwise refetches it.
func (v View[V]) Load(ctx context.Context, ns Namespace, fetch func(context.Context) (V, error)) (V, error) {
	val, e, ok, err := v.Get(ctx, ns)
	if err != nil {
		return val, err
	}
	if ok && e.State == Fresh {
		return val, nil
	}
	e, err = v.s.Refresh(ctx, ns, func(ctx context.Context) (any, error) { return fetch(ctx) })
	if err != nil {
		var zero V
		return zero, err
	}
	var out V
	if err := e.Decode(v.s.Codec(), &out); err != nil {
		var zero V
		return zero, err
	}
	return out, nil
}

// Subscribe calls fn with the decoded value after every change of ns.
// ok=false when the entry was removed.
func (v View[V]) Subscribe(ctx context.Context, ns Namespace, fn func(val V, ok bool, ev Event)) func() {
	return v.s.Subscribe(ns, func(ev Event) {
		val, _, ok, _ := v.Get(ctx, ns)
		fn(val, ok, ev)
	})
}
