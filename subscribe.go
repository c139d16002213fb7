package optcache

import "sync"

type subscribers struct {
	mu     sync.RWMutex
	next   uint64
	byNS   map[Namespace]map[uint64]func(Event)
	byKind map[Kind]map[uint64]func(Event)
}

func (s *store) Subscribe(ns Namespace, fn func(Event)) func() {
	return addTo(&s.subs.mu, &s.subs.next, &s.subs.byNS, ns, fn)
}

func (s *store) SubscribeKind(kind Kind, fn func(Event)) func() {
	return addTo(&s.subs.mu, &s.subs.next, &s.subs.byKind, kind, fn)
}

func addTo[K comparable](mu *sync.RWMutex, next *uint64, m *map[K]map[uint64]func(Event), k K, fn func(Event)) func() {
	mu.Lock()
	defer mu.Unlock()
	if *m == nil {
		*m = make(map[K]map[uint64]func(Event))
	}
	*next++
	id := *next
	if (*m)[k] == nil {
		(*m)[k] = make(map[uint64]func(Event))
	}
	(*m)[k][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			delete((*m)[k], id)
			if len((*m)[k]) == 0 {
				delete(*m, k)
			}
		})
	}
}

// notify delivers events in commit order. A panicking subscriber is
// recovered and reported; the others still run.
func (b *subscribers) notify(events []Event, hooks Hooks, log Logger) {
	for _, ev := range events {
		b.mu.RLock()
		fns := make([]func(Event), 0, len(b.byNS[ev.Namespace])+len(b.byKind[ev.Namespace.Kind]))
		for _, fn := range b.byNS[ev.Namespace] {
			fns = append(fns, fn)
		}
		for _, fn := range b.byKind[ev.Namespace.Kind] {
			fns = append(fns, fn)
		}
		b.mu.RUnlock()

		for _, fn := range fns {
			call(fn, ev, hooks, log)
		}
	}
}

func call(fn func(Event), ev Event, hooks Hooks, log Logger) {
	defer func() {
		if r := recover(); r != nil {
			hooks.SubscriberPanic(ev.Namespace.Key(), r)
			log.Error("subscriber panicked", Fields{"ns": ev.Namespace.Key(), "panic": r})
		}
	}()
	fn(ev)
}
