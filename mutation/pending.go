package mutation

import (
	"context"
	"sync/atomic"
)

// Pending is a mutation started with Go.
type Pending[R any] struct {
	phase *atomic.Uint32
	done  chan struct{}
	res   R
	err   error
}

// Go applies the optimistic state before returning and settles the mutation
// in the background. The caller may drop the handle: the mutation still
// reconciles or rolls back.
func Go[P, R any](ctx context.Context, ex *Executor, def Definition[P, R], payload P) *Pending[R] {
	r := newRun(ex, def, payload, nil)
	p := &Pending[R]{phase: r.phase, done: make(chan struct{})}

	if settled := r.apply(ctx); settled {
		p.res, p.err = r.result, r.err
		close(p.done)
		return p
	}

	ex.inflight.Add(1)
	ex.pending.Add(1)
	go func() {
		defer ex.inflight.Done()
		defer ex.pending.Add(-1)
		r.settle(ctx)
		p.res, p.err = r.result, r.err
		close(p.done)
	}()
	return p
}

func (p *Pending[R]) Phase() Phase { return Phase(p.phase.Load()) }

// Done is closed once the mutation settled.
func (p *Pending[R]) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation settled or ctx ends. Ending ctx only stops
// waiting.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
