package mutation

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/remote"
)

const defaultTempPrefix = "tmp-"

type Options struct {
	// Required
	Store  optcache.Store
	Client remote.Client
	Graph  *invalidation.Graph

	NewID      func() string // mutation and temp ids; default uuid.NewString
	TempPrefix string        // default "tmp-"; must never prefix a server id
	Logger     optcache.Logger
	Hooks      optcache.Hooks
	Now        func() time.Time
}

// Executor runs mutations. Safe for concurrent use; mutations in flight at the
// same time are independent and the last one to settle wins per namespace.
type Executor struct {
	store      optcache.Store
	client     remote.Client
	graph      *invalidation.Graph
	newID      func() string
	tempPrefix string
	log        optcache.Logger
	hooks      optcache.Hooks
	now        func() time.Time

	inflight sync.WaitGroup
	pending  atomic.Int64
}

func NewExecutor(opts Options) (*Executor, error) {
	switch {
	case opts.Store == nil:
		return nil, ErrNoStore
	case opts.Client == nil:
		return nil, ErrNoClient
	case opts.Graph == nil:
		return nil, ErrNoGraph
	}
	ex := &Executor{
		store:      opts.Store,
		client:     opts.Client,
		graph:      opts.Graph,
		newID:      opts.NewID,
		tempPrefix: opts.TempPrefix,
		log:        opts.Logger,
		hooks:      opts.Hooks,
		now:        opts.Now,
	}
	if ex.newID == nil {
		ex.newID = uuid.NewString
	}
	if ex.tempPrefix == "" {
		ex.tempPrefix = defaultTempPrefix
	}
	if ex.log == nil {
		ex.log = optcache.NopLogger{}
	}
	if ex.hooks == nil {
		ex.hooks = optcache.NopHooks{}
	}
	if ex.now == nil {
		ex.now = time.Now
	}
	return ex, nil
}

func (ex *Executor) Store() optcache.Store { return ex.store }

// IsTempID reports whether id is a placeholder issued by this executor.
func (ex *Executor) IsTempID(id string) bool {
	return len(id) > len(ex.tempPrefix) && id[:len(ex.tempPrefix)] == ex.tempPrefix
}

// InFlight is the number of mutations started with Go that have not settled.
func (ex *Executor) InFlight() int { return int(ex.pending.Load()) }

// Drain waits until every mutation started with Go has settled.
func (ex *Executor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ex.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs one mutation to completion. The cache ends either at the new
// server state (dependents marked stale) or exactly where it started.
// Cancelling ctx does not abandon a mutation once applied; only the remote
// client's own timeout ends the wait.
func Execute[P, R any](ctx context.Context, ex *Executor, def Definition[P, R], payload P) (R, error) {
	r := newRun(ex, def, payload, nil)
	if done := r.apply(ctx); done {
		return r.result, r.err
	}
	r.settle(ctx)
	return r.result, r.err
}

type run[P, R any] struct {
	ex      *Executor
	def     Definition[P, R]
	m       Mutation[P]
	targets invalidation.Targets
	snap    *optcache.Snapshot
	start   time.Time
	phase   *atomic.Uint32

	result R
	err    error
}

func newRun[P, R any](ex *Executor, def Definition[P, R], payload P, phase *atomic.Uint32) *run[P, R] {
	if phase == nil {
		phase = new(atomic.Uint32)
	}
	return &run[P, R]{ex: ex, def: def, m: Mutation[P]{Kind: def.Kind, Payload: payload}, phase: phase}
}

func (r *run[P, R]) setPhase(p Phase) { r.phase.Store(uint32(p)) }

func (r *run[P, R]) fields() optcache.Fields {
	return optcache.Fields{"kind": string(r.m.Kind), "mutation": r.m.ID}
}

// apply validates and applies the optimistic state. done=true means the
// mutation already settled (nothing was applied).
func (r *run[P, R]) apply(ctx context.Context) (done bool) {
	ex := r.ex
	r.start = ex.now()
	r.m.ID = ex.newID()
	if r.def.Creates {
		r.m.TempID = ex.tempPrefix + ex.newID()
	}
	if r.def.Affected != nil {
		r.m.Affected = dedupe(r.def.Affected(r.m.Payload))
	}
	r.m.Scope = invalidation.Scope{}
	if r.def.Scope != nil {
		if s := r.def.Scope(r.m.Payload); s != nil {
			r.m.Scope = s
		}
	}

	targets, err := ex.graph.Resolve(r.m.Kind, r.m.Scope)
	if err != nil {
		r.fail(Invariant, Idle, &InvariantViolation{Reason: "no invalidation row", Err: err}, nil)
		return true
	}
	r.targets = targets

	if r.def.Validate != nil {
		if err := r.def.Validate(r.m.Payload); err != nil {
			r.fail(outcomeOf(remote.Classify(err)), Idle, remote.Normalize(string(r.m.Kind), err), nil)
			return true
		}
	}

	r.setPhase(Applying)
	err = ex.store.UpdateScoped(context.WithoutCancel(ctx), r.m.Affected, func(tx *optcache.Txn) error {
		snap, err := tx.Snapshot(r.m.Affected...)
		if err != nil {
			return err
		}
		r.snap = snap
		if err := tx.Hold(r.m.ID, r.m.Affected...); err != nil {
			return err
		}
		if r.def.Optimistic == nil {
			return nil
		}
		return r.def.Optimistic(tx, r.m)
	})
	if err != nil {
		// the transaction was discarded: nothing to roll back
		r.fail(Invariant, Applying, asViolation(err), nil)
		return true
	}
	r.setPhase(AwaitingServer)
	ex.log.Debug("optimistic state applied", r.fields())
	return false
}

// settle awaits the server and reconciles or rolls back.
func (r *run[P, R]) settle(ctx context.Context) {
	ex := r.ex
	ctx = context.WithoutCancel(ctx)

	req := r.def.request(r.m)
	var res R
	if err := ex.client.Request(ctx, req, &res); err != nil {
		err = remote.Normalize(req.String(), err)
		r.rollback(ctx, outcomeOf(remote.Classify(err)), err)
		return
	}

	r.setPhase(Reconciling)
	err := ex.store.Update(ctx, func(tx *optcache.Txn) error {
		if r.def.Reconcile != nil {
			if err := r.def.Reconcile(tx, r.m, res); err != nil {
				return asViolation(err)
			}
		}
		if err := r.checkTempID(tx); err != nil {
			return err
		}
		if err := markStale(tx, r.targets); err != nil {
			return err
		}
		return tx.Release(r.m.ID, r.m.Affected...)
	})
	if err != nil {
		r.violated(ctx, err)
		return
	}

	r.result = res
	r.setPhase(Settled)
	took := ex.now().Sub(r.start)
	ex.hooks.MutationSettled(string(r.m.Kind), Success.String(), took)
	f := r.fields()
	f["took"] = took
	ex.log.Info("mutation settled", f)
}

// checkTempID fails if the placeholder identity survived reconciliation in
// any affected namespace.
func (r *run[P, R]) checkTempID(tx *optcache.Txn) error {
	if r.m.TempID == "" {
		return nil
	}
	needle := []byte(r.m.TempID)
	for _, ns := range r.m.Affected {
		e, ok, err := tx.Get(ns)
		if err != nil {
			return err
		}
		if ok && e.HasValue && bytes.Contains(e.Value, needle) {
			return Violation(ns, "temporary id %s still present after reconcile", r.m.TempID)
		}
	}
	return nil
}

func markStale(tx *optcache.Txn, t invalidation.Targets) error {
	for _, ns := range t.Namespaces {
		if err := tx.MarkStale(ns); err != nil {
			return err
		}
	}
	for _, k := range t.Kinds {
		if err := tx.MarkStaleKind(k); err != nil {
			return err
		}
	}
	return nil
}

func (r *run[P, R]) rollback(ctx context.Context, outcome Outcome, cause error) {
	r.setPhase(RollingBack)
	restoreErr := r.ex.store.Update(ctx, func(tx *optcache.Txn) error {
		if err := tx.Restore(r.snap); err != nil {
			return err
		}
		return tx.Release(r.m.ID, r.m.Affected...)
	})
	if restoreErr != nil {
		r.release(ctx)
	}
	r.ex.hooks.RollbackApplied(string(r.m.Kind), outcome.String(), restoreErr)
	r.fail(outcome, AwaitingServer, cause, restoreErr)
}

// violated handles a reconcile that broke an invariant. The server already
// accepted the change, so after putting the snapshot back every namespace
// the mutation touched is marked stale and refetched on next read.
func (r *run[P, R]) violated(ctx context.Context, cause error) {
	r.setPhase(RollingBack)
	restoreErr := r.ex.store.Update(ctx, func(tx *optcache.Txn) error {
		if err := tx.Restore(r.snap); err != nil {
			return err
		}
		for _, ns := range r.m.Affected {
			if err := tx.MarkStale(ns); err != nil {
				return err
			}
		}
		if err := markStale(tx, r.targets); err != nil {
			return err
		}
		return tx.Release(r.m.ID, r.m.Affected...)
	})
	if restoreErr != nil {
		r.release(ctx)
	}
	r.ex.hooks.RollbackApplied(string(r.m.Kind), Invariant.String(), restoreErr)
	r.fail(Invariant, Reconciling, cause, restoreErr)
}

// release drops the mutation's holds on its own, for when the transaction
// that should have released them was discarded.
func (r *run[P, R]) release(ctx context.Context) {
	err := r.ex.store.Update(ctx, func(tx *optcache.Txn) error {
		return tx.Release(r.m.ID, r.m.Affected...)
	})
	if err != nil {
		f := r.fields()
		f["err"] = err
		r.ex.log.Error("could not release pending holds", f)
	}
}

func (r *run[P, R]) fail(outcome Outcome, phase Phase, cause, restoreErr error) {
	ex := r.ex
	r.err = &Failure{
		Kind:       r.m.Kind,
		MutationID: r.m.ID,
		Outcome:    outcome,
		Phase:      phase,
		Err:        cause,
		RestoreErr: restoreErr,
	}
	r.setPhase(Settled)

	f := r.fields()
	f["outcome"] = outcome.String()
	f["phase"] = phase.String()
	f["err"] = cause
	switch {
	case outcome == Invariant:
		ex.hooks.InvariantViolation(string(r.m.Kind), cause)
		ex.log.Error("mutation violated a cache invariant", f)
	case restoreErr != nil:
		f["restore_err"] = restoreErr
		ex.log.Error("mutation rolled back incompletely", f)
	case phase == Idle:
		ex.log.Debug("mutation rejected before apply", f)
	default:
		ex.log.Warn("mutation rolled back", f)
	}
	ex.hooks.MutationSettled(string(r.m.Kind), outcome.String(), ex.now().Sub(r.start))
}

func dedupe(nss []optcache.Namespace) []optcache.Namespace {
	seen := make(map[optcache.Namespace]struct{}, len(nss))
	out := make([]optcache.Namespace, 0, len(nss))
	for _, n := range nss {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
