// Package mutation runs optimistic mutations against an optcache store.
//
// Every mutation follows the same bracket:
//
//	snapshot(affected) + optimistic apply      one store transaction
//	remote call                                the only suspension point
//	success: reconcile + mark dependents stale one store transaction
//	failure: restore(snapshot)                 cache as if nothing happened
//
// A Definition supplies the per-kind parts; Execute and Go supply the rest.
package mutation

import (
	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/remote"
)

// Phase of one mutation instance.
//
//	Idle -> Applying -> AwaitingServer -> Reconciling -> Settled
//	                                   \-> RollingBack -> Settled
type Phase uint32

const (
	Idle Phase = iota
	Applying
	AwaitingServer
	Reconciling
	RollingBack
	Settled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Applying:
		return "applying"
	case AwaitingServer:
		return "awaiting-server"
	case Reconciling:
		return "reconciling"
	case RollingBack:
		return "rolling-back"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Mutation is one invocation. It is built by the executor and not modified
// afterwards.
type Mutation[P any] struct {
	ID       string
	Kind     invalidation.Kind
	Payload  P
	TempID   string // placeholder identity of a pending creation; "" otherwise
	Affected []optcache.Namespace
	Scope    invalidation.Scope
}

// Definition describes one mutation kind.
type Definition[P, R any] struct {
	Kind   invalidation.Kind
	Entity string
	Op     remote.Op

	// Creates marks kinds that create an entity; they get a TempID.
	Creates bool

	// Target is the remote id the request addresses. nil => none.
	Target func(P) string
	// Body is the request body. nil => the payload itself.
	Body func(Mutation[P]) any

	// Affected lists the namespaces the optimistic transform and reconcile
	// may write. It must depend on the payload only.
	Affected func(P) []optcache.Namespace
	// Scope supplies the parameters for the invalidation row of Kind.
	Scope func(P) invalidation.Scope

	// Validate rejects a payload before anything is applied. Return a
	// *remote.ValidationError for caller-correctable input.
	Validate func(P) error

	// Optimistic writes the speculative state. It runs in the same
	// transaction as the snapshot and may only Set/Delete affected namespaces.
	// nil => nothing is applied (a plain server call).
	Optimistic func(tx *optcache.Txn, m Mutation[P]) error

	// Reconcile replaces speculative state with the server result. It runs in
	// the same transaction as the invalidation cascade.
	Reconcile func(tx *optcache.Txn, m Mutation[P], r R) error
}

func (d Definition[P, R]) request(m Mutation[P]) remote.Request {
	req := remote.Request{Entity: d.Entity, Op: d.Op, Payload: any(m.Payload)}
	if d.Target != nil {
		req.ID = d.Target(m.Payload)
	}
	if d.Body != nil {
		req.Payload = d.Body(m)
	}
	return req
}
