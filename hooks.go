package optcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store and the mutation executor call them on hot paths.
type Hooks interface {
	// An entry was deleted by the store on read.
	// reason ∈ {"corrupt"}
	SelfHealEntry(storageKey, reason string)

	// A compare-and-set write lost against a newer write, typically a
	// background refresh racing an optimistic update.
	StaleWriteRejected(namespace string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// SeqStore errors (snapshot or bump).
	SeqError(storageKey string, err error)

	// A subscriber callback panicked; the store recovered.
	SubscriberPanic(namespace string, recovered any)

	// A mutation finished.
	// outcome ∈ {"success", "network", "validation", "conflict", "invariant"}
	MutationSettled(kind, outcome string, took time.Duration)

	// Optimistic state of a mutation was rolled back. restoreErr is non-nil
	// when the snapshot could not be fully written back.
	RollbackApplied(kind, reason string, restoreErr error)

	// A transform or reconcile step broke a cache invariant.
	InvariantViolation(kind string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHealEntry(string, string)                 {}
func (NopHooks) StaleWriteRejected(string)                    {}
func (NopHooks) ProviderSetRejected(string)                   {}
func (NopHooks) SeqError(string, error)                       {}
func (NopHooks) SubscriberPanic(string, any)                  {}
func (NopHooks) MutationSettled(string, string, time.Duration) {}
func (NopHooks) RollbackApplied(string, string, error)        {}
func (NopHooks) InvariantViolation(string, error)             {}
