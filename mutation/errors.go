package mutation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/remote"
)

var (
	ErrNoStore  = errors.New("mutation: store is required")
	ErrNoClient = errors.New("mutation: remote client is required")
	ErrNoGraph  = errors.New("mutation: invalidation graph is required")
)

// Outcome is how a mutation settled.
type Outcome uint8

const (
	Success Outcome = iota
	Network
	Validation
	Conflict
	Invariant
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Network:
		return "network"
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

func outcomeOf(f remote.Failure) Outcome {
	switch f {
	case remote.FailureNone:
		return Success
	case remote.FailureValidation:
		return Validation
	case remote.FailureConflict:
		return Conflict
	default:
		return Network
	}
}

// InvariantViolation means a transform or reconcile step would have left the
// cache inconsistent. It always ends in a rollback.
type InvariantViolation struct {
	Namespace optcache.Namespace // zero if not tied to one namespace
	Reason    string
	Err       error
}

func (e *InvariantViolation) Error() string {
	var b strings.Builder
	b.WriteString("invariant violation")
	if !e.Namespace.IsZero() {
		b.WriteString(" in ")
		b.WriteString(e.Namespace.Key())
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// Violation builds an *InvariantViolation for ns.
func Violation(ns optcache.Namespace, format string, args ...any) error {
	return &InvariantViolation{Namespace: ns, Reason: fmt.Sprintf(format, args...)}
}

// asViolation keeps violations as they are and wraps anything else.
func asViolation(err error) error {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return err
	}
	return &InvariantViolation{Err: err}
}

// Failure is returned by Execute for every unsuccessful mutation.
// errors.As reaches the remote error types and *InvariantViolation through it.
type Failure struct {
	Kind       invalidation.Kind
	MutationID string
	Outcome    Outcome
	Phase      Phase // phase the mutation failed in
	Err        error
	// RestoreErr is set when the snapshot could not be fully written back.
	RestoreErr error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("mutation %s failed (%s during %s): %v", f.Kind, f.Outcome, f.Phase, f.Err)
	if f.RestoreErr != nil {
		msg += "; rollback incomplete: " + f.RestoreErr.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	if f.RestoreErr != nil {
		errs = append(errs, f.RestoreErr)
	}
	return errs
}

// OutcomeOf reports how err settled a mutation. nil => Success.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Outcome
	}
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return Invariant
	}
	return outcomeOf(remote.Classify(err))
}
