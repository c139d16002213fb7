package optcache

import (
	"errors"
	"fmt"
)

var (
	ErrClosed     = errors.New("optcache: store is closed")
	ErrTxnDone    = errors.New("optcache: transaction already finished")
	ErrOutOfScope = errors.New("optcache: write outside transaction scope")
	ErrNoValue    = errors.New("optcache: entry has no value")
	ErrEmptyKind  = errors.New("optcache: namespace kind is empty")
)

// CommitError reports a provider failure while a transaction was being
// written. Writes staged before Namespace were applied.
type CommitError struct {
	Namespace Namespace
	Op        string // "get", "set", "del" or "clear"
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("optcache: commit %s %s: %v", e.Op, e.Namespace, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
