// Package remote is the boundary to the authoritative backend.
//
// A Client performs one CRUD call and either decodes the canonical entity
// into out or returns one of the typed failures below. Transport is up to the
// implementation (see remote/rest).
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Op is a CRUD operation or a named entity action ("settle", "payment", ...).
type Op string

const (
	OpCreate     Op = "create"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpBulkDelete Op = "bulk-delete"
	OpGet        Op = "get"
	OpList       Op = "list"
)

// Request is one call to the backend.
type Request struct {
	Entity  string // "transaction", "account", ...
	Op      Op
	ID      string            // target entity, empty for create/list
	Query   map[string]string // list filters
	Payload any               // encoded as the request body
}

func (r Request) String() string {
	if r.ID == "" {
		return r.Entity + "." + string(r.Op)
	}
	return fmt.Sprintf("%s.%s(%s)", r.Entity, r.Op, r.ID)
}

// Client performs requests. out may be nil when the response has no body of
// interest. Implementations must be safe for concurrent use and must return
// only *NetworkError, *ValidationError, *ConflictError or nil; other errors
// are treated as network failures.
type Client interface {
	Request(ctx context.Context, req Request, out any) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request, out any) error

func (f ClientFunc) Request(ctx context.Context, req Request, out any) error { return f(ctx, req, out) }

// NetworkError: no usable response (transport failure, timeout, 5xx, open breaker).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "remote: network failure: " + e.Op
	}
	return fmt.Sprintf("remote: network failure: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError: the server rejected the payload. Fields maps field names
// to messages; "" holds errors not tied to a field.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "remote: validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k
		if name == "" {
			name = "_"
		}
		parts = append(parts, name+": "+strings.Join(e.Fields[k], "; "))
	}
	return "remote: validation failed: " + strings.Join(parts, ", ")
}

// ConflictError: the entity changed or is in a state that forbids the
// operation. Details carry what the caller needs to re-prompt, e.g.
// {"transactionCount": 12}.
type ConflictError struct {
	Message string
	Details map[string]any
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return "remote: conflict"
	}
	return "remote: conflict: " + e.Message
}

// Int reads a numeric detail. JSON numbers decode as float64.
func (e *ConflictError) Int(key string) (int, bool) {
	switch v := e.Details[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case uint64:
		return int(v), true
	}
	return 0, false
}

// Failure is the class of a remote error.
type Failure uint8

const (
	FailureNone Failure = iota
	FailureNetwork
	FailureValidation
	FailureConflict
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureValidation:
		return "validation"
	case FailureConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Classify maps err onto the failure taxonomy. Anything that is not a
// validation or conflict error (context deadlines, dial errors, decoding
// problems) counts as a network failure.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return FailureValidation
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return FailureConflict
	}
	return FailureNetwork
}

// Normalize wraps unclassified errors in *NetworkError so callers can always
// errors.As into one of the three types.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != FailureNetwork {
		return err
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
