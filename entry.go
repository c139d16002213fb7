package optcache

import (
	"bytes"
	"time"

	c "github.com/unkn0wn-root/optcache/codec"
	"github.com/unkn0wn-root/optcache/internal/wire"
)

// State is the freshness of a cached entry.
type State uint8

const (
	Fresh State = iota
	Stale
	Fetching
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Fetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// Entry is one cached server view.
// Value holds the codec encoding of the view; it is nil when HasValue is false
// (a first fetch still in flight).
type Entry struct {
	Namespace  Namespace
	Value      []byte
	HasValue   bool
	FetchedAt  time.Time
	StaleAfter time.Duration
	State      State
}

// Decode unmarshals the cached value into out.
func (e Entry) Decode(codec c.Codec, out any) error {
	if !e.HasValue {
		return ErrNoValue
	}
	return codec.Unmarshal(e.Value, out)
}

// Equal reports whether two entries hold the same value and metadata.
func (e Entry) Equal(o Entry) bool {
	return e.Namespace == o.Namespace &&
		e.HasValue == o.HasValue &&
		bytes.Equal(e.Value, o.Value) &&
		e.FetchedAt.Equal(o.FetchedAt) &&
		e.StaleAfter == o.StaleAfter &&
		e.State == o.State
}

func toEntry(ns Namespace, w wire.Entry, now time.Time) Entry {
	e := Entry{
		Namespace:  ns,
		HasValue:   w.HasValue,
		FetchedAt:  w.FetchedAt,
		StaleAfter: w.StaleAfter,
		State:      State(w.State),
	}
	if w.HasValue {
		e.Value = bytes.Clone(w.Payload)
	}
	// Fresh entries age into Stale once the window has passed.
	if e.State == Fresh && e.StaleAfter > 0 && !e.FetchedAt.IsZero() && now.Sub(e.FetchedAt) > e.StaleAfter {
		e.State = Stale
	}
	return e
}

type EventType uint8

const (
	// EventReplaced: the cached value changed (or appeared).
	EventReplaced EventType = iota + 1
	// EventStale: same value, now flagged for refetch.
	EventStale
	// EventRemoved: the entry is gone.
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventReplaced:
		return "replaced"
	case EventStale:
		return "stale"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a change is committed.
type Event struct {
	Namespace Namespace
	Type      EventType
	Seq       uint64
}
