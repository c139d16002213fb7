// Package seqstore keeps the monotonic write sequence of every cache
// namespace. A reader that snapshots a sequence before a slow fetch can later
// write its result only if no other write happened in between.
package seqstore

import (
	"context"
	"time"
)

// SeqStore abstracts where sequences live.
// Use Local (default) for in-process sequences, or Redis when several
// processes share one provider.
type SeqStore interface {
	// Snapshot returns the current sequence. A key never bumped reports a
	// baseline (0, or Local's prune floor) that its next Bump exceeds.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns sequences for many keys, like Snapshot.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new sequence.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
