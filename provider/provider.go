// Package provider defines the byte storage behind an optcache store.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). Snapshot/restore relies on this to
// put an entry back bit for bit.
//
// Cache entries are never expired by optcache itself. Providers that evict on
// their own (bigcache life window, ristretto admission, lru capacity) turn an
// eviction into a miss, which the next read repairs by refetching. Use the
// memory provider when entries must live until an explicit Clear.
//
// Important: the keyspace KeyPrefix is owned by optcache. External code MUST NOT
// write values under this prefix. Foreign writes are treated as corruption
// and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (ttl<=0 means no expiry).
	// May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// KeyPrefix starts every key optcache writes.
const KeyPrefix = "ns:"

// Clearer is implemented by providers that can drop the whole optcache
// keyspace at once, including keys written by other processes sharing the
// backend. Store.Clear uses it on logout.
type Clearer interface {
	Clear(ctx context.Context) error
}
