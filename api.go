package optcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/optcache/codec"
	pr "github.com/unkn0wn-root/optcache/provider"
	"github.com/unkn0wn-root/optcache/seqstore"
)

type SetCostFunc func(key string, raw []byte) int64

// Fetcher loads the server view of one namespace.
type Fetcher func(ctx context.Context) (any, error)

// Store is the namespace-keyed cache shared by every view of the app.
// All methods are safe for concurrent use.
type Store interface {
	// Get returns the entry cached under ns. ok=false when absent.
	Get(ctx context.Context, ns Namespace) (e Entry, ok bool, err error)

	// Set replaces the value under ns and marks it Fresh.
	// Subscribers are notified only if the encoded value changed.
	Set(ctx context.Context, ns Namespace, v any) error

	// SetIfSeq writes v only if the namespace sequence still equals observed
	// and no transaction holds ns (see Txn.Hold). applied=false means v was
	// dropped.
	SetIfSeq(ctx context.Context, ns Namespace, v any, observed uint64) (applied bool, err error)

	// MarkStale flags a cached entry as needing a refetch. Absent => no-op.
	MarkStale(ctx context.Context, ns Namespace) error
	MarkStaleKind(ctx context.Context, kind Kind) error
	Delete(ctx context.Context, ns Namespace) error

	// Seq returns the current write sequence of ns (0 if never written).
	Seq(ctx context.Context, ns Namespace) uint64

	// Snapshot captures the current entries (or absence) of namespaces.
	Snapshot(ctx context.Context, nss ...Namespace) (*Snapshot, error)
	// Restore writes a snapshot back exactly. Idempotent.
	Restore(ctx context.Context, snap *Snapshot) error

	// Update runs fn as one atomic transaction.
	Update(ctx context.Context, fn func(tx *Txn) error) error
	// UpdateScoped is Update where Set, Delete and Restore are limited to
	// the scope namespaces. MarkStale is allowed everywhere.
	UpdateScoped(ctx context.Context, scope []Namespace, fn func(tx *Txn) error) error

	// Subscribe registers fn for changes of ns. The returned func cancels.
	Subscribe(ns Namespace, fn func(Event)) (cancel func())
	// SubscribeKind registers fn for changes of any namespace of kind.
	SubscribeKind(kind Kind, fn func(Event)) (cancel func())

	// Refresh fetches ns and writes the result unless a newer write
	// happened during the fetch. Concurrent calls for ns share one fetch.
	Refresh(ctx context.Context, ns Namespace, fetch Fetcher) (Entry, error)
	// RefreshStale refreshes every Stale entry fetchers knows about,
	// at most limit at a time (limit<=0 => 4).
	RefreshStale(ctx context.Context, fetchers func(Namespace) Fetcher, limit int) error

	// Held reports whether ns carries an unconfirmed value (see Txn.Hold).
	Held(ns Namespace) bool

	// Namespaces lists the namespaces currently cached.
	Namespaces() []Namespace
	Codec() c.Codec

	// Clear drops every entry (logout). Subscribers see Removed for the
	// namespaces this store knows about; a provider implementing
	// provider.Clearer is emptied as well.
	Clear(ctx context.Context) error
	Close(context.Context) error
}

// Options tune the store.
// Everything is optional; the zero value gives an in-process JSON store.
type Options struct {
	Provider pr.Provider // nil => memory.New() (never evicts)
	Codec    c.Codec     // nil => codec.JSON

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// DefaultStaleAfter is the freshness window of entries whose kind has
	// no StaleAfter override. 0 => 5m. Negative => never stale by age.
	DefaultStaleAfter time.Duration
	StaleAfter        map[Kind]time.Duration

	CleanupInterval time.Duration     // seq cleanup; 0 => 1h
	SeqRetention    time.Duration     // 0 => 30d
	SeqStore        seqstore.SeqStore // nil => seqstore.Local
	ComputeSetCost  SetCostFunc       // default 1
	Now             func() time.Time  // default time.Now
}

func New(opts Options) (Store, error) {
	return newStore(opts)
}
