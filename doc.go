// Package optcache is an in-memory cache of server views with optimistic
// writes that can be rolled back exactly.
//
// Components:
//   - Store: namespace -> entry map. Values are kept encoded (Codec) in a
//     byte Provider, framed with their freshness metadata.
//   - SeqStore: monotonic write sequence per namespace. Every write bumps it;
//     SetIfSeq only writes if the sequence still matches an earlier snapshot.
//   - Txn: several reads/writes applied atomically, subscribers notified after
//     commit. A failing Txn leaves the store untouched.
//   - Snapshot/Restore: capture entries (or their absence) and put them back
//     bit for bit.
//
// Namespaces:
//
//	Namespace{Kind: "account", Params: Params{ID: "7"}}  -> key "account|id=7"
//
// Read-through refresh pattern:
//
//	obs := store.Seq(ctx, ns)           // before the fetch
//	v   := fetchFromServer()
//	_, _ = store.SetIfSeq(ctx, ns, v, obs) // dropped if an optimistic write landed meanwhile
//
// Store.Refresh does exactly that, deduplicating concurrent refreshes of the
// same namespace.
package optcache
