// Package cache provides the process-wide query result cache.
//
// # Overview
//
// A query is identified by a QuerySignature (entity type, equality filter,
// loaded relations). Its key is the entity type followed by the xxhash of the
// canonical signature:
//
//	sig := cache.QuerySignature{Entity: "Brand", Where: map[string]any{"id": int64(1)}, Relations: []string{"properties"}}
//	key := sig.Key() // "Brand::<16 hex digits>"
//
// Filter key order and relation order do not change the key, and a
// time.Time filter value hashes the same as the equivalent entity.Instant in
// any zone.
//
// # Snapshots
//
// Results are cached as msgpack encoded Snapshots. Every column value carries
// a type tag; instants are written as unix seconds plus nanoseconds and read
// back in UTC, so a cached read returns the same value as a fresh one.
//
// # Service
//
// NewService builds the default Service on viccon/sturdyc. Entries carry
// their own TTL (Config.EntryTTL, one second by default) checked on Lookup,
// and Invalidate drops every entry of an entity type:
//
//	svc, err := cache.NewService(cache.DefaultConfig())
//	snap, hit, err := cache.GetOrFetch(ctx, svc, sig, 0, func(ctx context.Context) (cache.Snapshot, error) {
//		return loadFromDatabase(ctx)
//	})
//	_ = svc.Invalidate(ctx, "Brand")
package cache
