package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-uow/internal/cacheinfra"
)

// Entry is a cached query result: the key it was stored under, the entity
// type it belongs to, the encoded Snapshot, when it was stored and for how long
// it stays valid.
type Entry = cacheinfra.Entry

// Service is the process-wide result cache shared by every engine session.
type Service interface {
	// Lookup returns the live entry for key. Expired entries are a miss.
	Lookup(ctx context.Context, key string) (Entry, bool)
	// Store saves an entry. A zero StoredAt is stamped with the current time
	// and a zero TTL takes the configured default.
	Store(ctx context.Context, entry Entry) error
	// Invalidate drops every entry stored for the entity type.
	Invalidate(ctx context.Context, entityName string) error
	// Generation changes whenever the entity type is invalidated or the
	// cache is cleared. Entries carrying an outdated generation are not
	// stored.
	Generation(entityName string) uint64
	Clear(ctx context.Context) error
	Len() int
}

var _ Service = (*cacheinfra.SturdycService)(nil)

// FetchFn loads a snapshot from the source of truth on a cache miss.
type FetchFn func(ctx context.Context) (Snapshot, error)

// GetOrFetch is the read-through path: it decodes a live entry for sig or
// calls fetch and stores its result with ttl. The boolean reports a hit.
func GetOrFetch(ctx context.Context, svc Service, sig QuerySignature, ttl time.Duration, fetch FetchFn) (Snapshot, bool, error) {
	return GetOrFetchKey(ctx, svc, sig.Key(), sig, ttl, fetch)
}

// GetOrFetchKey is GetOrFetch under a key built by a caller supplied
// KeySerializer.
func GetOrFetchKey(ctx context.Context, svc Service, key string, sig QuerySignature, ttl time.Duration, fetch FetchFn) (Snapshot, bool, error) {
	if entry, ok := svc.Lookup(ctx, key); ok {
		snap, err := DecodeSnapshot(entry.Payload)
		if err == nil {
			return snap, true, nil
		}
		// unreadable entry, refetch
	}

	gen := svc.Generation(sig.Entity)
	snap, err := fetch(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}

	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, false, err
	}
	if err := svc.Store(ctx, Entry{Key: key, Entity: sig.Entity, Payload: payload, TTL: ttl, Generation: gen}); err != nil {
		return Snapshot{}, false, err
	}
	return snap, false, nil
}
