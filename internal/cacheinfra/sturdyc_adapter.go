package cacheinfra

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is how long sturdyc keeps an entry at most. It bounds EntryTTL.
	TTL time.Duration

	// EntryTTL is the lifetime given to entries stored without their own TTL.
	// Default: 1 second.
	EntryTTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc sweeps expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EntryTTL:           time.Second,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.EntryTTL, validation.Min(time.Duration(0)), validation.Max(c.TTL)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

// ErrEmptyKey is returned when storing an entry without a key.
var ErrEmptyKey = errors.New("cache entry key is empty")

// Entry is a cached query result.
type Entry struct {
	Key      string
	Entity   string
	Payload  []byte
	StoredAt time.Time
	TTL      time.Duration
	// Generation, when non-zero, is the value of Generation(Entity) taken
	// before the payload was read. Store drops the entry if Entity was
	// invalidated since.
	Generation uint64
}

// Expired reports whether the entry outlived its TTL at now. A zero TTL
// never expires on its own.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.StoredAt.Add(e.TTL))
}

// Option customizes a SturdycService.
type Option func(*SturdycService)

// WithClock replaces time.Now, for tests that need to move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *SturdycService) {
		if now != nil {
			s.now = now
		}
	}
}

// SturdycService stores entries in a sturdyc client and keeps a key to
// entity registry so everything cached for an entity type can be dropped.
type SturdycService struct {
	client   *sturdyc.Client[Entry]
	keys     *xsync.MapOf[string, string]
	gens     *xsync.MapOf[string, uint64]
	epoch    atomic.Uint64
	entryTTL time.Duration
	now      func() time.Time
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config, opts ...Option) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &SturdycService{
		client: sturdyc.New[Entry](
			cfg.Capacity,
			cfg.NumShards,
			cfg.TTL,
			cfg.EvictionPercentage,
			cfg.ToSturdycOptions()...,
		),
		keys:     xsync.NewMapOf[string, string](),
		gens:     xsync.NewMapOf[string, uint64](),
		entryTTL: cfg.EntryTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lookup returns the live entry stored under key. Expired entries are
// removed and reported as a miss.
func (s *SturdycService) Lookup(ctx context.Context, key string) (Entry, bool) {
	entry, ok := s.client.Get(key)
	if !ok {
		s.keys.Delete(key)
		return Entry{}, false
	}
	if entry.Expired(s.now()) {
		s.client.Delete(key)
		s.keys.Delete(key)
		return Entry{}, false
	}
	return entry, true
}

// Store saves entry, filling in StoredAt and the default TTL when unset.
func (s *SturdycService) Store(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return ErrEmptyKey
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}
	if entry.TTL == 0 {
		entry.TTL = s.entryTTL
	}
	if s.stale(entry) {
		return nil
	}
	s.client.Set(entry.Key, entry)
	s.keys.Store(entry.Key, entry.Entity)

	// An Invalidate that bumped the generation before the key was
	// registered may have missed it.
	if s.stale(entry) {
		s.client.Delete(entry.Key)
		s.keys.Delete(entry.Key)
	}
	return nil
}

// Generation is a positive token for entityName that changes on every
// Invalidate of it and on Clear.
func (s *SturdycService) Generation(entityName string) uint64 {
	n, _ := s.gens.Load(entityName)
	return s.epoch.Load() + n + 1
}

func (s *SturdycService) stale(entry Entry) bool {
	return entry.Generation != 0 && entry.Generation != s.Generation(entry.Entity)
}

// Invalidate removes every entry recorded for entityName.
func (s *SturdycService) Invalidate(ctx context.Context, entityName string) error {
	s.gens.Compute(entityName, func(n uint64, _ bool) (uint64, bool) {
		return n + 1, false
	})
	s.keys.Range(func(key, owner string) bool {
		if owner == entityName {
			s.client.Delete(key)
			s.keys.Delete(key)
		}
		return true
	})
	return nil
}

// Clear drops every entry.
func (s *SturdycService) Clear(ctx context.Context) error {
	s.epoch.Add(1)
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	s.keys.Clear()
	return nil
}

// Len is the number of entries held by sturdyc, expired or not.
func (s *SturdycService) Len() int {
	return s.client.Size()
}

// Keys lists the registered keys of entityName.
func (s *SturdycService) Keys(entityName string) []string {
	var keys []string
	s.keys.Range(func(key, owner string) bool {
		if owner == entityName {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}
