package cacheinfra

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*SturdycService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 11, 23, 10, 0, 0, 0, time.UTC)}
	svc, err := NewSturdycService(DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return svc, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}
	if cfg.EntryTTL != time.Second {
		t.Errorf("expected EntryTTL to be 1 second, got %v", cfg.EntryTTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: true},
		{name: "negative shards", mutate: func(c *Config) { c.NumShards = -1 }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantErr: true},
		{name: "entry ttl above client ttl", mutate: func(c *Config) { c.EntryTTL = 10 * time.Minute }, wantErr: true},
		{name: "zero entry ttl", mutate: func(c *Config) { c.EntryTTL = 0 }},
		{name: "eviction above 100", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantErr: true},
		{name: "eviction zero", mutate: func(c *Config) { c.EvictionPercentage = 0 }, wantErr: true},
		{name: "negative eviction interval", mutate: func(c *Config) { c.EvictionInterval = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := DefaultConfig()
	if got := len(cfg.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no options by default, got %d", got)
	}

	cfg.EvictionInterval = time.Minute
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected eviction interval option, got %d options", got)
	}
}

func TestNewSturdycService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 0
	if _, err := NewSturdycService(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestSturdycService_StoreLookup(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	if _, ok := svc.Lookup(ctx, "Brand::1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := svc.Store(ctx, Entry{Key: "Brand::1", Entity: "Brand", Payload: []byte("payload")}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	entry, ok := svc.Lookup(ctx, "Brand::1")
	if !ok {
		t.Fatal("expected hit after store")
	}
	if string(entry.Payload) != "payload" {
		t.Errorf("expected payload to round trip, got %q", entry.Payload)
	}
	if !entry.StoredAt.Equal(clock.Now()) {
		t.Errorf("expected StoredAt to be stamped with clock, got %v", entry.StoredAt)
	}
	if entry.TTL != time.Second {
		t.Errorf("expected default entry TTL, got %v", entry.TTL)
	}
	if svc.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", svc.Len())
	}
}

func TestSturdycService_StoreEmptyKey(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Store(context.Background(), Entry{Entity: "Brand"})
	if !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}

func TestSturdycService_EntryExpiry(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	_ = svc.Store(ctx, Entry{Key: "short", Entity: "Brand"})
	_ = svc.Store(ctx, Entry{Key: "long", Entity: "Brand", TTL: time.Minute})

	clock.Advance(999 * time.Millisecond)
	if _, ok := svc.Lookup(ctx, "short"); !ok {
		t.Error("expected entry to be live before its TTL")
	}

	clock.Advance(time.Millisecond)
	if _, ok := svc.Lookup(ctx, "short"); ok {
		t.Error("expected entry to expire at its TTL")
	}
	if _, ok := svc.Lookup(ctx, "long"); !ok {
		t.Error("expected entry with explicit TTL to survive")
	}
	if keys := svc.Keys("Brand"); len(keys) != 1 || keys[0] != "long" {
		t.Errorf("expected expired key to leave the registry, got %v", keys)
	}
}

func TestSturdycService_Invalidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_ = svc.Store(ctx, Entry{Key: "Brand::a", Entity: "Brand"})
	_ = svc.Store(ctx, Entry{Key: "Brand::b", Entity: "Brand"})
	_ = svc.Store(ctx, Entry{Key: "BrandProperty::a", Entity: "BrandProperty"})

	if err := svc.Invalidate(ctx, "Brand"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	for _, key := range []string{"Brand::a", "Brand::b"} {
		if _, ok := svc.Lookup(ctx, key); ok {
			t.Errorf("expected %s to be invalidated", key)
		}
	}
	if _, ok := svc.Lookup(ctx, "BrandProperty::a"); !ok {
		t.Error("expected other entity types to survive invalidation")
	}
	if keys := svc.Keys("Brand"); len(keys) != 0 {
		t.Errorf("expected no Brand keys left, got %v", keys)
	}
}

func TestSturdycService_Clear(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_ = svc.Store(ctx, Entry{Key: "Brand::a", Entity: "Brand"})
	_ = svc.Store(ctx, Entry{Key: "BrandProperty::a", Entity: "BrandProperty"})

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if svc.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", svc.Len())
	}
	if len(svc.Keys("Brand"))+len(svc.Keys("BrandProperty")) != 0 {
		t.Error("expected registry to be cleared")
	}
}

func TestSturdycService_Generation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	brand := svc.Generation("Brand")
	prop := svc.Generation("BrandProperty")
	if brand == 0 {
		t.Fatal("expected a non-zero generation")
	}

	_ = svc.Invalidate(ctx, "Brand")
	if svc.Generation("Brand") == brand {
		t.Error("expected invalidate to change the generation")
	}
	if svc.Generation("BrandProperty") != prop {
		t.Error("expected other entity types to keep their generation")
	}

	_ = svc.Store(ctx, Entry{Key: "Brand::old", Entity: "Brand", Generation: brand})
	if _, ok := svc.Lookup(ctx, "Brand::old"); ok {
		t.Error("expected an entry read before the invalidation to be dropped")
	}
	_ = svc.Store(ctx, Entry{Key: "Brand::new", Entity: "Brand", Generation: svc.Generation("Brand")})
	if _, ok := svc.Lookup(ctx, "Brand::new"); !ok {
		t.Error("expected a current entry to be stored")
	}

	_ = svc.Clear(ctx)
	_ = svc.Store(ctx, Entry{Key: "BrandProperty::a", Entity: "BrandProperty", Generation: prop})
	if _, ok := svc.Lookup(ctx, "BrandProperty::a"); ok {
		t.Error("expected clear to outdate every generation")
	}
}

func TestSturdycService_ConcurrentInvalidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := "Brand::" + string(rune('a'+i)) + string(rune('a'+j%26))
				_ = svc.Store(ctx, Entry{Key: key, Entity: "Brand"})
				svc.Lookup(ctx, key)
				if j%10 == 0 {
					_ = svc.Invalidate(ctx, "Brand")
				}
			}
		}(i)
	}
	wg.Wait()

	_ = svc.Invalidate(ctx, "Brand")
	keys := svc.Keys("Brand")
	sort.Strings(keys)
	if len(keys) != 0 {
		t.Errorf("expected registry empty after final invalidation, got %v", keys)
	}
}

func TestEntry_Expired(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{StoredAt: at, TTL: time.Second}

	if e.Expired(at.Add(500 * time.Millisecond)) {
		t.Error("expected live entry")
	}
	if !e.Expired(at.Add(time.Second)) {
		t.Error("expected entry to expire exactly at TTL")
	}
	if (Entry{StoredAt: at}).Expired(at.Add(time.Hour)) {
		t.Error("expected zero TTL to never expire")
	}
}
