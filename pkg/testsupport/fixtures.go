package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-repository-uow/cache"
	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/internal/cacheinfra"
	"github.com/goliatone/go-repository-uow/internal/scenario"
)

// BrandOptions shapes the Brand/BrandProperty sample model.
type BrandOptions = scenario.ModelOptions

// BrandDescriptors returns the sample model, see scenario.BrandDescriptors.
func BrandDescriptors(opts BrandOptions) []entity.Descriptor {
	return scenario.BrandDescriptors(opts)
}

// BrandRegistry builds a registry for the sample model.
func BrandRegistry(t testing.TB, opts BrandOptions) *entity.Registry {
	t.Helper()

	reg, err := entity.NewRegistry(BrandDescriptors(opts)...)
	if err != nil {
		t.Fatalf("failed to build brand registry: %v", err)
	}
	return reg
}

// OpenSQLite opens a file backed SQLite database in a test directory and
// creates the tables of reg. The driver is closed when the test ends.
func OpenSQLite(t testing.TB, reg *entity.Registry) *driver.BunDriver {
	t.Helper()

	drv, err := driver.Open(driver.Config{
		Dialect: driver.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { drv.Close() })

	if err := drv.CreateTables(context.Background(), reg); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
	return drv
}

// Clock is a manually advanced time source for cache expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Fixture bundles an engine over SQLite with the pieces tests inspect.
type Fixture struct {
	Engine   *engine.Engine
	Registry *entity.Registry
	Driver   *RecordingDriver
	Cache    cache.Service
	Clock    *Clock
}

// NewFixture builds an engine over a fresh SQLite database holding the
// tables of reg. The engine reads through a cache driven by Fixture.Clock.
func NewFixture(t testing.TB, reg *entity.Registry, opts engine.Options) *Fixture {
	t.Helper()

	clock := NewClock()
	svc, err := cache.NewService(cache.DefaultConfig(), cacheinfra.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to create cache service: %v", err)
	}

	drv := NewRecordingDriver(OpenSQLite(t, reg))
	return &Fixture{
		Engine:   engine.New(reg, drv, svc, opts),
		Registry: reg,
		Driver:   drv,
		Cache:    svc,
		Clock:    clock,
	}
}

// MustNew creates a New instance of the named entity or fails the test.
func (f *Fixture) MustNew(t testing.TB, name string, values map[string]any) *entity.Instance {
	t.Helper()

	inst, err := f.Registry.New(name, values)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	return inst
}

// Count returns the number of rows in table matching where.
func (f *Fixture) Count(t testing.TB, table string, where driver.Row) int {
	t.Helper()

	rows, err := f.Driver.Inner().Select(context.Background(), driver.SelectQuery{Table: table, Where: where})
	if err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return len(rows)
}

// TempFile creates a temporary file with the given content, removed when
// the test ends.
func TempFile(t testing.TB, pattern string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), pattern)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
