package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/pkg/testsupport"
	"github.com/goliatone/go-repository-uow/uow"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.True(t, cfg.Cache)
	assert.Equal(t, uow.ReconcileSuppress, cfg.ReconcileMode())
	assert.Equal(t, time.Second, cfg.CacheConfig().EntryTTL)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv(EnvDatabaseURI, "")
	path := testsupport.TempFile(t, "repro.yaml", []byte(`
dialect: postgres
dsn: postgres://localhost/repro?sslmode=disable
cache: false
reconcile: nullify
debug: true
cache_settings:
  capacity: 50
  entry_ttl: 2500ms
`))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, "postgres://localhost/repro?sslmode=disable", cfg.DSN)
	assert.False(t, cfg.Cache)
	assert.True(t, cfg.Debug)
	assert.Equal(t, uow.ReconcileNullify, cfg.ReconcileMode())

	cc := cfg.CacheConfig()
	assert.Equal(t, 50, cc.Capacity)
	assert.Equal(t, 2500*time.Millisecond, cc.EntryTTL)
	assert.Equal(t, 5*time.Minute, cc.TTL, "unset keys keep their defaults")

	dc := cfg.DriverConfig()
	assert.Equal(t, driver.DialectPostgres, dc.Dialect)
	assert.True(t, dc.Debug)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := testsupport.TempFile(t, "repro.yaml", []byte("dialect: sqlite\ndsn: repro.db\n"))
	t.Setenv(EnvDatabaseURI, "postgresql://db.internal/app")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, "postgresql://db.internal/app", cfg.DSN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)

	path := testsupport.TempFile(t, "broken.yaml", []byte("dialect: [sqlite\n"))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantDialect string
		wantDSN     string
	}{
		{"unset", "", "sqlite", "file::memory:?cache=shared"},
		{"postgres", "postgres://u:p@host/db", "postgres", "postgres://u:p@host/db"},
		{"sqlite file", "file:repro.db?_busy_timeout=5000", "sqlite", "file:repro.db?_busy_timeout=5000"},
		{"unknown scheme keeps dialect", "host=localhost dbname=app", "sqlite", "host=localhost dbname=app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ApplyEnv(func(key string) string {
				if key == EnvDatabaseURI {
					return tt.uri
				}
				return ""
			})
			assert.Equal(t, tt.wantDialect, cfg.Dialect)
			assert.Equal(t, tt.wantDSN, cfg.DSN)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown dialect", func(c *Config) { c.Dialect = "mysql" }},
		{"empty dsn", func(c *Config) { c.DSN = "" }},
		{"unknown reconcile mode", func(c *Config) { c.Reconcile = "sometimes" }},
		{"zero capacity", func(c *Config) { c.CacheSettings.Capacity = 0 }},
		{"negative entry ttl", func(c *Config) { c.CacheSettings.EntryTTL = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
