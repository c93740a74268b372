// Package config loads the settings of the repro command: a YAML file, then
// the DATABASE_URI environment variable, then command line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-uow/cache"
	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/uow"
)

// EnvDatabaseURI overrides the configured DSN. A postgres:// or
// postgresql:// URI also selects the postgres dialect.
const EnvDatabaseURI = "DATABASE_URI"

// Config is the resolved configuration of a repro run.
type Config struct {
	Dialect       string      `yaml:"dialect"`
	DSN           string      `yaml:"dsn"`
	Cache         bool        `yaml:"cache"`
	Reconcile     string      `yaml:"reconcile"`
	Debug         bool        `yaml:"debug"`
	CacheSettings CacheConfig `yaml:"cache_settings"`
}

// CacheConfig holds the cache sizing that can be tuned from YAML.
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	EntryTTL time.Duration `yaml:"entry_ttl"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default runs against an in-memory SQLite database with the result
// cache on and reconciliation suppressed.
func Default() Config {
	def := cache.DefaultConfig()
	return Config{
		Dialect:   string(driver.DialectSQLite),
		DSN:       "file::memory:?cache=shared",
		Cache:     true,
		Reconcile: uow.ReconcileSuppress.String(),
		CacheSettings: CacheConfig{
			Capacity: def.Capacity,
			EntryTTL: def.EntryTTL,
			TTL:      def.TTL,
		},
	}
}

// Load reads path over the defaults, when path is not empty, and applies
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv applies DATABASE_URI read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	uri := strings.TrimSpace(getenv(EnvDatabaseURI))
	if uri == "" {
		return
	}
	c.DSN = uri
	if d := DialectFromURI(uri); d != "" {
		c.Dialect = string(d)
	}
}

// DialectFromURI guesses the dialect from a DSN scheme, or returns "".
func DialectFromURI(uri string) driver.Dialect {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return driver.DialectPostgres
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return driver.DialectSQLite
	}
	return ""
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Dialect, validation.Required, validation.In(string(driver.DialectSQLite), string(driver.DialectPostgres))),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.Reconcile, validation.By(func(any) error {
			_, err := uow.ParseReconcileMode(c.Reconcile)
			return err
		})),
		validation.Field(&c.CacheSettings),
	)
}

// Validate checks the cache sizing.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.EntryTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.TTL, validation.Required),
	)
}

// ReconcileMode returns the parsed reconcile mode. Call Validate first.
func (c Config) ReconcileMode() uow.ReconcileMode {
	mode, _ := uow.ParseReconcileMode(c.Reconcile)
	return mode
}

// DriverConfig converts to a driver configuration.
func (c Config) DriverConfig() driver.Config {
	return driver.Config{
		Dialect: driver.Dialect(c.Dialect),
		DSN:     c.DSN,
		Debug:   c.Debug,
	}
}

// CacheConfig converts to a cache configuration on top of the defaults.
func (c Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if c.CacheSettings.Capacity > 0 {
		cfg.Capacity = c.CacheSettings.Capacity
	}
	if c.CacheSettings.EntryTTL > 0 {
		cfg.EntryTTL = c.CacheSettings.EntryTTL
	}
	if c.CacheSettings.TTL > 0 {
		cfg.TTL = c.CacheSettings.TTL
	}
	return cfg
}
