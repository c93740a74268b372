package di

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/goliatone/go-repository-uow/cache"
	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/internal/cacheinfra"
)

// Container is the composition root. It owns the process-wide result cache
// shared by every engine it creates, and tears both down on Close.
type Container struct {
	cacheService  cache.Service
	keySerializer cache.KeySerializer
	config        cache.Config
	logger        *slog.Logger

	mu      sync.Mutex
	engines []*engine.Engine
	closed  bool
}

// Option customizes a Container.
type Option func(*containerOptions)

type containerOptions struct {
	logger        *slog.Logger
	keySerializer cache.KeySerializer
	cacheOpts     []cacheinfra.Option
}

// WithLogger sets the logger handed to engines that do not bring their own.
func WithLogger(logger *slog.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithKeySerializer replaces the serializer engines build cache keys with.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *containerOptions) {
		o.keySerializer = s
	}
}

// WithCacheOptions passes options through to the cache backend, for example
// cacheinfra.WithClock in tests.
func WithCacheOptions(opts ...cacheinfra.Option) Option {
	return func(o *containerOptions) {
		o.cacheOpts = append(o.cacheOpts, opts...)
	}
}

// NewContainer creates a container with the provided cache configuration.
// It initializes the cache service using the sturdyc adapter and sets up
// the key serializer, cache.DefaultKeySerializer unless WithKeySerializer
// is given.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	o := containerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.keySerializer == nil {
		o.keySerializer = cache.DefaultKeySerializer()
	}

	cacheService, err := cache.NewService(config, o.cacheOpts...)
	if err != nil {
		return nil, err
	}

	return &Container{
		cacheService:  cacheService,
		keySerializer: o.keySerializer,
		config:        config,
		logger:        o.logger,
	}, nil
}

// NewContainerWithDefaults creates a container using cache.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// CacheService returns the shared cache service.
func (c *Container) CacheService() cache.Service {
	return c.cacheService
}

// KeySerializer returns the serializer the cache keys are built with.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the cache configuration used by this container.
func (c *Container) Config() cache.Config {
	return c.config
}

func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// NewEngine wires an engine to the shared cache and key serializer. The
// container closes it on Close.
func (c *Container) NewEngine(reg *entity.Registry, drv driver.Driver, opts engine.Options) *engine.Engine {
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	if opts.KeySerializer == nil {
		opts.KeySerializer = c.keySerializer
	}
	e := engine.New(reg, drv, c.cacheService, opts)

	c.mu.Lock()
	c.engines = append(c.engines, e)
	c.mu.Unlock()
	return e
}

// OpenEngine opens a driver from cfg and wires an engine on it.
func (c *Container) OpenEngine(reg *entity.Registry, cfg driver.Config, opts engine.Options) (*engine.Engine, error) {
	drv, err := driver.Open(cfg)
	if err != nil {
		return nil, err
	}
	return c.NewEngine(reg, drv, opts), nil
}

// Close clears the shared cache and closes every engine created through the
// container. It is safe to call more than once.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	engines := c.engines
	c.engines = nil
	c.mu.Unlock()

	errs := []error{c.cacheService.Clear(ctx)}
	for _, e := range engines {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}
