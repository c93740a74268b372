package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/goliatone/go-repository-uow/cache"
	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/uow"
)

// Options configures an Engine.
type Options struct {
	// Reconcile selects how saves treat loaded collections that do not
	// cascade. The zero value is uow.ReconcileSuppress.
	Reconcile uow.ReconcileMode
	// CacheQueries enables the result cache for finds that use CacheDefault.
	CacheQueries bool
	// CacheTTL overrides the cache's default entry lifetime when positive.
	CacheTTL time.Duration
	// KeySerializer builds result cache keys. Nil uses
	// cache.DefaultKeySerializer.
	KeySerializer cache.KeySerializer
	Logger        *slog.Logger
}

// Engine is the handle callers pass around. It holds no per-request state;
// every operation runs in a Session with its own unit of work.
type Engine struct {
	reg    *entity.Registry
	drv    driver.Driver
	cache  cache.Service
	opts   Options
	logger *slog.Logger
}

// New builds an engine. svc may be nil to run without a result cache.
func New(reg *entity.Registry, drv driver.Driver, svc cache.Service, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.KeySerializer == nil {
		opts.KeySerializer = cache.DefaultKeySerializer()
	}
	return &Engine{reg: reg, drv: drv, cache: svc, opts: opts, logger: logger}
}

func (e *Engine) Registry() *entity.Registry { return e.reg }

func (e *Engine) Driver() driver.Driver { return e.drv }

// Cache returns the result cache, or nil.
func (e *Engine) Cache() cache.Service { return e.cache }

func (e *Engine) Options() Options { return e.opts }

// Session opens a session outside any transaction. Its reads may be served
// from the result cache and each of its writes commits on its own.
func (e *Engine) Session() *Session {
	return newSession(e, nil)
}

// FindOne loads one entity. A missing row is (nil, nil).
func (e *Engine) FindOne(ctx context.Context, entityName string, opts FindOptions) (*entity.Instance, error) {
	return e.Session().FindOne(ctx, entityName, opts)
}

// FindOneOrFail is FindOne returning entity.ErrNotFound for a missing row.
func (e *Engine) FindOneOrFail(ctx context.Context, entityName string, opts FindOptions) (*entity.Instance, error) {
	return e.Session().FindOneOrFail(ctx, entityName, opts)
}

// Insert stores a New instance and what its cascades reach in one
// transaction and returns the primary key.
func (e *Engine) Insert(ctx context.Context, inst *entity.Instance) (any, error) {
	return e.Session().Insert(ctx, inst)
}

// Save upserts inst by identity in one transaction.
func (e *Engine) Save(ctx context.Context, inst *entity.Instance) (*entity.Instance, error) {
	return e.Session().Save(ctx, inst)
}

// Remove deletes a persisted instance in one transaction.
func (e *Engine) Remove(ctx context.Context, inst *entity.Instance) error {
	return e.Session().Remove(ctx, inst)
}

// Transaction runs fn in a database transaction. It commits when fn returns
// nil and rolls back when fn fails, a flush inside it failed, or fn panics;
// the panic is re-raised after the rollback.
func (e *Engine) Transaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	tx, err := e.drv.Begin(ctx)
	if err != nil {
		return err
	}
	s := newSession(e, tx)

	defer func() {
		if r := recover(); r != nil {
			e.rollback(s, tx)
			panic(r)
		}
	}()

	if err := fn(ctx, s); err != nil {
		e.rollback(s, tx)
		return err
	}
	if s.failed != nil {
		e.rollback(s, tx)
		return entity.TransactionAborted(s.failed)
	}

	if err := tx.Commit(); err != nil {
		s.uow.Rollback()
		return entity.TransactionAborted(err)
	}
	e.invalidate(ctx, s.uow.Commit())
	return nil
}

// Transact is Transaction for bodies that produce a value.
func Transact[T any](ctx context.Context, e *Engine, fn func(ctx context.Context, s *Session) (T, error)) (T, error) {
	var out T
	err := e.Transaction(ctx, func(ctx context.Context, s *Session) error {
		v, err := fn(ctx, s)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Close closes the driver. The result cache belongs to whoever created it.
func (e *Engine) Close() error {
	return e.drv.Close()
}

func (e *Engine) rollback(s *Session, tx driver.Tx) {
	if err := tx.Rollback(); err != nil {
		e.logger.Error("rollback failed", "error", err)
	}
	s.uow.Rollback()
	e.logger.Debug("transaction rolled back")
}

// invalidate drops cached results of the touched entity types and of every
// type that loads them through a relation.
func (e *Engine) invalidate(ctx context.Context, touched []string) {
	if e.cache == nil || len(touched) == 0 {
		return
	}
	seen := make(map[string]bool)
	for _, name := range touched {
		for _, affected := range e.affectedBy(name) {
			if seen[affected] {
				continue
			}
			seen[affected] = true
			if err := e.cache.Invalidate(ctx, affected); err != nil {
				e.logger.Error("cache invalidation failed", "entity", affected, "error", err)
				continue
			}
			e.logger.Debug("cache invalidated", "entity", affected)
		}
	}
}

func (e *Engine) affectedBy(name string) []string {
	out := []string{name}
	for _, other := range e.reg.Names() {
		desc, _ := e.reg.Get(other)
		for _, rel := range desc.Relations {
			if rel.Target == name && other != name {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

func (e *Engine) entryTTL(opts FindOptions) time.Duration {
	if opts.CacheTTL > 0 {
		return opts.CacheTTL
	}
	if e.opts.CacheTTL > 0 {
		return e.opts.CacheTTL
	}
	return 0
}

func (e *Engine) descriptor(name string) (*entity.Descriptor, error) {
	desc, err := e.reg.Get(name)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return desc, nil
}
