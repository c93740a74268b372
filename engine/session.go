package engine

import (
	"context"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/uow"
)

// Session is one unit of work. Instances it loads are unique per key for its
// lifetime. Inside Engine.Transaction every write flushes into the shared
// transaction; otherwise each write runs and commits in a transaction of its
// own. A Session is not safe for concurrent use.
type Session struct {
	engine *Engine
	tx     driver.Tx
	uow    *uow.UnitOfWork
	failed error
}

func newSession(e *Engine, tx driver.Tx) *Session {
	return &Session{
		engine: e,
		tx:     tx,
		uow: uow.New(e.reg, uow.Options{
			Reconcile: e.opts.Reconcile,
			Logger:    e.logger,
		}),
	}
}

// InTransaction reports whether the session runs inside Engine.Transaction.
func (s *Session) InTransaction() bool { return s.tx != nil }

// Identity returns the session's identity map.
func (s *Session) Identity() *uow.IdentityMap { return s.uow.Identity() }

// Querier is the connection session reads go through: the open transaction,
// or the driver itself.
func (s *Session) Querier() driver.Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.engine.drv
}

// Insert writes a New instance and returns its primary key, generated if the
// entity's key strategy asks for it.
func (s *Session) Insert(ctx context.Context, inst *entity.Instance) (any, error) {
	if err := s.uow.RegisterInsert(inst); err != nil {
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	return inst.Key(), nil
}

// Save inserts or updates inst by identity, resolving its loaded relations
// according to their cascades and the engine's reconcile mode.
func (s *Session) Save(ctx context.Context, inst *entity.Instance) (*entity.Instance, error) {
	if err := s.uow.RegisterSave(inst); err != nil {
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// Remove deletes inst and the children its remove cascades reach.
func (s *Session) Remove(ctx context.Context, inst *entity.Instance) error {
	if err := s.uow.RegisterRemove(inst); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *Session) flush(ctx context.Context) error {
	if s.failed != nil {
		return entity.TransactionAborted(s.failed)
	}
	if s.tx != nil {
		if err := s.uow.Flush(ctx, s.tx); err != nil {
			s.failed = err
			return entity.TransactionAborted(err)
		}
		return nil
	}

	tx, err := s.engine.drv.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.uow.Flush(ctx, tx); err != nil {
		s.engine.rollback(s, tx)
		return entity.TransactionAborted(err)
	}
	if err := tx.Commit(); err != nil {
		s.uow.Rollback()
		return entity.TransactionAborted(err)
	}
	s.engine.invalidate(ctx, s.uow.Commit())
	return nil
}
