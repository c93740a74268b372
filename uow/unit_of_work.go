package uow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
)

// ReconcileMode selects what a save does with a loaded one-to-many
// collection whose relation does not cascade.
type ReconcileMode int

const (
	// ReconcileSuppress leaves non-cascaded children alone.
	ReconcileSuppress ReconcileMode = iota
	// ReconcileNullify nulls the foreign key of stored children missing from
	// the loaded collection and links members not pointing at the parent.
	ReconcileNullify
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileSuppress:
		return "suppress"
	case ReconcileNullify:
		return "nullify"
	}
	return fmt.Sprintf("ReconcileMode(%d)", int(m))
}

// ParseReconcileMode reads "suppress" or "nullify".
func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suppress":
		return ReconcileSuppress, nil
	case "nullify", "legacy":
		return ReconcileNullify, nil
	}
	return 0, fmt.Errorf("unknown reconcile mode %q", s)
}

// Options configures a UnitOfWork.
type Options struct {
	Reconcile ReconcileMode
	Logger    *slog.Logger
	// NewUUID generates keys for KeyUUID entities. Defaults to uuid.NewString.
	NewUUID func() string
}

type registration struct {
	kind driver.OpKind
	save bool
	inst *entity.Instance
}

// UnitOfWork collects writes of one transaction, flushes them as an ordered
// plan and applies the resulting in-memory state once the transaction
// commits. It is single-owner and not safe for concurrent use.
type UnitOfWork struct {
	reg      *entity.Registry
	identity *IdentityMap
	opts     Options
	logger   *slog.Logger

	pending []registration
	flushed []*Operation
	applied map[*Operation]bool
	touched map[string]bool
	undo    []func()
}

func New(reg *entity.Registry, opts Options) *UnitOfWork {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NewUUID == nil {
		opts.NewUUID = uuid.NewString
	}
	return &UnitOfWork{
		reg:      reg,
		identity: NewIdentityMap(),
		opts:     opts,
		logger:   logger,
		applied:  make(map[*Operation]bool),
		touched:  make(map[string]bool),
	}
}

// Identity returns the identity map scoped to this unit of work.
func (u *UnitOfWork) Identity() *IdentityMap { return u.identity }

func (u *UnitOfWork) Mode() ReconcileMode { return u.opts.Reconcile }

// RegisterInsert schedules a New instance, and whatever its cascades reach,
// for insertion.
func (u *UnitOfWork) RegisterInsert(inst *entity.Instance) error {
	if inst.State() != entity.StateNew {
		return fmt.Errorf("insert %s: instance is %s", inst, inst.State())
	}
	u.pending = append(u.pending, registration{kind: driver.OpInsert, inst: inst})
	return nil
}

// RegisterSave schedules an upsert by identity of inst.
func (u *UnitOfWork) RegisterSave(inst *entity.Instance) error {
	if inst.State() == entity.StateRemoved {
		return fmt.Errorf("save %s: instance was removed", inst)
	}
	u.pending = append(u.pending, registration{kind: driver.OpInsert, save: true, inst: inst})
	return nil
}

// RegisterRemove schedules the delete of a persisted instance and of the
// children reached through remove cascades.
func (u *UnitOfWork) RegisterRemove(inst *entity.Instance) error {
	if inst.State() != entity.StateManaged || !inst.HasKey() {
		return fmt.Errorf("remove %s: instance is %s", inst, inst.State())
	}
	u.pending = append(u.pending, registration{kind: driver.OpDelete, inst: inst})
	return nil
}

// Pending is the number of registered roots not flushed yet.
func (u *UnitOfWork) Pending() int { return len(u.pending) }

// Plan resolves cascades for the registered roots. q is used for the
// lookups reconciliation and upserts need; nothing is written.
func (u *UnitOfWork) Plan(ctx context.Context, q driver.Querier) (*FlushPlan, error) {
	p := newPlanner(q, u.reg, u.identity, u.opts.Reconcile, u.logger)
	for _, r := range u.pending {
		var err error
		switch r.kind {
		case driver.OpDelete:
			_, err = p.remove(ctx, r.inst, "remove")
		default:
			reason := "insert"
			if r.save {
				reason = "save"
			}
			_, err = p.write(ctx, r.inst, r.save, reason)
		}
		if err != nil {
			return nil, err
		}
	}
	return p.plan, nil
}

// Flush plans and executes the registered writes against q, which must be
// the active transaction. On error nothing is applied in memory and the
// caller is expected to roll back.
func (u *UnitOfWork) Flush(ctx context.Context, q driver.Querier) error {
	if len(u.pending) == 0 {
		return nil
	}
	defer func() { u.pending = nil }()

	plan, err := u.Plan(ctx, q)
	if err != nil {
		u.logger.Error("flush planning failed", "error", err)
		return err
	}
	ordered, err := plan.Order()
	if err != nil {
		return err
	}

	for _, op := range ordered {
		if err := u.execute(ctx, q, op); err != nil {
			u.logger.Error("flush failed", "operation", op.String(), "error", err)
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) execute(ctx context.Context, q driver.Querier, op *Operation) error {
	inst := op.Instance
	desc := inst.Descriptor()
	u.flushed = append(u.flushed, op)

	if op.Kind == driver.OpDelete {
		res, err := q.Apply(ctx, driver.Statement{
			Kind:   driver.OpDelete,
			Entity: desc.Name,
			Table:  desc.Table,
			Where:  driver.Row{desc.PrimaryKey: inst.Key()},
		})
		if err != nil {
			return withKey(err, inst)
		}
		if res.RowsAffected == 0 {
			return entity.StaleIdentity(desc.Name, inst.Key(), "row to delete no longer exists")
		}
		u.markApplied(op)
		return nil
	}

	for _, col := range sortedColumns(op.Assign) {
		if err := u.set(inst, col, op.Assign[col]); err != nil {
			return err
		}
	}
	for _, l := range op.Links {
		if !l.Parent.HasKey() {
			return entity.ConstraintViolation(desc.Name, inst.Key(), l.Column,
				fmt.Sprintf("referenced %s has no key yet", l.Parent.EntityName()))
		}
		if err := u.set(inst, l.Column, l.Parent.Key()); err != nil {
			return err
		}
	}

	if op.Kind == driver.OpInsert {
		return u.insert(ctx, q, op)
	}
	return u.update(ctx, q, op)
}

func (u *UnitOfWork) insert(ctx context.Context, q driver.Querier, op *Operation) error {
	inst := op.Instance
	desc := inst.Descriptor()

	returning := ""
	if !inst.HasKey() {
		switch desc.KeyStrategy {
		case entity.KeyUUID:
			if err := u.set(inst, desc.PrimaryKey, u.opts.NewUUID()); err != nil {
				return err
			}
		case entity.KeyBigintSequence:
			returning = desc.PrimaryKey
		default:
			return entity.ConstraintViolation(desc.Name, nil, desc.PrimaryKey, "assigned primary key is not set")
		}
	}

	values := inst.Values()
	if values[desc.PrimaryKey] == nil {
		delete(values, desc.PrimaryKey)
	}
	res, err := q.Apply(ctx, driver.Statement{
		Kind:      driver.OpInsert,
		Entity:    desc.Name,
		Table:     desc.Table,
		Values:    driver.Row(values),
		Returning: returning,
	})
	if err != nil {
		return withKey(err, inst)
	}
	if returning != "" {
		if err := u.set(inst, desc.PrimaryKey, res.Returned); err != nil {
			return err
		}
	}

	if err := u.identity.Adopt(inst); err != nil {
		return err
	}
	u.undo = append(u.undo, func() { u.identity.Remove(inst) })

	u.logger.Debug("inserted", "entity", desc.Name, "key", inst.Key(), "reason", op.Reason)
	u.markApplied(op)
	return nil
}

func (u *UnitOfWork) update(ctx context.Context, q driver.Querier, op *Operation) error {
	inst := op.Instance
	desc := inst.Descriptor()

	changes := inst.Changes()
	values := make(driver.Row, len(changes))
	for _, col := range changes {
		if col == desc.PrimaryKey {
			continue
		}
		values[col], _ = inst.Get(col)
	}
	if len(values) == 0 {
		return nil
	}

	res, err := q.Apply(ctx, driver.Statement{
		Kind:   driver.OpUpdate,
		Entity: desc.Name,
		Table:  desc.Table,
		Values: values,
		Where:  driver.Row{desc.PrimaryKey: inst.Key()},
	})
	if err != nil {
		return withKey(err, inst)
	}
	if res.RowsAffected == 0 {
		return entity.StaleIdentity(desc.Name, inst.Key(), "row to update no longer exists")
	}
	if inst.State() == entity.StateNew {
		if err := u.identity.Adopt(inst); err != nil {
			return err
		}
		u.undo = append(u.undo, func() { u.identity.Remove(inst) })
	}

	u.logger.Debug("updated", "entity", desc.Name, "key", inst.Key(), "columns", sortedColumns(values), "reason", op.Reason)
	u.markApplied(op)
	return nil
}

// set assigns a column and records how to restore it on rollback.
func (u *UnitOfWork) set(inst *entity.Instance, column string, v any) error {
	prev, had := inst.Get(column)
	if err := inst.Set(column, v); err != nil {
		return err
	}
	u.undo = append(u.undo, func() {
		if had {
			_ = inst.Set(column, prev)
			return
		}
		_ = inst.Set(column, nil)
	})
	return nil
}

func (u *UnitOfWork) markApplied(op *Operation) {
	u.applied[op] = true
	u.touched[op.Instance.EntityName()] = true
}

// Touched lists the entity types written since the last Commit or Rollback.
func (u *UnitOfWork) Touched() []string {
	names := make([]string, 0, len(u.touched))
	for name := range u.touched {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commit applies the flushed operations in memory: written instances become
// Managed with a fresh baseline, deleted ones become Removed and leave the
// identity map. It returns the touched entity types. Call it only after the
// transaction committed.
func (u *UnitOfWork) Commit() []string {
	for _, op := range u.flushed {
		switch op.Kind {
		case driver.OpDelete:
			if u.applied[op] {
				op.Instance.MarkRemoved()
				u.identity.Remove(op.Instance)
			}
		default:
			op.Instance.MarkPersisted()
		}
	}
	touched := u.Touched()
	u.reset()
	return touched
}

// Rollback restores the in-memory values changed while flushing, such as
// generated keys and propagated foreign keys, and drops pending writes.
func (u *UnitOfWork) Rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.pending = nil
	u.reset()
}

func (u *UnitOfWork) reset() {
	u.flushed = nil
	u.undo = nil
	u.applied = make(map[*Operation]bool)
	u.touched = make(map[string]bool)
}

// withKey fills in the key of a constraint violation reported by the driver.
func withKey(err error, inst *entity.Instance) error {
	if cv, ok := entity.AsError(err, entity.CodeConstraintViolation); ok && cv.Key == nil {
		cv.Key = inst.Key()
		if cv.Entity == "" {
			cv.Entity = inst.EntityName()
		}
	}
	return err
}

func sortedColumns[V any](m map[string]V) []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
