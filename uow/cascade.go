package uow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
)

// planner walks the relation graph reachable from the registered roots and
// fills a FlushPlan.
type planner struct {
	q        driver.Querier
	reg      *entity.Registry
	identity *IdentityMap
	mode     ReconcileMode
	logger   *slog.Logger
	plan     *FlushPlan
	visited  map[*entity.Instance]bool
}

func newPlanner(q driver.Querier, reg *entity.Registry, identity *IdentityMap, mode ReconcileMode, logger *slog.Logger) *planner {
	return &planner{
		q:        q,
		reg:      reg,
		identity: identity,
		mode:     mode,
		logger:   logger,
		plan:     newFlushPlan(),
		visited:  make(map[*entity.Instance]bool),
	}
}

// write plans an insert or update of inst and resolves its relations. With
// upsert set, a New instance whose key already exists is updated instead.
func (p *planner) write(ctx context.Context, inst *entity.Instance, upsert bool, reason string) (*Operation, error) {
	if p.visited[inst] {
		op, _ := p.plan.Lookup(inst)
		return op, nil
	}
	if inst.State() == entity.StateRemoved {
		return nil, fmt.Errorf("save %s: instance was removed", inst)
	}
	p.visited[inst] = true
	if err := p.adopt(inst); err != nil {
		return nil, err
	}

	kind := driver.OpUpdate
	if inst.State() == entity.StateNew {
		kind = driver.OpInsert
		if upsert && inst.HasKey() {
			exists, err := p.exists(ctx, inst)
			if err != nil {
				return nil, err
			}
			if exists {
				kind = driver.OpUpdate
				reason += ", existing key"
			}
		}
	}
	op := p.plan.add(inst, kind, reason)

	desc := inst.Descriptor()
	for _, rel := range desc.Relations {
		var err error
		switch rel.Kind {
		case entity.ManyToOne:
			err = p.manyToOne(ctx, op, rel, upsert)
		case entity.OneToMany:
			err = p.oneToMany(ctx, op, rel, upsert)
		}
		if err != nil {
			return nil, err
		}
	}
	return op, nil
}

// manyToOne sets the foreign key held by the operation's instance from the
// loaded target.
func (p *planner) manyToOne(ctx context.Context, op *Operation, rel entity.Relation, upsert bool) error {
	inst := op.Instance
	rv := inst.Relation(rel.Name)
	if !rv.IsLoaded() {
		return nil
	}

	target := rv.One()
	if target == nil {
		if cur, _ := inst.Get(rel.ForeignKey); cur == nil {
			return nil
		}
		if !rel.Nullable {
			return violation(inst, rel, rel.ForeignKey, fmt.Sprintf("clearing %s would null a non-nullable foreign key", rel.Name))
		}
		op.assign(rel.ForeignKey, nil)
		return nil
	}

	if _, planned := p.plan.Lookup(target); !planned {
		switch target.State() {
		case entity.StateRemoved:
			return violation(inst, rel, rel.ForeignKey, fmt.Sprintf("%s references removed %s", rel.Name, target))
		case entity.StateNew:
			if !rel.Cascade.Has(entity.CascadeInsert) {
				return violation(inst, rel, rel.ForeignKey,
					fmt.Sprintf("%s references unsaved %s and does not cascade inserts", rel.Name, target.EntityName()))
			}
			if _, err := p.write(ctx, target, upsert, "cascade insert "+inst.EntityName()+"."+rel.Name); err != nil {
				return err
			}
		case entity.StateManaged:
			if rel.Cascade.Has(entity.CascadeUpdate) && target.IsDirty() {
				if _, err := p.write(ctx, target, upsert, "cascade update "+inst.EntityName()+"."+rel.Name); err != nil {
					return err
				}
			}
		}
	}
	op.link(rel.ForeignKey, target)
	return nil
}

func (p *planner) oneToMany(ctx context.Context, op *Operation, rel entity.Relation, upsert bool) error {
	rv := op.Instance.Relation(rel.Name)
	if !rv.IsLoaded() {
		return nil
	}
	if rel.Cascade == entity.CascadeNone {
		return p.reconcile(ctx, op, rel, rv.Many())
	}
	return p.cascadeMany(ctx, op, rel, rv.Many(), upsert)
}

// cascadeMany writes the members of a cascaded collection with the parent
// key propagated, then deletes or detaches members that left it.
func (p *planner) cascadeMany(ctx context.Context, op *Operation, rel entity.Relation, children []*entity.Instance, upsert bool) error {
	parent := op.Instance
	reason := "cascade " + parent.EntityName() + "." + rel.Name

	for _, child := range children {
		switch child.State() {
		case entity.StateRemoved:
			continue
		case entity.StateNew:
			if _, planned := p.plan.Lookup(child); !planned && !rel.Cascade.Has(entity.CascadeInsert) {
				return violation(child, rel, rel.ForeignKey,
					fmt.Sprintf("%s.%s holds an unsaved %s and does not cascade inserts", parent.EntityName(), rel.Name, child.EntityName()))
			}
		case entity.StateManaged:
			if !rel.Cascade.Has(entity.CascadeUpdate) && pointsAt(child, rel.ForeignKey, parent) {
				continue
			}
		}
		childOp, err := p.write(ctx, child, upsert, reason)
		if err != nil {
			return err
		}
		if childOp != nil && childOp.Kind != driver.OpDelete {
			childOp.link(rel.ForeignKey, parent)
		}
	}

	linked, ok := parent.Linked(rel.Name)
	if !ok {
		return nil
	}
	for _, orphan := range linked {
		if err := p.adopt(orphan); err != nil {
			return err
		}
		if contains(children, orphan) || orphan.State() == entity.StateRemoved {
			continue
		}
		if rel.Cascade.Has(entity.CascadeRemove) {
			if _, err := p.remove(ctx, orphan, "orphan of "+parent.EntityName()+"."+rel.Name); err != nil {
				return err
			}
			continue
		}
		if err := p.detach(orphan, parent, rel, "orphan of "+parent.EntityName()+"."+rel.Name); err != nil {
			return err
		}
	}
	return nil
}

// reconcile handles a loaded collection that does not cascade. In
// ReconcileSuppress mode nothing happens. In ReconcileNullify mode the stored
// children of the parent that are missing from the collection are detached and
// members not yet pointing at the parent are linked to it.
func (p *planner) reconcile(ctx context.Context, op *Operation, rel entity.Relation, children []*entity.Instance) error {
	parent := op.Instance
	if p.mode == ReconcileSuppress {
		p.logger.Debug("reconciliation suppressed",
			"entity", parent.EntityName(),
			"key", parent.Key(),
			"relation", rel.Name,
			"loaded", len(children),
		)
		return nil
	}

	reason := "reconcile " + parent.EntityName() + "." + rel.Name
	for _, child := range children {
		if err := p.adopt(child); err != nil {
			return err
		}
	}
	if parent.State() != entity.StateNew && parent.HasKey() {
		stored, err := p.children(ctx, parent, rel)
		if err != nil {
			return err
		}
		for _, child := range stored {
			if contains(children, child) || !pointsAt(child, rel.ForeignKey, parent) {
				continue
			}
			if err := p.detach(child, parent, rel, reason); err != nil {
				return err
			}
		}
	}

	for _, child := range children {
		if child.State() != entity.StateManaged || pointsAt(child, rel.ForeignKey, parent) {
			continue
		}
		childOp := p.plan.add(child, driver.OpUpdate, reason)
		if childOp.Kind != driver.OpDelete {
			childOp.link(rel.ForeignKey, parent)
		}
	}
	return nil
}

// detach nulls the foreign key of child, failing when the column is not
// nullable.
func (p *planner) detach(child, parent *entity.Instance, rel entity.Relation, reason string) error {
	if !rel.Nullable {
		return violation(child, rel, rel.ForeignKey,
			fmt.Sprintf("%s would be detached from %s but its foreign key is not nullable", child, parent))
	}
	p.logger.Debug("detaching child",
		"entity", child.EntityName(),
		"key", child.Key(),
		"column", rel.ForeignKey,
		"reason", reason,
	)
	op := p.plan.add(child, driver.OpUpdate, reason)
	if op.Kind != driver.OpDelete {
		op.assign(rel.ForeignKey, nil)
	}
	return nil
}

// remove plans the delete of inst and, through remove cascades, of its
// stored children first.
func (p *planner) remove(ctx context.Context, inst *entity.Instance, reason string) (*Operation, error) {
	if op, ok := p.plan.Lookup(inst); ok && op.Kind == driver.OpDelete {
		return op, nil
	}
	if inst.State() == entity.StateNew || !inst.HasKey() {
		return nil, fmt.Errorf("remove %s: instance is not persisted", inst)
	}
	op := p.plan.add(inst, driver.OpDelete, reason)
	p.visited[inst] = true

	for _, rel := range inst.Descriptor().Relations {
		if rel.Kind != entity.OneToMany || !rel.Cascade.Has(entity.CascadeRemove) {
			continue
		}
		children, err := p.children(ctx, inst, rel)
		if err != nil {
			return nil, err
		}
		if rv := inst.Relation(rel.Name); rv.IsLoaded() {
			for _, child := range rv.Many() {
				if child.State() == entity.StateManaged && !contains(children, child) {
					children = append(children, child)
				}
			}
		}
		for _, child := range children {
			childOp, err := p.remove(ctx, child, "cascade remove "+inst.EntityName()+"."+rel.Name)
			if err != nil {
				return nil, err
			}
			p.plan.requireBefore(childOp, op)
		}
	}
	return op, nil
}

// children loads the stored rows referencing parent through rel, mapped
// through the identity map.
func (p *planner) children(ctx context.Context, parent *entity.Instance, rel entity.Relation) ([]*entity.Instance, error) {
	target, err := p.reg.Get(rel.Target)
	if err != nil {
		return nil, err
	}
	rows, err := p.q.Select(ctx, driver.SelectQuery{
		Table:   target.Table,
		Where:   driver.Row{rel.ForeignKey: parent.Key()},
		OrderBy: []string{target.PrimaryKey},
	})
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", parent, rel.Name, err)
	}
	out := make([]*entity.Instance, 0, len(rows))
	for _, row := range rows {
		child, err := p.identity.GetOrCreate(target, row)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// adopt maps a persisted instance handed in by the caller so rows loaded
// during planning resolve to it.
func (p *planner) adopt(inst *entity.Instance) error {
	if inst.State() != entity.StateManaged || !inst.HasKey() {
		return nil
	}
	return p.identity.Adopt(inst)
}

func (p *planner) exists(ctx context.Context, inst *entity.Instance) (bool, error) {
	desc := inst.Descriptor()
	rows, err := p.q.Select(ctx, driver.SelectQuery{
		Table:   desc.Table,
		Columns: []string{desc.PrimaryKey},
		Where:   driver.Row{desc.PrimaryKey: inst.Key()},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("check %s: %w", inst, err)
	}
	return len(rows) > 0, nil
}

// pointsAt reports whether child's foreign key holds parent's key.
func pointsAt(child *entity.Instance, column string, parent *entity.Instance) bool {
	if !parent.HasKey() {
		return false
	}
	v, _ := child.Get(column)
	return v != nil && v == parent.Key()
}

// contains matches by identity, or by entity type and key for persisted rows.
func contains(items []*entity.Instance, inst *entity.Instance) bool {
	for _, it := range items {
		if it == inst {
			return true
		}
		if it.HasKey() && inst.HasKey() && it.EntityName() == inst.EntityName() && it.Key() == inst.Key() {
			return true
		}
	}
	return false
}

func violation(inst *entity.Instance, rel entity.Relation, column, msg string) error {
	err := entity.ConstraintViolation(inst.EntityName(), inst.Key(), column, msg)
	err.Relation = rel.Name
	return err
}
