package uow

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
)

// Link copies the primary key of Parent into Column of the operation's
// instance right before the statement runs, so keys generated earlier in the
// same flush reach their dependants.
type Link struct {
	Column string
	Parent *entity.Instance
}

// Operation is one row write in a FlushPlan.
type Operation struct {
	Kind     driver.OpKind
	Instance *entity.Instance
	// Assign holds column values set on the instance when the operation runs,
	// such as a foreign key being nulled.
	Assign map[string]any
	Links  []Link
	// Reason says which step of cascade resolution produced the operation.
	Reason string
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s %s (%s)", op.Kind, op.Instance, op.Reason)
}

func (op *Operation) assign(column string, v any) {
	if op.Assign == nil {
		op.Assign = make(map[string]any)
	}
	op.Assign[column] = v
}

func (op *Operation) link(column string, parent *entity.Instance) {
	for i, l := range op.Links {
		if l.Column == column {
			op.Links[i].Parent = parent
			return
		}
	}
	op.Links = append(op.Links, Link{Column: column, Parent: parent})
}

// FlushPlan collects at most one operation per instance plus ordering
// constraints between them.
type FlushPlan struct {
	ops    []*Operation
	byInst map[*entity.Instance]*Operation
	before map[*Operation][]*Operation
}

func newFlushPlan() *FlushPlan {
	return &FlushPlan{
		byInst: make(map[*entity.Instance]*Operation),
		before: make(map[*Operation][]*Operation),
	}
}

// add returns the operation for inst, creating it with kind when missing. A
// delete replaces any earlier write of the same instance; a write never
// replaces a delete.
func (p *FlushPlan) add(inst *entity.Instance, kind driver.OpKind, reason string) *Operation {
	if op, ok := p.byInst[inst]; ok {
		if kind == driver.OpDelete && op.Kind != driver.OpDelete {
			op.Kind = driver.OpDelete
			op.Reason = reason
			op.Assign = nil
			op.Links = nil
		}
		return op
	}
	op := &Operation{Kind: kind, Instance: inst, Reason: reason}
	p.ops = append(p.ops, op)
	p.byInst[inst] = op
	return op
}

// Lookup returns the planned operation of inst.
func (p *FlushPlan) Lookup(inst *entity.Instance) (*Operation, bool) {
	op, ok := p.byInst[inst]
	return op, ok
}

// requireBefore makes first run before then.
func (p *FlushPlan) requireBefore(first, then *Operation) {
	if first == nil || then == nil || first == then {
		return
	}
	p.before[then] = append(p.before[then], first)
}

func (p *FlushPlan) Len() int { return len(p.ops) }

// Order sorts the operations so that every link parent that is written in
// the plan runs before its dependant and every explicit constraint holds.
// Among ready operations the one planned first wins, so the result is
// deterministic.
func (p *FlushPlan) Order() ([]*Operation, error) {
	deps := make(map[*Operation]map[*Operation]bool, len(p.ops))
	dependants := make(map[*Operation][]*Operation, len(p.ops))
	addEdge := func(first, then *Operation) {
		if first == then {
			return
		}
		if deps[then] == nil {
			deps[then] = make(map[*Operation]bool)
		}
		if deps[then][first] {
			return
		}
		deps[then][first] = true
		dependants[first] = append(dependants[first], then)
	}

	for _, op := range p.ops {
		if op.Kind != driver.OpDelete {
			for _, l := range op.Links {
				if parent, ok := p.byInst[l.Parent]; ok && parent.Kind != driver.OpDelete {
					addEdge(parent, op)
				}
			}
		}
		for _, first := range p.before[op] {
			addEdge(first, op)
		}
	}

	pending := make(map[*Operation]int, len(p.ops))
	for _, op := range p.ops {
		pending[op] = len(deps[op])
	}

	ordered := make([]*Operation, 0, len(p.ops))
	done := make(map[*Operation]bool, len(p.ops))
	for len(ordered) < len(p.ops) {
		var next *Operation
		for _, op := range p.ops {
			if !done[op] && pending[op] == 0 {
				next = op
				break
			}
		}
		if next == nil {
			var stuck []string
			for _, op := range p.ops {
				if !done[op] {
					stuck = append(stuck, op.Instance.String())
				}
			}
			return nil, fmt.Errorf("flush plan: dependency cycle between %s", strings.Join(stuck, ", "))
		}
		done[next] = true
		ordered = append(ordered, next)
		for _, d := range dependants[next] {
			pending[d]--
		}
	}
	return ordered, nil
}
