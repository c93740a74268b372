package entity

import (
	"fmt"
	"sort"
)

// State is the lifecycle state of an Instance.
type State int

const (
	StateNew State = iota
	StateManaged
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RelationValue is the tri-state content of a relation field: unloaded,
// loaded and empty, or loaded with a value.
type RelationValue struct {
	loaded bool
	one    *Instance
	many   []*Instance
}

// Unloaded is the RelationValue of a relation that was never fetched.
var Unloaded = RelationValue{}

// LoadedOne returns a loaded many-to-one value. A nil target is "loaded, empty".
func LoadedOne(target *Instance) RelationValue {
	return RelationValue{loaded: true, one: target}
}

// LoadedMany returns a loaded one-to-many value.
func LoadedMany(items []*Instance) RelationValue {
	return RelationValue{loaded: true, many: append([]*Instance(nil), items...)}
}

// IsLoaded reports whether the relation was fetched or assigned.
func (v RelationValue) IsLoaded() bool { return v.loaded }

// IsEmpty reports whether the relation is loaded and holds nothing.
func (v RelationValue) IsEmpty() bool {
	return v.loaded && v.one == nil && len(v.many) == 0
}

// One returns the target of a many-to-one relation.
func (v RelationValue) One() *Instance { return v.one }

// Many returns a copy of the items of a one-to-many relation.
func (v RelationValue) Many() []*Instance { return append([]*Instance(nil), v.many...) }

// Instance is one row of an entity type held in memory.
//
// Besides the current values an Instance keeps a baseline: the column values
// and relation members observed when it was last loaded or flushed. The unit of
// work diffs against the baseline to find dirty columns and unlinked children.
type Instance struct {
	desc      *Descriptor
	state     State
	values    map[string]any
	relations map[string]RelationValue

	original map[string]any
	linked   map[string][]*Instance
}

// New creates an Instance in StateNew with the given column values.
func New(d *Descriptor, values map[string]any) (*Instance, error) {
	inst := &Instance{
		desc:      d,
		state:     StateNew,
		values:    make(map[string]any, len(d.Columns)),
		relations: make(map[string]RelationValue),
		original:  make(map[string]any),
		linked:    make(map[string][]*Instance),
	}
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Hydrate creates a Managed instance from an already normalized row and takes
// the row as its baseline.
func Hydrate(d *Descriptor, row map[string]any) (*Instance, error) {
	inst, err := New(d, row)
	if err != nil {
		return nil, err
	}
	inst.state = StateManaged
	for name, v := range inst.values {
		inst.original[name] = v
	}
	return inst, nil
}

func (i *Instance) Descriptor() *Descriptor { return i.desc }

func (i *Instance) EntityName() string { return i.desc.Name }

func (i *Instance) State() State { return i.state }

// Key returns the primary key value, or nil when it is not set yet.
func (i *Instance) Key() any { return i.values[i.desc.PrimaryKey] }

// HasKey reports whether the primary key is set.
func (i *Instance) HasKey() bool { return i.Key() != nil }

// Get returns the value of a column and whether it is populated.
func (i *Instance) Get(column string) (any, bool) {
	v, ok := i.values[column]
	return v, ok
}

// Set assigns a column, normalizing v to the column's type.
func (i *Instance) Set(column string, v any) error {
	if i.state == StateRemoved {
		return fmt.Errorf("set %s.%s: instance was removed", i.desc.Name, column)
	}
	col, ok := i.desc.Column(column)
	if !ok {
		return fmt.Errorf("set %s.%s: %w", i.desc.Name, column, errUnknownColumn)
	}
	norm, err := Coerce(col.Type, v)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", i.desc.Name, column, err)
	}
	i.values[column] = norm
	return nil
}

// MustSet is Set for statically known values; it panics on error.
func (i *Instance) MustSet(column string, v any) *Instance {
	if err := i.Set(column, v); err != nil {
		panic(err)
	}
	return i
}

// Merge populates columns that are not set yet. Populated columns are never
// overwritten. row must already be normalized.
func (i *Instance) Merge(row map[string]any) {
	for name, v := range row {
		if _, ok := i.values[name]; ok {
			continue
		}
		i.values[name] = v
		if _, ok := i.original[name]; !ok {
			i.original[name] = v
		}
	}
}

// Values returns a copy of the populated columns.
func (i *Instance) Values() map[string]any {
	out := make(map[string]any, len(i.values))
	for k, v := range i.values {
		out[k] = v
	}
	return out
}

// Changes returns the columns whose value differs from the baseline, sorted by
// name. For a New instance that is every populated column.
func (i *Instance) Changes() []string {
	var names []string
	for name, v := range i.values {
		orig, ok := i.original[name]
		if i.state == StateNew || !ok || orig != v {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsDirty reports whether any column differs from the baseline.
func (i *Instance) IsDirty() bool { return len(i.Changes()) > 0 }

// Relation returns the current value of a relation. Unknown names are Unloaded.
func (i *Instance) Relation(name string) RelationValue { return i.relations[name] }

// SetOne assigns a many-to-one relation. Passing nil clears it.
func (i *Instance) SetOne(name string, target *Instance) error {
	if err := i.checkRelation(name, ManyToOne); err != nil {
		return err
	}
	i.relations[name] = LoadedOne(target)
	return nil
}

// SetMany assigns the items of a one-to-many relation.
func (i *Instance) SetMany(name string, items []*Instance) error {
	if err := i.checkRelation(name, OneToMany); err != nil {
		return err
	}
	i.relations[name] = LoadedMany(items)
	return nil
}

// Unload resets a relation to Unloaded.
func (i *Instance) Unload(name string) {
	delete(i.relations, name)
	delete(i.linked, name)
}

// AttachOne records a fetched many-to-one relation and takes it as baseline.
func (i *Instance) AttachOne(name string, target *Instance) error {
	if err := i.SetOne(name, target); err != nil {
		return err
	}
	if target == nil {
		i.linked[name] = nil
	} else {
		i.linked[name] = []*Instance{target}
	}
	return nil
}

// AttachMany records a fetched one-to-many relation and takes it as baseline.
func (i *Instance) AttachMany(name string, items []*Instance) error {
	if err := i.SetMany(name, items); err != nil {
		return err
	}
	i.linked[name] = append([]*Instance(nil), items...)
	return nil
}

// Linked returns the relation members recorded in the baseline and whether a
// baseline exists for the relation.
func (i *Instance) Linked(name string) ([]*Instance, bool) {
	items, ok := i.linked[name]
	return append([]*Instance(nil), items...), ok
}

// RelationChanged reports whether a loaded relation differs from its
// baseline: it was assigned without being fetched, or members were added or
// dropped since. Unloaded relations are unchanged.
func (i *Instance) RelationChanged(name string) bool {
	rv := i.relations[name]
	if !rv.loaded {
		return false
	}
	linked, ok := i.linked[name]
	if !ok {
		return true
	}
	current := rv.many
	if rv.one != nil {
		current = []*Instance{rv.one}
	}
	if len(current) != len(linked) {
		return true
	}
	for _, item := range current {
		found := false
		for _, l := range linked {
			if l == item {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// MarkPersisted moves the instance to Managed and takes the current columns
// and loaded relations as the new baseline.
func (i *Instance) MarkPersisted() {
	i.state = StateManaged
	i.original = make(map[string]any, len(i.values))
	for k, v := range i.values {
		i.original[k] = v
	}
	for name, rv := range i.relations {
		if !rv.loaded {
			continue
		}
		if rv.one != nil {
			i.linked[name] = []*Instance{rv.one}
			continue
		}
		i.linked[name] = append([]*Instance(nil), rv.many...)
	}
}

// MarkRemoved moves the instance to the terminal Removed state.
func (i *Instance) MarkRemoved() { i.state = StateRemoved }

func (i *Instance) String() string {
	return fmt.Sprintf("%s(%v)", i.desc.Name, i.Key())
}

func (i *Instance) checkRelation(name string, kind RelationKind) error {
	rel, ok := i.desc.Relation(name)
	if !ok {
		return fmt.Errorf("%s has no relation %q", i.desc.Name, name)
	}
	if rel.Kind != kind {
		return fmt.Errorf("%s.%s is %s, not %s", i.desc.Name, name, rel.Kind, kind)
	}
	return nil
}
