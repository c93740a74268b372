package entity

import (
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var errUnknownColumn = errors.New("unknown column")

// Registry is the immutable descriptor table of an engine. Build it once at
// startup with NewRegistry; it is safe for concurrent reads.
type Registry struct {
	byName map[string]*Descriptor
	names  []string
}

// NewRegistry validates the descriptors and their cross references. Tables
// default to DefaultTableName(Name).
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descriptors))}

	for idx := range descriptors {
		d := descriptors[idx]
		if d.Table == "" {
			d.Table = DefaultTableName(d.Name)
		}
		d.Columns = append([]Column(nil), d.Columns...)
		d.Relations = append([]Relation(nil), d.Relations...)

		if err := validateDescriptor(&d); err != nil {
			return nil, fmt.Errorf("entity %q: %w", d.Name, err)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("entity %q registered twice", d.Name)
		}
		r.byName[d.Name] = &d
		r.names = append(r.names, d.Name)
	}

	for _, name := range r.names {
		if err := r.validateRelations(r.byName[name]); err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
	}
	sort.Strings(r.names)
	return r, nil
}

// MustRegistry is NewRegistry for static descriptor tables; it panics on error.
func MustRegistry(descriptors ...Descriptor) *Registry {
	r, err := NewRegistry(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("entity %q is not registered", name)
	}
	return d, nil
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

// New creates a StateNew instance of the named entity.
func (r *Registry) New(name string, values map[string]any) (*Instance, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return New(d, values)
}

func validateDescriptor(d *Descriptor) error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Table, validation.Required),
		validation.Field(&d.PrimaryKey, validation.Required),
		validation.Field(&d.KeyStrategy, validation.In(KeyAssigned, KeyUUID, KeyBigintSequence)),
		validation.Field(&d.Columns, validation.Required, validation.Each(validation.By(validateColumn))),
		validation.Field(&d.Relations, validation.Each(validation.By(validateRelationShape))),
	)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(d.Columns))
	for _, c := range d.Columns {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("column %q declared twice", c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	pk, ok := d.Column(d.PrimaryKey)
	if !ok {
		return fmt.Errorf("primary key %q is not a column", d.PrimaryKey)
	}
	if pk.Nullable {
		return fmt.Errorf("primary key %q cannot be nullable", pk.Name)
	}
	switch d.KeyStrategy {
	case KeyUUID:
		if pk.Type != TypeText {
			return fmt.Errorf("uuid primary key %q must be a text column", pk.Name)
		}
	case KeyBigintSequence:
		if pk.Type != TypeInteger {
			return fmt.Errorf("sequence primary key %q must be an integer column", pk.Name)
		}
	}
	return nil
}

func validateColumn(value any) error {
	c, ok := value.(Column)
	if !ok {
		return errors.New("must be a Column")
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Type, validation.Required, validation.In(TypeText, TypeInteger, TypeBoolean, TypeInstant)),
	)
}

func validateRelationShape(value any) error {
	rel, ok := value.(Relation)
	if !ok {
		return errors.New("must be a Relation")
	}
	return validation.ValidateStruct(&rel,
		validation.Field(&rel.Name, validation.Required),
		validation.Field(&rel.Kind, validation.Required, validation.In(OneToMany, ManyToOne)),
		validation.Field(&rel.Target, validation.Required),
		validation.Field(&rel.ForeignKey, validation.Required),
	)
}

func (r *Registry) validateRelations(d *Descriptor) error {
	for _, rel := range d.Relations {
		if _, ok := d.Column(rel.Name); ok {
			return fmt.Errorf("relation %q shadows a column", rel.Name)
		}
		target, ok := r.byName[rel.Target]
		if !ok {
			return fmt.Errorf("relation %q targets unknown entity %q", rel.Name, rel.Target)
		}

		// the foreign key lives on the child side of the relation
		owner := d
		if rel.Kind == OneToMany {
			owner = target
		}
		fk, ok := owner.Column(rel.ForeignKey)
		if !ok {
			return fmt.Errorf("relation %q: %s has no foreign key column %q", rel.Name, owner.Name, rel.ForeignKey)
		}
		if fk.Nullable != rel.Nullable {
			return fmt.Errorf("relation %q: nullable flag disagrees with column %s.%s", rel.Name, owner.Name, fk.Name)
		}
		refType := d.PrimaryColumn().Type
		if rel.Kind == ManyToOne {
			refType = target.PrimaryColumn().Type
		}
		if fk.Type != refType {
			return fmt.Errorf("relation %q: foreign key %s.%s is %s, referenced key is %s", rel.Name, owner.Name, fk.Name, fk.Type, refType)
		}
	}
	return nil
}
