package entity

// ColumnType is the semantic type of a column, independent of its SQL declaration.
type ColumnType int

const (
	TypeText ColumnType = iota + 1
	TypeInteger
	TypeBoolean
	// TypeInstant is a timezone aware timestamp normalized to an Instant.
	TypeInstant
)

func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeInstant:
		return "instant"
	default:
		return "unknown"
	}
}

// KeyStrategy controls how a primary key is produced on insert.
type KeyStrategy int

const (
	// KeyAssigned keys are always provided by the caller.
	KeyAssigned KeyStrategy = iota
	// KeyUUID keys are generated client side when unset.
	KeyUUID
	// KeyBigintSequence keys are generated by the database when unset.
	KeyBigintSequence
)

func (k KeyStrategy) String() string {
	switch k {
	case KeyUUID:
		return "uuid"
	case KeyBigintSequence:
		return "bigint-sequence"
	default:
		return "assigned"
	}
}

// RelationKind is the cardinality of a relation seen from its owner.
type RelationKind int

const (
	OneToMany RelationKind = iota + 1
	ManyToOne
)

func (k RelationKind) String() string {
	switch k {
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	default:
		return "unknown"
	}
}

// Cascade is a bitmask of the write operations propagated along a relation.
type Cascade int

const CascadeNone Cascade = 0

const (
	CascadeInsert Cascade = 1 << iota
	CascadeUpdate
	CascadeRemove
)

const CascadeAll = CascadeInsert | CascadeUpdate | CascadeRemove

// Has reports whether every flag in f is set.
func (c Cascade) Has(f Cascade) bool { return f != 0 && c&f == f }

// Column describes a single persisted field.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// SQLType is the declared column type used when creating tables, for
	// example "timestamptz" or "timestamp with time zone". Empty selects the
	// dialect default for Type.
	SQLType string
}

// Relation links an entity to another registered entity.
//
// For OneToMany the ForeignKey column lives on Target and Nullable describes
// that column. For ManyToOne the ForeignKey column lives on the owner.
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string
	ForeignKey string
	Cascade    Cascade
	Nullable   bool
	Eager      bool
}

// Descriptor is the static metadata of an entity type.
type Descriptor struct {
	Name        string
	Table       string
	PrimaryKey  string
	KeyStrategy KeyStrategy
	Columns     []Column
	Relations   []Relation
}

// Column returns the column named name.
func (d *Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Relation returns the relation named name.
func (d *Descriptor) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// PrimaryColumn returns the primary key column.
func (d *Descriptor) PrimaryColumn() Column {
	c, _ := d.Column(d.PrimaryKey)
	return c
}

// ColumnNames returns the column names in declaration order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// EagerRelations returns the names of relations that are always loaded.
func (d *Descriptor) EagerRelations() []string {
	var names []string
	for _, r := range d.Relations {
		if r.Eager {
			names = append(names, r.Name)
		}
	}
	return names
}
