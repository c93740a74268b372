package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-repository-uow/entity"
)

type foreignKey struct {
	column string
	ref    *entity.Descriptor
}

// CreateTables creates a table per registered entity, parents first, with
// foreign keys derived from the relations. Existing tables are left alone.
// It is a setup helper for tests and demos, not a migration tool.
func (d *BunDriver) CreateTables(ctx context.Context, reg *entity.Registry) error {
	order, err := creationOrder(reg)
	if err != nil {
		return err
	}
	for _, desc := range order {
		if err := d.CreateTable(ctx, reg, desc.Name); err != nil {
			return err
		}
	}
	return nil
}

// CreateTable creates the table of one registered entity with the foreign
// keys its relations imply. Referenced tables must exist already.
func (d *BunDriver) CreateTable(ctx context.Context, reg *entity.Registry, entityName string) error {
	desc, err := reg.Get(entityName)
	if err != nil {
		return err
	}
	stmt := createTableSQL(d.dialect, desc, foreignKeys(reg, desc))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", desc.Table, err)
	}
	return nil
}

// creationOrder sorts descriptors so referenced tables come first.
func creationOrder(reg *entity.Registry) ([]*entity.Descriptor, error) {
	names := reg.Names()
	deps := make(map[string][]string, len(names))
	for _, name := range names {
		desc, _ := reg.Get(name)
		for _, rel := range desc.Relations {
			switch rel.Kind {
			case entity.ManyToOne:
				deps[name] = append(deps[name], rel.Target)
			case entity.OneToMany:
				deps[rel.Target] = append(deps[rel.Target], name)
			}
		}
	}

	var (
		order    []*entity.Descriptor
		visiting = map[string]bool{}
		done     = map[string]bool{}
		visit    func(string) error
	)
	visit = func(name string) error {
		if done[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("create tables: reference cycle through %s", name)
		}
		visiting[name] = true
		for _, dep := range deps[name] {
			if dep == name {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		done[name] = true
		desc, _ := reg.Get(name)
		order = append(order, desc)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func foreignKeys(reg *entity.Registry, desc *entity.Descriptor) []foreignKey {
	seen := map[string]bool{}
	var fks []foreignKey
	add := func(column string, ref *entity.Descriptor) {
		if seen[column] {
			return
		}
		seen[column] = true
		fks = append(fks, foreignKey{column: column, ref: ref})
	}

	for _, rel := range desc.Relations {
		if rel.Kind != entity.ManyToOne {
			continue
		}
		if target, err := reg.Get(rel.Target); err == nil {
			add(rel.ForeignKey, target)
		}
	}
	for _, name := range reg.Names() {
		other, _ := reg.Get(name)
		for _, rel := range other.Relations {
			if rel.Kind == entity.OneToMany && rel.Target == desc.Name {
				add(rel.ForeignKey, other)
			}
		}
	}
	return fks
}

func createTableSQL(dialect Dialect, desc *entity.Descriptor, fks []foreignKey) string {
	refTypes := make(map[string]string, len(fks))
	for _, fk := range fks {
		refTypes[fk.column] = keyType(dialect, fk.ref)
	}

	var defs []string
	for _, col := range desc.Columns {
		defs = append(defs, columnDefinition(dialect, desc, col, refTypes[col.Name]))
	}
	for _, fk := range fks {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdent(fk.column), quoteIdent(fk.ref.Table), quoteIdent(fk.ref.PrimaryKey)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(desc.Table), strings.Join(defs, ",\n\t"))
}

// columnDefinition renders col. A foreign key column without an explicit
// SQLType takes refType, the type of the key it references.
func columnDefinition(dialect Dialect, desc *entity.Descriptor, col entity.Column, refType string) string {
	name := quoteIdent(col.Name)
	if col.Name == desc.PrimaryKey {
		switch {
		case desc.KeyStrategy == entity.KeyBigintSequence && dialect == DialectSQLite:
			return name + " INTEGER PRIMARY KEY AUTOINCREMENT"
		case desc.KeyStrategy == entity.KeyBigintSequence:
			return name + " BIGSERIAL PRIMARY KEY"
		}
		return name + " " + keyType(dialect, desc) + " PRIMARY KEY"
	}

	typ := sqlType(dialect, col)
	if refType != "" && col.SQLType == "" {
		typ = refType
	}
	def := name + " " + typ
	if !col.Nullable {
		def += " NOT NULL"
	}
	return def
}

// keyType is the column type of the primary key of desc as seen by the
// columns referencing it.
func keyType(dialect Dialect, desc *entity.Descriptor) string {
	col := desc.PrimaryColumn()
	switch {
	case col.SQLType != "":
		return col.SQLType
	case desc.KeyStrategy == entity.KeyBigintSequence && dialect == DialectPostgres:
		return "BIGINT"
	case desc.KeyStrategy == entity.KeyBigintSequence:
		return "INTEGER"
	case desc.KeyStrategy == entity.KeyUUID && dialect == DialectPostgres:
		return "UUID"
	}
	return sqlType(dialect, col)
}

func sqlType(dialect Dialect, col entity.Column) string {
	if col.SQLType != "" {
		return col.SQLType
	}
	switch col.Type {
	case entity.TypeInteger:
		if dialect == DialectPostgres {
			return "BIGINT"
		}
		return "INTEGER"
	case entity.TypeBoolean:
		return "BOOLEAN"
	case entity.TypeInstant:
		if dialect == DialectPostgres {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
