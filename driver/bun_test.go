package driver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-uow/entity"
)

func testRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	reg, err := entity.NewRegistry(
		entity.Descriptor{
			Name:        "Brand",
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyBigintSequence,
			Columns: []entity.Column{
				{Name: "id", Type: entity.TypeInteger},
				{Name: "name", Type: entity.TypeText},
				{Name: "created_at", Type: entity.TypeInstant, Nullable: true, SQLType: "timestamptz"},
				{Name: "updated_at", Type: entity.TypeInstant, Nullable: true, SQLType: "timestamp with time zone"},
				{Name: "active", Type: entity.TypeBoolean, Nullable: true},
			},
		},
		entity.Descriptor{
			Name:        "BrandProperty",
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyBigintSequence,
			Columns: []entity.Column{
				{Name: "id", Type: entity.TypeInteger},
				{Name: "brand_id", Type: entity.TypeInteger},
			},
			Relations: []entity.Relation{
				{Name: "brand", Kind: entity.ManyToOne, Target: "Brand", ForeignKey: "brand_id"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func openSQLite(t *testing.T) (*BunDriver, *entity.Registry) {
	t.Helper()
	drv, err := Open(Config{Dialect: DialectSQLite, DSN: filepath.Join(t.TempDir(), "driver.db")})
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	reg := testRegistry(t)
	require.NoError(t, drv.CreateTables(context.Background(), reg))
	return drv, reg
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Dialect: DialectSQLite, DSN: ":memory:"}.Validate())
	assert.Error(t, Config{Dialect: "oracle", DSN: "x"}.Validate())
	assert.Error(t, Config{Dialect: DialectPostgres}.Validate())
}

func TestBunDriver_InsertReturningSelectUpdateDelete(t *testing.T) {
	ctx := context.Background()
	drv, _ := openSQLite(t)

	res, err := drv.Apply(ctx, Statement{
		Kind: OpInsert, Entity: "Brand", Table: "brands",
		Values: Row{"name": "acme"}, Returning: "id",
	})
	require.NoError(t, err)
	id, ok := res.Returned.(int64)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	rows, err := drv.Select(ctx, SelectQuery{Table: "brands", Where: Row{"id": id}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "acme", rows[0]["name"])

	res, err = drv.Apply(ctx, Statement{
		Kind: OpUpdate, Table: "brands", Values: Row{"name": "globex"}, Where: Row{"id": id},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	rows, err = drv.Select(ctx, SelectQuery{Table: "brands", Where: Row{"name": "globex"}, Columns: []string{"id"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	res, err = drv.Apply(ctx, Statement{Kind: OpDelete, Table: "brands", Where: Row{"id": id}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	rows, err = drv.Select(ctx, SelectQuery{Table: "brands"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBunDriver_SelectNull(t *testing.T) {
	ctx := context.Background()
	drv, _ := openSQLite(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := drv.Apply(ctx, Statement{Kind: OpInsert, Table: "brands", Values: Row{"name": name}})
		require.NoError(t, err)
	}
	_, err := drv.Apply(ctx, Statement{Kind: OpUpdate, Table: "brands", Values: Row{"active": true}, Where: Row{"name": "b"}})
	require.NoError(t, err)

	rows, err := drv.Select(ctx, SelectQuery{Table: "brands", Where: Row{"active": nil}, OrderBy: []string{"id"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["name"])
	assert.Equal(t, "c", rows[1]["name"])

	rows, err = drv.Select(ctx, SelectQuery{Table: "brands", Where: Row{"name": "b", "active": true}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["name"])
}

func TestBunDriver_InstantColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	drv, reg := openSQLite(t)
	desc, _ := reg.Get("Brand")

	zones := []*time.Location{time.UTC, time.FixedZone("JST", 9*3600), time.FixedZone("NST", -(3*3600 + 1800))}
	for i, loc := range zones {
		in := entity.NewInstant(time.Date(2024, 11, 23, 10, 30, 0, 123456000, time.UTC).In(loc).Add(time.Duration(i) * time.Hour))

		res, err := drv.Apply(ctx, Statement{
			Kind: OpInsert, Table: "brands", Returning: "id",
			Values: Row{"name": loc.String(), "created_at": in, "updated_at": in},
		})
		require.NoError(t, err)

		rows, err := drv.Select(ctx, SelectQuery{Table: "brands", Where: Row{"id": res.Returned}})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		row, err := entity.CoerceRow(desc, rows[0])
		require.NoError(t, err)
		assert.Equal(t, in, row["created_at"], "timestamptz column")
		assert.Equal(t, in, row["updated_at"], "timestamp with time zone column")
		assert.Equal(t, row["created_at"].(entity.Instant).String(), row["updated_at"].(entity.Instant).String())
	}
}

func TestBunDriver_ConstraintViolations(t *testing.T) {
	ctx := context.Background()
	drv, _ := openSQLite(t)

	_, err := drv.Apply(ctx, Statement{Kind: OpInsert, Entity: "Brand", Table: "brands", Values: Row{"name": nil}})
	require.Error(t, err)
	assert.True(t, entity.IsConstraintViolation(err), "NOT NULL: %v", err)

	_, err = drv.Apply(ctx, Statement{Kind: OpInsert, Entity: "BrandProperty", Table: "brand_properties", Values: Row{"brand_id": int64(99)}})
	require.Error(t, err)
	assert.True(t, entity.IsConstraintViolation(err), "foreign key: %v", err)
}

func TestBunDriver_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	drv, _ := openSQLite(t)

	tx, err := drv.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Apply(ctx, Statement{Kind: OpInsert, Table: "brands", Values: Row{"name": "tmp"}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := drv.Select(ctx, SelectQuery{Table: "brands"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	tx, err = drv.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Apply(ctx, Statement{Kind: OpInsert, Table: "brands", Values: Row{"name": "kept"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	rows, err = drv.Query(ctx, "SELECT name FROM brands WHERE name = ?", "kept")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateTableSQL_Dialects(t *testing.T) {
	reg := testRegistry(t)
	prop, _ := reg.Get("BrandProperty")
	fks := foreignKeys(reg, prop)
	require.Len(t, fks, 1)

	sqlite := createTableSQL(DialectSQLite, prop, fks)
	assert.Contains(t, sqlite, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, sqlite, `"brand_id" INTEGER NOT NULL`)
	assert.Contains(t, sqlite, `FOREIGN KEY ("brand_id") REFERENCES "brands" ("id")`)

	pg := createTableSQL(DialectPostgres, prop, fks)
	assert.Contains(t, pg, `"id" BIGSERIAL PRIMARY KEY`)
	assert.Contains(t, pg, `"brand_id" BIGINT NOT NULL`)
}

func TestCreateTableSQL_UUIDParent(t *testing.T) {
	reg, err := entity.NewRegistry(
		entity.Descriptor{
			Name:        "Brand",
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyUUID,
			Columns:     []entity.Column{{Name: "id", Type: entity.TypeText}},
			Relations: []entity.Relation{
				{Name: "properties", Kind: entity.OneToMany, Target: "BrandProperty", ForeignKey: "brand_id", Nullable: true},
			},
		},
		entity.Descriptor{
			Name:        "BrandProperty",
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyBigintSequence,
			Columns: []entity.Column{
				{Name: "id", Type: entity.TypeInteger},
				{Name: "brand_id", Type: entity.TypeText, Nullable: true},
			},
		},
	)
	require.NoError(t, err)
	brand, _ := reg.Get("Brand")
	prop, _ := reg.Get("BrandProperty")

	tests := []struct {
		dialect  Dialect
		parentPK string
		childFK  string
	}{
		{DialectPostgres, `"id" UUID PRIMARY KEY`, `"brand_id" UUID,`},
		{DialectSQLite, `"id" TEXT PRIMARY KEY`, `"brand_id" TEXT,`},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			assert.Contains(t, createTableSQL(tt.dialect, brand, foreignKeys(reg, brand)), tt.parentPK)

			child := createTableSQL(tt.dialect, prop, foreignKeys(reg, prop))
			assert.Contains(t, child, tt.childFK)
			assert.Contains(t, child, `FOREIGN KEY ("brand_id") REFERENCES "brands" ("id")`)
		})
	}
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	drv, err := Open(Config{Dialect: DialectSQLite, DSN: filepath.Join(t.TempDir(), "single.db")})
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	reg := testRegistry(t)

	require.Error(t, drv.CreateTable(ctx, reg, "Missing"))
	require.NoError(t, drv.CreateTable(ctx, reg, "Brand"))
	require.NoError(t, drv.CreateTable(ctx, reg, "Brand"), "existing tables are left alone")

	rows, err := drv.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", "brands")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = drv.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", "brand_properties")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
