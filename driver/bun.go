package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/goliatone/go-repository-uow/entity"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config describes how to open a BunDriver.
type Config struct {
	Dialect Dialect
	DSN     string
	// MaxOpenConns caps the pool. SQLite is always limited to one connection
	// so in-memory databases are shared and writers never contend.
	MaxOpenConns int
	// Debug logs every query through bundebug.
	Debug bool
}

// Validate checks the driver configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Dialect, validation.Required, validation.In(DialectSQLite, DialectPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}

// BunDriver implements Driver on top of bun.
type BunDriver struct {
	bunQuerier
	db      *bun.DB
	dialect Dialect
}

var _ Driver = (*BunDriver)(nil)

// Open connects to the configured database.
func Open(cfg Config) (*BunDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("driver config: %w", err)
	}

	var db *bun.DB
	switch cfg.Dialect {
	case DialectSQLite:
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DialectPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	return New(db, cfg.Dialect), nil
}

// New wraps an existing bun.DB.
func New(db *bun.DB, dialect Dialect) *BunDriver {
	return &BunDriver{bunQuerier: bunQuerier{idb: db, dialect: dialect}, db: db, dialect: dialect}
}

// DB exposes the underlying bun.DB.
func (d *BunDriver) DB() *bun.DB { return d.db }

func (d *BunDriver) Dialect() Dialect { return d.dialect }

func (d *BunDriver) Close() error { return d.db.Close() }

// Begin starts a transaction.
func (d *BunDriver) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &bunTx{bunQuerier: bunQuerier{idb: tx, dialect: d.dialect}, tx: tx}, nil
}

type bunTx struct {
	bunQuerier
	tx bun.Tx
}

func (t *bunTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *bunTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// bunQuerier runs statements on a bun.DB or bun.Tx.
type bunQuerier struct {
	idb     bun.IDB
	dialect Dialect
}

type condition struct {
	expr string
	args []any
}

func whereConditions(where Row) []condition {
	conds := make([]condition, 0, len(where))
	for _, col := range sortedKeys(where) {
		v := where[col]
		if v == nil {
			conds = append(conds, condition{expr: "? IS NULL", args: []any{bun.Ident(col)}})
			continue
		}
		conds = append(conds, condition{expr: "? = ?", args: []any{bun.Ident(col), encodeValue(v)}})
	}
	return conds
}

func (q bunQuerier) Select(ctx context.Context, sq SelectQuery) ([]Row, error) {
	query := q.idb.NewSelect().TableExpr("?", bun.Ident(sq.Table))
	if len(sq.Columns) == 0 {
		query = query.ColumnExpr("*")
	}
	for _, c := range sq.Columns {
		query = query.ColumnExpr("?", bun.Ident(c))
	}
	for _, c := range whereConditions(sq.Where) {
		query = query.Where(c.expr, c.args...)
	}
	for _, col := range sq.OrderBy {
		query = query.OrderExpr("? ASC", bun.Ident(col))
	}
	if sq.Limit > 0 {
		query = query.Limit(sq.Limit)
	}

	var raw []map[string]interface{}
	if err := query.Scan(ctx, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateError(err, "", sq.Table)
	}
	return toRows(raw), nil
}

func (q bunQuerier) Apply(ctx context.Context, stmt Statement) (Result, error) {
	switch stmt.Kind {
	case OpInsert:
		return q.insert(ctx, stmt)
	case OpUpdate:
		return q.update(ctx, stmt)
	case OpDelete:
		return q.delete(ctx, stmt)
	}
	return Result{}, fmt.Errorf("apply: unsupported statement kind %d", stmt.Kind)
}

func (q bunQuerier) insert(ctx context.Context, stmt Statement) (Result, error) {
	values := encodeRow(stmt.Values)

	if len(values) == 0 {
		// nothing but generated columns
		if stmt.Returning == "" {
			n, err := q.Exec(ctx, "INSERT INTO ? DEFAULT VALUES", bun.Ident(stmt.Table))
			if err != nil {
				return Result{}, translateError(err, stmt.Entity, stmt.Table)
			}
			return Result{RowsAffected: n}, nil
		}
		var returned int64
		err := q.idb.NewRaw("INSERT INTO ? DEFAULT VALUES RETURNING ?", bun.Ident(stmt.Table), bun.Ident(stmt.Returning)).
			Scan(ctx, &returned)
		if err != nil {
			return Result{}, translateError(err, stmt.Entity, stmt.Table)
		}
		return Result{RowsAffected: 1, Returned: returned}, nil
	}

	query := q.idb.NewInsert().Model(&values).TableExpr("?", bun.Ident(stmt.Table))
	if stmt.Returning != "" {
		var returned int64
		if err := query.Returning("?", bun.Ident(stmt.Returning)).Scan(ctx, &returned); err != nil {
			return Result{}, translateError(err, stmt.Entity, stmt.Table)
		}
		return Result{RowsAffected: 1, Returned: returned}, nil
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return Result{}, translateError(err, stmt.Entity, stmt.Table)
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}, nil
}

func (q bunQuerier) update(ctx context.Context, stmt Statement) (Result, error) {
	if len(stmt.Where) == 0 {
		return Result{}, fmt.Errorf("update %s: refusing to update without a condition", stmt.Table)
	}
	if len(stmt.Values) == 0 {
		return Result{}, nil
	}
	values := encodeRow(stmt.Values)
	query := q.idb.NewUpdate().Model(&values).TableExpr("?", bun.Ident(stmt.Table))
	for _, c := range whereConditions(stmt.Where) {
		query = query.Where(c.expr, c.args...)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return Result{}, translateError(err, stmt.Entity, stmt.Table)
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}, nil
}

func (q bunQuerier) delete(ctx context.Context, stmt Statement) (Result, error) {
	if len(stmt.Where) == 0 {
		return Result{}, fmt.Errorf("delete %s: refusing to delete without a condition", stmt.Table)
	}
	query := q.idb.NewDelete().TableExpr("?", bun.Ident(stmt.Table))
	for _, c := range whereConditions(stmt.Where) {
		query = query.Where(c.expr, c.args...)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return Result{}, translateError(err, stmt.Entity, stmt.Table)
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}, nil
}

// Exec runs raw SQL. Placeholders use bun's "?" syntax.
func (q bunQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.idb.ExecContext(ctx, query, encodeArgs(args)...)
	if err != nil {
		return 0, translateError(err, "", "")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Query runs raw SQL and returns every row.
func (q bunQuerier) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	var raw []map[string]interface{}
	if err := q.idb.NewRaw(query, encodeArgs(args)...).Scan(ctx, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateError(err, "", "")
	}
	return toRows(raw), nil
}

// encodeValue converts normalized entity values to what bun can format.
func encodeValue(v any) any {
	if in, ok := v.(entity.Instant); ok {
		return in.Time()
	}
	return v
}

func encodeRow(row Row) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = encodeValue(a)
	}
	return out
}

func toRows(raw []map[string]interface{}) []Row {
	if len(raw) == 0 {
		return nil
	}
	rows := make([]Row, len(raw))
	for i, r := range raw {
		for k, v := range r {
			// text may come back as bytes depending on driver and column type
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		rows[i] = Row(r)
	}
	return rows
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
