package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
)

// Call is one statement seen by a RecordingDriver.
type Call struct {
	Op     string
	Table  string
	InTx   bool
	Values driver.Row
	Where  driver.Row
}

// RecordingDriver wraps a driver and records every select and write that
// goes through it or through its transactions.
type RecordingDriver struct {
	inner driver.Driver

	mu    sync.Mutex
	calls []Call
}

var _ driver.Driver = (*RecordingDriver)(nil)

func NewRecordingDriver(inner driver.Driver) *RecordingDriver {
	return &RecordingDriver{inner: inner}
}

// Inner returns the wrapped driver. Statements sent to it are not recorded.
func (d *RecordingDriver) Inner() driver.Driver { return d.inner }

// Calls returns a copy of the recorded calls.
func (d *RecordingDriver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Count returns how many recorded calls match op ("select", "insert",
// "update", "delete", "exec", "query") and table. An empty table matches all.
func (d *RecordingDriver) Count(op, table string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Op == op && (table == "" || c.Table == table) {
			n++
		}
	}
	return n
}

func (d *RecordingDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *RecordingDriver) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *RecordingDriver) Select(ctx context.Context, q driver.SelectQuery) ([]driver.Row, error) {
	d.record(Call{Op: "select", Table: q.Table, Where: q.Where})
	return d.inner.Select(ctx, q)
}

func (d *RecordingDriver) Apply(ctx context.Context, stmt driver.Statement) (driver.Result, error) {
	d.record(Call{Op: stmt.Kind.String(), Table: stmt.Table, Values: stmt.Values, Where: stmt.Where})
	return d.inner.Apply(ctx, stmt)
}

func (d *RecordingDriver) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	d.record(Call{Op: "exec"})
	return d.inner.Exec(ctx, query, args...)
}

func (d *RecordingDriver) Query(ctx context.Context, query string, args ...any) ([]driver.Row, error) {
	d.record(Call{Op: "query"})
	return d.inner.Query(ctx, query, args...)
}

func (d *RecordingDriver) Begin(ctx context.Context) (driver.Tx, error) {
	tx, err := d.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{tx: tx, d: d}, nil
}

func (d *RecordingDriver) Dialect() driver.Dialect { return d.inner.Dialect() }

func (d *RecordingDriver) CreateTables(ctx context.Context, reg *entity.Registry) error {
	return d.inner.CreateTables(ctx, reg)
}

func (d *RecordingDriver) Close() error { return d.inner.Close() }

type recordingTx struct {
	tx driver.Tx
	d  *RecordingDriver
}

func (t *recordingTx) Select(ctx context.Context, q driver.SelectQuery) ([]driver.Row, error) {
	t.d.record(Call{Op: "select", Table: q.Table, InTx: true, Where: q.Where})
	return t.tx.Select(ctx, q)
}

func (t *recordingTx) Apply(ctx context.Context, stmt driver.Statement) (driver.Result, error) {
	t.d.record(Call{Op: stmt.Kind.String(), Table: stmt.Table, InTx: true, Values: stmt.Values, Where: stmt.Where})
	return t.tx.Apply(ctx, stmt)
}

func (t *recordingTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	t.d.record(Call{Op: "exec", InTx: true})
	return t.tx.Exec(ctx, query, args...)
}

func (t *recordingTx) Query(ctx context.Context, query string, args ...any) ([]driver.Row, error) {
	t.d.record(Call{Op: "query", InTx: true})
	return t.tx.Query(ctx, query, args...)
}

func (t *recordingTx) Commit() error   { return t.tx.Commit() }
func (t *recordingTx) Rollback() error { return t.tx.Rollback() }
