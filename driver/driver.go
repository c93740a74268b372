package driver

import (
	"context"
	"io"

	"github.com/goliatone/go-repository-uow/entity"
)

// Row is one result row keyed by column name.
type Row map[string]any

// OpKind is the kind of a write Statement.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Statement is a single-row write. Where is an equality conjunction; a nil
// value matches NULL. Returning names a column whose generated value is
// reported back in Result.Returned (inserts only).
type Statement struct {
	Kind      OpKind
	Entity    string
	Table     string
	Values    Row
	Where     Row
	Returning string
}

// Result reports the outcome of a Statement.
type Result struct {
	RowsAffected int64
	Returned     any
}

// SelectQuery reads rows from one table. Where is an equality conjunction
// and a nil value matches NULL.
type SelectQuery struct {
	Table   string
	Columns []string
	Where   Row
	OrderBy []string
	Limit   int
}

// Querier executes reads and writes against a connection or a transaction.
type Querier interface {
	Select(ctx context.Context, q SelectQuery) ([]Row, error)
	Apply(ctx context.Context, stmt Statement) (Result, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Tx is a database transaction. Commit and Rollback end it; calling Rollback
// after Commit is a no-op.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Driver is the relational backend the engine runs on.
type Driver interface {
	Querier
	io.Closer
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	CreateTables(ctx context.Context, reg *entity.Registry) error
}
