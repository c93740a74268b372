package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by lookups that require a row to exist.
var ErrNotFound = errors.New("entity not found")

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeConstraintViolation: a write would break a column or foreign key constraint.
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"

	// CodeStaleIdentity: a cached or mapped instance disagrees with the current metadata.
	CodeStaleIdentity ErrorCode = "STALE_IDENTITY"

	// CodeTransactionAborted: a flush failed and the transaction was rolled back.
	CodeTransactionAborted ErrorCode = "TRANSACTION_ABORTED"
)

// Error carries enough context to tell which entity, row and column a failure
// belongs to. Err holds the underlying cause, if any.
type Error struct {
	Code     ErrorCode
	Message  string
	Entity   string
	Key      any
	Column   string
	Relation string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Entity != "" {
		ctx = append(ctx, "entity="+e.Entity)
	}
	if e.Key != nil {
		ctx = append(ctx, fmt.Sprintf("key=%v", e.Key))
	}
	if e.Column != "" {
		ctx = append(ctx, "column="+e.Column)
	}
	if e.Relation != "" {
		ctx = append(ctx, "relation="+e.Relation)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ConstraintViolation builds a CodeConstraintViolation error.
func ConstraintViolation(entityName string, key any, column, message string) *Error {
	return &Error{Code: CodeConstraintViolation, Message: message, Entity: entityName, Key: key, Column: column}
}

// StaleIdentity builds a CodeStaleIdentity error.
func StaleIdentity(entityName string, key any, message string) *Error {
	return &Error{Code: CodeStaleIdentity, Message: message, Entity: entityName, Key: key}
}

// TransactionAborted wraps the cause of a rolled back flush.
func TransactionAborted(cause error) *Error {
	return &Error{Code: CodeTransactionAborted, Message: "transaction rolled back", Err: cause}
}

// IsConstraintViolation reports whether any error in err's chain is a constraint violation.
func IsConstraintViolation(err error) bool { return hasCode(err, CodeConstraintViolation) }

// IsStaleIdentity reports whether any error in err's chain is a stale identity error.
func IsStaleIdentity(err error) bool { return hasCode(err, CodeStaleIdentity) }

// IsTransactionAborted reports whether err's chain contains a rolled back flush.
func IsTransactionAborted(err error) bool { return hasCode(err, CodeTransactionAborted) }

// AsError returns the first *Error in err's chain carrying code.
func AsError(err error, code ErrorCode) (*Error, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil, false
		}
		if e.Code == code {
			return e, true
		}
		err = e.Err
	}
	return nil, false
}

func hasCode(err error, code ErrorCode) bool {
	_, ok := AsError(err, code)
	return ok
}
