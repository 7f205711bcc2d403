// Package database is the connection and result wrapper the bridge drives:
// a backend-agnostic Conn/Result surface with a single lib/pq-backed
// implementation under postgres.
package database

import (
	"context"
	"errors"
)

// ErrDuplicate marks a backend failure caused by a unique-constraint
// violation. The postgres implementation wraps unique_violation errors so
// callers can map them onto the legacy "duplicate record" code.
var ErrDuplicate = errors.New("duplicate record")

// Result is the minimal row accessor the bridge needs: row and field
// counts, field names, a (row,col)->string value accessor, and the OID of
// the returned row when the statement yielded exactly one row carrying an
// oid column.
type Result interface {
	Rows() int
	Fields() int
	FieldName(col int) string
	Value(row, col int) string
	OID() (string, bool)
}

// Conn is the backend-agnostic connection surface. Exec returns a Result
// (nil for statements with no rows, e.g. DDL). Begin/Commit/Rollback issue
// the corresponding transaction-control SQL and maintain InTransaction,
// which the cursor machine consults to pick WITH HOLD vs WITHOUT HOLD.
type Conn interface {
	Exec(ctx context.Context, sql string) (Result, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
	Close() error
}
