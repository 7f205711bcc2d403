// Package postgres implements database.Conn on top of lib/pq.
//
// The bridge needs session-scoped behavior the stdlib pool would break:
// DECLARE CURSOR, FETCH, and raw BEGIN/COMMIT must all land on the same
// backend session. The connection therefore pins one *sql.Conn for its
// whole lifetime instead of executing against the pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/scu/pgisam/database"
)

type Conn struct {
	db      *sql.DB
	session *sql.Conn
	inTx    bool

	printOnly bool
	logger    database.Logger
	trace     bool
}

// Option adjusts a Conn at construction time.
type Option func(*Conn)

// WithPrintOnly makes Exec print each statement through the logger and
// return a nil Result without touching the backend. The schema-dump tool
// runs the whole build path in this mode.
func WithPrintOnly(l database.Logger) Option {
	return func(c *Conn) {
		c.printOnly = true
		c.logger = l
	}
}

// WithSQLTrace echoes every executed statement through slog at debug level.
func WithSQLTrace() Option {
	return func(c *Conn) { c.trace = true }
}

// New opens a connection with the given libpq DSN and issues
// SET search_path TO searchPath on the pinned session. Either failure
// yields a nil Conn.
func New(ctx context.Context, dsn, searchPath string, opts ...Option) (*Conn, error) {
	c := &Conn{logger: database.NullLogger{}}
	for _, o := range opts {
		o(c)
	}
	if c.printOnly {
		return c, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	session, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.db = db
	c.session = session

	if searchPath != "" {
		if _, err := session.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(searchPath))); err != nil {
			session.Close()
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewFromDB wraps an already-open *sql.DB. Tests use this to drive the
// Conn against sqlmock.
func NewFromDB(ctx context.Context, db *sql.DB, opts ...Option) (*Conn, error) {
	c := &Conn{db: db, logger: database.NullLogger{}}
	for _, o := range opts {
		o(c)
	}
	session, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	c.session = session
	return c, nil
}

func (c *Conn) Exec(ctx context.Context, sqlText string) (database.Result, error) {
	if c.printOnly {
		c.logger.Println(sqlText + ";")
		return nil, nil
	}
	if c.trace {
		slog.Debug("exec", "sql", sqlText)
	}

	rows, err := c.session.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &result{fields: cols}
	for rows.Next() {
		scan := make([]any, len(cols))
		for i := range scan {
			scan[i] = new(any)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, p := range scan {
			row[i] = formatValue(*p.(*any))
		}
		res.rows = append(res.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return res, nil
}

func (c *Conn) Begin(ctx context.Context) error {
	if _, err := c.Exec(ctx, "BEGIN"); err != nil {
		return err
	}
	c.inTx = true
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.Exec(ctx, "COMMIT")
	c.inTx = false
	return err
}

func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.Exec(ctx, "ROLLBACK")
	c.inTx = false
	return err
}

func (c *Conn) InTransaction() bool { return c.inTx }

func (c *Conn) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// wrapErr maps unique-constraint violations onto database.ErrDuplicate so
// the engine can surface the legacy "duplicate record" code.
func wrapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", database.ErrDuplicate, pqErr.Message)
	}
	if strings.Contains(err.Error(), "duplicate key value") {
		return fmt.Errorf("%w: %s", database.ErrDuplicate, err.Error())
	}
	return err
}

// formatValue renders one scanned driver value as the string the bridge
// consumes. []byte passes through verbatim (bytea arrives raw from lib/pq,
// numerics as their ASCII form); bool is rendered as true/false.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

type result struct {
	fields []string
	rows   [][]string
}

func (r *result) Rows() int   { return len(r.rows) }
func (r *result) Fields() int { return len(r.fields) }

func (r *result) FieldName(col int) string {
	if col < 0 || col >= len(r.fields) {
		return ""
	}
	return r.fields[col]
}

func (r *result) Value(row, col int) string {
	if row < 0 || row >= len(r.rows) || col < 0 || col >= len(r.fields) {
		return ""
	}
	return r.rows[row][col]
}

// OID returns the oid column of a single-row result, the anchor the cursor
// machine keeps for rewrite-current and delete-current.
func (r *result) OID() (string, bool) {
	if len(r.rows) != 1 {
		return "", false
	}
	for i, f := range r.fields {
		if f == "oid" {
			return r.rows[0][i], true
		}
	}
	return "", false
}
