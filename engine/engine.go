// Package engine is the context/cursor machine: it owns the handle pool,
// translates positioned reads into DECLARE CURSOR/FETCH sequences, and
// anchors rewrite/delete-current on the OID of the most recently read row.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scu/pgisam/codec"
	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
)

// Engine owns all mutable bridge state: the schema registry, the shared
// backend connection, and the context table indexed by handle. It is
// single-threaded; concurrent callers must serialize at the API boundary.
type Engine struct {
	ctx      context.Context
	registry *schema.Registry
	conn     database.Conn
	pid      int

	contexts [MaxFDs + 1]*Context // index == handle; slot 0 stays nil
}

// New builds an engine over an already-open connection and registry.
func New(registry *schema.Registry, conn database.Conn) *Engine {
	return &Engine{
		ctx:      context.Background(),
		registry: registry,
		conn:     conn,
		pid:      os.Getpid(),
	}
}

// Preload pushes each named definition into the registry, the way the
// legacy bridge walked preload.def at init.
func (e *Engine) Preload(names []string) error {
	for _, name := range names {
		if _, err := e.registry.Push(name); err != nil {
			return iserr.Newf(iserr.ENOSCHEM, err.Error())
		}
	}
	return nil
}

// Registry exposes the engine's schema registry, mainly for the dump and
// clone tools.
func (e *Engine) Registry() *schema.Registry { return e.registry }

// Context returns the context for handle, or nil.
func (e *Engine) Context(handle int) *Context {
	if handle <= 0 || handle > MaxFDs {
		return nil
	}
	return e.contexts[handle]
}

func (e *Engine) lookup(handle int) (*Context, error) {
	c := e.Context(handle)
	if c == nil {
		return nil, iserr.New(iserr.ENOTOPEN)
	}
	return c, nil
}

// allocHandle claims the lowest free slot, or 0 when the pool is
// exhausted.
func (e *Engine) allocHandle() int {
	for h := 1; h <= MaxFDs; h++ {
		if e.contexts[h] == nil {
			return h
		}
	}
	return 0
}

func schemaName(path string) string {
	return filepath.Base(path)
}

// Open binds a handle to an existing table. The definition is loaded
// lazily if the registry has not seen it yet.
func (e *Engine) Open(path string, mode int) (int, error) {
	t, err := e.registry.Push(schemaName(path))
	if err != nil {
		return -1, iserr.Newf(iserr.ENOSCHEM, err.Error())
	}
	return e.newContext(t)
}

// Build creates the backend table described by the definition and binds a
// handle to it. reclen must agree with the definition when both are known.
func (e *Engine) Build(path string, reclen int, key schema.Keydesc, mode int) (int, error) {
	t, err := e.registry.Push(schemaName(path))
	if err != nil {
		return -1, iserr.Newf(iserr.ENOSCHEM, err.Error())
	}
	if t.Reclen != 0 && reclen != 0 && t.Reclen != reclen {
		return -1, iserr.Newf(iserr.EBADARG, fmt.Sprintf("reclen %d does not match definition %d", reclen, t.Reclen))
	}
	for _, stmt := range t.BuildCreateTable() {
		if _, err := e.conn.Exec(e.ctx, stmt); err != nil {
			return -1, iserr.Newf(iserr.EBADFILE, err.Error())
		}
	}
	return e.newContext(t)
}

func (e *Engine) newContext(t *schema.Table) (int, error) {
	h := e.allocHandle()
	if h == 0 {
		return -1, iserr.New(iserr.EFNAME)
	}
	e.contexts[h] = &Context{
		id:      h,
		opened:  t,
		current: t,
		conn:    e.conn,
	}
	return h, nil
}

// Erase drops the backend table behind the named definition.
func (e *Engine) Erase(path string) error {
	t, err := e.registry.Push(schemaName(path))
	if err != nil {
		return iserr.Newf(iserr.ENOSCHEM, err.Error())
	}
	if _, err := e.conn.Exec(e.ctx, "DROP TABLE "+t.PgName); err != nil {
		return iserr.Newf(iserr.EBADFILE, err.Error())
	}
	return nil
}

// Start positions a fresh cursor: pivot the schema on the supplied record,
// match the keydesc to an index, close any cursor the handle already
// owns, and declare a new one over the keyed SELECT.
func (e *Engine) Start(handle int, key schema.Keydesc, keyLength int, record []byte, mode int) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	mode &= modeMask

	c.current = e.registry.Pivot(c.opened, record)

	idx, err := c.current.MatchIndex(key)
	if err != nil {
		return iserr.Newf(iserr.EBADKEY, err.Error())
	}
	c.index = idx

	if c.cursorName != "" {
		if _, err := c.conn.Exec(e.ctx, "CLOSE "+c.cursorName); err != nil {
			slog.Debug("close of stale cursor failed", "cursor", c.cursorName, "err", err)
		}
		c.dropCursor()
	}

	sel, err := buildSelect(c.current, idx, record, mode, keyLength)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%d_%d", c.current.Name, c.id, e.pid)
	hold := "WITH HOLD"
	inTx := c.conn.InTransaction()
	if inTx {
		hold = "WITHOUT HOLD"
	}
	declare := fmt.Sprintf("DECLARE %s SCROLL CURSOR %s FOR %s", name, hold, sel.sql)

	if inTx {
		if _, err := c.conn.Exec(e.ctx, declare); err != nil {
			return iserr.Newf(iserr.ENOREC, err.Error())
		}
	} else {
		// A WITH HOLD declare needs a transaction of its own to
		// materialize against.
		if err := c.conn.Begin(e.ctx); err != nil {
			return iserr.Newf(iserr.ENOREC, err.Error())
		}
		if _, err := c.conn.Exec(e.ctx, declare); err != nil {
			c.conn.Rollback(e.ctx)
			return iserr.Newf(iserr.ENOREC, err.Error())
		}
		if err := c.conn.Commit(e.ctx); err != nil {
			return iserr.Newf(iserr.ENOREC, err.Error())
		}
	}

	c.cursorName = name
	c.transCursor = inTx
	c.sqlLast = declare
	c.sqlTemp = sel.temp
	c.reverse = sel.reverse
	c.startMode = mode
	c.inRead = false
	c.state = statePositioned
	return nil
}

// Read fetches the next record in the direction mode asks for and fills
// record from the fetched row. Lock bits are stripped and ignored.
func (e *Engine) Read(handle int, record []byte, mode int) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	mode &= modeMask

	if c.cursorName == "" {
		if mode == ISEQUAL || mode == ISGTEQ {
			return e.readDirect(c, record, mode)
		}
		return iserr.New(iserr.ENOBEGIN)
	}

	// A reversed cursor already runs ORDER BY DESC, so FORWARD walks
	// greatest to least; ISNEXT/ISPREV keep their usual translation.
	fetchMode := mode

	if c.startMode == ISGREAT && fetchMode == ISNEXT && c.state != statePositionedAfterGreat {
		if err := e.redeclareAfterGreat(c); err != nil {
			return err
		}
	}

	var dir string
	switch fetchMode {
	case ISFIRST:
		dir = "FIRST"
	case ISLAST:
		dir = "LAST"
	case ISPREV:
		// The first ISPREV after an ISLAST start has no row under the
		// cursor yet; it lands on the last row instead of stepping back
		// off the end.
		if !c.inRead && c.startMode == ISLAST {
			dir = "LAST"
		} else {
			dir = "BACKWARD 1"
		}
	case ISNEXT, ISCURR, ISEQUAL, ISGREAT, ISGTEQ:
		dir = "FORWARD 1"
	default:
		return iserr.New(iserr.EBADARG)
	}

	res, err := c.conn.Exec(e.ctx, fmt.Sprintf("FETCH %s FROM %s", dir, c.cursorName))
	if err != nil {
		return iserr.Newf(iserr.ENOREC, err.Error())
	}
	if res == nil || res.Rows() == 0 {
		return iserr.New(iserr.ENOREC)
	}

	if oid, ok := res.OID(); ok {
		c.lastOID = oid
	}
	c.inRead = true
	return fillRecord(c.current, res, record)
}

// readDirect serves ISEQUAL/ISGTEQ reads on a handle with no open cursor:
// a one-shot SELECT against the first index, limited to a single row.
func (e *Engine) readDirect(c *Context, record []byte, mode int) error {
	if len(c.current.Indexes) == 0 {
		return iserr.New(iserr.EBADKEY)
	}
	idx := &c.current.Indexes[0]
	sel, err := buildSelect(c.current, idx, record, mode, 0)
	if err != nil {
		return err
	}
	res, err := c.conn.Exec(e.ctx, sel.sql+" LIMIT 1")
	if err != nil {
		return iserr.Newf(iserr.ENOREC, err.Error())
	}
	if res == nil || res.Rows() == 0 {
		return iserr.New(iserr.ENOREC)
	}
	if oid, ok := res.OID(); ok {
		c.lastOID = oid
	}
	c.inRead = true
	c.index = idx
	return fillRecord(c.current, res, record)
}

// redeclareAfterGreat performs the one-shot cursor rebuild an ISGREAT
// start defers to the first following ISNEXT: the retained DECLARE gets
// the prefix-exclusion clauses spliced in ahead of its ORDER BY.
func (e *Engine) redeclareAfterGreat(c *Context) error {
	c.state = statePositionedAfterGreat
	if c.sqlTemp == "" {
		return nil
	}
	if _, err := c.conn.Exec(e.ctx, "CLOSE "+c.cursorName); err != nil {
		return iserr.Newf(iserr.ENOREC, err.Error())
	}
	spliced := spliceTemp(c.sqlLast, c.sqlTemp)
	if _, err := c.conn.Exec(e.ctx, spliced); err != nil {
		return iserr.Newf(iserr.ENOREC, err.Error())
	}
	c.sqlLast = spliced
	c.sqlTemp = ""
	return nil
}

// fillRecord blank-pads record to the schema's reclen and copies the
// result row's columns into it.
func fillRecord(t *schema.Table, res database.Result, record []byte) error {
	n := t.Reclen
	if n > len(record) {
		n = len(record)
	}
	for i := 0; i < n; i++ {
		record[i] = ' '
	}

	byName := make(map[string]int, res.Fields())
	for i := 0; i < res.Fields(); i++ {
		byName[res.FieldName(i)] = i
	}

	for _, col := range t.Columns {
		if col.IsPhantom {
			continue
		}
		fi, ok := byName[col.Name]
		if !ok {
			continue
		}
		v := codec.FromResult(col.Type, res.Value(0, fi))
		if err := codec.WriteField(record, col.Spec(), v); err != nil {
			return iserr.Newf(iserr.EBADARG, err.Error())
		}
	}
	return nil
}

// extractRecord populates the schema's transient column values from
// record. A codec mismatch aborts the whole row before any statement is
// built.
func extractRecord(t *schema.Table, record []byte) error {
	t.ClearValues()
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.IsPhantom {
			continue
		}
		v, err := codec.ExtractField(record, col.Spec())
		if err != nil {
			return iserr.Newf(iserr.EBADARG, err.Error())
		}
		col.Value = v
	}
	return nil
}

// Write inserts record as a new row.
func (e *Engine) Write(handle int, record []byte) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	c.current = e.registry.Pivot(c.opened, record)
	if err := extractRecord(c.current, record); err != nil {
		return err
	}
	if _, err := c.conn.Exec(e.ctx, c.current.BuildInsert()); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return iserr.Newf(iserr.EDUPL, err.Error())
		}
		return iserr.Newf(iserr.EBADFILE, err.Error())
	}
	return nil
}

// RewriteCurrent updates the row anchored by the last successful read.
func (e *Engine) RewriteCurrent(handle int, record []byte) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	if c.cursorName == "" || !c.inRead || c.lastOID == "" {
		return iserr.New(iserr.ENOCURR)
	}
	if err := extractRecord(c.current, record); err != nil {
		return err
	}
	if _, err := c.conn.Exec(e.ctx, c.current.BuildUpdate(c.lastOID)); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return iserr.Newf(iserr.EDUPL, err.Error())
		}
		return iserr.Newf(iserr.EBADFILE, err.Error())
	}
	return nil
}

// DeleteCurrent deletes the row under the cursor. The OID is re-derived
// with a zero-width FETCH first, guarding against cursor drift since the
// last read.
func (e *Engine) DeleteCurrent(handle int) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	if c.cursorName == "" || !c.inRead {
		return iserr.New(iserr.ENOCURR)
	}
	oid := c.lastOID
	res, err := c.conn.Exec(e.ctx, "FETCH FORWARD 0 FROM "+c.cursorName)
	if err == nil && res != nil {
		if fresh, ok := res.OID(); ok {
			oid = fresh
		}
	}
	if oid == "" {
		return iserr.New(iserr.ENOCURR)
	}
	if _, err := c.conn.Exec(e.ctx, fmt.Sprintf("DELETE FROM %s WHERE oid='%s'", c.current.PgName, oid)); err != nil {
		return iserr.Newf(iserr.EBADFILE, err.Error())
	}
	return nil
}

// Delete removes every row matching the populated fields of record. No
// cursor is required.
func (e *Engine) Delete(handle int, record []byte) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	c.current = e.registry.Pivot(c.opened, record)
	if err := extractRecord(c.current, record); err != nil {
		return err
	}
	if _, err := c.conn.Exec(e.ctx, c.current.BuildDelete()); err != nil {
		return iserr.Newf(iserr.EBADFILE, err.Error())
	}
	return nil
}

// Finish closes the handle's cursor, if any, and leaves the context
// intact.
func (e *Engine) Finish(handle int) error {
	c, err := e.lookup(handle)
	if err != nil {
		return err
	}
	if c.cursorName != "" {
		if _, err := c.conn.Exec(e.ctx, "CLOSE "+c.cursorName); err != nil {
			slog.Debug("cursor close failed", "cursor", c.cursorName, "err", err)
		}
		c.dropCursor()
	}
	return nil
}

// Close releases the handle: cursor closed, context discarded, slot
// returned to the pool.
func (e *Engine) Close(handle int) error {
	if err := e.Finish(handle); err != nil {
		return err
	}
	e.contexts[handle] = nil
	return nil
}

// Begin opens a transaction on the shared connection. Cursors declared
// until the matching commit/rollback will be WITHOUT HOLD.
func (e *Engine) Begin() error {
	if err := e.conn.Begin(e.ctx); err != nil {
		return iserr.Newf(iserr.ENOTRANS, err.Error())
	}
	return nil
}

// Commit commits the open transaction and forgets every WITHOUT HOLD
// cursor, which the backend has already closed.
func (e *Engine) Commit() error {
	if !e.conn.InTransaction() {
		return iserr.New(iserr.ENOTRANS)
	}
	err := e.conn.Commit(e.ctx)
	e.closeTransCursors()
	if err != nil {
		return iserr.Newf(iserr.ENOTRANS, err.Error())
	}
	return nil
}

// Rollback aborts the open transaction; cursor bookkeeping matches
// Commit.
func (e *Engine) Rollback() error {
	if !e.conn.InTransaction() {
		return iserr.New(iserr.ENOTRANS)
	}
	err := e.conn.Rollback(e.ctx)
	e.closeTransCursors()
	if err != nil {
		return iserr.Newf(iserr.ENOTRANS, err.Error())
	}
	return nil
}

func (e *Engine) closeTransCursors() {
	for h := 1; h <= MaxFDs; h++ {
		c := e.contexts[h]
		if c != nil && c.transCursor && c.cursorName != "" {
			c.dropCursor()
		}
	}
}

// Cleanup tears the whole engine down: every context is closed and the
// connection released.
func (e *Engine) Cleanup() error {
	for h := 1; h <= MaxFDs; h++ {
		if e.contexts[h] != nil {
			e.Close(h)
		}
	}
	return e.conn.Close()
}
