package engine

import (
	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/schema"
)

// MaxFDs bounds the handle pool. Handle 0 is reserved as the invalid
// handle, so at most MaxFDs contexts can be open at once.
const MaxFDs = 200

// positionState tracks where a context's cursor sits in the
// start/read protocol. The distinguished afterGreat state exists because a
// cursor opened with ISGREAT must be re-declared once, with the
// prefix-exclusion clauses spliced in, on the first ISNEXT that follows.
type positionState int

const (
	stateInitial positionState = iota
	statePositioned
	statePositionedAfterGreat
)

// Context is the per-open-handle state: which schema the handle is bound
// to, which connection backs it, and everything the cursor machine needs
// to keep "current record" semantics across reads, rewrites and deletes.
type Context struct {
	id      int
	opened  *schema.Table // as bound by open/build
	current *schema.Table // may differ after a pivot
	conn    database.Conn

	index      *schema.Index // chosen by the last start
	cursorName string        // empty when no cursor is open
	lastOID    string
	sqlLast    string // full DECLARE, kept for the ISGREAT re-declare
	sqlTemp    string // prefix-exclusion clauses, spliced in on ISGREAT->ISNEXT

	startMode   int
	inRead      bool
	reverse     bool
	transCursor bool // cursor was declared WITHOUT HOLD inside a transaction
	state       positionState
}

// Handle returns the context's dense handle id.
func (c *Context) Handle() int { return c.id }

// CursorOpen reports whether the context currently owns a server-side
// cursor.
func (c *Context) CursorOpen() bool { return c.cursorName != "" }

// dropCursor forgets the cursor without issuing CLOSE, for the
// end-of-transaction case where the backend already closed it.
func (c *Context) dropCursor() {
	c.cursorName = ""
	c.transCursor = false
	c.inRead = false
	c.state = stateInitial
}
