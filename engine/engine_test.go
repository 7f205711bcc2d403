package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
)

type fakeResult struct {
	fields []string
	rows   [][]string
}

func (r *fakeResult) Rows() int   { return len(r.rows) }
func (r *fakeResult) Fields() int { return len(r.fields) }

func (r *fakeResult) FieldName(col int) string { return r.fields[col] }

func (r *fakeResult) Value(row, col int) string { return r.rows[row][col] }

func (r *fakeResult) OID() (string, bool) {
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

// fakeConn records every executed statement and answers through a
// test-provided respond hook.
type fakeConn struct {
	execd   []string
	inTx    bool
	respond func(sql string) (database.Result, error)
}

func (f *fakeConn) Exec(_ context.Context, sql string) (database.Result, error) {
	f.execd = append(f.execd, sql)
	if f.respond != nil {
		return f.respond(sql)
	}
	return &fakeResult{}, nil
}

func (f *fakeConn) Begin(context.Context) error {
	f.execd = append(f.execd, "BEGIN")
	f.inTx = true
	return nil
}

func (f *fakeConn) Commit(context.Context) error {
	f.execd = append(f.execd, "COMMIT")
	f.inTx = false
	return nil
}

func (f *fakeConn) Rollback(context.Context) error {
	f.execd = append(f.execd, "ROLLBACK")
	f.inTx = false
	return nil
}

func (f *fakeConn) InTransaction() bool { return f.inTx }
func (f *fakeConn) Close() error        { return nil }

func (f *fakeConn) executed(substr string) bool {
	for _, s := range f.execd {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

const acctDef = `# account master
reclen=20
prefix=tst
id:0:5:code:5
name::15:char
index pk=id[UNIQUE]
`

func newTestEngine(t *testing.T) (*Engine, *fakeConn) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.def"), []byte(acctDef), 0o644))
	conn := &fakeConn{}
	return New(schema.NewRegistry(dir), conn), conn
}

func acctKeydesc() schema.Keydesc {
	return schema.Keydesc{
		Flag:  schema.ISNODUPS,
		Len:   5,
		Parts: []schema.KeyPart{{Start: 0, Length: 5, Type: schema.CHARTYPE}},
	}
}

func acctRecord(id, name string) []byte {
	rec := []byte(strings.Repeat(" ", 20))
	copy(rec, id)
	copy(rec[5:], name)
	return rec
}

func errCode(t *testing.T, err error) iserr.Code {
	t.Helper()
	var isErr *iserr.Error
	require.ErrorAs(t, err, &isErr)
	return isErr.Code
}

func TestHandlePoolExhaustionAndReuse(t *testing.T) {
	e, _ := newTestEngine(t)

	handles := make([]int, 0, MaxFDs)
	for i := 0; i < MaxFDs; i++ {
		h, err := e.Open("acct", ISINPUT)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	_, err := e.Open("acct", ISINPUT)
	assert.Equal(t, iserr.EFNAME, errCode(t, err))

	require.NoError(t, e.Close(handles[2]))
	h, err := e.Open("acct", ISINPUT)
	require.NoError(t, err)
	assert.Equal(t, handles[2], h)
}

func TestOpenUnknownSchema(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Open("nosuch", ISINPUT)
	assert.Equal(t, iserr.ENOSCHEM, errCode(t, err))
}

func TestStartDeclaresHeldCursor(t *testing.T) {
	e, conn := newTestEngine(t)
	h, err := e.Open("acct", ISINPUT)
	require.NoError(t, err)

	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	name := fmt.Sprintf("acct_%d_%d", h, os.Getpid())
	declare := fmt.Sprintf("DECLARE %s SCROLL CURSOR WITH HOLD FOR SELECT * FROM tstacct WHERE id='00042' AND phantom != true ORDER BY id ASC", name)
	require.Equal(t, []string{"BEGIN", declare, "COMMIT"}, conn.execd)
	assert.True(t, e.Context(h).CursorOpen())
}

func TestStartClosesPreviousCursor(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	key := acctKeydesc()
	rec := acctRecord("00042", "")

	require.NoError(t, e.Start(h, key, 5, rec, ISEQUAL))
	conn.execd = nil
	require.NoError(t, e.Start(h, key, 5, rec, ISEQUAL))

	name := fmt.Sprintf("acct_%d_%d", h, os.Getpid())
	require.GreaterOrEqual(t, len(conn.execd), 2)
	assert.Equal(t, "CLOSE "+name, conn.execd[0])
	assert.Contains(t, conn.execd[2], "DECLARE "+name+" ")
}

func TestTransactionCursorForgottenOnCommit(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	require.NoError(t, e.Begin())
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))
	assert.True(t, conn.executed("WITHOUT HOLD"))
	require.True(t, e.Context(h).CursorOpen())

	require.NoError(t, e.Commit())
	assert.False(t, e.Context(h).CursorOpen())

	err := e.Read(h, make([]byte, 20), ISNEXT)
	assert.Equal(t, iserr.ENOBEGIN, errCode(t, err))
}

func TestHeldCursorSurvivesCommit(t *testing.T) {
	e, _ := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))
	require.NoError(t, e.Begin())
	require.NoError(t, e.Commit())
	assert.True(t, e.Context(h).CursorOpen())
}

func TestRollbackWithoutBegin(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, iserr.ENOTRANS, errCode(t, e.Rollback()))
}

func oneRow(oid, id, name string) *fakeResult {
	return &fakeResult{
		fields: []string{"oid", "phantom", "id", "name"},
		rows:   [][]string{{oid, "false", id, name}},
	}
}

func TestReadFillsRecordAndAnchorsOID(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "FETCH") {
			return oneRow("7", "00042", "Alice"), nil
		}
		return &fakeResult{}, nil
	}

	rec := make([]byte, 20)
	require.NoError(t, e.Read(h, rec, ISNEXT))
	assert.True(t, conn.executed("FETCH FORWARD 1 FROM"))
	assert.Equal(t, "00042Alice"+strings.Repeat(" ", 10), string(rec))

	// The fetched OID anchors rewrite-current.
	conn.execd = nil
	conn.respond = nil
	require.NoError(t, e.RewriteCurrent(h, acctRecord("00042", "Bob")))
	assert.True(t, conn.executed("UPDATE tstacct SET"))
	assert.True(t, conn.executed("WHERE oid='7'"))
}

func TestReadNoRows(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	conn.respond = func(string) (database.Result, error) { return &fakeResult{}, nil }
	err := e.Read(h, make([]byte, 20), ISNEXT)
	assert.Equal(t, iserr.ENOREC, errCode(t, err))
}

func TestReadStripsLockBits(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "FETCH") {
			return oneRow("7", "00042", "Alice"), nil
		}
		return &fakeResult{}, nil
	}
	require.NoError(t, e.Read(h, make([]byte, 20), ISNEXT|ISLOCK|ISWAIT))
	assert.True(t, conn.executed("FETCH FORWARD 1 FROM"))
}

func TestRewriteWithoutReadFails(t *testing.T) {
	e, _ := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	err := e.RewriteCurrent(h, acctRecord("00042", "Bob"))
	assert.Equal(t, iserr.ENOCURR, errCode(t, err))
}

func TestGreatSpliceOnFirstNext(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00001", ""), ISGREAT))
	assert.True(t, conn.executed("WHERE id > '00001' AND phantom != true"))

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "FETCH") {
			return oneRow("8", "00002", "Beth"), nil
		}
		return &fakeResult{}, nil
	}
	conn.execd = nil
	require.NoError(t, e.Read(h, make([]byte, 20), ISNEXT))

	name := fmt.Sprintf("acct_%d_%d", h, os.Getpid())
	require.GreaterOrEqual(t, len(conn.execd), 3)
	assert.Equal(t, "CLOSE "+name, conn.execd[0])
	assert.Contains(t, conn.execd[1], "id > '00001' AND phantom != true AND id !~ '^00001' ORDER BY id ASC")
	assert.Equal(t, "FETCH FORWARD 1 FROM "+name, conn.execd[2])

	// One-shot: the second ISNEXT fetches without re-declaring.
	conn.execd = nil
	require.NoError(t, e.Read(h, make([]byte, 20), ISNEXT))
	require.Len(t, conn.execd, 1)
	assert.Equal(t, "FETCH FORWARD 1 FROM "+name, conn.execd[0])
}

func TestReverseSentinel(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("zzzzz", ""), ISEQUAL))

	// The sentinel column contributes no clause and flips the collation.
	assert.True(t, conn.executed("SELECT * FROM tstacct WHERE phantom != true ORDER BY id DESC"))

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "FETCH") {
			return oneRow("9", "00099", "Zoe"), nil
		}
		return &fakeResult{}, nil
	}
	conn.execd = nil
	require.NoError(t, e.Read(h, make([]byte, 20), ISNEXT))
	assert.True(t, conn.executed("FETCH FORWARD 1 FROM"))
}

func TestReadWithoutCursorDirectSelect(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "SELECT") {
			return oneRow("3", "00042", "Alice"), nil
		}
		return &fakeResult{}, nil
	}
	rec := acctRecord("00042", "")
	require.NoError(t, e.Read(h, rec, ISEQUAL))
	assert.True(t, conn.executed("SELECT * FROM tstacct WHERE id='00042' AND phantom != true ORDER BY id ASC LIMIT 1"))
	assert.Equal(t, "00042Alice"+strings.Repeat(" ", 10), string(rec))
}

func TestWriteInsert(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	require.NoError(t, e.Write(h, acctRecord("00042", "Alice")))
	assert.True(t, conn.executed("INSERT INTO tstacct ( id,name ) VALUES ( E'00042',E'Alice' )"))
}

func TestWriteDuplicate(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	conn.respond = func(sql string) (database.Result, error) {
		if strings.HasPrefix(sql, "INSERT") {
			return nil, database.ErrDuplicate
		}
		return &fakeResult{}, nil
	}
	err := e.Write(h, acctRecord("00042", "Alice"))
	assert.Equal(t, iserr.EDUPL, errCode(t, err))
}

func TestDeleteCurrentRederivesOID(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	conn.respond = func(sql string) (database.Result, error) {
		switch {
		case strings.HasPrefix(sql, "FETCH FORWARD 0"):
			return oneRow("11", "00042", "Alice"), nil
		case strings.HasPrefix(sql, "FETCH"):
			return oneRow("7", "00042", "Alice"), nil
		}
		return &fakeResult{}, nil
	}
	require.NoError(t, e.Read(h, make([]byte, 20), ISNEXT))

	conn.execd = nil
	require.NoError(t, e.DeleteCurrent(h))
	require.Len(t, conn.execd, 2)
	assert.Contains(t, conn.execd[0], "FETCH FORWARD 0 FROM")
	assert.Equal(t, "DELETE FROM tstacct WHERE oid='11'", conn.execd[1])
}

func TestDeleteByRecord(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)

	require.NoError(t, e.Delete(h, acctRecord("00042", "")))
	assert.True(t, conn.executed("DELETE FROM tstacct WHERE id=E'00042'"))
}

func TestFinishClosesCursorKeepsContext(t *testing.T) {
	e, conn := newTestEngine(t)
	h, _ := e.Open("acct", ISINPUT)
	require.NoError(t, e.Start(h, acctKeydesc(), 5, acctRecord("00042", ""), ISEQUAL))

	require.NoError(t, e.Finish(h))
	assert.True(t, conn.executed("CLOSE "))
	require.NotNil(t, e.Context(h))
	assert.False(t, e.Context(h).CursorOpen())
}

func TestBuildEmitsDDL(t *testing.T) {
	e, conn := newTestEngine(t)
	h, err := e.Build("acct", 20, acctKeydesc(), ISINPUT)
	require.NoError(t, err)
	assert.Greater(t, h, 0)
	assert.True(t, conn.executed("CREATE TABLE tstacct ( oid SERIAL UNIQUE PRIMARY KEY, phantom BOOLEAN NOT NULL DEFAULT false, id CHAR(5), name VARCHAR(15) ) WITHOUT OIDS"))
	assert.True(t, conn.executed("CREATE UNIQUE INDEX pk ON tstacct ( id )"))
}

func TestEraseDropsTable(t *testing.T) {
	e, conn := newTestEngine(t)
	require.NoError(t, e.Erase("acct"))
	assert.True(t, conn.executed("DROP TABLE tstacct"))
}
