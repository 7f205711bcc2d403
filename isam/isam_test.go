package isam

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/engine"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
)

type stubConn struct {
	execd []string
	inTx  bool
}

func (s *stubConn) Exec(_ context.Context, sql string) (database.Result, error) {
	s.execd = append(s.execd, sql)
	return nil, nil
}

func (s *stubConn) Begin(context.Context) error    { s.inTx = true; return nil }
func (s *stubConn) Commit(context.Context) error   { s.inTx = false; return nil }
func (s *stubConn) Rollback(context.Context) error { s.inTx = false; return nil }
func (s *stubConn) InTransaction() bool            { return s.inTx }
func (s *stubConn) Close() error                   { return nil }

func newTestAPI(t *testing.T) (*API, *stubConn) {
	t.Helper()
	dir := t.TempDir()
	def := "reclen=20\nid:0:5:code:5\nname::15:char\nindex pk=id[UNIQUE]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.def"), []byte(def), 0o644))
	conn := &stubConn{}
	return NewAPI(engine.New(schema.NewRegistry(dir), conn)), conn
}

func TestOpenCloseRoundTrip(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.IsOpen("acct", ISINPUT)
	require.Greater(t, h, 0)
	assert.Equal(t, OK, api.IsClose(h))
}

func TestOpenUnknownDefinitionSetsErrno(t *testing.T) {
	api, _ := newTestAPI(t)
	iserr.SetSuppressed(true)
	defer iserr.SetSuppressed(false)

	assert.Equal(t, Fail, api.IsOpen("nosuch", ISINPUT))
	assert.Equal(t, int(iserr.ENOSCHEM)-100, api.IsErrno())
}

func TestWriteGoesThroughInsert(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.IsOpen("acct", ISINPUT)
	require.Greater(t, h, 0)

	rec := []byte("00042Alice" + strings.Repeat(" ", 10))
	assert.Equal(t, OK, api.IsWrite(h, rec))
	require.Len(t, conn.execd, 1)
	assert.Contains(t, conn.execd[0], "INSERT INTO acct")
}

func TestRewriteNeedsCurrentRecord(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.IsOpen("acct", ISINPUT)
	iserr.SetSuppressed(true)
	defer iserr.SetSuppressed(false)

	rec := []byte(strings.Repeat(" ", 20))
	assert.Equal(t, Fail, api.IsRewrite(h, rec))
	assert.Equal(t, int(iserr.ENOCURR)-100, api.IsErrno())
}

func TestStubsReportOK(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.IsOpen("acct", ISINPUT)

	assert.Equal(t, OK, api.IsRewRec(h, 1, nil))
	assert.Equal(t, OK, api.IsDelRec(h, 1))
	assert.Equal(t, OK, api.IsDelIndex(h, schema.Keydesc{}))
	assert.Equal(t, OK, api.IsAddIndex(h, schema.Keydesc{}))
	assert.Equal(t, OK, api.IsIndexInfo(h, nil, 1))
	assert.Equal(t, OK, api.IsLogOpen("x"))
	assert.Equal(t, OK, api.IsLogClose())
}

func TestTransactionSurface(t *testing.T) {
	api, conn := newTestAPI(t)
	assert.Equal(t, OK, api.IsBegin())
	assert.True(t, conn.inTx)
	assert.Equal(t, OK, api.IsCommit())
	assert.False(t, conn.inTx)
}
