// Package isam is the legacy entry-point surface. Each call resolves its
// handle to an engine context, delegates, and collapses failures into the
// numeric error code set the old clients read from iserrno.
package isam

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/scu/pgisam/config"
	"github.com/scu/pgisam/database/postgres"
	"github.com/scu/pgisam/engine"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
	"github.com/scu/pgisam/telemetry"
)

// Mode flags, re-exported so client code only imports this package.
const (
	ISFIRST = engine.ISFIRST
	ISLAST  = engine.ISLAST
	ISNEXT  = engine.ISNEXT
	ISPREV  = engine.ISPREV
	ISCURR  = engine.ISCURR
	ISEQUAL = engine.ISEQUAL
	ISGREAT = engine.ISGREAT
	ISGTEQ  = engine.ISGTEQ

	ISLOCK     = engine.ISLOCK
	ISSKIPLOCK = engine.ISSKIPLOCK
	ISWAIT     = engine.ISWAIT
	ISLCKW     = engine.ISLCKW
	ISKEEPLOCK = engine.ISKEEPLOCK

	ISINPUT  = engine.ISINPUT
	ISOUTPUT = engine.ISOUTPUT
	ISINOUT  = engine.ISINOUT
	ISTRANS  = engine.ISTRANS
)

// OK and Fail are the legacy integer statuses.
const (
	OK   = 0
	Fail = -1
)

// API wraps an engine behind one mutex. The engine itself is
// single-threaded; serializing here keeps the legacy surface safe to call
// from multiple goroutines.
type API struct {
	mu     sync.Mutex
	engine *engine.Engine
}

// NewAPI wraps an already-built engine.
func NewAPI(e *engine.Engine) *API {
	return &API{engine: e}
}

// InitFromEnv wires the whole bridge up the way the legacy library did at
// first call: read EDATA/BRIDGE/PGISAM, parse conn.def, connect, set the
// search path, and preload the definitions listed in preload.def.
func InitFromEnv(ctx context.Context) (*API, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	level := telemetry.ParsePGISAM(env.PGISAM)
	telemetry.Init(level)

	row, err := config.ParseConnDef(filepath.Join(env.Bridge, "conn.def"), env.EDATA)
	if err != nil {
		return nil, err
	}

	var opts []postgres.Option
	if level.Traced() {
		opts = append(opts, postgres.WithSQLTrace())
	}
	conn, err := postgres.New(ctx, row.DSN(), row.Schema, opts...)
	if err != nil {
		return nil, err
	}

	e := engine.New(schema.NewRegistry(env.Bridge), conn)
	if names, err := config.ParsePreloadDef(filepath.Join(env.Bridge, "preload.def")); err == nil {
		if err := e.Preload(names); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return NewAPI(e), nil
}

// fail records err in the process error state and returns the legacy
// failure status. The log line is skipped while suppression is on, which
// clients use when probing an update before falling back to insert.
func fail(err error) int {
	code := iserr.EBADARG
	var isErr *iserr.Error
	if errors.As(err, &isErr) {
		code = isErr.Code
	}
	iserr.Set(code)
	if !iserr.Suppressed() {
		slog.Error(iserr.Describe(code), "err", err.Error())
	}
	return Fail
}

func (a *API) status(err error) int {
	if err != nil {
		return fail(err)
	}
	return OK
}

// IsOpen opens a handle on an existing table.
func (a *API) IsOpen(path string, mode int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.engine.Open(path, mode)
	if err != nil {
		return fail(err)
	}
	return h
}

// IsBuild creates the table and opens a handle on it.
func (a *API) IsBuild(path string, reclen int, key schema.Keydesc, mode int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.engine.Build(path, reclen, key, mode)
	if err != nil {
		return fail(err)
	}
	return h
}

// IsClose releases the handle.
func (a *API) IsClose(handle int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Close(handle))
}

// IsErase drops the table behind the named definition.
func (a *API) IsErase(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Erase(path))
}

// IsStart positions a cursor by keydesc and mode.
func (a *API) IsStart(handle int, key schema.Keydesc, length int, record []byte, mode int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Start(handle, key, length, record, mode))
}

// IsRead fetches a record in the direction mode requests.
func (a *API) IsRead(handle int, record []byte, mode int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Read(handle, record, mode))
}

// IsWrite inserts a new record.
func (a *API) IsWrite(handle int, record []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Write(handle, record))
}

// IsWrCurr inserts a new record; the bridge keeps no distinct
// write-current position, so it behaves as IsWrite.
func (a *API) IsWrCurr(handle int, record []byte) int {
	return a.IsWrite(handle, record)
}

// IsRewrite updates the current record. The legacy engine restricted
// isrewrite to non-key fields; the bridge makes it identical to
// IsRewCurr.
func (a *API) IsRewrite(handle int, record []byte) int {
	return a.IsRewCurr(handle, record)
}

// IsRewCurr updates the row anchored by the last successful read.
func (a *API) IsRewCurr(handle int, record []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.RewriteCurrent(handle, record))
}

// IsRewRec is a stub kept for signature compatibility; record numbers have
// no meaning here.
func (a *API) IsRewRec(handle int, recnum int, record []byte) int { return OK }

// IsDelete removes every row matching the populated fields of record.
func (a *API) IsDelete(handle int, record []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Delete(handle, record))
}

// IsDelCurr deletes the row under the cursor.
func (a *API) IsDelCurr(handle int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.DeleteCurrent(handle))
}

// IsDelRec is a stub kept for signature compatibility.
func (a *API) IsDelRec(handle int, recnum int) int { return OK }

// IsDelIndex, IsAddIndex and IsIndexInfo are stubs on the bridge path; the
// clone tool talks to the legacy engine's versions.
func (a *API) IsDelIndex(handle int, key schema.Keydesc) int { return OK }
func (a *API) IsAddIndex(handle int, key schema.Keydesc) int { return OK }
func (a *API) IsIndexInfo(handle int, key *schema.Keydesc, number int) int { return OK }

// IsFinish closes the handle's cursor without releasing the handle.
func (a *API) IsFinish(handle int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Finish(handle))
}

// IsBegin opens a transaction on the shared connection.
func (a *API) IsBegin() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Begin())
}

// IsCommit commits and forgets every WITHOUT HOLD cursor.
func (a *API) IsCommit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Commit())
}

// IsRollback aborts the transaction; cursor bookkeeping matches IsCommit.
func (a *API) IsRollback() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Rollback())
}

// IsCleanup tears down every context and the connection.
func (a *API) IsCleanup() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(a.engine.Cleanup())
}

// IsLogOpen and IsLogClose are stubs; transaction logging belongs to the
// backend.
func (a *API) IsLogOpen(path string) int { return OK }
func (a *API) IsLogClose() int           { return OK }

// IsErrno returns the current legacy error number.
func (a *API) IsErrno() int { return int(iserr.Last()) }
