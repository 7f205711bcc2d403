// Package telemetry configures structured logging for the bridge. It
// reproduces the legacy pgout trace-level bitmask, fed by the PGISAM
// environment variable, on top of log/slog.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Level is the legacy pgout_t mode bitmask. Several bits can be set at once
// ("debug3 sql" in PGISAM enables both mDEBUG3 and mSQL).
type Level uint

const (
	Normal  Level = 0x00
	Sys     Level = 0x01 // mSYS: add system error info to log
	Isam    Level = 0x02 // mISAM: log isam error strings
	SQL     Level = 0x04 // mSQL: trace executed SQL
	Debug1  Level = 0x08
	Debug2  Level = 0x10
	Debug3  Level = 0x20 // == mTRACE
	Display Level = 0x40 // mDISPLAY: echo to stdout
	DTStamp Level = 0x80 // mDTSTAMP: date/time stamp in log lines
)

// ParsePGISAM parses the PGISAM environment variable's token syntax:
// whitespace-separated tokens among debug1, debug2, debug3, sql. Unknown
// tokens are ignored, matching the legacy set_pgisam_options's tolerance of
// a comma- or space-separated option string.
func ParsePGISAM(optstr string) Level {
	var level Level
	for _, tok := range strings.Fields(strings.ReplaceAll(optstr, ",", " ")) {
		switch strings.ToLower(tok) {
		case "debug1":
			level |= Debug1
		case "debug2":
			level |= Debug2
		case "debug3":
			level |= Debug3
		case "sql":
			level |= SQL
		}
	}
	return level
}

// Traced reports whether l requests SQL statement tracing.
func (l Level) Traced() bool { return l&SQL != 0 }

// slogLevel maps the debug bits onto an slog.Level: any debug bit lowers the
// floor to Debug, otherwise Info.
func (l Level) slogLevel() slog.Level {
	if l&(Debug1|Debug2|Debug3) != 0 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

var pid = os.Getpid()

// pgoutHandler renders lines in the shape of the legacy pgout log: an
// optional date/time stamp, the pid, the calling function, and the
// message, pipe-separated.
type pgoutHandler struct {
	level     Level
	out       *os.File
	withStamp bool
}

// NewHandler builds the slog.Handler used by Init.
func NewHandler(level Level, out *os.File) slog.Handler {
	return &pgoutHandler{level: level, out: out, withStamp: level&DTStamp != 0}
}

func (h *pgoutHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.slogLevel()
}

func (h *pgoutHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if h.withStamp {
		b.WriteString(r.Time.Format(time.RFC3339))
		b.WriteByte('|')
	}
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('|')
	b.WriteString(callerFunc())
	b.WriteByte('|')
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	})
	b.WriteByte('\n')
	_, err := h.out.WriteString(b.String())
	return err
}

func (h *pgoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *pgoutHandler) WithGroup(name string) slog.Handler       { return h }

func callerFunc() string {
	pc, _, _, ok := runtime.Caller(4)
	if !ok {
		return "?"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?"
	}
	name := fn.Name()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Init installs the process-wide slog.Default() handler, honoring the
// PGISAM debug bitmask and whether mDISPLAY/stdout echo was requested.
// Lines always carry the date/time stamp.
func Init(level Level) {
	out := os.Stderr
	if level&Display != 0 {
		out = os.Stdout
	}
	slog.SetDefault(slog.New(NewHandler(level|DTStamp, out)))
}

// InitFromEnv reads PGISAM and calls Init.
func InitFromEnv() Level {
	level := ParsePGISAM(os.Getenv("PGISAM"))
	Init(level)
	return level
}
