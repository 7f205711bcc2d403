package schema

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/k0kubun/pp/v3"

	"github.com/scu/pgisam/codec"
)

// Registry holds every Table the process has seen. Definition files are
// read once and cached; the registry is append-only for the process
// lifetime.
type Registry struct {
	mu        sync.Mutex
	byName    map[string]*Table
	bridgeDir string
}

// NewRegistry creates an empty registry that loads per-table <name>.def
// files from bridgeDir, normally $BRIDGE.
func NewRegistry(bridgeDir string) *Registry {
	return &Registry{
		byName:    make(map[string]*Table),
		bridgeDir: bridgeDir,
	}
}

// Get returns the schema named name, or nil if it has never been pushed.
func (r *Registry) Get(name string) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// Push loads and registers the definition for name if it isn't already
// present. Idempotent: pushing an existing logical name is a no-op and
// returns the existing Table.
func (r *Registry) Push(name string) (*Table, error) {
	logical := logicalName(name)

	r.mu.Lock()
	if t, ok := r.byName[logical]; ok {
		r.mu.Unlock()
		return t, nil
	}
	r.mu.Unlock()

	path := fmt.Sprintf("%s/%s.def", r.bridgeDir, strings.TrimSuffix(name, "*"))
	t, err := parseDefFile(path, name)
	if err != nil {
		return nil, err
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("definition loaded", "table", t.Name, "layout", pp.Sprint(t))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[logical]; ok {
		// Lost a race with a concurrent Push of the same name; idempotence wins.
		return existing, nil
	}
	r.byName[logical] = t
	return t, nil
}

// logicalName applies the two name normalization rules: a trailing '*'
// only marks convertibility and is never part of the stored name, and
// every "rptmp*" name collapses onto the single shared logical name
// "rptmp".
func logicalName(name string) string {
	base := strings.TrimSuffix(name, "*")
	if strings.HasPrefix(base, "rptmp") {
		return "rptmp"
	}
	return base
}

// Pivot redirects a pivotable schema by record key: look up
// "tables_<c1c2>" (c1c2 = lowercased first two bytes of record) and fall
// back to the default schema if no sibling exists.
func (r *Registry) Pivot(t *Table, record []byte) *Table {
	if t == nil || !t.IsPivotable || len(record) < 2 {
		return t
	}
	key := strings.ToLower(string(record[:2]))
	sibling := r.Get(fmt.Sprintf("%s_%s", t.Name, key))
	if sibling != nil {
		return sibling
	}
	return t
}

// parseDefFile parses one .def file into a Table. requestedName is the name
// as given to Push (before '*'/rptmp normalization is applied to the
// stored logical name, but after stripping is used to pick the file path).
func parseDefFile(path, requestedName string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: opening %s: %w", path, err)
	}
	defer f.Close()

	logical := logicalName(requestedName)
	t := &Table{
		Name:          logical,
		IsConvertible: strings.HasSuffix(requestedName, "*"),
		IsPivotable:   logical == "tables",
		Temp:          strings.HasPrefix(logical, "rptmp"),
	}
	prefix := ""
	pgname := ""
	cursor := 0

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := stripDefLine(sc.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "reclen="):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "reclen="))
			if err != nil {
				return nil, fmt.Errorf("schema: %s: bad reclen: %w", path, err)
			}
			t.Reclen = n

		case strings.HasPrefix(line, "pgname="):
			pgname = strings.TrimPrefix(line, "pgname=")

		case strings.HasPrefix(line, "prefix="):
			prefix = strings.TrimPrefix(line, "prefix=")

		case line == "nocreate":
			t.NoCreate = true

		case strings.HasPrefix(line, "modify="):
			t.Modifiers = append(t.Modifiers, Modifier{SQL: strings.TrimPrefix(line, "modify=")})

		case strings.HasPrefix(line, "index "):
			idx, err := parseIndexLine(line, t)
			if err != nil {
				return nil, fmt.Errorf("schema: %s: %w", path, err)
			}
			idx.Num = len(t.Indexes) + 1
			t.Indexes = append(t.Indexes, *idx)

		default:
			col, ignoreLen, isIgnore, err := parseColumnLine(line, cursor)
			if err != nil {
				return nil, fmt.Errorf("schema: %s: %w", path, err)
			}
			if isIgnore {
				cursor += ignoreLen
				continue
			}
			t.Columns = append(t.Columns, *col)
			cursor = col.Start + col.Length
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if pgname != "" {
		t.PgName = pgname
	} else {
		t.PgName = prefix + logical
		if t.IsConvertible {
			t.PgName += "_conv"
		}
	}
	return t, nil
}

// stripDefLine implements the .def comment/blank/CR-only line rule shared
// with config.stripCRAndComment.
func stripDefLine(line string) string {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// parseColumnLine parses one column definition line:
//
//	[phantom ]<name>:<startpos>:<length>:<datatype>[:<codelength>][<params>]
//
// An empty startpos defaults to cursor (the running "end of previous
// field" position, which already accounts for any preceding IGNORE
// pseudo-columns). IGNORE itself is reported via isIgnore/ignoreLen and
// never produces a Column.
func parseColumnLine(line string, cursor int) (col *Column, ignoreLen int, isIgnore bool, err error) {
	phantom := false
	if strings.HasPrefix(line, "phantom ") {
		phantom = true
		line = strings.TrimPrefix(line, "phantom ")
	}

	fieldsPart := line
	params := ""
	if i := strings.IndexByte(line, '['); i >= 0 {
		fieldsPart = line[:i]
		params = line[i:]
	}

	fields := strings.Split(fieldsPart, ":")
	if len(fields) < 3 {
		return nil, 0, false, fmt.Errorf("malformed column line: %q", line)
	}
	name := fields[0]

	start := cursor
	if strings.TrimSpace(fields[1]) != "" {
		start, err = strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, 0, false, fmt.Errorf("column %s: bad startpos: %w", name, err)
		}
	}

	length, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, 0, false, fmt.Errorf("column %s: bad length: %w", name, err)
	}

	if name == "IGNORE" {
		return nil, length, true, nil
	}

	var datatypeTok string
	if len(fields) > 3 {
		datatypeTok = fields[3]
	}
	datatype, err := codec.ParseDatatype(datatypeTok)
	if err != nil {
		return nil, 0, false, fmt.Errorf("column %s: %w", name, err)
	}

	codeLength := 0
	if len(fields) > 4 && strings.TrimSpace(fields[4]) != "" {
		codeLength, err = strconv.Atoi(strings.TrimSpace(fields[4]))
		if err != nil {
			return nil, 0, false, fmt.Errorf("column %s: bad codelength: %w", name, err)
		}
	}

	return &Column{
		Name:       name,
		Start:      start,
		Length:     length,
		CodeLength: codeLength,
		Type:       datatype,
		Param:      strings.Trim(params, "[]"),
		IsPhantom:  phantom,
	}, 0, false, nil
}

// parseIndexLine parses "index <name>=<col>[,<col>…][modifier]" where
// modifier is the bracketed suffix "[UNIQUE]".
func parseIndexLine(line string, t *Table) (*Index, error) {
	rest := strings.TrimPrefix(line, "index ")
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, fmt.Errorf("malformed index line: %q", line)
	}
	name := strings.TrimSpace(rest[:eq])
	rhs := rest[eq+1:]

	unique := false
	if i := strings.IndexByte(rhs, '['); i >= 0 {
		modifier := strings.ToUpper(strings.Trim(rhs[i:], "[]"))
		unique = modifier == "UNIQUE"
		rhs = rhs[:i]
	}

	var cols []Column
	for _, colName := range strings.Split(rhs, ",") {
		colName = strings.TrimSpace(colName)
		c := t.ColumnByName(colName)
		if c == nil {
			return nil, fmt.Errorf("index %s: unknown column %q", name, colName)
		}
		cols = append(cols, *c)
	}

	return &Index{Name: name, Unique: unique, Columns: cols}, nil
}
