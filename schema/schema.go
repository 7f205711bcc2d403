// Package schema is the schema registry: it parses .def files, holds
// tables/columns/indexes/modifiers, and answers lookups, pivots, and
// index-to-keydesc matches for the engine package.
package schema

import "github.com/scu/pgisam/codec"

// Column describes one field of the fixed-length record.
type Column struct {
	Name       string
	Start      int
	Length     int
	CodeLength int // 0 means "use Length"
	Type       codec.Datatype
	Param      string // raw DDL suffix appended verbatim, e.g. "NOT NULL"
	IsPhantom  bool

	// Value is transient: the encoded string awaiting INSERT/UPDATE, or
	// extracted from a SELECT result. Cleared by ClearValues.
	Value codec.Value
}

// Spec converts a Column into the codec package's marshalling input.
func (c Column) Spec() codec.ColumnSpec {
	return codec.ColumnSpec{
		Name:       c.Name,
		Start:      c.Start,
		Length:     c.Length,
		CodeLength: c.CodeLength,
		Type:       c.Type,
	}
}

// EffectiveCodeLength returns CodeLength if set, else Length — the
// significant byte count for CODE/CODEBLANK columns.
func (c Column) EffectiveCodeLength() int {
	if c.CodeLength > 0 {
		return c.CodeLength
	}
	return c.Length
}

// Modifier is one raw SQL statement executed once after CREATE TABLE, in
// file declaration order.
type Modifier struct {
	SQL string
}

// Index is an ordered set of columns a cursor can be keyed on.
type Index struct {
	Name    string
	Unique  bool
	Num     int // 1-based, assigned in file declaration order
	Columns []Column
}

// Table is one parsed definition: the record layout and its backend
// table.
type Table struct {
	Name          string // logical name, as registered
	PgName        string // backend table name
	Reclen        int
	Columns       []Column
	Modifiers     []Modifier
	Indexes       []Index
	NoCreate      bool
	IsConvertible bool
	IsPivotable   bool
	Temp          bool // rptmp* definitions create a TEMP table
}

// ColumnByName returns the column named name, or nil.
func (t *Table) ColumnByName(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ClearValues resets every column's transient Value, e.g. before extracting
// a fresh set of values from a record or a result row.
func (t *Table) ClearValues() {
	for i := range t.Columns {
		t.Columns[i].Value = codec.Unset
	}
}
