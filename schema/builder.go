package schema

import (
	"fmt"
	"strings"

	"github.com/scu/pgisam/codec"
)

// BuildCreateTable emits the CREATE TABLE statement, one statement per
// modifier, and one CREATE INDEX per index, in that order, ready to hand
// to the connection package one at a time.
// Returns nil if the table is marked nocreate.
func (t *Table) BuildCreateTable() []string {
	if t.NoCreate {
		return nil
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if t.Temp {
		b.WriteString("TEMP ")
	}
	fmt.Fprintf(&b, "TABLE %s ( oid SERIAL UNIQUE PRIMARY KEY, phantom BOOLEAN NOT NULL DEFAULT false", t.PgName)
	for _, col := range t.Columns {
		fmt.Fprintf(&b, ", %s %s", col.Name, sqlType(col))
		if col.Param != "" {
			b.WriteString(" " + col.Param)
		}
	}
	b.WriteString(" ) WITHOUT OIDS")

	stmts := []string{b.String()}
	for _, m := range t.Modifiers {
		stmts = append(stmts, m.SQL)
	}
	for _, idx := range t.Indexes {
		stmts = append(stmts, buildCreateIndex(t.PgName, idx))
	}
	return stmts
}

func buildCreateIndex(pgname string, idx Index) string {
	names := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		names[i] = c.Name
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s ( %s )", unique, idx.Name, pgname, strings.Join(names, ","))
}

// sqlType maps a column's codec.Datatype onto its CREATE TABLE column
// type.
func sqlType(col Column) string {
	switch col.Type {
	case codec.CHAR:
		return fmt.Sprintf("VARCHAR(%d)", col.Length)
	case codec.DECIMAL:
		return "NUMERIC"
	case codec.CODE, codec.CODEBLANK:
		return fmt.Sprintf("CHAR(%d)", col.EffectiveCodeLength())
	case codec.BINARY:
		return "BYTEA"
	case codec.INTEGER:
		return "INTEGER"
	case codec.BOOLEAN:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("VARCHAR(%d)", col.Length)
	}
}

// BuildInsert emits the INSERT statement: columns whose Value is unset are
// omitted entirely, except BOOLEAN columns, which are kept and rendered as
// null; present values are quoted per QuoteValue. Call t.ClearValues/populate columns before calling this.
func (t *Table) BuildInsert() string {
	var cols, vals []string
	for _, col := range t.Columns {
		if !col.Value.IsSet() && col.Type != codec.BOOLEAN {
			continue
		}
		cols = append(cols, col.Name)
		vals = append(vals, QuoteValue(col))
	}
	return fmt.Sprintf("INSERT INTO %s ( %s ) VALUES ( %s )", t.PgName, strings.Join(cols, ","), strings.Join(vals, ","))
}

// BuildUpdate emits the rewrite-current UPDATE: the same value-quoting
// rules as BuildInsert, keyed on the row's last OID.
func (t *Table) BuildUpdate(lastOID string) string {
	var sets []string
	for _, col := range t.Columns {
		if !col.Value.IsSet() && col.Type != codec.BOOLEAN {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s=%s", col.Name, QuoteValue(col)))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE oid='%s'", t.PgName, strings.Join(sets, ","), lastOID)
}

// BuildDelete deletes every row matching the columns that currently carry a
// value: no cursor, no OID anchor, just a conjunction over the populated
// fields. With no populated column the statement deletes the whole table,
// which is what the legacy isdelete did for an all-blank record.
func (t *Table) BuildDelete() string {
	var conds []string
	for _, col := range t.Columns {
		if !col.Value.IsSet() {
			continue
		}
		conds = append(conds, fmt.Sprintf("%s=%s", col.Name, QuoteValue(col)))
	}
	if len(conds) == 0 {
		return fmt.Sprintf("DELETE FROM %s", t.PgName)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", t.PgName, strings.Join(conds, " AND "))
}

// QuoteValue renders one column's transient value as a SQL literal: the
// bare keyword null for a blank or unset BOOLEAN, an unquoted literal for
// DECIMAL, a plain '...' literal for BINARY (an E'' wrapper would
// reinterpret the \x prefix as a character escape), and E'<escaped>' for
// everything else that has a value. Column values arrive from
// codec.ExtractField already escaped; QuoteValue only adds the wrapping.
func QuoteValue(col Column) string {
	if !col.Value.IsSet() {
		return "null"
	}
	switch col.Type {
	case codec.DECIMAL:
		return col.Value.Raw()
	case codec.BOOLEAN:
		if col.Value.Raw() == "null" {
			return "null"
		}
		return fmt.Sprintf("E'%s'", col.Value.Raw())
	case codec.BINARY:
		return fmt.Sprintf("'%s'", col.Value.Raw())
	default:
		return fmt.Sprintf("E'%s'", col.Value.Raw())
	}
}
