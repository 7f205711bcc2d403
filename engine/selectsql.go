package engine

import (
	"fmt"
	"strings"

	"github.com/scu/pgisam/codec"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
)

// builtSelect is the output of buildSelect: the SELECT itself, the
// companion prefix-exclusion fragment for ISGREAT, and whether an all-z
// sentinel key reversed the scan direction.
type builtSelect struct {
	sql     string
	temp    string
	reverse bool
}

// allZ reports whether s is non-empty and consists only of 'z' bytes, the
// legacy sentinel for "start from the far end".
func allZ(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != 'z' {
			return false
		}
	}
	return true
}

// keyColumns returns the index columns that participate in the WHERE
// clause. A positive keyLength limits the key to its leading bytes: only
// columns wholly inside that span contribute, matching the partial-key
// convention of the legacy isstart.
func keyColumns(idx *schema.Index, keyLength int) []schema.Column {
	if keyLength <= 0 || len(idx.Columns) == 0 {
		return idx.Columns
	}
	base := idx.Columns[0].Start
	var cols []schema.Column
	for _, col := range idx.Columns {
		eff := codec.KeyEffectiveLength(col.Type, col.Length)
		if col.Start-base+eff > keyLength {
			break
		}
		cols = append(cols, col)
	}
	return cols
}

// buildSelect constructs the SELECT a cursor is declared over. The WHERE
// clause exists only for the keyed modes; an all-z sentinel in any key
// column drops that column's clause, forces equality on the rest, and
// flips the ORDER BY to descending.
func buildSelect(t *schema.Table, idx *schema.Index, record []byte, mode, keyLength int) (builtSelect, error) {
	var out builtSelect

	type extracted struct {
		col schema.Column
		val codec.Value
	}
	var keyed []extracted
	if (mode == ISEQUAL || mode == ISGREAT || mode == ISGTEQ) && len(t.Columns) > 0 {
		for _, col := range keyColumns(idx, keyLength) {
			v, err := codec.ExtractField(record, col.Spec())
			if err != nil {
				return out, iserr.Newf(iserr.EBADARG, err.Error())
			}
			if v.IsSet() && allZ(v.Raw()) {
				out.reverse = true
			}
			keyed = append(keyed, extracted{col, v})
		}
	}

	op := "="
	switch mode {
	case ISGREAT:
		op = " > "
	case ISGTEQ:
		op = " >= "
	}
	if out.reverse {
		// A sentinel in any key column collapses every remaining clause
		// to equality; the scan direction does the rest.
		op = "="
	}

	var conds []string
	var temp strings.Builder
	for _, e := range keyed {
		if e.val.IsSet() && allZ(e.val.Raw()) {
			continue
		}
		if mode == ISGTEQ && !e.val.IsSet() {
			continue
		}
		conds = append(conds, fmt.Sprintf("%s%s'%s'", e.col.Name, op, e.val.Raw()))
		if mode == ISGREAT {
			if e.col.Type == codec.BINARY {
				fmt.Fprintf(&temp, " AND encode(%s::bytea, 'escape'::text) !~ '^%s'", e.col.Name, e.val.Raw())
			} else {
				fmt.Fprintf(&temp, " AND %s !~ '^%s'", e.col.Name, e.val.Raw())
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", t.PgName)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
		b.WriteString(" AND phantom != true")
	} else {
		b.WriteString(" WHERE phantom != true")
	}

	collation := " ASC"
	if out.reverse {
		collation = " DESC"
	}
	var orders []string
	for _, col := range idx.Columns {
		orders = append(orders, col.Name+collation)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(orders, ", "))

	out.sql = b.String()
	out.temp = temp.String()
	return out, nil
}

// spliceTemp inserts the ISGREAT companion clauses ahead of the ORDER BY
// of a retained DECLARE statement, producing the re-declared cursor SQL.
func spliceTemp(declare, temp string) string {
	i := strings.LastIndex(declare, " ORDER BY ")
	if i < 0 || temp == "" {
		return declare
	}
	return declare[:i] + temp + declare[i:]
}
