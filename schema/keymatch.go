package schema

import (
	"fmt"

	"github.com/scu/pgisam/codec"
)

// KeyPartType mirrors the legacy keydesc part type enum.
type KeyPartType int

const (
	CHARTYPE KeyPartType = iota
	INTTYPE
	LONGTYPE
	DOUBLETYPE
)

// KeyPart is one (start, length) byte range of a legacy keydesc.
type KeyPart struct {
	Start  int
	Length int
	Type   KeyPartType
}

// KeyFlag mirrors the legacy keydesc duplicate-handling flag.
type KeyFlag int

const (
	ISNODUPS KeyFlag = iota
	ISDUPS
)

// Keydesc is the legacy key descriptor a caller passes to isbuild/isstart:
// an ordered list of byte-range parts plus a duplicate-handling flag.
type Keydesc struct {
	Flag  KeyFlag
	Len   int
	Parts []KeyPart
}

// MatchIndex finds the schema index covering a keydesc: an index I matches
// a keydesc K iff (1) I's first column begins at
// K's first part's start, (2) walking I's columns in order, each fits
// wholly inside the current part of K, advancing to the next part when a
// column no longer fits, and (3) every part of K ends up covered. Returns
// the matching index or an error ("illegal key descriptor") if none do.
func (t *Table) MatchIndex(k Keydesc) (*Index, error) {
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		if indexMatchesKeydesc(idx, k) {
			return idx, nil
		}
	}
	return nil, fmt.Errorf("schema: illegal key descriptor for table %s", t.Name)
}

func indexMatchesKeydesc(idx *Index, k Keydesc) bool {
	if len(idx.Columns) == 0 || len(k.Parts) == 0 {
		return false
	}
	if idx.Columns[0].Start != k.Parts[0].Start {
		return false
	}

	part := 0
	for _, col := range idx.Columns {
		colLen := codec.KeyEffectiveLength(col.Type, col.Length)
		colEnd := col.Start + colLen

		// A column that no longer fits the current part must land in the
		// very next one; anything else would leave a part uncovered.
		if !partContains(k.Parts[part], col.Start, colEnd) {
			part++
			if part >= len(k.Parts) || !partContains(k.Parts[part], col.Start, colEnd) {
				return false
			}
		}
	}

	// The walk must have landed on every part through the last.
	return part == len(k.Parts)-1
}

func partContains(p KeyPart, start, end int) bool {
	return start >= p.Start && end <= p.Start+p.Length
}
