// Package codec marshals between a fixed-length, blank-padded byte record
// and typed SQL column values.
package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/scu/pgisam/codec/decpack"
)

// Datatype is one of the seven legacy column datatypes.
type Datatype int

const (
	CHAR Datatype = iota
	CODE
	CODEBLANK
	DECIMAL
	INTEGER
	BINARY
	BOOLEAN
)

func (t Datatype) String() string {
	switch t {
	case CHAR:
		return "char"
	case CODE:
		return "code"
	case CODEBLANK:
		return "codeblank"
	case DECIMAL:
		return "decimal"
	case INTEGER:
		return "integer"
	case BINARY:
		return "binary"
	case BOOLEAN:
		return "boolean"
	default:
		return "char"
	}
}

// ParseDatatype maps a .def grammar token onto a Datatype.
// An empty token defaults to CHAR.
func ParseDatatype(tok string) (Datatype, error) {
	switch strings.ToLower(strings.TrimSpace(tok)) {
	case "", "char":
		return CHAR, nil
	case "code":
		return CODE, nil
	case "codeblank":
		return CODEBLANK, nil
	case "decimal":
		return DECIMAL, nil
	case "integer":
		return INTEGER, nil
	case "binary":
		return BINARY, nil
	case "bool", "boolean":
		return BOOLEAN, nil
	default:
		return CHAR, fmt.Errorf("codec: unknown datatype %q", tok)
	}
}

// intWidth is the on-disk width of an INTEGER column. The legacy codec read
// sizeof(native long) bytes, which was platform-dependent; this bridge pins
// the width to 4 bytes little-endian. KeyEffectiveLength below keeps the
// historical 2-byte key-part rule independent of this choice.
const intWidth = 4

// KeyEffectiveLength returns the byte length a column contributes to
// index-to-keydesc containment checks (schema's key matcher). Every
// datatype uses its storage length except INTEGER, which always uses 2
// bytes, reflecting the historical key-part encoding.
func KeyEffectiveLength(t Datatype, length int) int {
	if t == INTEGER {
		return 2
	}
	return length
}

// ColumnSpec is the subset of schema.Column that the codec needs to
// marshal one field: byte offsets, the declared code length (0 means "use
// Length"), and the datatype.
type ColumnSpec struct {
	Name       string
	Start      int
	Length     int
	CodeLength int
	Type       Datatype
}

func (c ColumnSpec) effectiveCodeLen() int {
	if c.CodeLength > 0 {
		return c.CodeLength
	}
	return c.Length
}

// Value is a tagged union: every column value is either unset, or a
// backend-ready literal fragment the schema package's builders know how
// to quote.
type Value struct {
	set bool
	raw string // pre-escaped content; wrapping (E'...', bare, null) is the builder's job.
}

// Set constructs a present value from already-escaped content.
func Set(raw string) Value { return Value{set: true, raw: raw} }

// Unset is the explicit "no value" variant.
var Unset = Value{}

func (v Value) IsSet() bool { return v.set }
func (v Value) Raw() string { return v.raw }

func (v Value) String() string {
	if !v.set {
		return "<unset>"
	}
	return v.raw
}

// isBlank reports whether buf is entirely ASCII spaces.
func isBlank(buf []byte) bool {
	for _, b := range buf {
		if b != ' ' {
			return false
		}
	}
	return true
}

// ExtractField implements the codec's read side: byte record slice -> typed
// column Value.
func ExtractField(record []byte, col ColumnSpec) (Value, error) {
	end := col.Start + col.Length
	if end > len(record) {
		return Unset, fmt.Errorf("codec: column %s extends past record (start=%d len=%d reclen=%d)", col.Name, col.Start, col.Length, len(record))
	}
	slice := record[col.Start:end]

	if isBlank(slice) {
		switch col.Type {
		case BOOLEAN:
			return Set("null"), nil
		case CODEBLANK:
			return Set(strings.Repeat(" ", col.Length)), nil
		default:
			return Unset, nil
		}
	}

	switch col.Type {
	case DECIMAL:
		ascii, err := decpack.Unpack(slice)
		if err != nil {
			return Unset, fmt.Errorf("codec: column %s: %w", col.Name, err)
		}
		if strings.TrimSpace(ascii) == "" {
			return Unset, nil
		}
		return Set(ascii), nil

	case INTEGER:
		n := readInt(slice)
		return Set(strconv.FormatInt(int64(n), 10)), nil

	case BINARY:
		return Set(EscapeBytea(slice)), nil

	case BOOLEAN:
		switch slice[0] {
		case 'Y':
			return Set("true"), nil
		case 'N':
			return Set("false"), nil
		default:
			return Unset, nil
		}

	case CODE:
		codelen := col.effectiveCodeLen()
		var codeBytes []byte
		if allDigits(slice) {
			from := col.Start + (col.Length - codelen)
			codeBytes = record[from : from+codelen]
		} else {
			codeBytes = record[col.Start : col.Start+codelen]
		}
		return Set(EscapeString(string(codeBytes))), nil

	default: // CHAR and the fallback
		return Set(EscapeString(strings.TrimRight(string(slice), " "))), nil
	}
}

// WriteField implements the codec's write side: typed column Value -> byte
// record slice. buf must already be
// space-filled by the caller; WriteField only touches
// [col.Start, col.Start+col.Length).
func WriteField(record []byte, col ColumnSpec, v Value) error {
	end := col.Start + col.Length
	if end > len(record) {
		return fmt.Errorf("codec: column %s extends past record (start=%d len=%d reclen=%d)", col.Name, col.Start, col.Length, len(record))
	}
	if !v.set {
		return nil // buffer already blank-filled
	}

	switch col.Type {
	case DECIMAL:
		packed, err := decpack.Pack(v.raw, col.Length)
		if err != nil {
			return fmt.Errorf("codec: column %s: %w", col.Name, err)
		}
		copy(record[col.Start:end], packed)
		return nil

	case INTEGER:
		n, err := strconv.ParseInt(v.raw, 10, 64)
		if err != nil {
			return fmt.Errorf("codec: column %s: %w", col.Name, err)
		}
		writeInt(record[col.Start:end], int32(n))
		return nil

	case BINARY:
		raw, err := UnescapeBytea(v.raw)
		if err != nil {
			return fmt.Errorf("codec: column %s: %w", col.Name, err)
		}
		if len(raw) > col.Length {
			return fmt.Errorf("codec: column %s: data mismatch, %d bytes exceeds length %d", col.Name, len(raw), col.Length)
		}
		copy(record[col.Start:end], raw)
		return nil

	case BOOLEAN:
		switch v.raw {
		case "true":
			record[col.Start] = 'Y'
		case "false":
			record[col.Start] = 'N'
		default:
			record[col.Start] = ' '
		}
		return nil

	case CODE, CODEBLANK:
		codelen := col.effectiveCodeLen()
		value := UnescapeString(v.raw)
		if len(value) > codelen {
			return fmt.Errorf("codec: column %s: data mismatch, value longer than codelength %d", col.Name, codelen)
		}
		var from int
		if allDigitsStr(value) {
			from = col.Start + (col.Length - codelen)
		} else {
			from = col.Start
		}
		copy(record[from:from+len(value)], value)
		return nil

	default: // CHAR
		value := UnescapeString(v.raw)
		if len(value) > col.Length {
			return fmt.Errorf("codec: column %s: data mismatch, value longer than length %d", col.Name, col.Length)
		}
		copy(record[col.Start:col.Start+len(value)], value)
		return nil
	}
}

func readInt(slice []byte) int32 {
	buf := make([]byte, intWidth)
	copy(buf, slice)
	return int32(binary.LittleEndian.Uint32(buf))
}

func writeInt(dst []byte, n int32) {
	var buf [intWidth]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	copy(dst, buf[:])
}

func allDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func allDigitsStr(s string) bool { return allDigits([]byte(s)) }
