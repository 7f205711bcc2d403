package codec

import "strings"

// FromResult converts one backend result field, as the connection layer
// hands it over, into a Value ready for WriteField. The backend returns
// unescaped text (and raw bytes for bytea), so textual types are re-escaped
// here; a NULL or empty field becomes Unset, which WriteField renders as
// blanks.
func FromResult(t Datatype, s string) Value {
	if s == "" {
		return Unset
	}
	switch t {
	case BOOLEAN:
		switch s {
		case "true", "t":
			return Set("true")
		case "false", "f":
			return Set("false")
		default:
			return Unset
		}
	case BINARY:
		if strings.HasPrefix(s, `\x`) {
			return Set(s)
		}
		return Set(EscapeBytea([]byte(s)))
	case DECIMAL, INTEGER:
		return Set(strings.TrimSpace(s))
	default:
		return Set(EscapeString(strings.TrimRight(s, " ")))
	}
}
