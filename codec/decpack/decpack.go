// Package decpack stands in for the decimal library's two entry points the
// record codec needs: ASCII<->decimal conversion fused with the packed
// on-disk layout (dectoasc/deccvasc plus stdecimal/lddecimal). The layout
// is the reverse-engineered one: a leading sign/exponent byte (bit 7 set
// for non-negative, low bits carrying the base-100 exponent biased by
// 0x40), followed by base-100 digit pairs. Pack delegates parsing of the
// ASCII literal to github.com/shopspring/decimal; Unpack builds the ASCII
// literal from the digit pairs itself.
package decpack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	signBit = 0x80
	expBias = 0x40
)

// ErrTooLong is returned by Pack when the value's digits do not fit in the
// requested byte length.
var ErrTooLong = errors.New("decpack: value does not fit in packed length")

// Pack renders an ASCII decimal literal into exactly length bytes: the
// sign/exponent byte plus length-1 base-100 digit pairs, zero-padded on
// the right.
func Pack(ascii string, length int) ([]byte, error) {
	if length < 2 {
		return nil, fmt.Errorf("decpack: packed length %d too small", length)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(ascii))
	if err != nil {
		return nil, err
	}

	digits := d.Abs().Coefficient().String()
	scale := 0
	if d.Exponent() < 0 {
		scale = int(-d.Exponent())
		for len(digits) < scale {
			digits = "0" + digits
		}
	} else {
		digits += strings.Repeat("0", int(d.Exponent()))
	}

	// Align both halves on base-100 pair boundaries.
	if scale%2 == 1 {
		digits += "0"
		scale++
	}
	if (len(digits)-scale)%2 == 1 {
		digits = "0" + digits
	}

	exp := (len(digits) - scale) / 2
	if d.IsZero() {
		digits = "00"
		exp = 0
	}

	npairs := len(digits) / 2
	if npairs > length-1 {
		return nil, ErrTooLong
	}

	buf := make([]byte, length)
	b0 := byte(exp+expBias) & 0x7f
	if d.Sign() >= 0 {
		b0 |= signBit
	}
	buf[0] = b0
	for i := 0; i < npairs; i++ {
		buf[1+i] = (digits[2*i]-'0')*10 + (digits[2*i+1] - '0')
	}
	return buf, nil
}

// Unpack decodes a packed decimal back into its ASCII literal. Trailing
// zero pairs are fractional padding and are trimmed off.
func Unpack(buf []byte) (string, error) {
	if len(buf) < 2 {
		return "", errors.New("decpack: buffer too short")
	}
	exp := int(buf[0]&0x7f) - expBias
	neg := buf[0]&signBit == 0

	var digits strings.Builder
	allZero := true
	for _, b := range buf[1:] {
		if b > 99 {
			return "", errors.New("decpack: invalid packed digit")
		}
		if b != 0 {
			allZero = false
		}
		fmt.Fprintf(&digits, "%02d", b)
	}
	if allZero {
		return "0", nil
	}

	s := digits.String()
	intPart := ""
	fracPart := s
	if exp > 0 {
		if 2*exp > len(s) {
			s += strings.Repeat("00", exp-len(s)/2)
		}
		intPart = s[:2*exp]
		fracPart = s[2*exp:]
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart = strings.TrimRight(fracPart, "0")

	var out strings.Builder
	if neg {
		out.WriteByte('-')
	}
	out.WriteString(intPart)
	if fracPart != "" {
		out.WriteByte('.')
		out.WriteString(fracPart)
	}
	return out.String(), nil
}
