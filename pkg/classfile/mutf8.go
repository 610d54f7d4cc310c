package classfile

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var errBadUTF8 = errors.New("malformed modified UTF-8")

// decodeModifiedUTF8 decodes the class file string encoding: NUL is C0 80
// and supplementary characters are stored as two 3-byte surrogates.
//
// A surrogate without its partner is legal in a class file (javac emits
// one for "\uD800"). It is kept as its 3-byte generalized UTF-8 form, so
// the result is WTF-8 rather than strict UTF-8 and encodes back to the
// same bytes.
func decodeModifiedUTF8(b []byte) (string, error) {
	var units []uint16
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", errBadUTF8
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", errBadUTF8
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", errBadUTF8
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", errBadUTF8
		}
	}
	return fromUTF16(units), nil
}

// fromUTF16 joins surrogate pairs and writes lone surrogates as
// three-byte sequences.
func fromUTF16(units []uint16) string {
	var sb strings.Builder
	sb.Grow(len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if utf16.IsSurrogate(rune(u)) {
			if i+1 < len(units) && isHigh(u) && isLow(units[i+1]) {
				sb.WriteRune(utf16.DecodeRune(rune(u), rune(units[i+1])))
				i++
				continue
			}
			sb.Write(threeBytes(u))
			continue
		}
		sb.WriteRune(rune(u))
	}
	return sb.String()
}

func isHigh(u uint16) bool { return u >= 0xD800 && u < 0xDC00 }
func isLow(u uint16) bool  { return u >= 0xDC00 && u < 0xE000 }

func threeBytes(u uint16) []byte {
	return []byte{0xE0 | byte(u>>12), 0x80 | byte(u>>6&0x3F), 0x80 | byte(u&0x3F)}
}

// UTF16 returns the UTF-16 code units of a string decoded from a class
// file, including lone surrogates. Bytes that are neither UTF-8 nor an
// encoded surrogate become U+FFFD.
func UTF16(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		r, n := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && n == 1 {
			if u, ok := loneSurrogate(s[i:]); ok {
				units = append(units, u)
				i += 3
				continue
			}
		}
		units = utf16.AppendRune(units, r)
		i += n
	}
	return units
}

// loneSurrogate reports whether s starts with ED A0..BF 80..BF.
func loneSurrogate(s string) (uint16, bool) {
	if len(s) < 3 || s[0] != 0xED || s[1]&0xE0 != 0xA0 || s[2]&0xC0 != 0x80 {
		return 0, false
	}
	return 0xD000 | uint16(s[1]&0x3F)<<6 | uint16(s[2]&0x3F), true
}

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, u := range UTF16(s) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
		default:
			out = append(out, threeBytes(u)...)
		}
	}
	return out
}
