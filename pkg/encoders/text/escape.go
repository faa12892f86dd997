// Package text implements the JSON string rules of the wire format: the
// escaping required by the canonical event serialization, and quoted-string
// and array scanning helpers shared by the envelope codecs.
package text

import (
	"unicode/utf16"
	"unicode/utf8"
)

// NostrEscape appends src to dst escaping exactly the characters the
// canonical event serialization requires: linefeed, double quote, backslash,
// carriage return, tab, backspace and form feed. All other bytes pass
// through untouched, because the id preimage is defined over this exact
// form.
func NostrEscape(dst, src []byte) []byte {
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// NostrUnescape decodes the escape sequences of a JSON string body in place
// and returns the shortened slice. It accepts everything a conforming
// encoder may emit, including \uXXXX forms and surrogate pairs.
func NostrUnescape(b []byte) (r []byte) {
	r = b[:0]
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' {
			r = append(r, c)
			continue
		}
		i++
		if i >= len(b) {
			r = append(r, '\\')
			break
		}
		switch b[i] {
		case '"':
			r = append(r, '"')
		case '\\':
			r = append(r, '\\')
		case '/':
			r = append(r, '/')
		case 'n':
			r = append(r, '\n')
		case 'r':
			r = append(r, '\r')
		case 't':
			r = append(r, '\t')
		case 'b':
			r = append(r, '\b')
		case 'f':
			r = append(r, '\f')
		case 'u':
			ru, adv := decodeUnicodeEscape(b[i-1:])
			if adv == 0 {
				r = append(r, '\\', 'u')
				continue
			}
			r = utf8.AppendRune(r, ru)
			i += adv - 2
		default:
			r = append(r, '\\', b[i])
		}
	}
	return
}

// decodeUnicodeEscape decodes \uXXXX at the start of b, combining surrogate
// pairs, returning the rune and the number of bytes consumed (0 on
// malformed input).
func decodeUnicodeEscape(b []byte) (r rune, adv int) {
	u1, ok := hex4(b)
	if !ok {
		return
	}
	adv = 6
	if utf16.IsSurrogate(rune(u1)) {
		if len(b) >= 12 && b[6] == '\\' && b[7] == 'u' {
			if u2, ok2 := hex4(b[6:]); ok2 {
				if c := utf16.DecodeRune(rune(u1), rune(u2)); c != utf8.RuneError {
					return c, 12
				}
			}
		}
		return utf8.RuneError, 6
	}
	return rune(u1), 6
}

func hex4(b []byte) (v uint32, ok bool) {
	if len(b) < 6 || b[0] != '\\' || b[1] != 'u' {
		return
	}
	for _, c := range b[2:6] {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint32(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint32(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint32(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
