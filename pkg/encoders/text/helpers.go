package text

import (
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// JSONKey appends `"key":` to dst.
func JSONKey(dst, key []byte) (b []byte) {
	b = append(dst, '"')
	b = append(b, key...)
	b = append(b, '"', ':')
	return
}

// AppendQuote appends src encoded by enc between double quotes.
func AppendQuote(dst, src []byte, enc func(dst, src []byte) []byte) (b []byte) {
	b = append(dst, '"')
	b = enc(b, src)
	b = append(b, '"')
	return
}

// SkipWS returns b advanced past any JSON whitespace.
func SkipWS(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}

// UnmarshalQuoted scans a JSON string starting at the opening quote,
// returning its unescaped content and the remainder after the closing
// quote.
func UnmarshalQuoted(b []byte) (content, rem []byte, err error) {
	rem = SkipWS(b)
	if len(rem) == 0 || rem[0] != '"' {
		err = errorf.D("expected quote, got '%s'", firstChunk(rem))
		return
	}
	rem = rem[1:]
	for i := 0; i < len(rem); i++ {
		switch rem[i] {
		case '\\':
			i++
		case '"':
			raw := make([]byte, i)
			copy(raw, rem[:i])
			content = NostrUnescape(raw)
			rem = rem[i+1:]
			return
		}
	}
	err = errorf.D("unterminated string '%s'", firstChunk(b))
	return
}

// UnmarshalHex scans a quoted hex string, returning the decoded bytes and
// the remainder after the closing quote.
func UnmarshalHex(b []byte) (h, rem []byte, err error) {
	rem = SkipWS(b)
	if len(rem) == 0 || rem[0] != '"' {
		err = errorf.D("expected quote, got '%s'", firstChunk(rem))
		return
	}
	rem = rem[1:]
	end := -1
	for i := 0; i < len(rem); i++ {
		if rem[i] == '"' {
			end = i
			break
		}
	}
	if end == -1 {
		err = errorf.D("unterminated hex string '%s'", firstChunk(b))
		return
	}
	if h, err = hex.DecAppend(nil, rem[:end]); chk.D(err) {
		return
	}
	rem = rem[end+1:]
	return
}

// MarshalHexArray appends a JSON array of quoted hex strings to dst.
func MarshalHexArray(dst []byte, ha [][]byte) (b []byte) {
	b = append(dst, '[')
	for i := range ha {
		b = AppendQuote(b, ha[i], hex.EncAppend)
		if i != len(ha)-1 {
			b = append(b, ',')
		}
	}
	b = append(b, ']')
	return
}

// UnmarshalHexArray scans a JSON array of quoted hex strings that each must
// decode to exactly size bytes.
func UnmarshalHexArray(b []byte, size int) (ha [][]byte, rem []byte, err error) {
	if ha, rem, err = unmarshalArray(b, true); err != nil {
		return
	}
	for i := range ha {
		if len(ha[i]) != size {
			err = errorf.D(
				"hex array element %d has %d bytes, expected %d", i,
				len(ha[i]), size,
			)
			return
		}
	}
	return
}

// UnmarshalStringArray scans a JSON array of quoted strings, unescaping each
// element.
func UnmarshalStringArray(b []byte) (sa [][]byte, rem []byte, err error) {
	return unmarshalArray(b, false)
}

func unmarshalArray(b []byte, isHex bool) (out [][]byte, rem []byte, err error) {
	rem = SkipWS(b)
	if len(rem) == 0 || rem[0] != '[' {
		err = errorf.D("expected array, got '%s'", firstChunk(rem))
		return
	}
	rem = rem[1:]
	for {
		rem = SkipWS(rem)
		if len(rem) == 0 {
			err = errorf.D("unterminated array '%s'", firstChunk(b))
			return
		}
		if rem[0] == ']' {
			rem = rem[1:]
			return
		}
		var el []byte
		if isHex {
			el, rem, err = UnmarshalHex(rem)
		} else {
			el, rem, err = UnmarshalQuoted(rem)
		}
		if err != nil {
			return
		}
		out = append(out, el)
		rem = SkipWS(rem)
		if len(rem) > 0 && rem[0] == ',' {
			rem = rem[1:]
		}
	}
}

func firstChunk(b []byte) []byte {
	if len(b) > 24 {
		return b[:24]
	}
	return b
}
