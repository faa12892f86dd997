// Package envelopes provides the label recognition and array framing shared
// by all of the nostr wire message types.
//
// A nostr message is a JSON array whose first element is a string label that
// identifies the message type, such as
//
//	["EVENT",{...}]
//	["OK","<event id>",true,""]
//
// Identify peels off the label and leaves the remainder positioned at the
// first payload element, so the per-label packages can continue decoding
// from there.
package envelopes

import (
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// Marshal appends an envelope with the given label to dst, calling the
// payload function to append everything between the label and the closing
// bracket.
func Marshal(
	dst []byte, label string, payload func(dst []byte) (b []byte),
) (b []byte) {
	b = dst
	b = append(b, '[', '"')
	b = append(b, label...)
	b = append(b, '"', ',')
	b = payload(b)
	b = append(b, ']')
	return
}

// Identify reads the label of an envelope and returns it along with the
// remainder of the input, positioned at the first byte of the payload.
func Identify(b []byte) (t string, rem []byte, err error) {
	rem = text.SkipWS(b)
	if len(rem) == 0 || rem[0] != '[' {
		err = errorf.D(
			"envelope not a JSON array '%s'", firstChunk(b),
		)
		return
	}
	rem = text.SkipWS(rem[1:])
	var label []byte
	if label, rem, err = text.UnmarshalQuoted(rem); chk.D(err) {
		err = errorf.D("envelope has no label '%s'", firstChunk(b))
		return
	}
	rem = text.SkipWS(rem)
	if len(rem) > 0 && rem[0] == ',' {
		rem = text.SkipWS(rem[1:])
	}
	t = string(label)
	return
}

// SkipToTheEnd consumes whatever remains of the current envelope up to and
// including the closing bracket of the array, and returns what follows.
// Nested arrays, objects and strings are skipped over, not inspected.
func SkipToTheEnd(b []byte) (r []byte, err error) {
	r = b
	var depth int
	var inQuote, escaped bool
	for i := 0; i < len(r); i++ {
		c := r[i]
		if inQuote {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '[', '{':
			depth++
		case '}':
			if depth == 0 {
				err = errorf.D("unbalanced envelope '%s'", firstChunk(b))
				return
			}
			depth--
		case ']':
			if depth == 0 {
				r = r[i+1:]
				return
			}
			depth--
		}
	}
	err = errorf.D("unterminated envelope '%s'", firstChunk(b))
	return
}

func firstChunk(b []byte) []byte {
	if len(b) > 48 {
		return b[:48]
	}
	return b
}
