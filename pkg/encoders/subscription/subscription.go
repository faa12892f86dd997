// Package subscription is the short identifier that correlates REQ, COUNT
// and NEG frames with their responses.
package subscription

import (
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"

	"lukechampine.com/frand"
)

// MaxLen is the longest subscription id relays are required to accept.
const MaxLen = 64

// Id is a subscription identifier: an arbitrary non-empty string up to 64
// characters.
type Id struct {
	T []byte
}

// NewId creates an Id, rejecting empty and over-long values.
func NewId[V string | []byte](s V) (id *Id, err error) {
	b := []byte(s)
	if len(b) == 0 {
		err = errorf.D("empty subscription id")
		return
	}
	if len(b) > MaxLen {
		err = errorf.D(
			"subscription id longer than %d: %d", MaxLen, len(b),
		)
		return
	}
	id = &Id{T: b}
	return
}

// NewStd generates a random printable id of a sensible length.
func NewStd() (id *Id) {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 16)
	for i := range b {
		b[i] = charset[frand.Intn(len(charset))]
	}
	return &Id{T: b}
}

// String returns the id text.
func (id *Id) String() (s string) {
	if id == nil {
		return
	}
	return string(id.T)
}

// Marshal appends the id as a quoted JSON string to dst.
func (id *Id) Marshal(dst []byte) (b []byte) {
	return text.AppendQuote(dst, id.T, text.NostrEscape)
}

// Unmarshal parses a quoted id, leaving the remainder in r.
func (id *Id) Unmarshal(b []byte) (r []byte, err error) {
	if id.T, r, err = text.UnmarshalQuoted(b); chk.D(err) {
		return
	}
	return
}
