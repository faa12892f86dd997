// Package eventid is the 32-byte identifier of an event, the sha256 of its
// canonical serialization.
package eventid

import (
	"relaypool.dev/pkg/crypto/sha256"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// Len is the byte length of an event id.
const Len = sha256.Size

// T is an event id.
type T struct {
	b []byte
}

// New creates an empty event id.
func New() *T { return &T{} }

// NewWith wraps a raw 32-byte id.
func NewWith(id []byte) (t *T, err error) {
	if len(id) != Len {
		err = errorf.D("event id must be %d bytes, got %d", Len, len(id))
		return
	}
	t = &T{b: id}
	return
}

// FromBytes wraps a raw id without validating its length. The caller is
// trusted to pass an id taken from a signed event.
func FromBytes(id []byte) *T { return &T{b: id} }

// FromHex decodes a 64-character hex id.
func FromHex[V string | []byte](s V) (t *T, err error) {
	var b []byte
	if b, err = hex.DecAppend(nil, []byte(s)); chk.D(err) {
		return
	}
	return NewWith(b)
}

// Bytes returns the raw id, nil for nil.
func (t *T) Bytes() (b []byte) {
	if t == nil {
		return
	}
	return t.b
}

// String renders the id as hex.
func (t *T) String() string { return hex.Enc(t.Bytes()) }

// Equal compares two ids byte for byte.
func (t *T) Equal(other *T) bool {
	return utils.FastEqual(t.Bytes(), other.Bytes())
}

// Marshal appends the id as a quoted hex string to dst.
func (t *T) Marshal(dst []byte) (b []byte) {
	return text.AppendQuote(dst, t.Bytes(), hex.EncAppend)
}

// Unmarshal parses a quoted hex id, leaving the remainder in r.
func (t *T) Unmarshal(b []byte) (r []byte, err error) {
	var id []byte
	if id, r, err = text.UnmarshalHex(b); chk.D(err) {
		return
	}
	if len(id) != Len {
		err = errorf.D("event id must be %d bytes, got %d", Len, len(id))
		return
	}
	t.b = id
	return
}
