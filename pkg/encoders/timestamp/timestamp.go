// Package timestamp is the unix-seconds time of the wire format.
package timestamp

import (
	"time"

	"relaypool.dev/pkg/encoders/ints"
	"relaypool.dev/pkg/utils/chk"
)

// T is a unix timestamp in seconds.
type T struct {
	V int64
}

// New creates a timestamp from an integer of any common width.
func New[V int64 | int32 | int | uint64 | uint32 | uint16 | uint](t V) *T {
	return &T{V: int64(t)}
}

// Now returns the current time as a timestamp.
func Now() *T { return &T{V: time.Now().Unix()} }

// FromTime converts a time.Time.
func FromTime(t time.Time) *T { return &T{V: t.Unix()} }

// FromUnix converts a unix seconds value.
func FromUnix(v int64) *T { return &T{V: v} }

// I64 returns the value, zero for nil.
func (t *T) I64() (v int64) {
	if t == nil {
		return
	}
	return t.V
}

// U64 returns the value as unsigned, zero for nil or negative.
func (t *T) U64() (v uint64) {
	if t == nil || t.V < 0 {
		return
	}
	return uint64(t.V)
}

// Int returns the value as int, zero for nil.
func (t *T) Int() (v int) { return int(t.I64()) }

// Time converts to a time.Time.
func (t *T) Time() time.Time { return time.Unix(t.I64(), 0) }

// Marshal appends the ASCII decimal form to dst.
func (t *T) Marshal(dst []byte) (b []byte) {
	return ints.New(t.I64()).Marshal(dst)
}

// Unmarshal parses an ASCII decimal timestamp, leaving the remainder in r.
func (t *T) Unmarshal(b []byte) (r []byte, err error) {
	n := &ints.T{}
	if r, err = n.Unmarshal(b); chk.D(err) {
		return
	}
	t.V = n.Int64()
	return
}
