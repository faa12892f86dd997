// Package ints is an ASCII decimal codec for the unsigned integers that
// appear in the wire format (kinds, timestamps, limits, counts), using the
// append/remainder convention of the other encoders.
package ints

import (
	"strconv"

	"relaypool.dev/pkg/utils/errorf"
)

// T is an unsigned integer with a wire codec.
type T struct {
	N uint64
}

// New creates an ints.T from any unsigned or sufficiently small signed
// value.
func New[V uint64 | uint32 | uint16 | uint8 | uint | int64 | int32 | int16 | int8 | int](n V) *T {
	return &T{N: uint64(n)}
}

// Uint64 returns the value.
func (n *T) Uint64() uint64 { return n.N }

// Uint16 returns the value truncated to 16 bits.
func (n *T) Uint16() uint16 { return uint16(n.N) }

// Int64 returns the value as a signed 64 bit integer.
func (n *T) Int64() int64 { return int64(n.N) }

// Int returns the value as an int.
func (n *T) Int() int { return int(n.N) }

// Marshal appends the ASCII decimal form to dst.
func (n *T) Marshal(dst []byte) (b []byte) {
	return strconv.AppendUint(dst, n.N, 10)
}

// Unmarshal parses leading ASCII digits from b, leaving the remainder in r.
// At least one digit must be present.
func (n *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	var v uint64
	var digits int
	for len(r) > 0 && r[0] >= '0' && r[0] <= '9' {
		v = v*10 + uint64(r[0]-'0')
		digits++
		if digits > 20 {
			err = errorf.D("integer too long: '%s'", b)
			return
		}
		r = r[1:]
	}
	if digits == 0 {
		err = errorf.D("no digits found in '%s'", firstChunk(b))
		return
	}
	n.N = v
	return
}

func firstChunk(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
