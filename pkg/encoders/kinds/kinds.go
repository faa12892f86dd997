// Package kinds is a list of event kinds with the array codec used in
// filters.
package kinds

import (
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// T is a list of kinds.
type T struct {
	K []*kind.T
}

// New creates a kind list from the given kinds.
func New(k ...*kind.T) *T { return &T{K: k} }

// NewWithCap creates an empty kind list with a pre-allocated capacity.
func NewWithCap(c int) *T { return &T{K: make([]*kind.T, 0, c)} }

// Len returns the number of kinds in the list, zero for nil.
func (k *T) Len() (l int) {
	if k == nil {
		return
	}
	return len(k.K)
}

// Contains reports whether the list holds the given kind number.
func (k *T) Contains(v uint16) bool {
	if k == nil {
		return false
	}
	for _, el := range k.K {
		if el.Uint16() == v {
			return true
		}
	}
	return false
}

// Clone copies the list.
func (k *T) Clone() (c *T) {
	if k == nil {
		return
	}
	c = &T{K: make([]*kind.T, len(k.K))}
	for i := range k.K {
		c.K[i] = kind.New(k.K[i].Uint16())
	}
	return
}

// Marshal appends a JSON array of kind numbers to dst.
func (k *T) Marshal(dst []byte) (b []byte) {
	b = append(dst, '[')
	for i := range k.K {
		b = k.K[i].Marshal(b)
		if i != len(k.K)-1 {
			b = append(b, ',')
		}
	}
	b = append(b, ']')
	return
}

// Unmarshal parses a JSON array of kind numbers, leaving the remainder in r.
func (k *T) Unmarshal(b []byte) (r []byte, err error) {
	r = text.SkipWS(b)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.D("expected kinds array, got '%s'", r)
		return
	}
	r = r[1:]
	for {
		r = text.SkipWS(r)
		if len(r) == 0 {
			err = errorf.D("unterminated kinds array")
			return
		}
		if r[0] == ']' {
			r = r[1:]
			return
		}
		el := &kind.T{}
		if r, err = el.Unmarshal(r); chk.D(err) {
			return
		}
		k.K = append(k.K, el)
		r = text.SkipWS(r)
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}
