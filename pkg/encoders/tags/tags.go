// Package tags is the ordered list of tags on an event, with the helpers
// the relay client needs for filter matching and relay list parsing.
package tags

import (
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// T is a list of tags.
type T struct {
	T []*tag.T
}

// New creates a tag list.
func New(t ...*tag.T) *T { return &T{T: t} }

// Len returns the number of tags, zero for nil.
func (t *T) Len() (l int) {
	if t == nil {
		return
	}
	return len(t.T)
}

// N returns tag i, nil when out of range.
func (t *T) N(i int) (v *tag.T) {
	if t == nil || i >= len(t.T) {
		return
	}
	return t.T[i]
}

// Append adds tags to the list.
func (t *T) Append(tt ...*tag.T) { t.T = append(t.T, tt...) }

// GetFirst returns the first tag named key that has at least one value.
func (t *T) GetFirst(key []byte) (v *tag.T) {
	if t == nil {
		return
	}
	for _, el := range t.T {
		if utils.FastEqual(el.Key(), key) && el.Len() > 1 {
			return el
		}
	}
	return
}

// GetAll returns every tag named key.
func (t *T) GetAll(key []byte) (v []*tag.T) {
	if t == nil {
		return
	}
	for _, el := range t.T {
		if utils.FastEqual(el.Key(), key) {
			v = append(v, el)
		}
	}
	return
}

// ContainsAny reports whether any tag named key carries one of the given
// values in its value field. This is the tag test of filter matching.
func (t *T) ContainsAny(key []byte, values [][]byte) bool {
	if t == nil {
		return false
	}
	for _, el := range t.T {
		if !utils.FastEqual(el.Key(), key) {
			continue
		}
		for _, v := range values {
			if utils.FastEqual(el.Value(), v) {
				return true
			}
		}
	}
	return false
}

// Clone deep-copies the list.
func (t *T) Clone() (c *T) {
	if t == nil {
		return
	}
	c = &T{T: make([]*tag.T, len(t.T))}
	for i := range t.T {
		c.T[i] = t.T[i].Clone()
	}
	return
}

// ToStringsSlice converts to [][]string.
func (t *T) ToStringsSlice() (s [][]string) {
	if t == nil {
		return
	}
	s = make([][]string, 0, len(t.T))
	for _, el := range t.T {
		s = append(s, el.ToStringSlice())
	}
	return
}

// Marshal appends the tags as a JSON array of arrays to dst.
func (t *T) Marshal(dst []byte) (b []byte) {
	b = append(dst, '[')
	if t != nil {
		for i := range t.T {
			b = t.T[i].Marshal(b)
			if i != len(t.T)-1 {
				b = append(b, ',')
			}
		}
	}
	b = append(b, ']')
	return
}

// Unmarshal parses a JSON array of string arrays, leaving the remainder in
// r.
func (t *T) Unmarshal(b []byte) (r []byte, err error) {
	r = text.SkipWS(b)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.D("expected tags array, got '%s'", r)
		return
	}
	r = r[1:]
	for {
		r = text.SkipWS(r)
		if len(r) == 0 {
			err = errorf.D("unterminated tags array")
			return
		}
		switch r[0] {
		case ']':
			r = r[1:]
			return
		case '[':
			el := &tag.T{}
			if r, err = el.Unmarshal(r); chk.D(err) {
				return
			}
			t.T = append(t.T, el)
			r = text.SkipWS(r)
			if len(r) > 0 && r[0] == ',' {
				r = r[1:]
			}
		default:
			err = errorf.D("unexpected '%c' in tags array", r[0])
			return
		}
	}
}
