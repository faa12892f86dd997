// Package tag is a single event tag: an ordered list of string fields where
// the first names the tag and the rest carry its values. The same type also
// serves as the generic string list in filters (ids, authors).
package tag

import (
	"bytes"

	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// T is a single tag.
type T struct {
	Field [][]byte
}

// New creates a tag from string or byte slice fields.
func New[V string | []byte](fields ...V) (t *T) {
	t = &T{Field: make([][]byte, 0, len(fields))}
	for _, f := range fields {
		t.Field = append(t.Field, []byte(f))
	}
	return
}

// NewWithCap creates an empty tag with capacity for c fields.
func NewWithCap(c int) *T { return &T{Field: make([][]byte, 0, c)} }

// FromBytesSlice wraps existing byte slices as a tag without copying.
func FromBytesSlice(fields ...[]byte) *T { return &T{Field: fields} }

// Len returns the number of fields, zero for nil.
func (t *T) Len() (l int) {
	if t == nil {
		return
	}
	return len(t.Field)
}

// B returns field i, nil when out of range.
func (t *T) B(i int) (b []byte) {
	if t == nil || i >= len(t.Field) {
		return
	}
	return t.Field[i]
}

// Key returns the first field, the tag name.
func (t *T) Key() []byte { return t.B(0) }

// Value returns the second field, the tag's primary value.
func (t *T) Value() []byte { return t.B(1) }

// S returns field i as a string.
func (t *T) S(i int) string { return string(t.B(i)) }

// Append adds fields to the tag.
func (t *T) Append(fields ...[]byte) { t.Field = append(t.Field, fields...) }

// Contains reports whether any field equals b.
func (t *T) Contains(b []byte) bool {
	if t == nil {
		return false
	}
	for _, f := range t.Field {
		if utils.FastEqual(f, b) {
			return true
		}
	}
	return false
}

// Equal reports whether two tags have identical fields.
func (t *T) Equal(other *T) bool {
	if t.Len() != other.Len() {
		return false
	}
	for i := range t.Field {
		if !utils.FastEqual(t.Field[i], other.Field[i]) {
			return false
		}
	}
	return true
}

// Clone deep-copies the tag.
func (t *T) Clone() (c *T) {
	if t == nil {
		return
	}
	c = &T{Field: make([][]byte, len(t.Field))}
	for i := range t.Field {
		c.Field[i] = append([]byte{}, t.Field[i]...)
	}
	return
}

// ToStringSlice converts the fields to strings.
func (t *T) ToStringSlice() (s []string) {
	if t == nil {
		return
	}
	s = make([]string, 0, len(t.Field))
	for _, f := range t.Field {
		s = append(s, string(f))
	}
	return
}

// ToBytesSlice returns the fields as a [][]byte.
func (t *T) ToBytesSlice() (b [][]byte) {
	if t == nil {
		return
	}
	return t.Field
}

// Less orders tags lexicographically field by field, shorter first on ties.
func (t *T) Less(other *T) bool {
	for i := 0; i < t.Len() && i < other.Len(); i++ {
		if c := bytes.Compare(t.Field[i], other.Field[i]); c != 0 {
			return c < 0
		}
	}
	return t.Len() < other.Len()
}

// Marshal appends the tag as a JSON array of strings to dst.
func (t *T) Marshal(dst []byte) (b []byte) {
	b = append(dst, '[')
	for i := range t.Field {
		b = text.AppendQuote(b, t.Field[i], text.NostrEscape)
		if i != len(t.Field)-1 {
			b = append(b, ',')
		}
	}
	b = append(b, ']')
	return
}

// Unmarshal parses a JSON array of strings into the tag, leaving the
// remainder in r.
func (t *T) Unmarshal(b []byte) (r []byte, err error) {
	var fields [][]byte
	if fields, r, err = text.UnmarshalStringArray(b); chk.D(err) {
		err = errorf.D("invalid tag: %s", err.Error())
		return
	}
	t.Field = fields
	return
}
