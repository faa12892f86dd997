// Package reqenvelope is the client message that opens a subscription. A
// subscription carries exactly one filter; callers that want the union of
// several filters open one subscription per filter.
package reqenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "REQ"

// T is the REQ envelope.
type T struct {
	Subscription *subscription.Id
	Filter       *filter.F
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty REQ envelope.
func New() *T { return &T{} }

// NewFrom creates a REQ envelope with the given subscription id and filter.
func NewFrom(id *subscription.Id, f *filter.F) *T {
	return &T{Subscription: id, Filter: f}
}

// NewWithIdString creates a REQ envelope from an id string and filter,
// returning nil if the id is not valid.
func NewWithIdString(id string, f *filter.F) *T {
	sid, err := subscription.NewId(id)
	if chk.E(err) {
		return nil
	}
	return &T{Subscription: sid, Filter: f}
}

// Label returns the label of a REQ envelope.
func (en *T) Label() string { return L }

// Write marshals the envelope and writes it out.
func (en *T) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *T) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, L,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',')
			o = en.Filter.Marshal(o)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and filter from a REQ payload. Any
// further filters in the array are consumed and dropped.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = text.SkipWS(r)
	if len(r) > 0 && r[0] == ',' {
		r = text.SkipWS(r[1:])
	}
	en.Filter = filter.New()
	if r, err = en.Filter.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse decodes a REQ payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
