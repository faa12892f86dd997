// Package closeenvelope is the client message that terminates a subscription
// opened by REQ.
package closeenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "CLOSE"

// T is the CLOSE envelope, carrying only the subscription id to drop.
type T struct {
	ID *subscription.Id
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty CLOSE envelope.
func New() *T { return &T{} }

// NewFrom creates a CLOSE envelope for the given subscription id.
func NewFrom(id *subscription.Id) *T { return &T{ID: id} }

// Label returns the label of a CLOSE envelope.
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
	b = envs.Marshal(dst, L, en.ID.Marshal)
	return
}

// Unmarshal decodes the subscription id from a CLOSE payload.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.ID = &subscription.Id{}
	if r, err = en.ID.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse decodes a CLOSE payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
