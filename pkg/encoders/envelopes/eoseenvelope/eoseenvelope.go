// Package eoseenvelope is the relay message marking the end of the stored
// events on a subscription, after which everything delivered is live.
package eoseenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "EOSE"

// T is the EOSE envelope.
type T struct {
	Subscription *subscription.Id
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty EOSE envelope.
func New() *T { return &T{} }

// NewFrom creates an EOSE envelope for the given subscription id.
func NewFrom(id *subscription.Id) *T { return &T{Subscription: id} }

// Label returns the label of an EOSE envelope.
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
	b = envs.Marshal(dst, L, en.Subscription.Marshal)
	return
}

// Unmarshal decodes the subscription id from an EOSE payload.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse decodes an EOSE payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
