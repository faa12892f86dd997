// Package closedenvelope is the relay message that reports the termination
// of a subscription from the relay side, with a human-readable reason that
// may carry a machine-readable prefix such as "auth-required:".
package closedenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "CLOSED"

// T is the CLOSED envelope.
type T struct {
	Subscription *subscription.Id
	Reason       []byte
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty CLOSED envelope.
func New() *T { return &T{} }

// NewFrom creates a CLOSED envelope with the given subscription id and
// reason.
func NewFrom(id *subscription.Id, reason []byte) *T {
	return &T{Subscription: id, Reason: reason}
}

// Label returns the label of a CLOSED envelope.
func (en *T) Label() string { return L }

// ReasonString returns the reason as a string.
func (en *T) ReasonString() string { return string(en.Reason) }

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
			o = text.AppendQuote(o, en.Reason, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and reason from a CLOSED payload.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = text.SkipWS(r)
	if len(r) > 0 && r[0] == ',' {
		r = text.SkipWS(r[1:])
		if en.Reason, r, err = text.UnmarshalQuoted(r); chk.E(err) {
			return
		}
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse decodes a CLOSED payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
