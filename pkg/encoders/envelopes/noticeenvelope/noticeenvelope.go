// Package noticeenvelope is the relay message for human-readable errors and
// other information outside of any subscription.
package noticeenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "NOTICE"

// T is the NOTICE envelope.
type T struct {
	Message []byte
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty NOTICE envelope.
func New() *T { return &T{} }

// NewFrom creates a NOTICE envelope with the provided message.
func NewFrom[V string | []byte](msg V) *T { return &T{Message: []byte(msg)} }

// Label returns the label of a NOTICE envelope.
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
			o = text.AppendQuote(bst, en.Message, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal decodes the message from a NOTICE payload.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Message, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse decodes a NOTICE payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
