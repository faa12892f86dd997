// Package okenvelope is the relay message accepting or rejecting a published
// event, correlated to the submission by the event id. The reason string of
// a rejection may carry a machine-readable prefix such as "blocked:" or
// "rate-limited:".
package okenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/eventid"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// L is the label associated with this type of codec.Envelope.
const L = "OK"

// T is the OK envelope.
type T struct {
	EventID *eventid.T
	OK      bool
	Reason  []byte
}

var _ codec.Envelope = (*T)(nil)

// New creates a new empty OK envelope.
func New() *T { return &T{} }

// NewFrom creates an OK envelope from a raw event id, acceptance flag and
// optional reason.
func NewFrom(id []byte, ok bool, reason ...[]byte) *T {
	var r []byte
	if len(reason) > 0 {
		r = reason[0]
	}
	return &T{EventID: eventid.FromBytes(id), OK: ok, Reason: r}
}

// Label returns the label of an OK envelope.
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

// Marshal appends the envelope in wire form to dst. The reason string is
// always present, an acceptance carries an empty one.
func (en *T) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, L,
		func(bst []byte) (o []byte) {
			o = en.EventID.Marshal(bst)
			o = append(o, ',')
			if en.OK {
				o = append(o, "true"...)
			} else {
				o = append(o, "false"...)
			}
			o = append(o, ',')
			o = text.AppendQuote(o, en.Reason, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal decodes the event id, acceptance flag and reason from an OK
// payload.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.EventID = eventid.New()
	if r, err = en.EventID.Unmarshal(r); chk.E(err) {
		return
	}
	r = text.SkipWS(r)
	if len(r) == 0 || r[0] != ',' {
		err = errorf.D("OK envelope missing status flag")
		return
	}
	r = text.SkipWS(r[1:])
	switch {
	case len(r) >= 4 && string(r[:4]) == "true":
		en.OK = true
		r = r[4:]
	case len(r) >= 5 && string(r[:5]) == "false":
		en.OK = false
		r = r[5:]
	default:
		err = errorf.D("OK envelope has no boolean status: '%s'", r)
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

// Parse decodes an OK payload into a new envelope.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
