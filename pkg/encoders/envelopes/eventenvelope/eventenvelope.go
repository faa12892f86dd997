// Package eventenvelope defines the two forms of the EVENT message: the
// client-side submission ["EVENT",{...}] and the relay-side result
// ["EVENT","<subscription id>",{...}].
package eventenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// L is the label associated with this type of codec.Envelope.
const L = "EVENT"

// Submission is a client message requesting that a relay store and
// distribute an event.
type Submission struct {
	E *event.E
}

var _ codec.Envelope = (*Submission)(nil)

// NewSubmission creates a new empty Submission.
func NewSubmission() *Submission { return &Submission{} }

// NewSubmissionWith creates a Submission carrying the provided event.
func NewSubmissionWith(ev *event.E) *Submission { return &Submission{E: ev} }

// Label returns the label of an EVENT envelope.
func (en *Submission) Label() string { return L }

// Write marshals the envelope and writes it out.
func (en *Submission) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Submission) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(dst, L, en.E.Marshal)
	return
}

// Unmarshal decodes the event from an EVENT submission payload.
func (en *Submission) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.E = event.New()
	if r, err = en.E.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseSubmission decodes an EVENT submission payload into a new envelope.
func ParseSubmission(b []byte) (t *Submission, rem []byte, err error) {
	t = NewSubmission()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Result is a relay message delivering an event on a subscription.
type Result struct {
	Subscription *subscription.Id
	Event        *event.E
}

var _ codec.Envelope = (*Result)(nil)

// NewResult creates a new empty Result.
func NewResult() *Result { return &Result{} }

// NewResultWith creates a Result for the given subscription id string and
// event.
func NewResultWith[V string | []byte](id V, ev *event.E) (
	res *Result, err error,
) {
	var sid *subscription.Id
	if sid, err = subscription.NewId(id); chk.E(err) {
		return
	}
	res = &Result{Subscription: sid, Event: ev}
	return
}

// Label returns the label of an EVENT envelope.
func (en *Result) Label() string { return L }

// Write marshals the envelope and writes it out.
func (en *Result) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Result) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, L,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',')
			o = en.Event.Marshal(o)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and event from an EVENT result
// payload.
func (en *Result) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = text.SkipWS(r)
	if len(r) > 0 && r[0] == ',' {
		r = text.SkipWS(r[1:])
	}
	en.Event = event.New()
	if r, err = en.Event.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseResult decodes an EVENT result payload into a new envelope.
func ParseResult(b []byte) (t *Result, rem []byte, err error) {
	t = NewResult()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
