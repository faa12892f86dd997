// Package authenvelope defines the auth challenge (relay message) and
// response (client message) of the NIP-42 authentication protocol.
package authenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// L is the label associated with this type of codec.Envelope.
const L = "AUTH"

// Challenge is the relay-sent message containing a relay-chosen random
// string that the client must echo inside a signed event to prove control of
// a key. Only the most recent challenge needs keeping, a relay may re-issue
// at any time.
type Challenge struct {
	Challenge []byte
}

var _ codec.Envelope = (*Challenge)(nil)

// NewChallenge creates a new empty Challenge.
func NewChallenge() *Challenge { return &Challenge{} }

// NewChallengeWith creates a new Challenge with the provided string.
func NewChallengeWith[V string | []byte](challenge V) *Challenge {
	return &Challenge{[]byte(challenge)}
}

// Label returns the label of an auth Challenge envelope.
func (en *Challenge) Label() string { return L }

// Write marshals the Challenge and writes it out.
func (en *Challenge) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the Challenge in its wire form to dst, applying NIP-01
// string escaping to the challenge string.
func (en *Challenge) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envs.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = append(o, '"')
			o = text.NostrEscape(o, en.Challenge)
			o = append(o, '"')
			return
		},
	)
	return
}

// Unmarshal decodes the challenge string from the payload of an AUTH
// envelope, leaving whatever follows the closing bracket in r.
func (en *Challenge) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Challenge, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseChallenge decodes an AUTH challenge payload into a new Challenge.
func ParseChallenge(b []byte) (t *Challenge, rem []byte, err error) {
	t = NewChallenge()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Response is the client-side envelope containing the signed kind 22242
// event bearing the relay's URL and the challenge string.
type Response struct {
	Event *event.E
}

var _ codec.Envelope = (*Response)(nil)

// NewResponse creates a new empty Response.
func NewResponse() *Response { return &Response{} }

// NewResponseWith creates a new Response carrying the provided event.
func NewResponseWith(ev *event.E) *Response { return &Response{Event: ev} }

// Label returns the label of an auth Response envelope.
func (en *Response) Label() string { return L }

// Id returns the id of the response's event.
func (en *Response) Id() []byte { return en.Event.ID }

// Write the Response to a provided io.Writer.
func (en *Response) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal a Response to minified JSON, appending to a provided destination
// slice.
func (en *Response) Marshal(dst []byte) (b []byte) {
	b = dst
	if en == nil || en.Event == nil {
		return
	}
	b = envs.Marshal(b, L, en.Event.Marshal)
	return
}

// Unmarshal a Response from minified JSON, returning the remainder after the
// end of the envelope.
func (en *Response) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Event = event.New()
	if r, err = en.Event.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseResponse reads a Response encoded in minified JSON and unpacks it to
// the runtime format.
func ParseResponse(b []byte) (t *Response, rem []byte, err error) {
	t = NewResponse()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	if t.Event == nil {
		err = errorf.D("auth response carries no event")
		return
	}
	return
}
