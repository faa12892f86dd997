// Package countenvelope defines the two forms of the NIP-45 COUNT message:
// the client request carrying a filter and the relay response carrying the
// number of matching events.
package countenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/ints"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// L is the label associated with this type of codec.Envelope.
const L = "COUNT"

// Request is the client message asking for a count of matching events.
type Request struct {
	Subscription *subscription.Id
	Filter       *filter.F
}

var _ codec.Envelope = (*Request)(nil)

// NewRequest creates a new empty count Request.
func NewRequest() *Request { return &Request{} }

// NewRequestWith creates a count Request with the given subscription id and
// filter.
func NewRequestWith(id *subscription.Id, f *filter.F) *Request {
	return &Request{Subscription: id, Filter: f}
}

// Label returns the label of a COUNT envelope.
func (en *Request) Label() string { return L }

// Write marshals the envelope and writes it out.
func (en *Request) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Request) Marshal(dst []byte) (b []byte) {
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

// Unmarshal decodes the subscription id and filter from a COUNT request
// payload.
func (en *Request) Unmarshal(b []byte) (r []byte, err error) {
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

// ParseRequest decodes a COUNT request payload into a new envelope.
func ParseRequest(b []byte) (t *Request, rem []byte, err error) {
	t = NewRequest()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Response is the relay message carrying the count. The count is approximate
// when the relay computed it from a probabilistic structure.
type Response struct {
	Subscription *subscription.Id
	Count        int64
	Approximate  bool
}

var _ codec.Envelope = (*Response)(nil)

var (
	countKey       = []byte("count")
	approximateKey = []byte("approximate")
)

// NewResponse creates a new empty count Response.
func NewResponse() *Response { return &Response{} }

// NewResponseWith creates a count Response with the given subscription id
// and count.
func NewResponseWith(id *subscription.Id, count int64, approx bool) *Response {
	return &Response{Subscription: id, Count: count, Approximate: approx}
}

// Label returns the label of a COUNT envelope.
func (en *Response) Label() string { return L }

// Write marshals the envelope and writes it out.
func (en *Response) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Response) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, L,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',', '{')
			o = text.JSONKey(o, countKey)
			o = ints.New(en.Count).Marshal(o)
			if en.Approximate {
				o = append(o, ',')
				o = text.JSONKey(o, approximateKey)
				o = append(o, "true"...)
			}
			o = append(o, '}')
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and count object from a COUNT
// response payload.
func (en *Response) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = text.SkipWS(r)
	if len(r) > 0 && r[0] == ',' {
		r = text.SkipWS(r[1:])
	}
	if len(r) == 0 || r[0] != '{' {
		err = errorf.D("COUNT response has no count object: '%s'", r)
		return
	}
	r = r[1:]
	for {
		r = text.SkipWS(r)
		if len(r) == 0 {
			err = errorf.D("unterminated count object")
			return
		}
		if r[0] == '}' {
			r = r[1:]
			break
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		var key []byte
		if key, r, err = text.UnmarshalQuoted(r); chk.E(err) {
			return
		}
		r = text.SkipWS(r)
		if len(r) == 0 || r[0] != ':' {
			err = errorf.D("count object key without value")
			return
		}
		r = text.SkipWS(r[1:])
		switch {
		case len(key) > 0 && key[0] == countKey[0]:
			n := ints.New(0)
			if r, err = n.Unmarshal(r); chk.E(err) {
				return
			}
			en.Count = n.Int64()
		case len(key) > 0 && key[0] == approximateKey[0]:
			if len(r) >= 4 && string(r[:4]) == "true" {
				en.Approximate = true
				r = r[4:]
			} else if len(r) >= 5 && string(r[:5]) == "false" {
				r = r[5:]
			} else {
				err = errorf.D("approximate is not a boolean: '%s'", r)
				return
			}
		default:
			err = errorf.D("unknown count object key '%s'", key)
			return
		}
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseResponse decodes a COUNT response payload into a new envelope.
func ParseResponse(b []byte) (t *Response, rem []byte, err error) {
	t = NewResponse()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
