// Package negenvelope defines the NIP-77 set reconciliation messages. A
// reconciliation session is opened with NEG-OPEN carrying a filter and the
// initiator's first message, continued with NEG-MSG frames in both
// directions, and torn down with NEG-CLOSE or, from the relay side, NEG-ERR.
// Reconciliation payloads travel as lowercase hex strings.
package negenvelope

import (
	"io"

	envs "relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/interfaces/codec"
	"relaypool.dev/pkg/utils/chk"
)

// The labels of the four reconciliation envelopes.
const (
	OpenL  = "NEG-OPEN"
	MsgL   = "NEG-MSG"
	CloseL = "NEG-CLOSE"
	ErrL   = "NEG-ERR"
)

// Open is the client message that begins a reconciliation session.
type Open struct {
	Subscription *subscription.Id
	Filter       *filter.F
	// Message is the raw initial reconciliation frame, not hex.
	Message []byte
}

var _ codec.Envelope = (*Open)(nil)

// NewOpen creates a new empty Open envelope.
func NewOpen() *Open { return &Open{} }

// NewOpenWith creates an Open envelope with the given subscription id,
// filter and initial frame.
func NewOpenWith(id *subscription.Id, f *filter.F, msg []byte) *Open {
	return &Open{Subscription: id, Filter: f, Message: msg}
}

// Label returns the label of a NEG-OPEN envelope.
func (en *Open) Label() string { return OpenL }

// Write marshals the envelope and writes it out.
func (en *Open) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Open) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, OpenL,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',')
			o = en.Filter.Marshal(o)
			o = append(o, ',')
			o = text.AppendQuote(o, en.Message, hex.EncAppend)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id, filter and initial frame from a
// NEG-OPEN payload.
func (en *Open) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = skipComma(r)
	en.Filter = filter.New()
	if r, err = en.Filter.Unmarshal(r); chk.E(err) {
		return
	}
	r = skipComma(r)
	if en.Message, r, err = text.UnmarshalHex(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseOpen decodes a NEG-OPEN payload into a new envelope.
func ParseOpen(b []byte) (t *Open, rem []byte, err error) {
	t = NewOpen()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Msg is a reconciliation frame in either direction on an open session.
type Msg struct {
	Subscription *subscription.Id
	// Message is the raw reconciliation frame, not hex.
	Message []byte
}

var _ codec.Envelope = (*Msg)(nil)

// NewMsg creates a new empty Msg envelope.
func NewMsg() *Msg { return &Msg{} }

// NewMsgWith creates a Msg envelope with the given subscription id and
// frame.
func NewMsgWith(id *subscription.Id, msg []byte) *Msg {
	return &Msg{Subscription: id, Message: msg}
}

// Label returns the label of a NEG-MSG envelope.
func (en *Msg) Label() string { return MsgL }

// Write marshals the envelope and writes it out.
func (en *Msg) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Msg) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, MsgL,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',')
			o = text.AppendQuote(o, en.Message, hex.EncAppend)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and frame from a NEG-MSG payload.
func (en *Msg) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = skipComma(r)
	if en.Message, r, err = text.UnmarshalHex(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseMsg decodes a NEG-MSG payload into a new envelope.
func ParseMsg(b []byte) (t *Msg, rem []byte, err error) {
	t = NewMsg()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Close is the client message that ends a reconciliation session.
type Close struct {
	Subscription *subscription.Id
}

var _ codec.Envelope = (*Close)(nil)

// NewClose creates a new empty Close envelope.
func NewClose() *Close { return &Close{} }

// NewCloseWith creates a Close envelope for the given subscription id.
func NewCloseWith(id *subscription.Id) *Close {
	return &Close{Subscription: id}
}

// Label returns the label of a NEG-CLOSE envelope.
func (en *Close) Label() string { return CloseL }

// Write marshals the envelope and writes it out.
func (en *Close) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Close) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(dst, CloseL, en.Subscription.Marshal)
	return
}

// Unmarshal decodes the subscription id from a NEG-CLOSE payload.
func (en *Close) Unmarshal(b []byte) (r []byte, err error) {
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

// ParseClose decodes a NEG-CLOSE payload into a new envelope.
func ParseClose(b []byte) (t *Close, rem []byte, err error) {
	t = NewClose()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Err is the relay message that aborts a reconciliation session, carrying a
// reason string that may bear a machine-readable prefix.
type Err struct {
	Subscription *subscription.Id
	Reason       []byte
}

var _ codec.Envelope = (*Err)(nil)

// NewErr creates a new empty Err envelope.
func NewErr() *Err { return &Err{} }

// NewErrWith creates an Err envelope with the given subscription id and
// reason.
func NewErrWith(id *subscription.Id, reason []byte) *Err {
	return &Err{Subscription: id, Reason: reason}
}

// Label returns the label of a NEG-ERR envelope.
func (en *Err) Label() string { return ErrL }

// ReasonString returns the reason as a string.
func (en *Err) ReasonString() string { return string(en.Reason) }

// Write marshals the envelope and writes it out.
func (en *Err) Write(w io.Writer) (err error) {
	var b []byte
	b = en.Marshal(b)
	_, err = w.Write(b)
	return
}

// Marshal appends the envelope in wire form to dst.
func (en *Err) Marshal(dst []byte) (b []byte) {
	b = envs.Marshal(
		dst, ErrL,
		func(bst []byte) (o []byte) {
			o = en.Subscription.Marshal(bst)
			o = append(o, ',')
			o = text.AppendQuote(o, en.Reason, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal decodes the subscription id and reason from a NEG-ERR payload.
func (en *Err) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	en.Subscription = &subscription.Id{}
	if r, err = en.Subscription.Unmarshal(r); chk.E(err) {
		return
	}
	r = skipComma(r)
	if en.Reason, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envs.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseErr decodes a NEG-ERR payload into a new envelope.
func ParseErr(b []byte) (t *Err, rem []byte, err error) {
	t = NewErr()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

func skipComma(b []byte) (r []byte) {
	r = text.SkipWS(b)
	if len(r) > 0 && r[0] == ',' {
		r = text.SkipWS(r[1:])
	}
	return
}
