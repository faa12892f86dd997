// Package event is the fundamental datatype of the protocol: a signed,
// content-addressed message with a kind number, timestamp and tags.
package event

import (
	"bytes"

	"lukechampine.com/frand"

	"relaypool.dev/pkg/crypto/p256k"
	"relaypool.dev/pkg/crypto/sha256"
	"relaypool.dev/pkg/encoders/eventid"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/utils/chk"
)

// E is an event. The ID is the sha256 of the canonical serialization and
// the Sig is a schnorr signature over the ID by Pubkey.
type E struct {
	ID        []byte       `json:"id"`
	Pubkey    []byte       `json:"pubkey"`
	CreatedAt *timestamp.T `json:"created_at"`
	Kind      *kind.T      `json:"kind"`
	Tags      *tags.T      `json:"tags"`
	Content   []byte       `json:"content"`
	Sig       []byte       `json:"sig"`
}

// New creates an empty event.
func New() (ev *E) { return &E{} }

// S is a sortable event list ordered newest first, ties broken by id
// ascending so the order is total and stable across relays.
type S []*E

// Len implements sort.Interface.
func (ev S) Len() int { return len(ev) }

// Less implements sort.Interface: created_at descending, id ascending on
// ties.
func (ev S) Less(i, j int) bool {
	if ev[i].CreatedAt.I64() != ev[j].CreatedAt.I64() {
		return ev[i].CreatedAt.I64() > ev[j].CreatedAt.I64()
	}
	return bytes.Compare(ev[i].ID, ev[j].ID) < 0
}

// Swap implements sort.Interface.
func (ev S) Swap(i, j int) { ev[i], ev[j] = ev[j], ev[i] }

// C is a channel of events.
type C chan *E

// Serialize renders the event as minified JSON.
func (ev *E) Serialize() (b []byte) { return ev.Marshal(nil) }

// EventID wraps the ID in an eventid.T.
func (ev *E) EventID() (eid *eventid.T) {
	eid, _ = eventid.NewWith(ev.ID)
	return
}

// IDString returns the ID as hex.
func (ev *E) IDString() (s string) { return hex.Enc(ev.ID) }

// PubKeyString returns the author key as hex.
func (ev *E) PubKeyString() (s string) { return hex.Enc(ev.Pubkey) }

// ToCanonical appends the canonical serialization to dst: the array form
// over which the ID digest is computed.
func (ev *E) ToCanonical(dst []byte) (b []byte) {
	b = append(dst, '[', '0', ',')
	b = text.AppendQuote(b, ev.Pubkey, hex.EncAppend)
	b = append(b, ',')
	b = ev.CreatedAt.Marshal(b)
	b = append(b, ',')
	b = ev.Kind.Marshal(b)
	b = append(b, ',')
	b = ev.Tags.Marshal(b)
	b = append(b, ',')
	b = text.AppendQuote(b, ev.Content, text.NostrEscape)
	b = append(b, ']')
	return
}

// GetIDBytes computes the event ID from the current field values.
func (ev *E) GetIDBytes() []byte { return Hash(ev.ToCanonical(nil)) }

// CheckID reports whether the stored ID matches the canonical digest of the
// current field values.
func (ev *E) CheckID() bool {
	return bytes.Equal(ev.ID, ev.GetIDBytes())
}

// Sign sets Pubkey, ID and Sig using the given signer. CreatedAt, Kind,
// Tags and Content must already be set.
func (ev *E) Sign(keys signer.I) (err error) {
	ev.Pubkey = keys.Pub()
	ev.ID = ev.GetIDBytes()
	if ev.Sig, err = keys.Sign(ev.ID); chk.E(err) {
		return
	}
	return
}

// Verify checks that the ID matches the canonical digest and the signature
// is valid for it under Pubkey.
func (ev *E) Verify() (valid bool, err error) {
	if !ev.CheckID() {
		return
	}
	keys := p256k.Signer{}
	if err = keys.InitPub(ev.Pubkey); chk.D(err) {
		return
	}
	if valid, err = keys.Verify(ev.ID, ev.Sig); chk.D(err) {
		return
	}
	return
}

// Clone deep-copies the event.
func (ev *E) Clone() (c *E) {
	c = &E{
		ID:      append([]byte{}, ev.ID...),
		Pubkey:  append([]byte{}, ev.Pubkey...),
		Content: append([]byte{}, ev.Content...),
		Sig:     append([]byte{}, ev.Sig...),
		Tags:    ev.Tags.Clone(),
	}
	if ev.CreatedAt != nil {
		c.CreatedAt = timestamp.New(ev.CreatedAt.V)
	}
	if ev.Kind != nil {
		c.Kind = kind.New(ev.Kind.K)
	}
	return
}

// Hash computes the sha256 of a byte slice.
func Hash(in []byte) (out []byte) {
	h := sha256.Sum256(in)
	return h[:]
}

// GenerateRandomTextNoteEvent creates a signed kind 1 event with random
// content up to maxSize, for tests and benchmarks.
func GenerateRandomTextNoteEvent(sign signer.I, maxSize int) (
	ev *E, err error,
) {
	l := frand.Intn(maxSize)
	if l < 1 {
		l = 1
	}
	ev = &E{
		CreatedAt: timestamp.Now(),
		Kind:      kind.TextNote,
		Tags:      tags.New(tag.New("client", "relaypool")),
		Content:   []byte(hex.Enc(frand.Bytes((l + 1) / 2))[:l]),
	}
	if err = ev.Sign(sign); chk.E(err) {
		return
	}
	return
}
