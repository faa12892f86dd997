// Package kind is the event kind number and its protocol-defined
// classifications.
package kind

import (
	"relaypool.dev/pkg/encoders/ints"
	"relaypool.dev/pkg/utils/chk"
)

// T is an event kind.
type T struct {
	K uint16
}

// New creates a kind from an integer of any common width.
func New[V uint16 | uint32 | uint64 | uint | int | int32 | int64](k V) *T {
	return &T{K: uint16(k)}
}

// The kinds this codebase handles specially.
var (
	ProfileMetadata      = New(0)
	TextNote             = New(1)
	FollowList           = New(3)
	EventDeletion        = New(5)
	PrivateDirectMessage = New(14)
	GiftWrap             = New(1059)
	RelayListMetadata    = New(10002)
	DMRelaysList         = New(10050)
	ClientAuthentication = New(22242)
)

// Uint16 returns the kind number, zero for nil.
func (k *T) Uint16() (v uint16) {
	if k == nil {
		return
	}
	return k.K
}

// Int returns the kind number as int.
func (k *T) Int() int { return int(k.Uint16()) }

// Equal reports whether two kinds are the same number.
func (k *T) Equal(other *T) bool { return k.Uint16() == other.Uint16() }

// IsReplaceable reports whether only the newest event of this kind is kept
// per pubkey (metadata, follow lists, and the 10000-19999 band).
func (k *T) IsReplaceable() bool {
	v := k.Uint16()
	return v == 0 || v == 3 || (v >= 10000 && v < 20000)
}

// IsEphemeral reports whether events of this kind are relayed but never
// stored (the 20000-29999 band).
func (k *T) IsEphemeral() bool {
	v := k.Uint16()
	return v >= 20000 && v < 30000
}

// IsParameterizedReplaceable reports whether the newest event per (pubkey,
// d tag) is kept (the 30000-39999 band).
func (k *T) IsParameterizedReplaceable() bool {
	v := k.Uint16()
	return v >= 30000 && v < 40000
}

// IsDirectMessage reports whether this kind is routed via the DM relay list
// instead of the general relay list.
func (k *T) IsDirectMessage() bool {
	v := k.Uint16()
	return v == PrivateDirectMessage.K || v == GiftWrap.K
}

// Marshal appends the ASCII decimal form to dst.
func (k *T) Marshal(dst []byte) (b []byte) {
	return ints.New(k.Uint16()).Marshal(dst)
}

// Unmarshal parses an ASCII decimal kind, leaving the remainder in r.
func (k *T) Unmarshal(b []byte) (r []byte, err error) {
	n := &ints.T{}
	if r, err = n.Unmarshal(b); chk.D(err) {
		return
	}
	k.K = n.Uint16()
	return
}
