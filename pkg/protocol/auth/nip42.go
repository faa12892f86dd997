// Package auth builds and validates the kind 22242 events that answer a
// relay's AUTH challenge.
//
// The client side signs an ephemeral event carrying the relay url and the
// verbatim challenge; the relay side (the test harness here, a real relay
// elsewhere) checks the challenge, the url and the clock window before
// verifying the signature.
package auth

import (
	"encoding/base64"
	"time"

	"lukechampine.com/frand"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/normalize"
)

var (
	// ChallengeTag carries the relay's challenge, binding the response to
	// this AUTH exchange.
	ChallengeTag = []byte("challenge")
	// RelayTag carries the relay url, preventing replay against another
	// relay.
	RelayTag = []byte("relay")
)

// Window is how far an auth event's created_at may sit from the clock of
// the validating side.
const Window = 10 * time.Minute

// GenerateChallenge creates a 16 byte base64 challenge string.
func GenerateChallenge() (b []byte) {
	bb := frand.Bytes(12)
	b = make([]byte, 16)
	base64.URLEncoding.Encode(b, bb)
	return
}

// CreateUnsigned builds the event answering an AUTH challenge from the
// relay at relayURL. The caller signs it and sends it inside an AUTH
// envelope.
func CreateUnsigned(pubkey, challenge []byte, relayURL string) (ev *event.E) {
	return &event.E{
		Pubkey:    pubkey,
		CreatedAt: timestamp.Now(),
		Kind:      kind.ClientAuthentication,
		Tags: tags.New(
			tag.New("relay", relayURL),
			tag.New(string(ChallengeTag), string(challenge)),
		),
	}
}

// Validate checks that ev answers the given challenge for the relay at
// relayURL: right kind, verbatim challenge tag, matching canonical relay
// url, created_at within Window, and a valid signature. The first failed
// check is returned as the error.
func Validate(ev *event.E, challenge []byte, relayURL string) (
	ok bool, err error,
) {
	if ev.Kind == nil || ev.Kind.K != kind.ClientAuthentication.K {
		err = errorf.E(
			"wrong kind for auth event: %d, need %d",
			ev.Kind.Uint16(), kind.ClientAuthentication.K,
		)
		return
	}
	ch := ev.Tags.GetFirst(ChallengeTag)
	if ch == nil {
		err = errorf.E("challenge tag missing from auth event")
		return
	}
	if !utils.FastEqual(ch.Value(), challenge) {
		err = errorf.E(
			"challenge mismatch in auth event: %s, need %s",
			ch.Value(), challenge,
		)
		return
	}
	r := ev.Tags.GetFirst(RelayTag)
	if r == nil || len(r.Value()) == 0 {
		err = errorf.E("relay tag missing from auth event")
		return
	}
	var expected, found string
	if expected, err = normalize.Canonical(relayURL); chk.D(err) {
		return
	}
	if found, err = normalize.Canonical(string(r.Value())); chk.D(err) {
		return
	}
	if expected != found {
		err = errorf.E(
			"relay url mismatch in auth event: %s, need %s", found, expected,
		)
		return
	}
	now := time.Now()
	at := ev.CreatedAt.Time()
	if at.After(now.Add(Window)) || at.Before(now.Add(-Window)) {
		err = errorf.E(
			"auth event created_at %d outside the %v window", at.Unix(),
			Window,
		)
		return
	}
	// The signature check runs last, it is the expensive one.
	return ev.Verify()
}
