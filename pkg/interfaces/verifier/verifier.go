// Package verifier abstracts event signature verification so a caching
// layer can sit in front of the raw schnorr check.
package verifier

import (
	"relaypool.dev/pkg/encoders/event"
)

// I verifies event signatures. Implementations must be safe for concurrent
// use.
type I interface {
	// Verify reports whether the event's id is correct for its content and
	// its signature is valid for its pubkey. An error means verification
	// could not be carried out, not that the signature is bad.
	Verify(ev *event.E) (ok bool, err error)
}
