// Package admission is the policy hook a pool consults before opening
// connections and before forwarding received events to the caller.
package admission

import (
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/utils/context"
)

// I is an admission policy. A nil policy accepts everything.
type I interface {
	// AcceptConnection is asked before the pool opens a connection to url.
	// A rejection is recorded against the url in the operation's output, it
	// does not fail the operation.
	AcceptConnection(c context.T, url string) (accept bool, reason []byte)
	// AcceptEvent is asked before an event received from url is forwarded
	// to the caller's sink.
	AcceptEvent(c context.T, ev *event.E, url string) (
		accept bool, reason []byte,
	)
}
