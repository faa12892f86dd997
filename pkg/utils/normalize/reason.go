package normalize

import (
	"bytes"
	"fmt"
)

// Reason is a machine-readable prefix for OK and CLOSED messages.
type Reason []byte

// The standard reason prefixes.
var (
	AuthRequired = Reason("auth-required")
	Blocked      = Reason("blocked")
	Duplicate    = Reason("duplicate")
	Error        = Reason("error")
	Invalid      = Reason("invalid")
	Pow          = Reason("pow")
	RateLimited  = Reason("rate-limited")
	Restricted   = Reason("restricted")
)

// F prefixes the formatted message with the reason, as in
// "blocked: no active subscription".
func (r Reason) F(format string, params ...any) []byte {
	return Msg(r, format, params...)
}

// Is reports whether the message carries this reason prefix (or is exactly
// the bare prefix, which some relays send).
func (r Reason) Is(msg []byte) bool {
	if bytes.Equal(msg, r) {
		return true
	}
	return bytes.HasPrefix(msg, append(append([]byte{}, r...), ':'))
}

// Msg composes a reason-prefixed message. An empty format yields the bare
// prefix with a colon, which relays accept.
func Msg(r Reason, format string, params ...any) []byte {
	s := fmt.Sprintf(format, params...)
	return []byte(fmt.Sprintf("%s: %s", r, s))
}
