// Package codec defines the interfaces for the wire encoders used across the
// protocol packages. Everything on the nostr wire is JSON, encoded into and
// decoded out of caller-provided buffers.
package codec

import (
	"io"
)

// JSON is a codec that appends its JSON form to a provided destination buffer
// and decodes itself from a buffer, returning what remains after its span.
type JSON interface {
	// Marshal converts the data of the type and appends it to the provided
	// destination slice.
	Marshal(dst []byte) (b []byte)
	// Unmarshal decodes the data in the provided slice, returning whatever
	// remains after the type's span, so these can be chained.
	Unmarshal(b []byte) (r []byte, err error)
}

// Envelope is a JSON array wire message with a leading label string, as used
// in the nostr client and relay message protocols.
type Envelope interface {
	// Label returns the envelope's distinguishing label, the first element of
	// the array.
	Label() string
	// Write marshals the envelope and writes it out.
	Write(w io.Writer) (err error)
	JSON
}
