package ws

import "strings"

// Capability is a bitset of the roles a relay plays in a pool. The pool
// dispatches REQ and COUNT only to Read relays and EVENT only to Write
// relays; Ping enables the keepalive ticker; Discovery marks relays used
// for relay-list lookups; Gossip marks relays added by the gossip router.
type Capability uint32

// The capability bits.
const (
	Read Capability = 1 << iota
	Write
	Ping
	Discovery
	Gossip
)

// DefaultCapabilities is what a relay gets when none are specified.
var DefaultCapabilities = Read | Write | Ping

// AllCapabilities enables everything.
var AllCapabilities = Read | Write | Ping | Discovery | Gossip

// Has reports whether every bit in f is set.
func (c Capability) Has(f Capability) bool { return c&f == f }

var capabilityNames = []struct {
	bit  Capability
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Ping, "ping"},
	{Discovery, "discovery"},
	{Gossip, "gossip"},
}

func (c Capability) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
