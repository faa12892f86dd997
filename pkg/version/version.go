// Package version carries the application identity strings that are baked
// into builds and reported in logs, NIP-11 documents and the environment
// help printer.
package version

var (
	// Name is the canonical short name of this module.
	Name = "relaypool"
	// V is the semantic version of the current release.
	V = "v0.3.1"
	// Description is a one line summary used in help output.
	Description = "nostr relay connection and relay pool client"
	// URL is the home of the source repository.
	URL = "https://relaypool.dev"
)
