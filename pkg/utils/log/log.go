// Package log exposes the printers of the default lol logger so call sites
// read as log.I.F(...), log.T.C(...), log.E.Ln(...).
package log

import (
	"relaypool.dev/pkg/utils/lol"
)

var (
	// F prints at Fatal.
	F = lol.Main.F
	// E prints at Error.
	E = lol.Main.E
	// W prints at Warn.
	W = lol.Main.W
	// I prints at Info.
	I = lol.Main.I
	// D prints at Debug.
	D = lol.Main.D
	// T prints at Trace.
	T = lol.Main.T
)
