// Package errorf provides error constructors that also log at their level,
// so a returned error is visible where it originates.
package errorf

import (
	"relaypool.dev/pkg/utils/lol"
)

var (
	// F constructs and logs at Fatal.
	F = lol.Main.Errorf.F
	// E constructs and logs at Error.
	E = lol.Main.Errorf.E
	// W constructs and logs at Warn.
	W = lol.Main.Errorf.W
	// I constructs and logs at Info.
	I = lol.Main.Errorf.I
	// D constructs and logs at Debug.
	D = lol.Main.Errorf.D
	// T constructs and logs at Trace.
	T = lol.Main.Errorf.T
)
