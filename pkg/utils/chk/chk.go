// Package chk provides the error checkers of the default lol logger. Each
// logs a non-nil error at its level and reports whether the error was
// non-nil, so error branches read as:
//
//	if err = f(); chk.E(err) {
//		return
//	}
package chk

import (
	"relaypool.dev/pkg/utils/lol"
)

var (
	// F checks at Fatal.
	F = lol.Main.Check.F
	// E checks at Error.
	E = lol.Main.Check.E
	// W checks at Warn.
	W = lol.Main.Check.W
	// I checks at Info.
	I = lol.Main.Check.I
	// D checks at Debug.
	D = lol.Main.Check.D
	// T checks at Trace.
	T = lol.Main.Check.T
)
