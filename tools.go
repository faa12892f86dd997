//go:build tools

package main

// Pins the static analysis tool versions to the module graph.
import (
	_ "golang.org/x/lint/golint"
	_ "honnef.co/go/tools/cmd/staticcheck"
)
