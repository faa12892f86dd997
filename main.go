// Package main prints the library's version and the environment variables
// that configure it. The relay pool itself is a library; this entry point is
// the documentation and debugging aid for its configuration surface.
package main

import (
	"fmt"
	"os"

	"relaypool.dev/pkg/config"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/lol"
	"relaypool.dev/pkg/version"
)

func main() {
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.T(err) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		}
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	if config.GetEnv() {
		config.PrintEnv(cfg, os.Stdout)
		os.Exit(0)
	}
	if config.HelpRequested() {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	lol.SetLogLevel(cfg.LogLevel)
	if err = cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n%s\n%s\n", version.Name, version.V,
		version.Description, version.URL)
	fmt.Printf("\nconfigured relays: %d\n", len(cfg.Relays))
	fmt.Println("\nrun with 'help' for the configuration reference or" +
		" 'env' to print the current configuration")
}
