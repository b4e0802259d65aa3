// Package main provides the mailqueue CLI.
//
// Usage:
//
//	mailqueue run --store postgres
//	mailqueue process
//	mailqueue enqueue --to bob@example.com --subject Hi --text Hello
//	mailqueue inspect --state exhausted
//
// Settings are read from the file named by --config or CONFIG_FILE, with
// environment overrides. APP_ENV must be set.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
