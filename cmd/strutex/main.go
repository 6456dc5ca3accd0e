// Package main is the entry point for the strutex CLI.
package main

import (
	"os"

	"github.com/Aquilesorei/strutex/cmd/strutex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
