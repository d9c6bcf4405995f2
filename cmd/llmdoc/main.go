// Package main provides the entry point for the llmdoc CLI.
package main

import (
	"os"

	"github.com/llmdocs/llmdoc/cmd/llmdoc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
