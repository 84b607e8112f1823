// Package main provides the smoothquant CLI.
package main

import (
	"os"

	"github.com/born-ml/smoothquant/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0-dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		os.Exit(1)
	}
}
