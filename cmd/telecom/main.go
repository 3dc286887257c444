package main

import (
	"fmt"
	"os"

	"github.com/telecomverify/telecom/internal/cli"
	"github.com/telecomverify/telecom/internal/cli/ui"
)

// Set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersion(version, commit, date)
	if err := cli.Execute(); err != nil {
		fmt.Fprint(os.Stderr, ui.Render(err))
		os.Exit(1)
	}
}
