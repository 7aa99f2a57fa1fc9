package main

import (
	"fmt"
	"os"

	"github.com/partnerops/draftforge/internal/cmd"
)

// Populated via -ldflags at release build time.
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
