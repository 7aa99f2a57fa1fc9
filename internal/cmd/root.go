// Package cmd implements the draftforge command line interface.
package cmd

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/partnerops/draftforge/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version: "dev",
}

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "draftforge",
	Short: "Bulk product-draft job orchestrator",
	Long: `draftforge runs bulk product-draft jobs for the partner portal.

Work-item documents are uploaded as jobs; each started job runs a
coordinator process that fans drafting out across parallel workers and
produces a run folder, spreadsheet, and archive. Jobs can be listed,
inspected, stopped, and garbage collected from this CLI or over the
HTTP control surface ('draftforge serve').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.Init(verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code ([0-9]+)\)$`)

// ExitCode recovers the exit code an error was tagged with, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	m := exitCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 1
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil || code <= 0 {
		return 1
	}
	return code
}
