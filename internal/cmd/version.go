package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintf(os.Stdout, "draftforge %s", versionInfo.Version)
		if versionInfo.Commit != "" {
			_, _ = fmt.Fprintf(os.Stdout, " (%s)", versionInfo.Commit)
		}
		if versionInfo.BuildDate != "" {
			_, _ = fmt.Fprintf(os.Stdout, " built %s", versionInfo.BuildDate)
		}
		_, _ = fmt.Fprintln(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
