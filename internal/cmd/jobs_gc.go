package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobsGC,
}

func init() {
	jobsCmd.AddCommand(jobsGCCmd)
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	jobs, err := env.ledger.Load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	expired := make([]string, 0, len(jobs))
	for _, j := range jobs {
		// Only prune terminal states with a recorded end.
		if !j.Status.Terminal() || j.FinishedAt == nil {
			continue
		}
		if now.Sub(j.FinishedAt.UTC()) <= maxAge {
			continue
		}
		expired = append(expired, j.JobID)
	}

	deleted := len(expired)
	if !dryRun && deleted > 0 {
		if _, err := env.ledger.Remove(expired); err != nil {
			return fmt.Errorf("remove job records: %w", err)
		}
	}

	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = deleted
		} else {
			res.Deleted = deleted
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", deleted)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", deleted)
	return nil
}
