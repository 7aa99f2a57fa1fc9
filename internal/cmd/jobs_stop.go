package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/internal/observability"
	"github.com/partnerops/draftforge/pkg/cleanup"
)

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job_id>",
	Short: "Stop a job and remove every trace of it",
	Long: `Stop a job and remove every trace of it.

Stopping signals the coordinator process, deletes the uploaded
document, the run's generated folders, spreadsheet, archive, and logs,
removes the job's draft rows from the catalog, and finalizes the
ledger entry as killed. Every removal is best-effort: a partially
cleaned run can be stopped again.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsStop,
}

func init() {
	jobsCmd.AddCommand(jobsStopCmd)
	jobsStopCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsStop(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	env, err := loadEnv(ctx)
	if err != nil {
		return err
	}

	job, err := resolveJob(env.ledger, args[0])
	if err != nil {
		return err
	}

	db := env.openStore(ctx)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	coordinator := cleanup.New(env.ledger, env.registry, env.resolver, db,
		env.cfg.Paths.DraftsRoot, observability.CLILogger)

	finalized, err := coordinator.Cleanup(ctx, job)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Could not finalize job ledger", err)
	}
	if finalized == nil {
		return fmt.Errorf("job not found: %s", args[0])
	}

	observability.CLILogger.Info("Job stopped",
		zap.String("job_id", finalized.JobID),
		zap.String("status", string(finalized.Status)))

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(finalized)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s status=%s\n", finalized.JobID, finalized.Status)
	return nil
}
