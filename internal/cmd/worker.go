package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/internal/observability"
	"github.com/partnerops/draftforge/pkg/draftworker"
	"github.com/partnerops/draftforge/pkg/workitem"
)

// draftWorkerCmd is the hidden entrypoint the supervisor execs as the
// coordinator process of a started job. Operators never run it by hand.
var draftWorkerCmd = &cobra.Command{
	Use:    "draft-worker",
	Hidden: true,
	Short:  "Run the worker coordinator for one job",
	RunE:   runDraftWorker,
}

var (
	workerJobID string
	workerInput string
	workerStamp string
	workerCount int
)

func init() {
	rootCmd.AddCommand(draftWorkerCmd)
	draftWorkerCmd.Flags().StringVar(&workerJobID, "job-id", "", "Job id")
	draftWorkerCmd.Flags().StringVar(&workerInput, "input", "", "Work-item document path")
	draftWorkerCmd.Flags().StringVar(&workerStamp, "stamp", "", "Run stamp")
	draftWorkerCmd.Flags().IntVar(&workerCount, "workers", 1, "Worker count")

	_ = draftWorkerCmd.MarkFlagRequired("job-id")
	_ = draftWorkerCmd.MarkFlagRequired("input")
	_ = draftWorkerCmd.MarkFlagRequired("stamp")
}

func runDraftWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	env, err := loadEnv(ctx)
	if err != nil {
		return err
	}

	items, err := workitem.Load(workerInput)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Could not load work items", err)
	}

	engine := draftworker.New(draftworker.Config{
		JobID:      workerJobID,
		Stamp:      workerStamp,
		Workers:    workerCount,
		RateLimit:  env.cfg.Worker.RateLimit,
		LogDir:     env.cfg.Paths.LogDir,
		DraftsRoot: env.cfg.Paths.DraftsRoot,
	}).WithSheetWriter(draftworker.ExcelSheetWriter{})

	if db := env.openStore(ctx); db != nil {
		defer func() { _ = db.Close() }()
		engine.WithStore(db)
	}

	summary, err := engine.Run(ctx, items)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Draft run failed", err)
	}

	observability.CLILogger.Info("Draft run finished",
		zap.String("job_id", workerJobID),
		zap.Int64("drafts", summary.DraftsWritten),
		zap.Int64("skipped", summary.SkippedNoCode),
		zap.Int64("errors", summary.Errors),
		zap.String("output_folder", summary.Outputs.FinalFolder))

	return nil
}
