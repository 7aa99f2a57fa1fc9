package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/internal/config"
	"github.com/partnerops/draftforge/internal/observability"
	"github.com/partnerops/draftforge/pkg/draftstore"
	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/procregistry"
	"github.com/partnerops/draftforge/pkg/runartifact"
	"github.com/partnerops/draftforge/pkg/supervisor"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage bulk draft jobs",
	Long: `Manage bulk draft job records.

This command group is designed to be agent-friendly:

- stable job ids
- predictable on-disk locations
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List draft jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsUploadCmd = &cobra.Command{
	Use:   "upload <document>",
	Short: "Enqueue a work-item document as a new job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsUpload,
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <job_id>",
	Short: "Start a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStart,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsUploadCmd)
	jobsCmd.AddCommand(jobsStartCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsUploadCmd.Flags().Int("workers", 0, "Worker count for this job (0 = default)")
	jobsUploadCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStartCmd.Flags().Bool("json", false, "Output as JSON")
}

// appEnv bundles the components CLI commands need.
type appEnv struct {
	cfg      *config.Config
	ledger   *jobledger.Ledger
	registry *procregistry.Registry
	resolver runartifact.Resolver
}

func loadEnv(ctx context.Context) (*appEnv, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return &appEnv{
		cfg:      cfg,
		ledger:   jobledger.New(cfg.Paths.LedgerPath),
		registry: procregistry.New(),
		resolver: runartifact.Resolver{
			LogDir:         cfg.Paths.LogDir,
			StartTolerance: cfg.Resolver.StartTolerance,
		},
	}, nil
}

func (e *appEnv) newSupervisor() *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		WorkerMax:     e.cfg.Worker.Max,
		WorkerDefault: e.cfg.Worker.Default,
		UploadDir:     e.cfg.Paths.UploadDir,
		LogDir:        e.cfg.Paths.LogDir,
		DraftsRoot:    e.cfg.Paths.DraftsRoot,
	}, e.ledger, e.registry, observability.CLILogger)
}

// openStore connects to the draft store. Callers treat nil as "store
// disabled" when the connection cannot be established.
func (e *appEnv) openStore(ctx context.Context) *sql.DB {
	db, err := draftstore.Open(ctx, draftstore.Config{
		Path:      e.cfg.Store.Path,
		URL:       e.cfg.Store.URL,
		AuthToken: e.cfg.Store.AuthToken,
	})
	if err != nil {
		observability.CLILogger.Warn("Draft store unavailable", zap.Error(err))
		return nil
	}
	if err := draftstore.Migrate(ctx, db); err != nil {
		observability.CLILogger.Warn("Draft store migration failed", zap.Error(err))
		_ = db.Close()
		return nil
	}
	return db
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	jobs, err := env.ledger.Load()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job ledger", err)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tITEMS\tWORKERS\tSTARTED\tFINISHED\tRUN")
	for _, j := range jobs {
		run := j.RunStamp
		if run == "" {
			run = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.Status,
			j.ItemCount,
			j.WorkerCount,
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.FinishedAt),
			run,
		)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	job, err := resolveJob(env.ledger, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	_, _ = fmt.Fprintf(os.Stdout, "items=%d\n", job.ItemCount)
	_, _ = fmt.Fprintf(os.Stdout, "workers=%d\n", job.WorkerCount)
	_, _ = fmt.Fprintf(os.Stdout, "input_path=%s\n", job.InputPath)
	if job.RunStamp != "" {
		_, _ = fmt.Fprintf(os.Stdout, "run_stamp=%s\n", job.RunStamp)
	}
	if job.PID > 0 {
		alive := procregistry.Alive(job.PID)
		_, _ = fmt.Fprintf(os.Stdout, "pid=%d alive=%t\n", job.PID, alive)
	}
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "finished_at=%s\n", job.FinishedAt.UTC().Format(time.RFC3339))
	}
	if job.OutputFolder != "" {
		_, _ = fmt.Fprintf(os.Stdout, "output_folder=%s\n", job.OutputFolder)
	}
	if job.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", job.Error)
	}

	return nil
}

func runJobsUpload(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	workers, _ := cmd.Flags().GetInt("workers")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	job, err := env.newSupervisor().Enqueue(args[0], workers)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Could not enqueue document", err)
	}

	observability.CLILogger.Info("Job enqueued",
		zap.String("job_id", job.JobID),
		zap.Int("items", job.ItemCount),
		zap.Int("workers", job.WorkerCount))

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s items=%d workers=%d\n", job.JobID, job.ItemCount, job.WorkerCount)
	return nil
}

func runJobsStart(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	job, err := resolveJob(env.ledger, args[0])
	if err != nil {
		return err
	}

	started, err := env.newSupervisor().Start(job.JobID)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Could not start job", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(started)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s pid=%d run_stamp=%s\n", started.JobID, started.PID, started.RunStamp)
	return nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// resolveJob finds a job by full id or unique prefix.
func resolveJob(ledger *jobledger.Ledger, input string) (*jobledger.Job, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if job, err := ledger.Get(input); err == nil && job != nil {
		return job, nil
	}

	// Prefix match (allows table-friendly short ids).
	jobs, err := ledger.Load()
	if err != nil {
		return nil, err
	}
	matches := make([]*jobledger.Job, 0, 2)
	for i := range jobs {
		if strings.HasPrefix(jobs[i].JobID, input) {
			matches = append(matches, &jobs[i])
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
	return matches[0], nil
}
