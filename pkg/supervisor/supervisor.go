// Package supervisor owns the lifecycle of worker-coordinator
// processes for bulk draft jobs.
//
// Each started job gets exactly one child OS process (the coordinator)
// which fans work out across its assigned worker count internally. The
// supervisor records the spawn in the job ledger, registers the live
// process handle, and watches for exit to finalize the ledger entry.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/procregistry"
	"github.com/partnerops/draftforge/pkg/runartifact"
	"github.com/partnerops/draftforge/pkg/workitem"
)

// Config carries the operator-tunable knobs and fixed directories.
type Config struct {
	// WorkerMax is the ceiling on workers per job (default 4).
	WorkerMax int

	// WorkerDefault is used when a job requests no explicit count
	// (default 1).
	WorkerDefault int

	// UploadDir receives uploaded work-item documents.
	UploadDir string

	// LogDir holds coordinator and worker logs.
	LogDir string

	// DraftsRoot is the root of generated run folders.
	DraftsRoot string
}

var (
	// ErrJobNotFound reports a job id with no ledger entry.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotQueued reports a start attempt on a job that already ran.
	ErrNotQueued = errors.New("job is not queued")

	// ErrEmptyDocument reports an uploaded document with no work items.
	ErrEmptyDocument = errors.New("work-item document is empty")
)

// CommandFunc builds the coordinator process command for a job. It is
// a seam for tests; the default execs this binary's hidden
// draft-worker command.
type CommandFunc func(job jobledger.Job) (*exec.Cmd, error)

// Supervisor spawns and tracks coordinator processes.
type Supervisor struct {
	cfg      Config
	ledger   *jobledger.Ledger
	registry *procregistry.Registry
	logger   *zap.Logger

	commandFunc CommandFunc
}

func New(cfg Config, ledger *jobledger.Ledger, registry *procregistry.Registry, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:      cfg,
		ledger:   ledger,
		registry: registry,
		logger:   logger,
	}
	s.commandFunc = s.defaultCommand

	// The ledger's read-side sweep finalizes running entries with a dead
	// pid; that is for jobs abandoned by an exited control plane. Here a
	// watcher goroutine owns each started job, and a just-reaped child
	// is dead to a pid probe before the watcher has written the real
	// outcome. Registered handles therefore count as alive.
	ledger.WithAliveCheck(func(pid int) bool {
		return registry.WatchingPID(pid) || procregistry.Alive(pid)
	})

	return s
}

// WithCommandFunc overrides process creation. Tests use this to spawn
// cheap stand-in processes.
func (s *Supervisor) WithCommandFunc(fn CommandFunc) *Supervisor {
	if fn != nil {
		s.commandFunc = fn
	}
	return s
}

// Registry exposes the process registry for the stop path.
func (s *Supervisor) Registry() *procregistry.Registry {
	return s.registry
}

// Enqueue records an uploaded work-item document as a queued job.
func (s *Supervisor) Enqueue(inputPath string, requestedWorkers int) (*jobledger.Job, error) {
	items, err := workitem.Load(inputPath)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyDocument
	}

	job := jobledger.Job{
		JobID:       uuid.New().String(),
		Status:      jobledger.StatusQueued,
		InputPath:   inputPath,
		ItemCount:   len(items),
		WorkerCount: ResolveWorkerCount(len(items), requestedWorkers, s.cfg.WorkerDefault, s.cfg.WorkerMax),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.ledger.Upsert(job); err != nil {
		return nil, err
	}

	s.logger.Info("Job queued",
		zap.String("job_id", job.JobID),
		zap.Int("item_count", job.ItemCount),
		zap.Int("worker_count", job.WorkerCount))

	return &job, nil
}

// Start spawns the coordinator process for a queued job and moves the
// ledger entry to running.
//
// The run stamp is minted and written into the ledger eagerly, before
// the child does any work, so the heuristic stamp recovery in
// runartifact is only ever a fallback for records written by older
// builds or lost to a crash mid-write.
func (s *Supervisor) Start(jobID string) (*jobledger.Job, error) {
	job, err := s.ledger.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != jobledger.StatusQueued {
		return nil, fmt.Errorf("%w (status=%s)", ErrNotQueued, job.Status)
	}

	if job.WorkerCount <= 0 {
		job.WorkerCount = ResolveWorkerCount(job.ItemCount, 0, s.cfg.WorkerDefault, s.cfg.WorkerMax)
	}

	for _, dir := range []string{s.cfg.LogDir, s.cfg.DraftsRoot} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
	}

	stamp := runartifact.NewStamp(time.Now())
	outputs := runartifact.BuildOutputPaths(s.cfg.DraftsRoot, job.ItemCount, stamp)

	job.RunStamp = stamp
	job.WorkerLogDir = s.cfg.LogDir
	job.ParallelLogPath = runartifact.ParallelLogPath(s.cfg.LogDir, stamp)
	job.OutputFolder = outputs.FinalFolder
	job.OutputExcelPath = outputs.OutputExcel
	job.OutputZipPath = outputs.OutputZip

	cmd, err := s.commandFunc(*job)
	if err != nil {
		return nil, fmt.Errorf("build coordinator command: %w", err)
	}
	startErr := cmd.Start()
	// The child holds its own copies of any redirect files; the parent's
	// descriptors must not accumulate across started jobs.
	closeRedirects(cmd)
	if startErr != nil {
		return nil, fmt.Errorf("start coordinator process: %w", startErr)
	}

	now := time.Now().UTC()
	job.Status = jobledger.StatusRunning
	job.StartedAt = &now
	job.PID = cmd.Process.Pid

	if err := s.ledger.Upsert(*job); err != nil {
		// The child is already running; killing it here would leave
		// fewer traces than letting the exit watcher try again.
		s.logger.Error("Failed to persist running job", zap.String("job_id", job.JobID), zap.Error(err))
		return nil, err
	}

	s.registry.Register(job.JobID, procregistry.OSHandle{Process: cmd.Process})
	go s.watchExit(job.JobID, cmd)

	s.logger.Info("Job started",
		zap.String("job_id", job.JobID),
		zap.String("run_stamp", stamp),
		zap.Int("pid", job.PID),
		zap.Int("worker_count", job.WorkerCount))

	return job, nil
}

// watchExit blocks on the coordinator process and finalizes the ledger
// when it exits. The registry entry is removed on every exit path so
// lookups never return a dead handle.
func (s *Supervisor) watchExit(jobID string, cmd *exec.Cmd) {
	waitErr := cmd.Wait()

	// Persist the outcome before dropping the handle: as long as the
	// entry is registered, ledger reads treat the job as alive, so the
	// read-side sweep cannot race this write.
	now := time.Now().UTC()
	_, err := s.ledger.Update(jobID, func(j *jobledger.Job) {
		// A stop may have finalized the entry while we were waiting;
		// terminal states are never overwritten.
		if j.Status != jobledger.StatusRunning {
			return
		}
		j.FinishedAt = &now
		j.PID = 0
		if waitErr == nil {
			j.Status = jobledger.StatusCompleted
			return
		}
		j.Status = jobledger.StatusFailed
		j.Error = fmt.Sprintf("worker coordinator exited: %v", waitErr)
	})
	s.registry.Remove(jobID)
	if err != nil {
		s.logger.Error("Failed to finalize job after exit", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	s.logger.Info("Coordinator exited",
		zap.String("job_id", jobID),
		zap.Bool("clean", waitErr == nil))
}

// closeRedirects closes any file-backed stdout/stderr redirects in the
// parent once the child has (or has failed to) inherit them.
func closeRedirects(cmd *exec.Cmd) {
	if f, ok := cmd.Stdout.(*os.File); ok && f != nil {
		_ = f.Close()
	}
	if f, ok := cmd.Stderr.(*os.File); ok && f != nil && cmd.Stderr != cmd.Stdout {
		_ = f.Close()
	}
}

// defaultCommand execs this binary's draft-worker command with the
// job-scoped parameters; everything else (store config, drafts root)
// travels through the inherited environment and config file.
func (s *Supervisor) defaultCommand(job jobledger.Job) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, "draft-worker",
		"--job-id", job.JobID,
		"--input", job.InputPath,
		"--stamp", job.RunStamp,
		"--workers", strconv.Itoa(job.WorkerCount),
	)
	cmd.Env = os.Environ()

	// The coordinator writes its own run logs; stdout/stderr only
	// catch panics and early startup failures.
	crash, err := os.Create(runartifact.ParallelLogPath(s.cfg.LogDir, job.RunStamp) + ".stderr")
	if err == nil {
		cmd.Stdout = crash
		cmd.Stderr = crash
	}

	return cmd, nil
}
