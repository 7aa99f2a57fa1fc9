// Package cleanup removes every trace of a bulk draft job.
//
// A stop (or terminal removal) touches three independent systems: the
// coordinator OS process, the filesystem tree of generated artifacts,
// and the draft rows in the catalog database. Each step is best-effort
// and ordered so a still-running worker cannot regenerate an artifact
// a later step is about to delete. Only the final ledger write may
// fail loudly: every other failure is an expected race (file already
// gone, process already exited, row already absent) and is logged as a
// structured event instead of aborting the remaining steps.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/partnerops/draftforge/pkg/draftstore"
	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/procregistry"
	"github.com/partnerops/draftforge/pkg/runartifact"
	"github.com/partnerops/draftforge/pkg/workitem"
)

// DefaultDeleteBatchSize is how many product codes each database
// delete statement covers.
const DefaultDeleteBatchSize = 100

// Coordinator orchestrates job teardown.
type Coordinator struct {
	ledger   *jobledger.Ledger
	registry *procregistry.Registry
	resolver runartifact.Resolver

	// db may be nil when no draft store is configured; step 7 is then
	// skipped entirely.
	db *sql.DB

	draftsRoot string
	batchSize  int
	logger     *zap.Logger
}

func New(ledger *jobledger.Ledger, registry *procregistry.Registry, resolver runartifact.Resolver, db *sql.DB, draftsRoot string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		ledger:     ledger,
		registry:   registry,
		resolver:   resolver,
		db:         db,
		draftsRoot: draftsRoot,
		batchSize:  DefaultDeleteBatchSize,
		logger:     logger,
	}
}

// WithBatchSize overrides the delete batch size (tests use small ones).
func (c *Coordinator) WithBatchSize(n int) *Coordinator {
	if n > 0 {
		c.batchSize = n
	}
	return c
}

// Stop tears down the job with the given id and finalizes its ledger
// entry as killed.
//
// The returned job is the freshly finalized record. A missing ledger
// entry returns (nil, nil): the caller decides whether "already gone"
// is an error. Only a failed ledger write returns a non-nil error,
// since reporting success while the ledger disagrees would corrupt the
// job's observable state.
func (c *Coordinator) Stop(ctx context.Context, jobID string) (*jobledger.Job, error) {
	job, err := c.ledger.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return c.Cleanup(ctx, job)
}

// Cleanup runs the eight teardown steps for a job, in order. It is
// idempotent: a second invocation finds nothing left to remove and
// re-finalizes the ledger to the same terminal state.
func (c *Coordinator) Cleanup(ctx context.Context, job *jobledger.Job) (*jobledger.Job, error) {
	log := c.logger.With(zap.String("job_id", job.JobID))

	// Step 1: derive the blast radius before anything is deleted; the
	// input document is the only record of which codes this job touched.
	codes := c.blastRadius(job, log)

	// Step 2: advisory process termination. Never confirmed: later
	// steps only delete, so racing a slow-dying process is safe.
	c.terminate(job, log)

	// Step 3: input document.
	c.removePath(job.InputPath, "input", log)

	// Step 4: derived outputs, if the run can be located at all.
	if stamp, ok := c.resolver.FindRunStamp(job); ok {
		outputs := runartifact.BuildOutputPaths(c.draftsRoot, job.ItemCount, stamp)
		c.removePath(outputs.OutputExcel, "output_excel", log)
		c.removePath(outputs.OutputZip, "output_zip", log)
		c.removePath(outputs.FinalFolder, "final_folder", log)
		c.removePath(outputs.TempFolder, "temp_folder", log)
	} else {
		log.Info("No run stamp recoverable; skipping derived outputs")
	}

	// Step 5: shared coordinator log.
	c.removePath(job.ParallelLogPath, "parallel_log", log)

	// Step 6: per-code folders across every historical run directory.
	// A re-run of the same codes may have left stale folders in older
	// runs, so the sweep is deliberately not limited to this job's run.
	c.removeCodeFolders(codes, log)

	// Step 7: draft rows, in independent batches.
	c.deleteDraftRows(ctx, codes, log)

	// Step 8: finalize the ledger. This is the only step allowed to
	// fail loudly.
	now := time.Now().UTC()
	finalized, err := c.ledger.Update(job.JobID, func(j *jobledger.Job) {
		j.Status = jobledger.StatusKilled
		j.FinishedAt = &now
		j.PID = 0
		j.Error = jobledger.StopReason
	})
	if err != nil {
		return nil, fmt.Errorf("finalize job %s: %w", job.JobID, err)
	}
	if finalized == nil {
		// Entry vanished between Get and Update; treat as already cleaned.
		return nil, nil
	}

	log.Info("Job cleaned up",
		zap.Int("blast_radius", len(codes)),
		zap.String("status", string(finalized.Status)))

	return finalized, nil
}

// blastRadius re-scans the job's input document for the product codes
// it touched. A missing or unreadable document yields an empty set.
func (c *Coordinator) blastRadius(job *jobledger.Job, log *zap.Logger) []string {
	if job.InputPath == "" {
		return nil
	}
	items, err := workitem.Load(job.InputPath)
	if err != nil {
		log.Warn("Could not derive blast radius from input", zap.Error(err))
		return nil
	}
	return workitem.Codes(items)
}

func (c *Coordinator) terminate(job *jobledger.Job, log *zap.Logger) {
	if h, ok := c.registry.Get(job.JobID); ok {
		if err := h.Signal(syscall.SIGTERM); err != nil {
			log.Info("Signal to live handle failed", zap.Int("pid", h.Pid()), zap.Error(err))
		}
		c.registry.Remove(job.JobID)
		return
	}

	if job.PID > 0 {
		if err := procregistry.SignalPID(job.PID, syscall.SIGTERM); err != nil {
			log.Info("Signal to recorded pid failed", zap.Int("pid", job.PID), zap.Error(err))
		}
	}
}

// removePath deletes a file or tree, tolerating absence.
func (c *Coordinator) removePath(path, kind string, log *zap.Logger) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		log.Warn("Failed to remove artifact",
			zap.String("kind", kind),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	log.Info("Removed artifact", zap.String("kind", kind), zap.String("path", path))
}

func (c *Coordinator) removeCodeFolders(codes []string, log *zap.Logger) {
	if len(codes) == 0 || c.draftsRoot == "" {
		return
	}
	entries, err := os.ReadDir(c.draftsRoot)
	if err != nil {
		log.Warn("Could not scan drafts root", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(c.draftsRoot, entry.Name())
		for _, code := range codes {
			target := filepath.Join(runDir, code)
			if _, err := os.Stat(target); err != nil {
				continue
			}
			if err := os.RemoveAll(target); err != nil {
				log.Warn("Failed to remove code folder",
					zap.String("code", code),
					zap.String("path", target),
					zap.Error(err))
				continue
			}
			log.Info("Removed code folder", zap.String("code", code), zap.String("path", target))
		}
	}
}

// deleteDraftRows removes variant then product rows for the blast
// radius, in batches. Each batch is independent: one bad batch cannot
// block the next, and none of them can block ledger finalization.
func (c *Coordinator) deleteDraftRows(ctx context.Context, codes []string, log *zap.Logger) {
	if c.db == nil || len(codes) == 0 {
		return
	}

	for start := 0; start < len(codes); start += c.batchSize {
		end := start + c.batchSize
		if end > len(codes) {
			end = len(codes)
		}
		batch := codes[start:end]

		if n, err := draftstore.DeleteVariantsByCodes(ctx, c.db, batch); err != nil {
			log.Warn("Variant delete batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		} else if n > 0 {
			log.Info("Deleted variant rows", zap.Int64("rows", n), zap.Int("batch_size", len(batch)))
		}

		if n, err := draftstore.DeleteProductsByCodes(ctx, c.db, batch); err != nil {
			log.Warn("Product delete batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		} else if n > 0 {
			log.Info("Deleted product rows", zap.Int64("rows", n), zap.Int("batch_size", len(batch)))
		}
	}
}
