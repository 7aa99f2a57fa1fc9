// Package draftworker implements the coordinator process of a bulk
// draft job.
//
// The engine shards the uploaded work items across a fixed pool of
// worker goroutines. Each worker writes one draft folder per product
// code into a shared in-progress run folder and records the draft in
// the catalog store. When every shard has drained, the run folder is
// renamed to its final name, an optional spreadsheet is written, and
// the folder is archived.
//
// Progress is written to two places: each worker has its own log file
// and the engine writes coordinator-level events to a shared parallel
// log. Both live in the job's log directory, named after the run stamp.
package draftworker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/partnerops/draftforge/internal/observability"
	"github.com/partnerops/draftforge/pkg/draftstore"
	"github.com/partnerops/draftforge/pkg/runartifact"
	"github.com/partnerops/draftforge/pkg/workitem"
)

// Config configures a draft run.
type Config struct {
	// JobID correlates log lines and catalog rows with the ledger entry.
	JobID string

	// Stamp is the run stamp minted by the supervisor at spawn time.
	Stamp string

	// Workers is the number of parallel draft workers.
	// Default: 1
	Workers int

	// RateLimit is the maximum drafts started per second across all
	// workers. Zero means unlimited.
	RateLimit float64

	// LogDir receives the per-worker and parallel log files.
	LogDir string

	// DraftsRoot is the parent of the run's output folder.
	DraftsRoot string
}

// Summary contains aggregate statistics from a completed run.
type Summary struct {
	// ItemsProcessed is the number of work items handed to a worker.
	ItemsProcessed int64

	// DraftsWritten is the number of draft folders created.
	DraftsWritten int64

	// VariantsWritten is the number of variant rows recorded.
	VariantsWritten int64

	// SkippedNoCode counts items with no recoverable product code.
	SkippedNoCode int64

	// Errors is the count of non-fatal per-item failures.
	Errors int64

	// Duration is the total run time.
	Duration time.Duration

	// Outputs are the final artifact paths.
	Outputs runartifact.OutputPaths
}

// SheetWriter renders the run's summary spreadsheet. The engine skips
// the spreadsheet entirely when no writer is configured.
type SheetWriter interface {
	WriteSheet(path string, drafts []Draft) error
}

// Archiver packages the final run folder. The default implementation
// writes a zip next to the folder.
type Archiver interface {
	Archive(folder, dest string) error
}

// Draft is one completed product draft, as handed to the SheetWriter.
type Draft struct {
	SPUCode string
	Folder  string
	Item    workitem.Item
}

// Engine executes one draft run. Safe for single use only.
type Engine struct {
	config   Config
	db       *sql.DB // nil disables catalog writes
	sheet    SheetWriter
	archiver Archiver
	limiter  *rate.Limiter

	itemsProcessed  atomic.Int64
	draftsWritten   atomic.Int64
	variantsWritten atomic.Int64
	skippedNoCode   atomic.Int64
	errorCount      atomic.Int64

	finalFolderName string

	mu     sync.Mutex
	drafts []Draft
}

// New creates an engine for one run.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	e := &Engine{
		config:   cfg,
		archiver: zipArchiver{},
	}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e
}

// WithStore enables catalog writes. Returns the engine for chaining.
func (e *Engine) WithStore(db *sql.DB) *Engine {
	e.db = db
	return e
}

// WithSheetWriter sets the optional spreadsheet renderer.
func (e *Engine) WithSheetWriter(w SheetWriter) *Engine {
	e.sheet = w
	return e
}

// WithArchiver overrides the folder archiver.
func (e *Engine) WithArchiver(a Archiver) *Engine {
	e.archiver = a
	return e
}

// Run executes the full draft run and returns summary statistics.
//
// Run blocks until every shard has drained or the context is
// cancelled. Per-item failures are logged and counted but never abort
// the run; only setup failures (log files, run folder) and
// finalization failures (rename, archive) are fatal.
func (e *Engine) Run(ctx context.Context, items []workitem.Item) (*Summary, error) {
	startTime := time.Now()

	outputs := runartifact.BuildOutputPaths(e.config.DraftsRoot, len(items), e.config.Stamp)
	e.finalFolderName = runartifact.FinalFolderName(len(items), e.config.Stamp)

	parallelLog, closeParallel, err := observability.NewFileLogger(
		runartifact.ParallelLogPath(e.config.LogDir, e.config.Stamp))
	if err != nil {
		return nil, fmt.Errorf("open parallel log: %w", err)
	}
	defer closeParallel()

	log := parallelLog.With(
		zap.String("job_id", e.config.JobID),
		zap.String("stamp", e.config.Stamp))

	if err := os.MkdirAll(outputs.TempFolder, 0o755); err != nil {
		return nil, fmt.Errorf("create run folder: %w", err)
	}

	workers := e.config.Workers
	if workers > len(items) && len(items) > 0 {
		workers = len(items)
	}

	log.Info("Starting draft run",
		zap.Int("items", len(items)),
		zap.Int("workers", workers))

	if err := e.runShards(ctx, items, workers, outputs.TempFolder, log); err != nil {
		return e.buildSummary(outputs, time.Since(startTime)), err
	}
	if err := ctx.Err(); err != nil {
		return e.buildSummary(outputs, time.Since(startTime)), err
	}

	if err := e.finalize(outputs, log); err != nil {
		return e.buildSummary(outputs, time.Since(startTime)), err
	}

	summary := e.buildSummary(outputs, time.Since(startTime))
	log.Info("Draft run complete",
		zap.Int64("drafts", summary.DraftsWritten),
		zap.Int64("skipped", summary.SkippedNoCode),
		zap.Int64("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// runShards splits items into contiguous shards, one per worker, and
// drains them in parallel.
func (e *Engine) runShards(ctx context.Context, items []workitem.Item, workers int, runFolder string, log *zap.Logger) error {
	shards := splitShards(items, workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(shards))

	for i, shard := range shards {
		workerID := i + 1

		workerLog, closeWorker, err := observability.NewFileLogger(
			runartifact.WorkerLogPath(e.config.LogDir, e.config.Stamp, workerID))
		if err != nil {
			// Workers launched before the failure are still drafting;
			// stop them and drain before unwinding.
			cancel()
			wg.Wait()
			return fmt.Errorf("open worker %d log: %w", workerID, err)
		}

		wg.Add(1)
		go func(id int, shard []workitem.Item, wlog *zap.Logger, closeLog func()) {
			defer wg.Done()
			defer closeLog()

			wlog = wlog.With(
				zap.String("job_id", e.config.JobID),
				zap.Int("worker", id))
			wlog.Info("Worker started", zap.Int("shard_size", len(shard)))

			for _, item := range shard {
				if err := ctx.Err(); err != nil {
					errCh <- err
					return
				}
				if err := e.waitForRateLimit(ctx); err != nil {
					errCh <- err
					return
				}
				e.processItem(ctx, item, runFolder, wlog)
			}

			wlog.Info("Worker finished")
		}(workerID, shard, workerLog, closeWorker)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			log.Warn("Run interrupted", zap.Error(err))
			return err
		}
	}
	return nil
}

// processItem drafts a single work item. Failures are counted and
// logged, never returned: one bad item must not sink the shard.
func (e *Engine) processItem(ctx context.Context, item workitem.Item, runFolder string, log *zap.Logger) {
	e.itemsProcessed.Add(1)

	code, ok := workitem.ExtractCode(item)
	if !ok {
		e.skippedNoCode.Add(1)
		log.Warn("No product code recoverable; skipping item")
		return
	}

	folder := filepath.Join(runFolder, code)
	if err := e.writeDraftFolder(folder, item); err != nil {
		e.errorCount.Add(1)
		log.Warn("Failed to write draft folder", zap.String("code", code), zap.Error(err))
		return
	}

	if err := e.recordDraft(ctx, code, item); err != nil {
		e.errorCount.Add(1)
		log.Warn("Failed to record draft", zap.String("code", code), zap.Error(err))
		// Folder stays: the catalog row is best-effort.
	}

	e.draftsWritten.Add(1)
	e.mu.Lock()
	e.drafts = append(e.drafts, Draft{SPUCode: code, Folder: folder, Item: item})
	e.mu.Unlock()

	log.Info("Drafted product", zap.String("code", code))
}

// writeDraftFolder lays out <CODE>/draft.json and <CODE>/images/.
func (e *Engine) writeDraftFolder(folder string, item workitem.Item) error {
	if err := os.MkdirAll(filepath.Join(folder, "images"), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(folder, "draft.json"), b, 0o644)
}

// recordDraft upserts the product row and its variant rows.
func (e *Engine) recordDraft(ctx context.Context, code string, item workitem.Item) error {
	if e.db == nil {
		return nil
	}

	now := time.Now().UTC()
	title, _ := item["title"].(string)

	if err := draftstore.UpsertProduct(ctx, e.db, draftstore.ProductRow{
		SPUCode:   code,
		Title:     title,
		RunStamp:  e.config.Stamp,
		Folder:    filepath.Join(e.finalFolderName, code),
		ItemCount: 1,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	for i, variant := range workitem.Variants(item) {
		sku, _ := variant["sku"].(string)
		attrs, err := json.Marshal(variant)
		if err != nil {
			return err
		}
		if err := draftstore.UpsertVariant(ctx, e.db, draftstore.VariantRow{
			VariantID: fmt.Sprintf("%s-%s-%d", code, e.config.Stamp, i),
			SPUCode:   code,
			SKUCode:   sku,
			AttrsJSON: string(attrs),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		e.variantsWritten.Add(1)
	}
	return nil
}

// finalize renames the run folder to its final name, renders the
// spreadsheet, and archives the folder.
func (e *Engine) finalize(outputs runartifact.OutputPaths, log *zap.Logger) error {
	if err := os.Rename(outputs.TempFolder, outputs.FinalFolder); err != nil {
		return fmt.Errorf("finalize run folder: %w", err)
	}
	log.Info("Run folder finalized", zap.String("folder", outputs.FinalFolder))

	if e.sheet != nil {
		e.mu.Lock()
		drafts := make([]Draft, len(e.drafts))
		copy(drafts, e.drafts)
		e.mu.Unlock()

		if err := e.sheet.WriteSheet(outputs.OutputExcel, drafts); err != nil {
			return fmt.Errorf("write spreadsheet: %w", err)
		}
		log.Info("Spreadsheet written", zap.String("path", outputs.OutputExcel))
	}

	if err := e.archiver.Archive(outputs.FinalFolder, outputs.OutputZip); err != nil {
		return fmt.Errorf("archive run folder: %w", err)
	}
	log.Info("Archive written", zap.String("path", outputs.OutputZip))

	return nil
}

func (e *Engine) buildSummary(outputs runartifact.OutputPaths, duration time.Duration) *Summary {
	return &Summary{
		ItemsProcessed:  e.itemsProcessed.Load(),
		DraftsWritten:   e.draftsWritten.Load(),
		VariantsWritten: e.variantsWritten.Load(),
		SkippedNoCode:   e.skippedNoCode.Load(),
		Errors:          e.errorCount.Load(),
		Duration:        duration,
		Outputs:         outputs,
	}
}

func (e *Engine) waitForRateLimit(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// splitShards distributes items into n contiguous shards whose sizes
// differ by at most one.
func splitShards(items []workitem.Item, n int) [][]workitem.Item {
	if n <= 0 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}
	if n == 0 {
		return nil
	}

	shards := make([][]workitem.Item, 0, n)
	base := len(items) / n
	extra := len(items) % n

	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shards = append(shards, items[start:start+size])
		start += size
	}
	return shards
}
