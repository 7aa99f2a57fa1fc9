package cleanup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/pkg/draftstore"
	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/procregistry"
	"github.com/partnerops/draftforge/pkg/runartifact"
)

type fakeHandle struct {
	mu      sync.Mutex
	pid     int
	signals []os.Signal
}

func (f *fakeHandle) Pid() int { return f.pid }

func (f *fakeHandle) Signal(sig os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeHandle) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

type fixture struct {
	coord      *Coordinator
	ledger     *jobledger.Ledger
	registry   *procregistry.Registry
	db         *sql.DB
	draftsRoot string
	uploadDir  string
	logDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	db, err := draftstore.Open(context.Background(), draftstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, draftstore.Migrate(context.Background(), db))

	f := &fixture{
		ledger:     jobledger.New(filepath.Join(root, "jobs.json")),
		registry:   procregistry.New(),
		db:         db,
		draftsRoot: filepath.Join(root, "drafts"),
		uploadDir:  filepath.Join(root, "uploads"),
		logDir:     filepath.Join(root, "logs"),
	}
	for _, dir := range []string{f.draftsRoot, f.uploadDir, f.logDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	resolver := runartifact.Resolver{LogDir: f.logDir}
	f.coord = New(f.ledger, f.registry, resolver, f.db, f.draftsRoot, zap.NewNop())
	return f
}

func (f *fixture) seedJob(t *testing.T, stamp string, inputJSON string) jobledger.Job {
	t.Helper()
	inputPath := filepath.Join(f.uploadDir, "items.json")
	require.NoError(t, os.WriteFile(inputPath, []byte(inputJSON), 0o644))

	started := time.Now().UTC()
	outputs := runartifact.BuildOutputPaths(f.draftsRoot, 2, stamp)
	job := jobledger.Job{
		JobID:           "job-1",
		Status:          jobledger.StatusRunning,
		InputPath:       inputPath,
		ItemCount:       2,
		WorkerCount:     1,
		CreatedAt:       started,
		StartedAt:       &started,
		PID:             0,
		RunStamp:        stamp,
		ParallelLogPath: runartifact.ParallelLogPath(f.logDir, stamp),
		WorkerLogDir:    f.logDir,
		OutputFolder:    outputs.FinalFolder,
		OutputExcelPath: outputs.OutputExcel,
		OutputZipPath:   outputs.OutputZip,
	}
	require.NoError(t, f.ledger.Upsert(job))
	return job
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestCleanup_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stamp := "20260810-120000-abcd1234"

	job := f.seedJob(t, stamp, `[{"spu":"ND-1"},{"spu":"ND-2"}]`)

	outputs := runartifact.BuildOutputPaths(f.draftsRoot, 2, stamp)
	touch(t, outputs.OutputExcel)
	touch(t, outputs.OutputZip)
	touch(t, filepath.Join(outputs.FinalFolder, "ND-1", "draft.json"))
	touch(t, filepath.Join(outputs.TempFolder, "ND-2", "draft.json"))
	touch(t, job.ParallelLogPath)

	seedProductRow(t, f.db, "ND-1", stamp)
	seedProductRow(t, f.db, "ND-2", stamp)
	seedProductRow(t, f.db, "ND-9", stamp)

	finalized, err := f.coord.Cleanup(ctx, &job)
	require.NoError(t, err)
	require.NotNil(t, finalized)

	assert.Equal(t, jobledger.StatusKilled, finalized.Status)
	assert.Equal(t, jobledger.StopReason, finalized.Error)
	assert.NotNil(t, finalized.FinishedAt)
	assert.Zero(t, finalized.PID)

	for _, path := range []string{
		job.InputPath,
		outputs.OutputExcel,
		outputs.OutputZip,
		outputs.FinalFolder,
		outputs.TempFolder,
		job.ParallelLogPath,
	} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "expected %s to be gone", path)
	}

	n, err := draftstore.CountProductsByRunStamp(ctx, f.db, stamp)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the out-of-scope product should survive")
}

func TestCleanup_SignalsLiveHandleFirst(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "20260810-120000-abcd1234", `[{"spu":"ND-1"}]`)

	h := &fakeHandle{pid: 4242}
	f.registry.Register(job.JobID, h)

	_, err := f.coord.Cleanup(context.Background(), &job)
	require.NoError(t, err)

	assert.Equal(t, 1, h.signalCount())
	_, ok := f.registry.Get(job.JobID)
	assert.False(t, ok, "handle should be deregistered after the stop")
}

func TestCleanup_SweepsCodeFoldersAcrossAllRuns(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "20260810-120000-abcd1234", `[{"spu":"ND-1"},{"spu":"ND-2"}]`)

	runA := filepath.Join(f.draftsRoot, "Drafted-Products-5-spu-20260701-090000-aaaa1111")
	runB := filepath.Join(f.draftsRoot, "Drafted-Products-9-spu-20260702-090000-bbbb2222")
	touch(t, filepath.Join(runA, "ND-1", "draft.json"))
	touch(t, filepath.Join(runB, "ND-2", "draft.json"))
	touch(t, filepath.Join(runB, "ND-9", "draft.json"))

	_, err := f.coord.Cleanup(context.Background(), &job)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(runA, "ND-1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(runB, "ND-2"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(runB, "ND-9", "draft.json"))
	assert.NoError(t, err, "codes outside the job's input must survive")
}

func TestCleanup_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedJob(t, "20260810-120000-abcd1234", `[{"spu":"ND-1"}]`)

	first, err := f.coord.Cleanup(ctx, &job)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.coord.Cleanup(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, jobledger.StatusKilled, second.Status)
	assert.Equal(t, jobledger.StopReason, second.Error)
}

func TestCleanup_MissingInputStillFinalizes(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "20260810-120000-abcd1234", `[{"spu":"ND-1"}]`)
	require.NoError(t, os.Remove(job.InputPath))

	finalized, err := f.coord.Cleanup(context.Background(), &job)
	require.NoError(t, err)
	require.NotNil(t, finalized)
	assert.Equal(t, jobledger.StatusKilled, finalized.Status)
}

func TestCleanup_BatchedDeletes(t *testing.T) {
	f := newFixture(t)
	f.coord.WithBatchSize(2)
	ctx := context.Background()
	stamp := "20260810-120000-abcd1234"

	inputPath := filepath.Join(f.uploadDir, "items.json")
	require.NoError(t, os.WriteFile(inputPath,
		[]byte(`[{"spu":"ND-1"},{"spu":"ND-2"},{"spu":"ND-3"},{"spu":"ND-4"},{"spu":"ND-5"}]`), 0o644))

	started := time.Now().UTC()
	job := jobledger.Job{
		JobID:     "job-batch",
		Status:    jobledger.StatusRunning,
		InputPath: inputPath,
		ItemCount: 5,
		CreatedAt: started,
		StartedAt: &started,
		RunStamp:  stamp,
	}
	require.NoError(t, f.ledger.Upsert(job))

	for _, code := range []string{"ND-1", "ND-2", "ND-3", "ND-4", "ND-5"} {
		seedProductRow(t, f.db, code, stamp)
	}

	_, err := f.coord.Cleanup(ctx, &job)
	require.NoError(t, err)

	n, err := draftstore.CountProductsByRunStamp(ctx, f.db, stamp)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStop_MissingJob(t *testing.T) {
	f := newFixture(t)

	job, err := f.coord.Stop(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStop_ReturnsFinalizedJob(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "20260810-120000-abcd1234", `[{"spu":"ND-1"}]`)

	finalized, err := f.coord.Stop(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, finalized)
	assert.Equal(t, jobledger.StatusKilled, finalized.Status)
}

func seedProductRow(t *testing.T, db *sql.DB, code, stamp string) {
	t.Helper()
	require.NoError(t, draftstore.UpsertProduct(context.Background(), db, draftstore.ProductRow{
		SPUCode:   code,
		Title:     "draft " + code,
		RunStamp:  stamp,
		ItemCount: 1,
		CreatedAt: time.Now(),
	}))
}
