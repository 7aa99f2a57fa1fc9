package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/procregistry"
)

func TestResolveWorkerCount(t *testing.T) {
	tests := []struct {
		name      string
		itemCount int
		requested int
		def       int
		max       int
		want      int
	}{
		{name: "unrequested uses default", itemCount: 10, requested: 0, def: 1, max: 4, want: 1},
		{name: "requested within bounds", itemCount: 10, requested: 3, def: 1, max: 4, want: 3},
		{name: "requested above ceiling", itemCount: 10, requested: 99, def: 1, max: 4, want: 4},
		{name: "negative requested falls back", itemCount: 10, requested: -2, def: 2, max: 4, want: 2},
		{name: "capped by item count", itemCount: 2, requested: 4, def: 1, max: 4, want: 2},
		{name: "zero items still one worker", itemCount: 0, requested: 4, def: 1, max: 4, want: 1},
		{name: "zero config uses built-ins", itemCount: 10, requested: 9, def: 0, max: 0, want: 4},
		{name: "default above ceiling is clamped", itemCount: 10, requested: 0, def: 8, max: 4, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveWorkerCount(tt.itemCount, tt.requested, tt.def, tt.max)
			assert.Equal(t, tt.want, got)

			// Invariant: always within [1, min(max, max(itemCount,1))].
			upper := tt.max
			if upper <= 0 {
				upper = DefaultWorkerMax
			}
			if ceil := tt.itemCount; ceil >= 1 && ceil < upper {
				upper = ceil
			}
			if tt.itemCount < 1 {
				upper = 1
			}
			assert.GreaterOrEqual(t, got, 1)
			assert.LessOrEqual(t, got, upper)
		})
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *jobledger.Ledger, string) {
	t.Helper()
	root := t.TempDir()
	ledger := jobledger.New(filepath.Join(root, "jobs.json"))
	cfg := Config{
		WorkerMax:     4,
		WorkerDefault: 1,
		UploadDir:     filepath.Join(root, "uploads"),
		LogDir:        filepath.Join(root, "logs"),
		DraftsRoot:    filepath.Join(root, "drafts"),
	}
	return New(cfg, ledger, procregistry.New(), nil), ledger, root
}

func writeInput(t *testing.T, root, body string) string {
	t.Helper()
	path := filepath.Join(root, "items.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEnqueue_CreatesQueuedJob(t *testing.T) {
	s, ledger, root := newTestSupervisor(t)
	input := writeInput(t, root, `[{"sku":"ND-1"},{"sku":"ND-2"},{"sku":"ND-3"}]`)

	job, err := s.Enqueue(input, 0)
	require.NoError(t, err)
	assert.Equal(t, jobledger.StatusQueued, job.Status)
	assert.Equal(t, 3, job.ItemCount)
	assert.Equal(t, 1, job.WorkerCount)
	assert.Equal(t, input, job.InputPath)

	got, err := ledger.Get(job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, jobledger.StatusQueued, got.Status)
}

func TestEnqueue_EmptyDocument(t *testing.T) {
	s, _, root := newTestSupervisor(t)
	input := writeInput(t, root, `[]`)

	_, err := s.Enqueue(input, 0)
	require.Error(t, err)
}

func TestStart_SpawnsAndRecordsRun(t *testing.T) {
	s, ledger, root := newTestSupervisor(t)
	input := writeInput(t, root, `[{"sku":"ND-1"},{"sku":"ND-2"}]`)

	// Stand-in coordinator that stays alive until killed.
	s.WithCommandFunc(func(job jobledger.Job) (*exec.Cmd, error) {
		return exec.Command("sleep", "60"), nil
	})

	queued, err := s.Enqueue(input, 2)
	require.NoError(t, err)

	job, err := s.Start(queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobledger.StatusRunning, job.Status)
	assert.NotZero(t, job.PID)
	assert.NotNil(t, job.StartedAt)
	assert.NotEmpty(t, job.RunStamp)
	assert.Contains(t, job.OutputFolder, "Drafted-Products-2-spu-")
	assert.Contains(t, job.OutputZipPath, ".zip")

	// Registry holds a live handle while the process runs.
	h, ok := s.Registry().Get(job.JobID)
	require.True(t, ok)
	assert.Equal(t, job.PID, h.Pid())

	// Kill it and wait for the watcher to self-clean the registry.
	require.NoError(t, h.Signal(os.Kill))
	require.Eventually(t, func() bool {
		_, ok := s.Registry().Get(job.JobID)
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	// Signal exit lands the job in failed with finished_at set.
	require.Eventually(t, func() bool {
		got, err := ledger.Get(job.JobID)
		return err == nil && got != nil && got.Status == jobledger.StatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := ledger.Get(job.JobID)
	require.NoError(t, err)
	assert.NotNil(t, got.FinishedAt)
	assert.Zero(t, got.PID)
}

func TestStart_CleanExitCompletes(t *testing.T) {
	s, ledger, root := newTestSupervisor(t)
	input := writeInput(t, root, `[{"sku":"ND-1"}]`)

	s.WithCommandFunc(func(job jobledger.Job) (*exec.Cmd, error) {
		return exec.Command("true"), nil
	})

	queued, err := s.Enqueue(input, 0)
	require.NoError(t, err)
	_, err = s.Start(queued.JobID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := ledger.Get(queued.JobID)
		return err == nil && got != nil && got.Status == jobledger.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStart_ClosesCrashRedirectInParent(t *testing.T) {
	s, _, root := newTestSupervisor(t)
	input := writeInput(t, root, `[{"sku":"ND-1"}]`)

	crash, err := os.Create(filepath.Join(root, "crash.log"))
	require.NoError(t, err)

	s.WithCommandFunc(func(job jobledger.Job) (*exec.Cmd, error) {
		cmd := exec.Command("sleep", "60")
		cmd.Stdout = crash
		cmd.Stderr = crash
		return cmd, nil
	})

	queued, err := s.Enqueue(input, 0)
	require.NoError(t, err)
	job, err := s.Start(queued.JobID)
	require.NoError(t, err)

	// The child owns its inherited copy; the parent's descriptor must be
	// closed once the process is away, or a long-lived control plane
	// leaks one per started job.
	_, err = crash.Write([]byte("x"))
	require.ErrorIs(t, err, os.ErrClosed)

	if h, ok := s.Registry().Get(job.JobID); ok {
		_ = h.Signal(os.Kill)
	}
}

// A running entry whose pid is dead and unwatched belongs to a control
// plane that exited before its watcher could finalize; reads sweep it
// into a terminal state. A watched pid is never swept, even between
// process exit and the watcher's own ledger write.
func TestLedgerSweep_SkipsWatchedPids(t *testing.T) {
	s, ledger, _ := newTestSupervisor(t)

	s.Registry().Register("job-watched", stubHandle(4242))
	require.NoError(t, ledger.Upsert(jobledger.Job{
		JobID: "job-watched", Status: jobledger.StatusRunning, PID: 4242,
	}))
	require.NoError(t, ledger.Upsert(jobledger.Job{
		JobID: "job-abandoned", Status: jobledger.StatusRunning, PID: 99999999,
	}))

	watched, err := ledger.Get("job-watched")
	require.NoError(t, err)
	assert.Equal(t, jobledger.StatusRunning, watched.Status)

	abandoned, err := ledger.Get("job-abandoned")
	require.NoError(t, err)
	assert.Equal(t, jobledger.StatusFailed, abandoned.Status)
	assert.NotNil(t, abandoned.FinishedAt)
}

type stubHandle int

func (h stubHandle) Pid() int { return int(h) }

func (h stubHandle) Signal(os.Signal) error { return nil }

func TestStart_RejectsNonQueued(t *testing.T) {
	s, ledger, root := newTestSupervisor(t)
	input := writeInput(t, root, `[{"sku":"ND-1"}]`)

	queued, err := s.Enqueue(input, 0)
	require.NoError(t, err)

	_, err = ledger.Update(queued.JobID, func(j *jobledger.Job) {
		j.Status = jobledger.StatusKilled
	})
	require.NoError(t, err)

	_, err = s.Start(queued.JobID)
	require.Error(t, err)
}

func TestStart_UnknownJob(t *testing.T) {
	s, _, _ := newTestSupervisor(t)
	_, err := s.Start("absent")
	require.Error(t, err)
}
