package jobledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "data", "jobs.json"))
}

func TestLedger_UpsertGetRoundTrip(t *testing.T) {
	l := newTestLedger(t)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	job := Job{
		JobID:     "job-1",
		Status:    StatusQueued,
		InputPath: "/tmp/items.json",
		ItemCount: 10,
		CreatedAt: now,
	}

	if err := l.Upsert(job); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := l.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for existing job")
	}
	if got.JobID != job.JobID {
		t.Fatalf("job_id mismatch: got=%q want=%q", got.JobID, job.JobID)
	}
	if got.Status != StatusQueued {
		t.Fatalf("status mismatch: got=%q", got.Status)
	}
	if got.ItemCount != 10 {
		t.Fatalf("item_count mismatch: got=%d", got.ItemCount)
	}
}

func TestLedger_GetMissingReturnsNil(t *testing.T) {
	l := newTestLedger(t)

	got, err := l.Get("absent")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing job, got %+v", got)
	}
}

func TestLedger_UpsertInsertsNewestFirst(t *testing.T) {
	l := newTestLedger(t)

	t1 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	if err := l.Upsert(Job{JobID: "job-1", Status: StatusQueued, CreatedAt: t1}); err != nil {
		t.Fatalf("Upsert job-1: %v", err)
	}
	if err := l.Upsert(Job{JobID: "job-2", Status: StatusQueued, CreatedAt: t2}); err != nil {
		t.Fatalf("Upsert job-2: %v", err)
	}

	jobs, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("unexpected job count: %d", len(jobs))
	}
	if jobs[0].JobID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", jobs[0].JobID)
	}
}

func TestLedger_UpsertReplacesInPlace(t *testing.T) {
	l := newTestLedger(t).WithAliveCheck(func(int) bool { return true })

	if err := l.Upsert(Job{JobID: "job-1", Status: StatusQueued}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := l.Upsert(Job{JobID: "job-1", Status: StatusRunning, PID: 4242}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	jobs, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("duplicate entry after replace: %d", len(jobs))
	}
	if jobs[0].Status != StatusRunning || jobs[0].PID != 4242 {
		t.Fatalf("replace did not stick: %+v", jobs[0])
	}
}

func TestLedger_UpdateAppliesTransform(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Upsert(Job{JobID: "job-1", Status: StatusRunning}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	now := time.Now().UTC()
	got, err := l.Update("job-1", func(j *Job) {
		j.Status = StatusKilled
		j.FinishedAt = &now
		j.Error = StopReason
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got == nil {
		t.Fatal("Update() returned nil for existing job")
	}
	if got.Status != StatusKilled || got.Error != StopReason {
		t.Fatalf("transform not applied: %+v", got)
	}

	persisted, err := l.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if persisted.Status != StatusKilled {
		t.Fatalf("update not persisted: %+v", persisted)
	}
}

func TestLedger_UpdateMissingIsNoOp(t *testing.T) {
	l := newTestLedger(t)

	got, err := l.Update("absent", func(j *Job) {
		j.Status = StatusKilled
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil result for missing job, got %+v", got)
	}
}

func TestLedger_RemoveKeepsOthers(t *testing.T) {
	l := newTestLedger(t)

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := l.Upsert(Job{JobID: id, Status: StatusKilled}); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	removed, err := l.Remove([]string{"job-1", "job-3", "absent"})
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed=%d want=2", removed)
	}

	jobs, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "job-2" {
		t.Fatalf("unexpected survivors: %+v", jobs)
	}
}

func TestLedger_FinalizesJobWhoseCoordinatorExited(t *testing.T) {
	l := newTestLedger(t).WithAliveCheck(func(int) bool { return false })

	zip := filepath.Join(t.TempDir(), "Drafted-Products-2-spu-x.zip")
	if err := os.WriteFile(zip, []byte("zip"), 0644); err != nil {
		t.Fatalf("write zip: %v", err)
	}

	started := time.Now().UTC().Add(-time.Minute)
	if err := l.Upsert(Job{
		JobID:         "job-1",
		Status:        StatusRunning,
		PID:           4242,
		StartedAt:     &started,
		OutputZipPath: zip,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := l.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("coordinator exited with artifacts on disk; status=%q want=%q", got.Status, StatusCompleted)
	}
	if got.PID != 0 {
		t.Fatalf("pid not cleared: %d", got.PID)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	// The rewrite must be persisted, not just returned: a fresh ledger
	// reading the same file sees the finalized entry without any sweep.
	fresh := New(l.Path()).WithAliveCheck(func(int) bool { return true })
	persisted, err := fresh.Get("job-1")
	if err != nil {
		t.Fatalf("fresh Get() error: %v", err)
	}
	if persisted.Status != StatusCompleted {
		t.Fatalf("finalization not persisted: %+v", persisted)
	}
}

func TestLedger_FinalizesAbandonedRunAsFailed(t *testing.T) {
	l := newTestLedger(t).WithAliveCheck(func(int) bool { return false })

	if err := l.Upsert(Job{
		JobID:         "job-1",
		Status:        StatusRunning,
		PID:           4242,
		OutputZipPath: filepath.Join(t.TempDir(), "never-written.zip"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := l.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status=%q want=%q", got.Status, StatusFailed)
	}
	if got.Error == "" {
		t.Fatal("expected an error note on the failed entry")
	}
}

func TestLedger_LeavesLiveCoordinatorAlone(t *testing.T) {
	l := newTestLedger(t).WithAliveCheck(func(int) bool { return true })

	if err := l.Upsert(Job{JobID: "job-1", Status: StatusRunning, PID: 4242}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := l.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusRunning || got.PID != 4242 {
		t.Fatalf("live job rewritten: %+v", got)
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusKilled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
