// Package jobledger persists bulk draft job records.
//
// The ledger is a single JSON array in one file, acting as a flat
// table keyed by job_id. Every mutation is a full read-modify-write of
// the whole collection. Within one control-plane process a mutex
// serializes writers; there is no cross-process locking, so concurrent
// control planes can lose updates (last writer wins on the whole
// collection). That is acceptable for admin-tool traffic and is a
// documented limitation, not a guarantee.
package jobledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/partnerops/draftforge/pkg/procregistry"
)

// Ledger loads and saves the job collection at a fixed path.
type Ledger struct {
	path  string
	alive func(pid int) bool

	mu sync.Mutex
}

// New creates a ledger backed by the file at path. The file and its
// parent directory are created lazily on first save.
func New(path string) *Ledger {
	return &Ledger{
		path:  strings.TrimSpace(path),
		alive: procregistry.Alive,
	}
}

// WithAliveCheck overrides process liveness detection. Tests register
// fakes instead of probing real pids.
func (l *Ledger) WithAliveCheck(fn func(pid int) bool) *Ledger {
	if fn != nil {
		l.alive = fn
	}
	return l
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) ensureDir() error {
	if l.path == "" {
		return fmt.Errorf("ledger path is empty")
	}
	dir := filepath.Dir(l.path)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Load reads the full job collection. A missing file is an empty
// ledger, not an error.
//
// Entries still claiming running whose coordinator pid is gone are
// finalized on the way out and persisted best-effort. Each started job
// is watched by exactly one in-process goroutine, so a job started by
// a short-lived CLI invocation loses its watcher when that process
// exits; this read-side sweep is the poll half that catches those.
func (l *Ledger) Load() ([]Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return nil, err
	}
	if l.reconcile(jobs) {
		_ = l.save(jobs)
	}
	return jobs, nil
}

// reconcile finalizes running entries whose coordinator process no
// longer exists, reporting whether anything changed. The exit code is
// unrecoverable after the fact, so the run's archive stands in for it:
// the zip is the last artifact written, so its presence means the run
// finished everything before the process went away.
func (l *Ledger) reconcile(jobs []Job) bool {
	changed := false
	for i := range jobs {
		j := &jobs[i]
		if j.Status != StatusRunning || j.PID <= 0 {
			continue
		}
		if l.alive(j.PID) {
			continue
		}

		now := time.Now().UTC()
		j.FinishedAt = &now
		j.PID = 0
		if j.OutputZipPath != "" && fileExists(j.OutputZipPath) {
			j.Status = StatusCompleted
		} else {
			j.Status = StatusFailed
			j.Error = "worker coordinator exited without reporting status"
		}
		changed = true
	}
	return changed
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (l *Ledger) load() ([]Job, error) {
	if err := l.ensureDir(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, nil
	}

	var jobs []Job
	if err := json.Unmarshal([]byte(trimmed), &jobs); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return jobs, nil
}

// Save writes the full job collection, replacing the file atomically
// via temp-file rename.
func (l *Ledger) Save(jobs []Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save(jobs)
}

func (l *Ledger) save(jobs []Job) error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if jobs == nil {
		jobs = []Job{}
	}

	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("rename ledger file: %w", err)
	}
	return nil
}

// Get returns the job with the given id, or nil when absent.
func (l *Ledger) Get(jobID string) (*Job, error) {
	jobs, err := l.Load()
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].JobID == jobID {
			j := jobs[i]
			return &j, nil
		}
	}
	return nil, nil
}

// Upsert inserts job or replaces the entry with the same id. New
// entries are inserted at the front so the ledger stays most-recent
// first.
func (l *Ledger) Upsert(job Job) error {
	if strings.TrimSpace(job.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return err
	}

	for i := range jobs {
		if jobs[i].JobID == job.JobID {
			jobs[i] = job
			return l.save(jobs)
		}
	}

	jobs = append([]Job{job}, jobs...)
	return l.save(jobs)
}

// Update applies fn to the job with the given id and persists the
// whole collection. When the job is absent, Update is a no-op and
// returns nil without error so callers can treat "already gone" as an
// expected race rather than a failure.
func (l *Ledger) Update(jobID string, fn func(*Job)) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return nil, err
	}

	for i := range jobs {
		if jobs[i].JobID != jobID {
			continue
		}
		fn(&jobs[i])
		if err := l.save(jobs); err != nil {
			return nil, err
		}
		j := jobs[i]
		return &j, nil
	}

	return nil, nil
}

// Remove deletes the entries with the given ids, returning how many
// were removed. The orchestrator core never calls this; it exists for
// the operator-driven gc command.
func (l *Ledger) Remove(jobIDs []string) (int, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		drop[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return 0, err
	}

	kept := jobs[:0]
	removed := 0
	for _, j := range jobs {
		if _, ok := drop[j.JobID]; ok {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, l.save(kept)
}
