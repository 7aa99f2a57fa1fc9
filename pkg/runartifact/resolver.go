package runartifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/partnerops/draftforge/pkg/jobledger"
)

// DefaultStartTolerance absorbs clock and flush skew between a job's
// recorded start time and the first worker-log write. It is a tunable
// heuristic, not a protocol constant.
const DefaultStartTolerance = 60 * time.Second

// workerLogGlob drives worker-log discovery; workerLogPattern only
// extracts the stamp from each discovered name and drops names whose
// worker suffix is not numeric, so the coordinator log
// (run-<stamp>-parallel.log) is never counted.
const workerLogGlob = "run-*-w*.*"

var workerLogPattern = regexp.MustCompile(`^run-(.+)-w([0-9]+)\.[A-Za-z0-9]+$`)

// Resolver recovers run stamps for jobs whose ledger entry never
// captured one.
type Resolver struct {
	// LogDir is the worker-log directory to scan.
	LogDir string

	// StartTolerance overrides DefaultStartTolerance when positive.
	StartTolerance time.Duration
}

func (r Resolver) tolerance() time.Duration {
	if r.StartTolerance > 0 {
		return r.StartTolerance
	}
	return DefaultStartTolerance
}

// FindRunStamp locates the on-disk run for a job.
//
// Fast path: a recorded stamp is returned as-is with no filesystem
// scan. A job that never started has nothing to recover. Otherwise the
// worker-log directory is scanned for run-<stamp>-w<N>.<ext> files,
// grouped by stamp; a stamp whose newest file predates
// startedAt-tolerance is discarded, and the newest survivor wins.
//
// This is a heuristic, not a guarantee: two jobs started within the
// tolerance window that share the log directory can be ambiguous.
func (r Resolver) FindRunStamp(job *jobledger.Job) (string, bool) {
	if job == nil {
		return "", false
	}
	if job.RunStamp != "" {
		return job.RunStamp, true
	}
	if job.StartedAt == nil {
		return "", false
	}

	newest, err := r.scanStamps()
	if err != nil || len(newest) == 0 {
		return "", false
	}

	cutoff := job.StartedAt.Add(-r.tolerance())

	var bestStamp string
	var bestTime time.Time
	for stamp, mtime := range newest {
		if mtime.Before(cutoff) {
			continue
		}
		if bestStamp == "" || mtime.After(bestTime) {
			bestStamp = stamp
			bestTime = mtime
		}
	}

	if bestStamp == "" {
		return "", false
	}
	return bestStamp, true
}

// scanStamps globs the log directory for worker logs and returns the
// most recent modification time per candidate stamp.
func (r Resolver) scanStamps() (map[string]time.Time, error) {
	if _, err := os.Stat(r.LogDir); err != nil {
		return nil, fmt.Errorf("read worker log dir: %w", err)
	}

	names, err := doublestar.Glob(os.DirFS(r.LogDir), workerLogGlob)
	if err != nil {
		return nil, fmt.Errorf("glob worker logs: %w", err)
	}

	newest := make(map[string]time.Time)
	for _, name := range names {
		m := workerLogPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		info, err := os.Stat(filepath.Join(r.LogDir, name))
		if err != nil || info.IsDir() {
			continue
		}
		stamp := m[1]
		if cur, ok := newest[stamp]; !ok || info.ModTime().After(cur) {
			newest[stamp] = info.ModTime()
		}
	}
	return newest, nil
}
