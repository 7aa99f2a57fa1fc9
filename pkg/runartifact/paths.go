// Package runartifact maps jobs to their on-disk run footprint.
//
// A "run" is one execution's set of artifacts: a shared coordinator
// log, one log per worker, and the generated output folder tree. Runs
// are identified by an opaque stamp that is independent of the job id;
// the naming scheme below is a compatibility contract with downstream
// tooling and must not change shape.
package runartifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewStamp mints a run stamp: a sortable timestamp plus a short random
// suffix so two runs started in the same second stay distinct.
func NewStamp(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return now.UTC().Format("20060102-150405") + "-" + suffix
}

// WorkerLogPath returns the per-worker log path, run-<stamp>-w<N>.log.
func WorkerLogPath(logDir, stamp string, workerID int) string {
	return filepath.Join(logDir, fmt.Sprintf("run-%s-w%d.log", stamp, workerID))
}

// ParallelLogPath returns the shared coordinator log path. The name is
// fixed and distinct from worker logs.
func ParallelLogPath(logDir, stamp string) string {
	return filepath.Join(logDir, fmt.Sprintf("run-%s-parallel.log", stamp))
}

// FinalFolderName returns Drafted-Products-<itemCount>-spu-<stamp>.
func FinalFolderName(itemCount int, stamp string) string {
	return fmt.Sprintf("Drafted-Products-%d-spu-%s", itemCount, stamp)
}

// TempFolderName returns the in-progress folder name for a run.
func TempFolderName(itemCount int, stamp string) string {
	return fmt.Sprintf("Drafted-Products-currently_running-%d-spu-%s", itemCount, stamp)
}

// OutputPaths are the derived artifact locations for one run.
type OutputPaths struct {
	FinalFolder string
	TempFolder  string
	OutputExcel string
	OutputZip   string
}

// BuildOutputPaths derives the four output locations for a run from
// the drafts root, the job's item count, and the stamp.
func BuildOutputPaths(draftsRoot string, itemCount int, stamp string) OutputPaths {
	final := FinalFolderName(itemCount, stamp)
	return OutputPaths{
		FinalFolder: filepath.Join(draftsRoot, final),
		TempFolder:  filepath.Join(draftsRoot, TempFolderName(itemCount, stamp)),
		OutputExcel: filepath.Join(draftsRoot, final+".xlsx"),
		OutputZip:   filepath.Join(draftsRoot, final+".zip"),
	}
}
