package jobledger

import "time"

// Status is the lifecycle state of a bulk draft job.
//
// NOTE: These values are persisted in the ledger file and are part of
// the stable on-disk contract.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// StopReason is the fixed error recorded when a job is stopped.
const StopReason = "Stopped by user."

// Summary is the output snapshot computed when a completed job is
// queried.
type Summary struct {
	SPUCount         int    `json:"spu_count"`
	ImageFolderCount int    `json:"image_folder_count"`
	OutputExcelPath  string `json:"output_excel_path,omitempty"`
	OutputZipPath    string `json:"output_zip_path,omitempty"`
}

// Job is the persistent record for one bulk draft generation request.
//
// The schema is designed for backward-compatible extension (additive
// fields). Optional fields stay pointers or omitempty strings so a
// record created before start carries no phantom values.
type Job struct {
	JobID       string `json:"job_id"`
	Status      Status `json:"status"`
	InputPath   string `json:"input_path"`
	ItemCount   int    `json:"item_count"`
	WorkerCount int    `json:"worker_count,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	PID int `json:"pid,omitempty"`

	// RunStamp identifies the on-disk run this job produced. It may be
	// absent even after completion: a stop issued immediately after
	// start can race the write. The runartifact resolver recovers it.
	RunStamp string `json:"run_stamp,omitempty"`

	ParallelLogPath string `json:"parallel_log_path,omitempty"`
	WorkerLogDir    string `json:"worker_log_dir,omitempty"`

	OutputFolder    string `json:"output_folder,omitempty"`
	OutputExcelPath string `json:"output_excel_path,omitempty"`
	OutputZipPath   string `json:"output_zip_path,omitempty"`

	Summary *Summary `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}
