package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/partnerops/draftforge/internal/errors"
	"github.com/partnerops/draftforge/pkg/cleanup"
	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/runartifact"
	"github.com/partnerops/draftforge/pkg/supervisor"
)

// maxUploadBytes bounds uploaded work-item documents.
const maxUploadBytes = 64 << 20

var workerSourcePattern = regexp.MustCompile(`^w([0-9]+)$`)

// JobsHandler serves the /jobs API.
type JobsHandler struct {
	ledger     *jobledger.Ledger
	supervisor *supervisor.Supervisor
	cleanup    *cleanup.Coordinator
	resolver   runartifact.Resolver
	uploadDir  string
	logger     *zap.Logger
}

func NewJobsHandler(ledger *jobledger.Ledger, sup *supervisor.Supervisor, clean *cleanup.Coordinator, resolver runartifact.Resolver, uploadDir string, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{
		ledger:     ledger,
		supervisor: sup,
		cleanup:    clean,
		resolver:   resolver,
		uploadDir:  uploadDir,
		logger:     logger,
	}
}

// Create accepts a multipart work-item document and enqueues a job.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithError(w, r, apperrors.InvalidArgumentf("expected multipart form upload: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, r, apperrors.InvalidArgumentf("missing file field: %v", err))
		return
	}
	defer file.Close()

	workers := 0
	if raw := r.FormValue("workers"); raw != "" {
		workers, err = strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, r, apperrors.InvalidArgumentf("invalid workers value %q", raw))
			return
		}
	}

	inputPath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		respondWithError(w, r, apperrors.Internalf(err, "could not store upload"))
		return
	}

	job, err := h.supervisor.Enqueue(inputPath, workers)
	if err != nil {
		_ = os.Remove(inputPath)
		if errors.Is(err, supervisor.ErrEmptyDocument) {
			respondWithError(w, r, apperrors.InvalidArgumentf("work-item document is empty"))
			return
		}
		respondWithError(w, r, apperrors.InvalidArgumentf("could not parse work-item document: %v", err))
		return
	}

	h.logger.Info("Job enqueued",
		zap.String("job_id", job.JobID),
		zap.Int("items", job.ItemCount),
		zap.Int("workers", job.WorkerCount))

	writeJSON(w, http.StatusCreated, job)
}

// saveUpload copies the document into the upload directory under a
// collision-free name, keeping the original extension so the decoder
// can pick by it.
func (h *JobsHandler) saveUpload(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".json"
	}
	dst := filepath.Join(h.uploadDir, uuid.NewString()+ext)

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, f.Close()
}

// Start launches the coordinator process for a queued job.
func (h *JobsHandler) Start(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.supervisor.Start(jobID)
	if err != nil {
		switch {
		case errors.Is(err, supervisor.ErrJobNotFound):
			respondWithError(w, r, apperrors.NotFoundf("job %s not found", jobID))
		case errors.Is(err, supervisor.ErrNotQueued):
			respondWithError(w, r, apperrors.Conflictf("%v", err))
		default:
			respondWithError(w, r, apperrors.Internalf(err, "could not start job"))
		}
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Stop tears the job down and finalizes it as killed.
func (h *JobsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.cleanup.Stop(r.Context(), jobID)
	if err != nil {
		respondWithError(w, r, apperrors.Internalf(err, "could not finalize job"))
		return
	}
	if job == nil {
		respondWithError(w, r, apperrors.NotFoundf("job %s not found", jobID))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// List returns all ledger entries, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.ledger.Load()
	if err != nil {
		respondWithError(w, r, apperrors.Internalf(err, "could not read job ledger"))
		return
	}
	if jobs == nil {
		jobs = []jobledger.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Get returns one job. Completed jobs get their output summary
// computed on first read and persisted back to the ledger.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.ledger.Get(jobID)
	if err != nil {
		respondWithError(w, r, apperrors.Internalf(err, "could not read job ledger"))
		return
	}
	if job == nil {
		respondWithError(w, r, apperrors.NotFoundf("job %s not found", jobID))
		return
	}

	if job.Status == jobledger.StatusCompleted && job.Summary == nil {
		if summary := h.computeSummary(job); summary != nil {
			updated, err := h.ledger.Update(jobID, func(j *jobledger.Job) {
				j.Summary = summary
			})
			if err != nil {
				h.logger.Warn("Could not persist job summary", zap.String("job_id", jobID), zap.Error(err))
			} else if updated != nil {
				job = updated
			}
		}
	}

	writeJSON(w, http.StatusOK, job)
}

// computeSummary inspects the job's output folder. Nil when the folder
// is gone, so a deleted run never gets a misleading snapshot.
func (h *JobsHandler) computeSummary(job *jobledger.Job) *jobledger.Summary {
	if job.OutputFolder == "" {
		return nil
	}
	entries, err := os.ReadDir(job.OutputFolder)
	if err != nil {
		return nil
	}

	summary := &jobledger.Summary{
		OutputExcelPath: job.OutputExcelPath,
		OutputZipPath:   job.OutputZipPath,
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary.SPUCount++
		if _, err := os.Stat(filepath.Join(job.OutputFolder, entry.Name(), "images")); err == nil {
			summary.ImageFolderCount++
		}
	}
	return summary
}

// Logs serves a job's coordinator or worker log as plain text.
//
// source selects the file: "parallel" (default) or "w<N>" for worker
// N. tail limits output to the last N lines.
func (h *JobsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.ledger.Get(jobID)
	if err != nil {
		respondWithError(w, r, apperrors.Internalf(err, "could not read job ledger"))
		return
	}
	if job == nil {
		respondWithError(w, r, apperrors.NotFoundf("job %s not found", jobID))
		return
	}

	path, err := h.logPath(job, r.URL.Query().Get("source"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		respondWithError(w, r, apperrors.NotFoundf("log file not available for job %s", jobID))
		return
	}

	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			respondWithError(w, r, apperrors.InvalidArgumentf("invalid tail value %q", raw))
			return
		}
		data = tailLines(data, n)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (h *JobsHandler) logPath(job *jobledger.Job, source string) (string, error) {
	if source == "" || source == "parallel" {
		if job.ParallelLogPath == "" {
			return "", apperrors.NotFoundf("job %s has no coordinator log", job.JobID)
		}
		return job.ParallelLogPath, nil
	}

	m := workerSourcePattern.FindStringSubmatch(source)
	if m == nil {
		return "", apperrors.InvalidArgumentf("invalid log source %q", source)
	}
	workerID, _ := strconv.Atoi(m[1])

	stamp, ok := h.resolver.FindRunStamp(job)
	if !ok {
		return "", apperrors.NotFoundf("no run recorded for job %s", job.JobID)
	}
	logDir := job.WorkerLogDir
	if logDir == "" {
		logDir = h.resolver.LogDir
	}
	return runartifact.WorkerLogPath(logDir, stamp, workerID), nil
}

// tailLines returns the last n lines of data.
func tailLines(data []byte, n int) []byte {
	if n == 0 {
		return nil
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
