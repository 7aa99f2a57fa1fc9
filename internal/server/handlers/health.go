package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/partnerops/draftforge/internal/errors"
)

// Checker probes one dependency of the service.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 2 * time.Second

// HealthManager aggregates registered checkers into probe endpoints.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
	}
}

func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]string, len(m.checkers))
	for name, c := range m.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() == context.DeadlineExceeded:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds per-check results into one status.
// Any unhealthy check wins; timeouts alone degrade the service.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, s := range checks {
		switch s {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler serves the full readiness probe with check details.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		details := make(map[string]any, 1)
		checkDetails := make(map[string]any, len(checks))
		for name, s := range checks {
			checkDetails[name] = s
		}
		details["checks"] = checkDetails

		apperrors.WriteEnvelope(w, http.StatusServiceUnavailable, apperrors.HTTPError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "one or more health checks failed",
			Details: details,
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler answers 200 whenever the process is serving.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: m.version})
}

// ReadinessHandler is the same probe as HealthHandler.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler answers 200 once initialization has completed; the
// manager only exists after initialization, so this mirrors liveness.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.LivenessHandler(w, r)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func globalProbe(fn func(*HealthManager) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager == nil {
			apperrors.WriteEnvelope(w, http.StatusServiceUnavailable, apperrors.HTTPError{
				Code:    "SERVICE_UNAVAILABLE",
				Message: "health manager not initialized",
			})
			return
		}
		fn(globalHealthManager)(w, r)
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(func(m *HealthManager) http.HandlerFunc { return m.HealthHandler })(w, r)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(func(m *HealthManager) http.HandlerFunc { return m.LivenessHandler })(w, r)
}

func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(func(m *HealthManager) http.HandlerFunc { return m.ReadinessHandler })(w, r)
}

func StartupHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(func(m *HealthManager) http.HandlerFunc { return m.StartupHandler })(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
