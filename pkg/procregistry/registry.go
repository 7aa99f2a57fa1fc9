// Package procregistry tracks the live worker-coordinator process for
// each running job.
//
// The registry is process-local, in-memory state: entries vanish when
// the underlying OS process exits and never survive a control-plane
// restart. The job ledger is the only durable record. The registry
// exists so a stop request can signal a live process without
// re-deriving its pid from the ledger.
package procregistry

import (
	"os"
	"sync"
	"syscall"
)

// Handle is a signalable process owned by a job.
//
// The interface is intentionally tiny so tests can register fakes
// instead of real OS processes.
type Handle interface {
	Pid() int
	Signal(sig os.Signal) error
}

// Registry maps job ids to live process handles.
type Registry struct {
	mu    sync.Mutex
	procs map[string]Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{procs: make(map[string]Handle)}
}

// Register records the handle for a job, replacing any previous one.
func (r *Registry) Register(jobID string, h Handle) {
	if jobID == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[jobID] = h
}

// Get returns the live handle for a job, if any.
func (r *Registry) Get(jobID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.procs[jobID]
	return h, ok
}

// Remove drops the entry for a job. Removing an absent entry is a
// no-op.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, jobID)
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// WatchingPID reports whether any registered handle owns pid.
func (r *Registry) WatchingPID(pid int) bool {
	if pid <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.procs {
		if h.Pid() == pid {
			return true
		}
	}
	return false
}

// OSHandle wraps a started *os.Process.
type OSHandle struct {
	Process *os.Process
}

func (h OSHandle) Pid() int {
	if h.Process == nil {
		return 0
	}
	return h.Process.Pid
}

func (h OSHandle) Signal(sig os.Signal) error {
	if h.Process == nil {
		return os.ErrProcessDone
	}
	return h.Process.Signal(sig)
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without sending a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}

// SignalPID sends sig to a bare pid from the ledger when no live
// handle is registered. The result is advisory: the process may be
// gone already.
func SignalPID(pid int, sig os.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}
