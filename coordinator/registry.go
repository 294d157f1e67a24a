package coordinator

import (
	"sync"
	"sync/atomic"
)

// runHandle - cancellation flag for one in-flight run. Cancellation is
// cooperative: the flag is checked at step boundaries, never preemptively.
type runHandle struct {
	cancelled atomic.Bool
}

// Cancelled ...
func (h *runHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Registry - process-wide single-flight guard. At most one live entry
// per case; presence means a coordinator run is in flight.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*runHandle
}

// NewRegistry ...
func NewRegistry() *Registry {
	return &Registry{runs: map[string]*runHandle{}}
}

// Begin registers a run for the case. Returns false when a run is
// already in flight; no second run may start until End is called.
func (r *Registry) Begin(caseID string) (*runHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[caseID]; exists {
		return nil, false
	}
	handle := &runHandle{}
	r.runs[caseID] = handle
	return handle, true
}

// End removes the run entry regardless of outcome.
func (r *Registry) End(caseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, caseID)
}

// Cancel flags the active run for the case; no effect without one.
func (r *Registry) Cancel(caseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, exists := r.runs[caseID]
	if !exists {
		return false
	}
	handle.cancelled.Store(true)
	return true
}

// Active ...
func (r *Registry) Active(caseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.runs[caseID]
	return exists
}
