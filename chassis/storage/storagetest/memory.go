// Package storagetest provides an in-memory Repository for tests.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/sachindeshpande/faers-sub002/chassis/storage"
)

// HistoryEvent - one recorded history append.
type HistoryEvent struct {
	CaseID  string
	Type    string
	Payload map[string]string
}

// MemRepository - storage.Repository backed by maps, mirroring the
// guard semantics of the PostgreSQL implementation.
type MemRepository struct {
	mu       sync.Mutex
	cases    map[string]*storage.Case
	attempts []*storage.Attempt
	history  []HistoryEvent
	nextID   int64
}

// NewMemRepository ...
func NewMemRepository() *MemRepository {
	return &MemRepository{cases: map[string]*storage.Case{}}
}

// AddCase seeds a case.
func (r *MemRepository) AddCase(c *storage.Case) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	r.cases[c.ID] = &stored
}

// Case ...
func (r *MemRepository) Case(_ context.Context, id string) (*storage.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

// SetStatus ...
func (r *MemRepository) SetStatus(_ context.Context, id string, from []storage.Status, to storage.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return false, nil
	}
	for _, src := range from {
		if c.Status == src {
			c.Status = to
			c.UpdatedDt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

// SetSubmitted ...
func (r *MemRepository) SetSubmitted(_ context.Context, id, submissionID, coreID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.RemoteSubmissionID = submissionID
	c.RemoteCoreID = coreID
	c.SubmittedAt = &at
	c.ErrorSummary = ""
	c.ErrorCategory = ""
	return nil
}

// SetAcknowledged ...
func (r *MemRepository) SetAcknowledged(_ context.Context, id, coreID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.RemoteCoreID = coreID
	c.AcknowledgedAt = &at
	return nil
}

// SetFailure ...
func (r *MemRepository) SetFailure(_ context.Context, id, summary, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.ErrorSummary = summary
	c.ErrorCategory = category
	return nil
}

// AwaitingAcknowledgment ...
func (r *MemRepository) AwaitingAcknowledgment(_ context.Context) ([]*storage.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*storage.Case
	for _, c := range r.cases {
		if c.Status == storage.SUBMITTED && c.RemoteSubmissionID != "" {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

// AppendHistoryEvent ...
func (r *MemRepository) AppendHistoryEvent(_ context.Context, caseID, eventType string, payload map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[caseID]; !ok {
		return storage.ErrNotFound
	}
	r.history = append(r.history, HistoryEvent{CaseID: caseID, Type: eventType, Payload: payload})
	return nil
}

// HistoryEvents returns recorded events of one type for a case.
func (r *MemRepository) HistoryEvents(caseID, eventType string) []HistoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryEvent
	for _, event := range r.history {
		if event.CaseID == caseID && event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// CreateAttempt ...
func (r *MemRepository) CreateAttempt(_ context.Context, attempt *storage.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[attempt.CaseID]; !ok {
		return storage.ErrNotFound
	}
	r.nextID++
	attempt.ID = r.nextID
	stored := *attempt
	r.attempts = append(r.attempts, &stored)
	return nil
}

// CompleteAttempt ...
func (r *MemRepository) CompleteAttempt(_ context.Context, id int64, submissionID, coreID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID == id && a.State == storage.IN_PROGRESS {
			now := time.Now()
			a.State = storage.SUCCESS
			a.RemoteSubmissionID = submissionID
			a.RemoteCoreID = coreID
			a.CompletedAt = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

// FailAttempt ...
func (r *MemRepository) FailAttempt(_ context.Context, id int64, category, message string, httpStatus int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID == id && a.State == storage.IN_PROGRESS {
			now := time.Now()
			a.State = storage.FAILED
			a.ErrorCategory = category
			a.Error = message
			a.HTTPStatus = httpStatus
			a.CompletedAt = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

// RecordAcknowledgment ...
func (r *MemRepository) RecordAcknowledgment(_ context.Context, caseID, ackType string, at time.Time, remoteID string, ackErrors map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := r.latestLocked(caseID)
	if latest == nil {
		return storage.ErrNotFound
	}
	latest.AckType = ackType
	latest.AckTimestamp = &at
	latest.AckRemoteID = remoteID
	latest.AckErrors = ackErrors
	return nil
}

// LatestAttempt ...
func (r *MemRepository) LatestAttempt(_ context.Context, caseID string) (*storage.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := r.latestLocked(caseID)
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

// AttemptCount ...
func (r *MemRepository) AttemptCount(_ context.Context, caseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.attempts {
		if a.CaseID == caseID {
			count++
		}
	}
	return count, nil
}

func (r *MemRepository) latestLocked(caseID string) *storage.Attempt {
	var latest *storage.Attempt
	for _, a := range r.attempts {
		if a.CaseID != caseID {
			continue
		}
		if latest == nil || a.Number > latest.Number {
			latest = a
		}
	}
	return latest
}
