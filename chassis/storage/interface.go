package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound - no row matched the lookup.
var ErrNotFound = errors.New("not found")

// Config - ...
type Config struct {
	DSN string
}

// CaseRepository - case workflow state and history as consumed by the pipeline.
type CaseRepository interface {
	Case(ctx context.Context, id string) (*Case, error)
	// SetStatus moves a case to the target status if its current status is
	// one of the expected sources. Returns false when the guard did not match.
	SetStatus(ctx context.Context, id string, from []Status, to Status) (bool, error)
	SetSubmitted(ctx context.Context, id, submissionID, coreID string, at time.Time) error
	SetAcknowledged(ctx context.Context, id, coreID string, at time.Time) error
	SetFailure(ctx context.Context, id, summary, category string) error
	AwaitingAcknowledgment(ctx context.Context) ([]*Case, error)
	AppendHistoryEvent(ctx context.Context, caseID, eventType string, payload map[string]string) error
}

// AttemptRepository - submission attempt audit rows.
type AttemptRepository interface {
	CreateAttempt(ctx context.Context, attempt *Attempt) error
	CompleteAttempt(ctx context.Context, id int64, submissionID, coreID string) error
	FailAttempt(ctx context.Context, id int64, category, message string, httpStatus int) error
	RecordAcknowledgment(ctx context.Context, caseID, ackType string, at time.Time, remoteID string, ackErrors map[string]string) error
	LatestAttempt(ctx context.Context, caseID string) (*Attempt, error)
	AttemptCount(ctx context.Context, caseID string) (int, error)
}

// Repository - full storage surface of the pipeline.
type Repository interface {
	CaseRepository
	AttemptRepository
}
