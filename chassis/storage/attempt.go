package storage

import (
	"time"
)

// AttemptState - submission attempt row states
type AttemptState string

const (
	IN_PROGRESS AttemptState = "IN_PROGRESS"
	SUCCESS     AttemptState = "SUCCESS"
	FAILED      AttemptState = "FAILED"
)

// Attempt - one end-to-end try of the four-step protocol for one case.
// Rows are append-mostly audit records: created when an attempt starts,
// amended once on completion and once more when an acknowledgment lands.
type Attempt struct {
	ID                 int64
	CaseID             string
	Number             int
	Environment        string
	State              AttemptState
	RemoteSubmissionID string
	RemoteCoreID       string
	StartedAt          time.Time
	CompletedAt        *time.Time
	Error              string
	ErrorCategory      string
	HTTPStatus         int
	AckType            string
	AckTimestamp       *time.Time
	AckRemoteID        string
	AckErrors          map[string]string
}
