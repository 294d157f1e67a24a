package storage

import (
	"time"
)

// Status - case workflow states
type Status string

const (
	DRAFT             Status = "DRAFT"
	VALIDATED         Status = "VALIDATED"
	SUBMITTING        Status = "SUBMITTING"
	SUBMITTED         Status = "SUBMITTED"
	ACKNOWLEDGED      Status = "ACKNOWLEDGED"
	SUBMISSION_FAILED Status = "SUBMISSION_FAILED"
)

// History event types appended to a case's audit trail.
const (
	EventStatusChange      = "status_change"
	EventAPIRetry          = "api_retry"
	EventSubmissionSuccess = "submission_success"
	EventSubmissionFailed  = "submission_failed"
	EventAckReceived       = "ack_received"
	EventAckRejected       = "ack_rejected"
)

// Case - an individual safety report case as seen by the pipeline.
// The upstream CRUD system owns the full record; the pipeline only
// touches workflow status, remote identifiers and the error summary.
type Case struct {
	ID                 string
	Status             Status
	Environment        string
	DocumentXML        []byte
	RemoteSubmissionID string
	RemoteCoreID       string
	ErrorSummary       string
	ErrorCategory      string
	SubmittedAt        *time.Time
	AcknowledgedAt     *time.Time
	CreatedDt          time.Time
	UpdatedDt          time.Time
}
