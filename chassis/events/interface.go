package events

import (
	"time"

	"github.com/google/uuid"
)

// Type - event kinds published on the notification channel.
type Type string

const (
	TypeProgress       Type = "progress"
	TypeResult         Type = "result"
	TypeAcknowledgment Type = "acknowledgment"
)

// Config - unified configuration for the event channel
type Config struct {
	Name string
	URL  string

	//AWS specified
	Region             string
	CredentialsFile    string
	CredentialsProfile string
	Retries            int
}

// Event - one notification for the UI layer. Delivery is best-effort
// broadcast; consumers must not rely on it for state.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	CaseID        string    `json:"caseID"`
	Step          string    `json:"step,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	AckType       string    `json:"ackType,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorCategory string    `json:"errorCategory,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// New - ...
func New(eventType Type, caseID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CaseID:    caseID,
		Timestamp: time.Now(),
	}
}

// Broadcaster interface for one-way UI notification (SQS based)
type Broadcaster interface {
	Publish(Event)
}
