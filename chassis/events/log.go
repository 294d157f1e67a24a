package events

import (
	log "github.com/sachindeshpande/faers-sub002/chassis/logging"
)

// LogBroadcaster - fallback channel used when no queue is configured.
type LogBroadcaster struct{}

// Publish ...
func (LogBroadcaster) Publish(event Event) {
	log.WithFields(log.Fields{
		"event":   "event_published",
		"channel": "log",
		"type":    string(event.Type),
		"caseID":  event.CaseID,
		"step":    event.Step,
		"outcome": event.Outcome,
		"ackType": event.AckType,
	}).Info("broadcast event")
}
