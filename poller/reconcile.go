package poller

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/events"
	"github.com/sachindeshpande/faers-sub002/chassis/metrics"
	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/gateway"
)

// reconcile folds a terminal acknowledgment into the attempt row, the
// case workflow state and the notification channel. All ACK variants
// are equally positive; only NACK rejects.
func (s *Service) reconcile(ctx context.Context, c *storage.Case, ack *gateway.Acknowledgment) error {
	ackErrors := make(map[string]string, len(ack.Errors))
	for _, ackErr := range ack.Errors {
		ackErrors[ackErr.Code] = ackErr.Message
	}
	if err := s.cfg.Attempts.RecordAcknowledgment(ctx, c.ID, ack.Type, ack.Timestamp, ack.CoreID, ackErrors); err != nil {
		log.WithFields(log.Fields{
			"event":  "attempt_update_failed",
			"caseID": c.ID,
		}).Error(err)
	}

	if ack.Rejected() {
		summary := rejectionSummary(ack)
		if err := s.cfg.Cases.AppendHistoryEvent(ctx, c.ID, storage.EventAckRejected, map[string]string{
			"ackType": ack.Type,
			"errors":  summary,
		}); err != nil {
			log.WithFields(log.Fields{"event": "history_append_failed", "caseID": c.ID}).Error(err)
		}
		if err := s.cfg.Workflow.Transition(ctx, c.ID, storage.SUBMISSION_FAILED, map[string]string{"reason": "rejected by remote system"}); err != nil {
			return err
		}
		if err := s.cfg.Cases.SetFailure(ctx, c.ID, summary, string(gateway.CategoryValidation)); err != nil {
			return err
		}
	} else {
		if err := s.cfg.Cases.AppendHistoryEvent(ctx, c.ID, storage.EventAckReceived, map[string]string{
			"ackType": ack.Type,
			"coreID":  ack.CoreID,
		}); err != nil {
			log.WithFields(log.Fields{"event": "history_append_failed", "caseID": c.ID}).Error(err)
		}
		if err := s.cfg.Workflow.Transition(ctx, c.ID, storage.ACKNOWLEDGED, map[string]string{"ackType": ack.Type}); err != nil {
			return err
		}
		coreID := ack.CoreID
		if coreID == "" {
			coreID = c.RemoteCoreID
		}
		if err := s.cfg.Cases.SetAcknowledged(ctx, c.ID, coreID, ack.Timestamp); err != nil {
			return err
		}
	}

	event := events.New(events.TypeAcknowledgment, c.ID)
	event.AckType = ack.Type
	if ack.Rejected() {
		event.Error = rejectionSummary(ack)
	}
	s.cfg.Broadcaster.Publish(event)

	metrics.Acknowledgments.WithLabelValues(ack.Type).Inc()
	log.WithFields(log.Fields{
		"event":   "ack_reconciled",
		"caseID":  c.ID,
		"ackType": ack.Type,
	}).Info("acknowledgment reconciled")
	return nil
}

func rejectionSummary(ack *gateway.Acknowledgment) string {
	if len(ack.Errors) == 0 {
		return "rejected by remote system"
	}
	parts := make([]string, 0, len(ack.Errors))
	for _, ackErr := range ack.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", ackErr.Code, ackErr.Message))
	}
	return strings.Join(parts, "; ")
}
