package coordinator

import (
	"context"
	"errors"
	"strconv"
	"time"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/events"
	"github.com/sachindeshpande/faers-sub002/chassis/metrics"
	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/document"
	"github.com/sachindeshpande/faers-sub002/gateway"
	"github.com/sachindeshpande/faers-sub002/workflow"
)

// Outcome - terminal result of one submit call.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailed             Outcome = "failed"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeAlreadyRunning     Outcome = "already_in_progress"
	OutcomeBudgetExceeded     Outcome = "budget_exceeded"
	OutcomePreconditionFailed Outcome = "precondition_failed"
)

// Coordinator-level error categories, beyond the gateway taxonomy.
const (
	CategoryCancelled      = "cancelled"
	CategoryBudgetExceeded = "budget_exceeded"
)

var errCancelled = errors.New("cancelled by user")

// Result - ...
type Result struct {
	Outcome            Outcome `json:"outcome"`
	CaseID             string  `json:"caseID"`
	AttemptNumber      int     `json:"attemptNumber,omitempty"`
	RemoteSubmissionID string  `json:"remoteSubmissionId,omitempty"`
	RemoteCoreID       string  `json:"remoteCoreId,omitempty"`
	ErrorCategory      string  `json:"errorCategory,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// Authenticator - token acquisition as consumed by the coordinator.
type Authenticator interface {
	Token(ctx context.Context, environment string) (*gateway.AccessToken, error)
}

// API - the remote protocol operations the coordinator drives.
type API interface {
	CreateSubmission(ctx context.Context, environment, token string, meta gateway.SubmissionMeta) (string, error)
	UploadDocument(ctx context.Context, environment, token, submissionID string, document []byte, filename string) error
	Finalize(ctx context.Context, environment, token, submissionID string) (string, error)
}

// Config ...
type Config struct {
	Auth        Authenticator
	API         API
	Cases       storage.CaseRepository
	Attempts    storage.AttemptRepository
	Workflow    workflow.Machine
	Documents   document.Generator
	Broadcaster events.Broadcaster

	MaxAutomaticRetries int
	MaxTotalAttempts    int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

// Service - drives one end-to-end submission attempt per case. Sole
// retry authority and sole writer of terminal workflow transitions.
type Service struct {
	cfg      Config
	registry *Registry
	progress *progressTracker
}

// New ...
func New(cfg Config) *Service {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		progress: newProgressTracker(),
	}
}

type remoteIDs struct {
	submissionID string
	coreID       string
}

// Submit runs the four-step protocol for one case inside the bounded
// retry loop. Safe to call concurrently; a second call for the same
// case returns immediately with OutcomeAlreadyRunning.
func (s *Service) Submit(ctx context.Context, caseID, environment string) Result {
	handle, ok := s.registry.Begin(caseID)
	if !ok {
		log.WithFields(log.Fields{
			"event":  "submit_already_running",
			"caseID": caseID,
		}).Info("submission already in progress")
		return Result{Outcome: OutcomeAlreadyRunning, CaseID: caseID}
	}
	defer s.registry.End(caseID)

	if err := s.cfg.Workflow.CanEnterSubmission(ctx, caseID); err != nil {
		log.WithFields(log.Fields{
			"event":  "submit_precondition_failed",
			"caseID": caseID,
		}).Error(err)
		return Result{
			Outcome:       OutcomePreconditionFailed,
			CaseID:        caseID,
			ErrorCategory: string(gateway.CategoryValidation),
			Error:         err.Error(),
		}
	}

	historical, err := s.cfg.Attempts.AttemptCount(ctx, caseID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, CaseID: caseID, ErrorCategory: string(gateway.CategoryUnknown), Error: err.Error()}
	}
	attemptNumber := historical + 1
	if historical >= s.cfg.MaxTotalAttempts {
		log.WithFields(log.Fields{
			"event":    "submit_budget_exceeded",
			"caseID":   caseID,
			"attempts": historical,
		}).Error("lifetime attempt budget exhausted")
		if err := s.cfg.Cases.SetFailure(ctx, caseID, "lifetime attempt budget exhausted", CategoryBudgetExceeded); err != nil {
			log.WithFields(log.Fields{"event": "case_update_failed", "caseID": caseID}).Error(err)
		}
		s.transition(ctx, caseID, storage.SUBMISSION_FAILED, map[string]string{"reason": "attempt budget exceeded"})
		metrics.Submissions.WithLabelValues(string(OutcomeBudgetExceeded)).Inc()
		return Result{
			Outcome:       OutcomeBudgetExceeded,
			CaseID:        caseID,
			AttemptNumber: historical,
			ErrorCategory: CategoryBudgetExceeded,
			Error:         "lifetime attempt budget exhausted",
		}
	}

	s.transition(ctx, caseID, storage.SUBMITTING, map[string]string{"attempt": strconv.Itoa(attemptNumber)})
	attempt := &storage.Attempt{
		CaseID:      caseID,
		Number:      attemptNumber,
		Environment: environment,
		State:       storage.IN_PROGRESS,
		StartedAt:   time.Now(),
	}
	if err := s.cfg.Attempts.CreateAttempt(ctx, attempt); err != nil {
		log.WithFields(log.Fields{
			"event":  "attempt_create_failed",
			"caseID": caseID,
		}).Error(err)
		s.transition(ctx, caseID, storage.SUBMISSION_FAILED, map[string]string{"reason": "attempt bookkeeping failed"})
		return Result{Outcome: OutcomeFailed, CaseID: caseID, ErrorCategory: string(gateway.CategoryUnknown), Error: err.Error()}
	}

	s.progress.begin(caseID)
	defer s.progress.end(caseID)

	doc, err := s.cfg.Documents.Generate(ctx, caseID)
	if err != nil {
		return s.finishFailed(ctx, attempt, string(gateway.CategoryValidation), err.Error(), 0)
	}

	retries := 0
	var ids remoteIDs
	for {
		if handle.Cancelled() || ctx.Err() != nil {
			return s.finishCancelled(ctx, attempt)
		}
		err := s.runSteps(ctx, handle, caseID, environment, doc, &ids)
		if err == nil {
			return s.finishSuccess(ctx, attempt, ids)
		}
		if errors.Is(err, errCancelled) {
			return s.finishCancelled(ctx, attempt)
		}
		category := gateway.CategoryOf(err)
		if category.Retryable() && retries < s.cfg.MaxAutomaticRetries {
			retries++
			metrics.Retries.Inc()
			if histErr := s.cfg.Cases.AppendHistoryEvent(ctx, caseID, storage.EventAPIRetry, map[string]string{
				"attempt":  strconv.Itoa(attempt.Number),
				"retry":    strconv.Itoa(retries),
				"category": string(category),
				"error":    err.Error(),
			}); histErr != nil {
				log.WithFields(log.Fields{"event": "history_append_failed", "caseID": caseID}).Error(histErr)
			}
			delay := backoffDelay(retries, s.cfg.BaseDelay, s.cfg.MaxDelay)
			log.WithFields(log.Fields{
				"event":    "submit_retry",
				"caseID":   caseID,
				"attempt":  attempt.Number,
				"retry":    retries,
				"category": string(category),
				"delay":    delay.String(),
			}).Info(err)
			if !s.wait(ctx, delay) {
				return s.finishCancelled(ctx, attempt)
			}
			continue
		}
		return s.finishFailed(ctx, attempt, string(category), err.Error(), gateway.HTTPStatusOf(err))
	}
}

// Cancel flags the active run; takes effect at the next checkpoint.
func (s *Service) Cancel(caseID string) bool {
	cancelled := s.registry.Cancel(caseID)
	if cancelled {
		log.WithFields(log.Fields{
			"event":  "submit_cancel_requested",
			"caseID": caseID,
		}).Info("cancellation flagged")
	}
	return cancelled
}

// Running ...
func (s *Service) Running(caseID string) bool {
	return s.registry.Active(caseID)
}

// Progress returns the ephemeral run snapshot, false when no run is live.
func (s *Service) Progress(caseID string) (Progress, bool) {
	return s.progress.snapshot(caseID)
}

// runSteps executes one pass of the four-step protocol. Each retry
// restarts here from authenticating: the token may need refreshing and
// the remote operations are idempotent by convention per logical attempt.
func (s *Service) runSteps(ctx context.Context, handle *runHandle, caseID, environment string, doc document.Document, ids *remoteIDs) error {
	if handle.Cancelled() {
		return errCancelled
	}
	s.stepEvent(caseID, StepAuthenticating, 0)
	token, err := s.cfg.Auth.Token(ctx, environment)
	if err != nil {
		return err
	}

	if handle.Cancelled() {
		return errCancelled
	}
	s.stepEvent(caseID, StepCreatingSubmission, 1)
	submissionID, err := s.cfg.API.CreateSubmission(ctx, environment, token.Value, gateway.SubmissionMeta{
		CaseID:       caseID,
		DocumentType: "DOCUMENT_XML",
	})
	if err != nil {
		return err
	}
	ids.submissionID = submissionID
	s.progress.remoteID(caseID, submissionID)

	if handle.Cancelled() {
		return errCancelled
	}
	s.stepEvent(caseID, StepUploadingDocument, 2)
	if err := s.cfg.API.UploadDocument(ctx, environment, token.Value, submissionID, doc.Bytes, doc.Filename); err != nil {
		return err
	}

	if handle.Cancelled() {
		return errCancelled
	}
	s.stepEvent(caseID, StepFinalizing, 3)
	coreID, err := s.cfg.API.Finalize(ctx, environment, token.Value, submissionID)
	if err != nil {
		return err
	}
	ids.coreID = coreID
	return nil
}

func (s *Service) finishSuccess(ctx context.Context, attempt *storage.Attempt, ids remoteIDs) Result {
	caseID := attempt.CaseID
	if err := s.cfg.Attempts.CompleteAttempt(ctx, attempt.ID, ids.submissionID, ids.coreID); err != nil {
		log.WithFields(log.Fields{"event": "attempt_update_failed", "caseID": caseID}).Error(err)
	}
	if err := s.cfg.Cases.SetSubmitted(ctx, caseID, ids.submissionID, ids.coreID, time.Now()); err != nil {
		log.WithFields(log.Fields{"event": "case_update_failed", "caseID": caseID}).Error(err)
	}
	if err := s.cfg.Cases.AppendHistoryEvent(ctx, caseID, storage.EventSubmissionSuccess, map[string]string{
		"attempt":      strconv.Itoa(attempt.Number),
		"submissionID": ids.submissionID,
		"coreID":       ids.coreID,
	}); err != nil {
		log.WithFields(log.Fields{"event": "history_append_failed", "caseID": caseID}).Error(err)
	}
	s.transition(ctx, caseID, storage.SUBMITTED, map[string]string{"submissionID": ids.submissionID})
	s.progress.step(caseID, StepComplete, totalSteps)
	s.publishStep(caseID, StepComplete, "", "")

	result := events.New(events.TypeResult, caseID)
	result.Outcome = string(OutcomeSuccess)
	s.cfg.Broadcaster.Publish(result)

	metrics.Submissions.WithLabelValues(string(OutcomeSuccess)).Inc()
	log.WithFields(log.Fields{
		"event":        "submit_success",
		"caseID":       caseID,
		"attempt":      attempt.Number,
		"submissionID": ids.submissionID,
		"coreID":       ids.coreID,
	}).Info("submission finalized")
	return Result{
		Outcome:            OutcomeSuccess,
		CaseID:             caseID,
		AttemptNumber:      attempt.Number,
		RemoteSubmissionID: ids.submissionID,
		RemoteCoreID:       ids.coreID,
	}
}

func (s *Service) finishFailed(ctx context.Context, attempt *storage.Attempt, category, message string, httpStatus int) Result {
	return s.finishTerminal(ctx, attempt, OutcomeFailed, category, message, httpStatus)
}

func (s *Service) finishCancelled(ctx context.Context, attempt *storage.Attempt) Result {
	return s.finishTerminal(ctx, attempt, OutcomeCancelled, CategoryCancelled, errCancelled.Error(), 0)
}

func (s *Service) finishTerminal(ctx context.Context, attempt *storage.Attempt, outcome Outcome, category, message string, httpStatus int) Result {
	caseID := attempt.CaseID
	if err := s.cfg.Attempts.FailAttempt(ctx, attempt.ID, category, message, httpStatus); err != nil {
		log.WithFields(log.Fields{"event": "attempt_update_failed", "caseID": caseID}).Error(err)
	}
	if err := s.cfg.Cases.SetFailure(ctx, caseID, message, category); err != nil {
		log.WithFields(log.Fields{"event": "case_update_failed", "caseID": caseID}).Error(err)
	}
	if err := s.cfg.Cases.AppendHistoryEvent(ctx, caseID, storage.EventSubmissionFailed, map[string]string{
		"attempt":  strconv.Itoa(attempt.Number),
		"category": category,
		"error":    message,
	}); err != nil {
		log.WithFields(log.Fields{"event": "history_append_failed", "caseID": caseID}).Error(err)
	}
	s.transition(ctx, caseID, storage.SUBMISSION_FAILED, map[string]string{"reason": message})
	s.progress.fail(caseID, message, category)
	s.publishStep(caseID, StepFailed, message, category)

	result := events.New(events.TypeResult, caseID)
	result.Outcome = string(outcome)
	result.Error = message
	result.ErrorCategory = category
	s.cfg.Broadcaster.Publish(result)

	metrics.Submissions.WithLabelValues(string(outcome)).Inc()
	log.WithFields(log.Fields{
		"event":    "submit_failed",
		"caseID":   caseID,
		"attempt":  attempt.Number,
		"outcome":  string(outcome),
		"category": category,
	}).Error(message)
	return Result{
		Outcome:       outcome,
		CaseID:        caseID,
		AttemptNumber: attempt.Number,
		ErrorCategory: category,
		Error:         message,
	}
}

func (s *Service) stepEvent(caseID string, step Step, completed int) {
	s.progress.step(caseID, step, completed)
	s.publishStep(caseID, step, "", "")
	log.WithFields(log.Fields{
		"event":  "submit_step",
		"caseID": caseID,
		"step":   string(step),
	}).Debug("entering step")
}

func (s *Service) publishStep(caseID string, step Step, message, category string) {
	event := events.New(events.TypeProgress, caseID)
	event.Step = string(step)
	event.Error = message
	event.ErrorCategory = category
	s.cfg.Broadcaster.Publish(event)
}

func (s *Service) transition(ctx context.Context, caseID string, target storage.Status, meta map[string]string) {
	if err := s.cfg.Workflow.Transition(ctx, caseID, target, meta); err != nil {
		log.WithFields(log.Fields{
			"event":  "workflow_transition_failed",
			"caseID": caseID,
			"target": string(target),
		}).Error(err)
	}
}

func (s *Service) wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
