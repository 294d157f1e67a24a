package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/events"
	"github.com/sachindeshpande/faers-sub002/chassis/metrics"
	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/gateway"
	"github.com/sachindeshpande/faers-sub002/workflow"
)

// Authenticator - token acquisition as consumed by the poller.
type Authenticator interface {
	Token(ctx context.Context, environment string) (*gateway.AccessToken, error)
}

// API - acknowledgment lookups against the remote system.
type API interface {
	GetStatus(ctx context.Context, environment, token, submissionID string) (*gateway.Acknowledgment, error)
	AcknowledgmentByCoreID(ctx context.Context, environment, token, coreID string) (*gateway.Acknowledgment, error)
}

// Config ...
type Config struct {
	Auth        Authenticator
	API         API
	Cases       storage.CaseRepository
	Attempts    storage.AttemptRepository
	Workflow    workflow.Machine
	Broadcaster events.Broadcaster

	// Environment empty means the subsystem is unconfigured; Start is a no-op.
	Environment string
	Interval    time.Duration
	Timeout     time.Duration
}

// State - point-in-time polling status for status queries.
type State struct {
	Active       bool       `json:"active"`
	LastPollTime *time.Time `json:"lastPollTime,omitempty"`
	NextPollTime *time.Time `json:"nextPollTime,omitempty"`
	RecentErrors []string   `json:"recentErrors,omitempty"`
}

// Service - background acknowledgment poller. The next cycle is
// scheduled strictly after the previous one completes, so no two
// cycles ever overlap even when a cycle outlasts the interval.
type Service struct {
	cfg Config

	mu           sync.Mutex
	active       bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastPoll     *time.Time
	nextPoll     *time.Time
	recentErrors []string

	now func() time.Time
}

// New ...
func New(cfg Config) *Service {
	return &Service{
		cfg: cfg,
		now: time.Now,
	}
}

// Start schedules the first cycle. No-op when already active or when
// no environment is configured.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	if s.cfg.Environment == "" {
		log.WithFields(log.Fields{
			"event": "poller_unconfigured",
		}).Info("no environment configured, poller stays idle")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.active = true
	s.cancel = cancel
	s.done = done
	next := s.now().Add(s.cfg.Interval)
	s.nextPoll = &next
	go s.loop(ctx, done)
	log.WithFields(log.Fields{
		"event":    "poller_started",
		"interval": s.cfg.Interval.String(),
	}).Info("acknowledgment poller started")
}

// Stop cancels the pending cycle and marks the poller inactive.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	done := s.done
	s.nextPoll = nil
	s.mu.Unlock()

	cancel()
	<-done
	log.WithFields(log.Fields{
		"event": "poller_stopped",
	}).Info("acknowledgment poller stopped")
}

// Status ...
func (s *Service) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		Active:       s.active,
		LastPollTime: s.lastPoll,
		NextPollTime: s.nextPoll,
	}
	state.RecentErrors = append(state.RecentErrors, s.recentErrors...)
	return state
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event": "ctx_canceled",
			}).Info("exit goroutine")
			return
		case <-time.After(s.cfg.Interval):
			s.cycle(ctx)
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	var diagnostics []string
	cases, err := s.cfg.Cases.AwaitingAcknowledgment(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "poll_scan_failed",
		}).Error(err)
		diagnostics = append(diagnostics, fmt.Sprintf("scan failed: %v", err))
	}
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		if diag := s.pollCase(ctx, c); diag != "" {
			diagnostics = append(diagnostics, diag)
		}
	}
	now := s.now()
	next := now.Add(s.cfg.Interval)
	s.mu.Lock()
	s.lastPoll = &now
	if s.active {
		s.nextPoll = &next
	}
	// replaced, not accumulated across cycles
	s.recentErrors = diagnostics
	s.mu.Unlock()
	metrics.PollCycles.Inc()
	log.WithFields(log.Fields{
		"event":   "poll_cycle",
		"scanned": len(cases),
		"errors":  len(diagnostics),
	}).Info("acknowledgment poll cycle finished")
}

// pollCase queries one case; a non-empty return is a cycle diagnostic.
// One case's failure never aborts the cycle for the others.
func (s *Service) pollCase(ctx context.Context, c *storage.Case) string {
	if c.SubmittedAt != nil && s.now().Sub(*c.SubmittedAt) > s.cfg.Timeout {
		waited := s.now().Sub(*c.SubmittedAt).Round(time.Hour)
		log.WithFields(log.Fields{
			"event":  "ack_wait_timeout",
			"caseID": c.ID,
			"waited": waited.String(),
		}).Error("case awaiting acknowledgment beyond the timeout")
		return fmt.Sprintf("case %s awaiting acknowledgment for %s (limit %s)", c.ID, waited, s.cfg.Timeout)
	}
	ack, err := s.query(ctx, c)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "ack_query_failed",
			"caseID": c.ID,
		}).Error(err)
		return fmt.Sprintf("case %s: %v", c.ID, err)
	}
	if ack == nil {
		return ""
	}
	if err := s.reconcile(ctx, c, ack); err != nil {
		log.WithFields(log.Fields{
			"event":  "ack_reconcile_failed",
			"caseID": c.ID,
		}).Error(err)
		return fmt.Sprintf("case %s: reconcile: %v", c.ID, err)
	}
	return ""
}

// CheckNow - synchronous single-case acknowledgment check, usable
// outside the scheduled cycle. Bypasses the staleness timeout.
func (s *Service) CheckNow(ctx context.Context, caseID string) (*gateway.Acknowledgment, error) {
	c, err := s.cfg.Cases.Case(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.RemoteSubmissionID == "" {
		return nil, fmt.Errorf("case %s has not been submitted", caseID)
	}
	ack, err := s.query(ctx, c)
	if err != nil {
		return nil, err
	}
	if ack == nil {
		return nil, nil
	}
	if c.Status == storage.SUBMITTED {
		if err := s.reconcile(ctx, c, ack); err != nil {
			return ack, err
		}
	}
	return ack, nil
}

func (s *Service) query(ctx context.Context, c *storage.Case) (*gateway.Acknowledgment, error) {
	token, err := s.cfg.Auth.Token(ctx, s.environmentFor(c))
	if err != nil {
		return nil, err
	}
	if c.RemoteCoreID != "" {
		return s.cfg.API.AcknowledgmentByCoreID(ctx, s.environmentFor(c), token.Value, c.RemoteCoreID)
	}
	return s.cfg.API.GetStatus(ctx, s.environmentFor(c), token.Value, c.RemoteSubmissionID)
}

func (s *Service) environmentFor(c *storage.Case) string {
	if c.Environment != "" {
		return c.Environment
	}
	return s.cfg.Environment
}
