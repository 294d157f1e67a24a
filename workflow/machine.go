package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sachindeshpande/faers-sub002/chassis/storage"
)

// Machine - the narrow workflow contract the pipeline consumes. The
// full case lifecycle is owned by the upstream system; the pipeline
// only needs guarded transitions and the submission precondition.
type Machine interface {
	CanEnterSubmission(ctx context.Context, caseID string) error
	Transition(ctx context.Context, caseID string, target storage.Status, meta map[string]string) error
}

// ValidationError - precondition problems preventing submission.
type ValidationError struct {
	Problems []string
}

// Error ...
func (e *ValidationError) Error() string {
	return "case not ready for submission: " + strings.Join(e.Problems, "; ")
}

// sources lists the statuses a case may come from per target.
var sources = map[storage.Status][]storage.Status{
	storage.VALIDATED:         {storage.DRAFT},
	storage.SUBMITTING:        {storage.VALIDATED, storage.SUBMISSION_FAILED},
	storage.SUBMITTED:         {storage.SUBMITTING},
	storage.ACKNOWLEDGED:      {storage.SUBMITTED},
	storage.SUBMISSION_FAILED: {storage.DRAFT, storage.VALIDATED, storage.SUBMITTING, storage.SUBMITTED, storage.SUBMISSION_FAILED},
}

// CaseMachine - storage-backed Machine implementation.
type CaseMachine struct {
	cases storage.CaseRepository
}

// NewCaseMachine ...
func NewCaseMachine(cases storage.CaseRepository) *CaseMachine {
	return &CaseMachine{cases: cases}
}

// CanEnterSubmission checks the precondition for starting a submission
// run, validating draft cases on the way.
func (m *CaseMachine) CanEnterSubmission(ctx context.Context, caseID string) error {
	c, err := m.cases.Case(ctx, caseID)
	if err != nil {
		return err
	}
	switch c.Status {
	case storage.SUBMITTING, storage.SUBMITTED, storage.ACKNOWLEDGED:
		return fmt.Errorf("case %s is %s and not eligible for submission", caseID, c.Status)
	}
	var problems []string
	if len(c.DocumentXML) == 0 {
		problems = append(problems, "case has no generated document")
	}
	if c.Environment == "" {
		problems = append(problems, "case has no target environment")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	if c.Status == storage.DRAFT {
		if err := m.Transition(ctx, caseID, storage.VALIDATED, map[string]string{"reason": "pre-submission validation"}); err != nil {
			return err
		}
	}
	return nil
}

// Transition moves a case to the target status when its current status
// is an allowed source, appending a history event on success.
func (m *CaseMachine) Transition(ctx context.Context, caseID string, target storage.Status, meta map[string]string) error {
	from, ok := sources[target]
	if !ok {
		return fmt.Errorf("unknown target status %s", target)
	}
	moved, err := m.cases.SetStatus(ctx, caseID, from, target)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("case %s cannot transition to %s", caseID, target)
	}
	payload := map[string]string{"status": string(target)}
	for key, value := range meta {
		payload[key] = value
	}
	return m.cases.AppendHistoryEvent(ctx, caseID, storage.EventStatusChange, payload)
}
