package coordinator

import (
	"sync"
	"time"
)

// Step - submission run steps, in execution order.
type Step string

const (
	StepAuthenticating     Step = "authenticating"
	StepCreatingSubmission Step = "creating_submission"
	StepUploadingDocument  Step = "uploading_document"
	StepFinalizing         Step = "finalizing"
	StepComplete           Step = "complete"
	StepFailed             Step = "failed"
)

const totalSteps = 4

// Progress - ephemeral per-case run snapshot. Never persisted; lost on
// restart and rebuilt by the next run.
type Progress struct {
	CaseID             string    `json:"caseID"`
	CurrentStep        Step      `json:"currentStep"`
	StepsCompleted     int       `json:"stepsCompleted"`
	TotalSteps         int       `json:"totalSteps"`
	StartedAt          time.Time `json:"startedAt"`
	ElapsedMs          int64     `json:"elapsedMs"`
	RemoteSubmissionID string    `json:"remoteSubmissionId,omitempty"`
	Error              string    `json:"error,omitempty"`
	ErrorCategory      string    `json:"errorCategory,omitempty"`
}

// progressTracker - in-memory progress registry keyed by case.
type progressTracker struct {
	mu     sync.Mutex
	byCase map[string]*Progress
}

func newProgressTracker() *progressTracker {
	return &progressTracker{byCase: map[string]*Progress{}}
}

func (t *progressTracker) begin(caseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCase[caseID] = &Progress{
		CaseID:     caseID,
		TotalSteps: totalSteps,
		StartedAt:  time.Now(),
	}
}

func (t *progressTracker) step(caseID string, step Step, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byCase[caseID]; ok {
		p.CurrentStep = step
		p.StepsCompleted = completed
	}
}

func (t *progressTracker) remoteID(caseID, submissionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byCase[caseID]; ok {
		p.RemoteSubmissionID = submissionID
	}
}

func (t *progressTracker) fail(caseID, message, category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byCase[caseID]; ok {
		p.CurrentStep = StepFailed
		p.Error = message
		p.ErrorCategory = category
	}
}

// end removes the entry on a terminal step.
func (t *progressTracker) end(caseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byCase, caseID)
}

func (t *progressTracker) snapshot(caseID string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byCase[caseID]
	if !ok {
		return Progress{}, false
	}
	snap := *p
	snap.ElapsedMs = time.Since(p.StartedAt).Milliseconds()
	return snap, true
}
