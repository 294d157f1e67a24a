package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sachindeshpande/faers-sub002/chassis/events"
	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/chassis/storage/storagetest"
	"github.com/sachindeshpande/faers-sub002/document"
	"github.com/sachindeshpande/faers-sub002/gateway"
	"github.com/sachindeshpande/faers-sub002/workflow"
)

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuth) Token(_ context.Context, environment string) (*gateway.AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &gateway.AccessToken{Value: "tok", Environment: environment}, nil
}

// fakeAPI scripts per-call failures; nil entries (or calls past the
// script) succeed.
type fakeAPI struct {
	mu            sync.Mutex
	createErrs    []error
	uploadErrs    []error
	finalizeErrs  []error
	createCalls   int
	uploadCalls   int
	finalizeCalls int
	onCreate      func()
	blockCreate   chan struct{}
}

func scripted(errs []error, call int) error {
	if call <= len(errs) {
		return errs[call-1]
	}
	return nil
}

func (f *fakeAPI) CreateSubmission(_ context.Context, _, _ string, _ gateway.SubmissionMeta) (string, error) {
	f.mu.Lock()
	f.createCalls++
	err := scripted(f.createErrs, f.createCalls)
	hook := f.onCreate
	block := f.blockCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return "sub-42", nil
}

func (f *fakeAPI) UploadDocument(_ context.Context, _, _, _ string, _ []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	return scripted(f.uploadErrs, f.uploadCalls)
}

func (f *fakeAPI) Finalize(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	if err := scripted(f.finalizeErrs, f.finalizeCalls); err != nil {
		return "", err
	}
	return "core-7", nil
}

type recordBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordBroadcaster) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordBroadcaster) steps() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, event := range b.events {
		if event.Type == events.TypeProgress {
			out = append(out, event.Step)
		}
	}
	return out
}

func seedCase(repo *storagetest.MemRepository, caseID string) {
	repo.AddCase(&storage.Case{
		ID:          caseID,
		Status:      storage.DRAFT,
		Environment: "test",
		DocumentXML: []byte("<ichicsr/>"),
	})
}

func newTestService(repo *storagetest.MemRepository, apiFake *fakeAPI, auth *fakeAuth) (*Service, *recordBroadcaster) {
	broadcaster := &recordBroadcaster{}
	svc := New(Config{
		Auth:                auth,
		API:                 apiFake,
		Cases:               repo,
		Attempts:            repo,
		Workflow:            workflow.NewCaseMachine(repo),
		Documents:           document.NewStoreGenerator(repo),
		Broadcaster:         broadcaster,
		MaxAutomaticRetries: 3,
		MaxTotalAttempts:    10,
		BaseDelay:           time.Millisecond,
		MaxDelay:            5 * time.Millisecond,
	})
	return svc, broadcaster
}

func TestSubmitHappyPath(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	apiFake := &fakeAPI{}
	svc, broadcaster := newTestService(repo, apiFake, &fakeAuth{})

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, result.AttemptNumber)
	assert.Equal(t, "sub-42", result.RemoteSubmissionID)
	assert.Equal(t, "core-7", result.RemoteCoreID)

	c, err := repo.Case(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SUBMITTED, c.Status)
	assert.Equal(t, "sub-42", c.RemoteSubmissionID)
	assert.Equal(t, "core-7", c.RemoteCoreID)
	require.NotNil(t, c.SubmittedAt)

	attempt, err := repo.LatestAttempt(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SUCCESS, attempt.State)
	assert.Equal(t, 1, attempt.Number)

	count, err := repo.AttemptCount(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// progress events in step order, snapshot removed on completion
	assert.Equal(t, []string{
		string(StepAuthenticating),
		string(StepCreatingSubmission),
		string(StepUploadingDocument),
		string(StepFinalizing),
		string(StepComplete),
	}, broadcaster.steps())
	_, live := svc.Progress("case-1")
	assert.False(t, live)
}

func TestSubmitRetriesTransientFailure(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	apiFake := &fakeAPI{
		finalizeErrs: []error{
			&gateway.APIError{Category: gateway.CategoryServerError, HTTPStatus: 503, Message: "unavailable"},
		},
	}
	auth := &fakeAuth{}
	svc, _ := newTestService(repo, apiFake, auth)

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, apiFake.finalizeCalls)
	// the retry restarts the whole step sequence
	assert.Equal(t, 2, apiFake.createCalls)
	assert.Equal(t, 2, auth.calls)
	assert.Len(t, repo.HistoryEvents("case-1", storage.EventAPIRetry), 1)

	count, err := repo.AttemptCount(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "retries share one attempt row")
}

func TestSubmitValidationErrorNoRetry(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	apiFake := &fakeAPI{
		createErrs: []error{
			&gateway.APIError{Category: gateway.CategoryValidation, HTTPStatus: 422, Message: "bad document"},
			&gateway.APIError{Category: gateway.CategoryValidation, HTTPStatus: 422, Message: "bad document"},
		},
	}
	svc, _ := newTestService(repo, apiFake, &fakeAuth{})

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, string(gateway.CategoryValidation), result.ErrorCategory)
	assert.Equal(t, 1, apiFake.createCalls, "non-retryable category must not retry")

	attempt, err := repo.LatestAttempt(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.FAILED, attempt.State)
	assert.Equal(t, 422, attempt.HTTPStatus)

	c, err := repo.Case(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SUBMISSION_FAILED, c.Status)
	assert.Contains(t, c.ErrorSummary, "bad document")
}

func TestSubmitRetryBudgetBoundsRetries(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	serverErr := &gateway.APIError{Category: gateway.CategoryServerError, HTTPStatus: 500, Message: "boom"}
	apiFake := &fakeAPI{
		createErrs: []error{serverErr, serverErr, serverErr, serverErr, serverErr, serverErr},
	}
	broadcaster := &recordBroadcaster{}
	svc := New(Config{
		Auth:                &fakeAuth{},
		API:                 apiFake,
		Cases:               repo,
		Attempts:            repo,
		Workflow:            workflow.NewCaseMachine(repo),
		Documents:           document.NewStoreGenerator(repo),
		Broadcaster:         broadcaster,
		MaxAutomaticRetries: 2,
		MaxTotalAttempts:    10,
		BaseDelay:           time.Millisecond,
		MaxDelay:            5 * time.Millisecond,
	})

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, string(gateway.CategoryServerError), result.ErrorCategory)
	assert.Equal(t, 3, apiFake.createCalls, "initial try plus exactly maxAutomaticRetries")
	assert.Len(t, repo.HistoryEvents("case-1", storage.EventAPIRetry), 2)
}

func TestSubmitCancelledMidFlight(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	apiFake := &fakeAPI{}
	svc, _ := newTestService(repo, apiFake, &fakeAuth{})
	// flag lands after creating_submission completes, before uploading starts
	apiFake.onCreate = func() { svc.Cancel("case-1") }

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, CategoryCancelled, result.ErrorCategory)
	assert.Equal(t, "cancelled by user", result.Error)
	assert.Equal(t, 1, apiFake.createCalls)
	assert.Equal(t, 0, apiFake.uploadCalls)
	assert.Equal(t, 0, apiFake.finalizeCalls)

	c, err := repo.Case(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SUBMISSION_FAILED, c.Status)
	assert.Equal(t, "cancelled by user", c.ErrorSummary)

	attempt, err := repo.LatestAttempt(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.FAILED, attempt.State)
	assert.Equal(t, CategoryCancelled, attempt.ErrorCategory)
}

func TestSubmitSingleFlight(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	entered := make(chan struct{})
	release := make(chan struct{})
	apiFake := &fakeAPI{blockCreate: release}
	var once sync.Once
	apiFake.onCreate = func() { once.Do(func() { close(entered) }) }
	svc, _ := newTestService(repo, apiFake, &fakeAuth{})

	results := make(chan Result, 1)
	go func() {
		results <- svc.Submit(context.Background(), "case-1", "test")
	}()
	<-entered

	// first run is parked inside creating_submission and still holds the guard
	second := svc.Submit(context.Background(), "case-1", "test")
	assert.Equal(t, OutcomeAlreadyRunning, second.Outcome)
	assert.True(t, svc.Running("case-1"))

	close(release)
	first := <-results
	assert.Equal(t, OutcomeSuccess, first.Outcome)
	assert.False(t, svc.Running("case-1"))

	count, err := repo.AttemptCount(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "rejected duplicate records no attempt")
}

func TestSubmitBudgetExceeded(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	ctx := context.Background()
	for n := 1; n <= 2; n++ {
		require.NoError(t, repo.CreateAttempt(ctx, &storage.Attempt{
			CaseID: "case-1", Number: n, State: storage.FAILED, StartedAt: time.Now(),
		}))
	}
	apiFake := &fakeAPI{}
	broadcaster := &recordBroadcaster{}
	svc := New(Config{
		Auth:                &fakeAuth{},
		API:                 apiFake,
		Cases:               repo,
		Attempts:            repo,
		Workflow:            workflow.NewCaseMachine(repo),
		Documents:           document.NewStoreGenerator(repo),
		Broadcaster:         broadcaster,
		MaxAutomaticRetries: 3,
		MaxTotalAttempts:    2,
		BaseDelay:           time.Millisecond,
		MaxDelay:            5 * time.Millisecond,
	})

	result := svc.Submit(ctx, "case-1", "test")

	assert.Equal(t, OutcomeBudgetExceeded, result.Outcome)
	assert.Equal(t, CategoryBudgetExceeded, result.ErrorCategory)
	assert.Equal(t, 0, apiFake.createCalls)

	count, err := repo.AttemptCount(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "no attempt row for a refused submit")

	c, err := repo.Case(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SUBMISSION_FAILED, c.Status)
}

func TestSubmitPreconditionFailure(t *testing.T) {
	repo := storagetest.NewMemRepository()
	repo.AddCase(&storage.Case{
		ID:          "case-1",
		Status:      storage.DRAFT,
		Environment: "test",
		// no document generated yet
	})
	apiFake := &fakeAPI{}
	svc, _ := newTestService(repo, apiFake, &fakeAuth{})

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomePreconditionFailed, result.Outcome)
	assert.Equal(t, string(gateway.CategoryValidation), result.ErrorCategory)
	assert.Equal(t, 0, apiFake.createCalls)

	count, err := repo.AttemptCount(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "precondition failure records no attempt")

	c, err := repo.Case(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, storage.DRAFT, c.Status)
}

func TestSubmitAuthFailureTerminal(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	apiFake := &fakeAPI{}
	auth := &fakeAuth{err: &gateway.APIError{Category: gateway.CategoryAuthentication, HTTPStatus: 401, Message: "bad credentials"}}
	svc, _ := newTestService(repo, apiFake, auth)

	result := svc.Submit(context.Background(), "case-1", "test")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, string(gateway.CategoryAuthentication), result.ErrorCategory)
	assert.Equal(t, 0, apiFake.createCalls)
	assert.Equal(t, 1, auth.calls, "authentication errors are not retried")
}

func TestAttemptNumberMonotonicAcrossRestarts(t *testing.T) {
	repo := storagetest.NewMemRepository()
	seedCase(repo, "case-1")
	ctx := context.Background()

	first, _ := newTestService(repo, &fakeAPI{}, &fakeAuth{})
	result := first.Submit(ctx, "case-1", "test")
	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, result.AttemptNumber)

	// remote rejection puts the case back into a submittable state
	moved, err := repo.SetStatus(ctx, "case-1", []storage.Status{storage.SUBMITTED}, storage.SUBMISSION_FAILED)
	require.NoError(t, err)
	require.True(t, moved)

	// fresh service over the same storage simulates a process restart
	second, _ := newTestService(repo, &fakeAPI{}, &fakeAuth{})
	result = second.Submit(ctx, "case-1", "test")
	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.AttemptNumber)

	attempt, err := repo.LatestAttempt(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt.Number)
}
