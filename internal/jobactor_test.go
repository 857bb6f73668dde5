package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestActor builds a jobActor with no persister/cache/WebSocket attached,
// exercising the same state machine the orchestrators drive without needing
// a live Postgres connection or a real WebSocket handshake.
func newTestActor(id string) *jobActor {
	return newJobActor(id, nil, nil, nil)
}

func TestJobActorInitializeThenRunning(t *testing.T) {
	a := newTestActor("job-1")
	a.InitializeJobState(PipelineCSVImport, 5)

	state := a.CurrentState()
	assert.Equal(t, JobRunning, state.Status)
	assert.Equal(t, 5, state.TotalCount)
	assert.Equal(t, PipelineCSVImport, state.Pipeline)
}

func TestJobActorUpdateProgressComputesFraction(t *testing.T) {
	a := newTestActor("job-2")
	a.InitializeJobState(PipelineAIScan, 4)
	a.UpdateProgress(2, 0)

	state := a.CurrentState()
	assert.Equal(t, 2, state.ProcessedCount)
	assert.InDelta(t, 0.5, state.Progress, 0.0001)
}

func TestJobActorCompleteSetsTerminalState(t *testing.T) {
	a := newTestActor("job-3")
	a.InitializeJobState(PipelineBatchEnrichment, 3)
	a.Complete(CompletionSummary{TotalProcessed: 3, SuccessCount: 3, ResourceID: "enrichment-results:job-3"})

	state := a.CurrentState()
	assert.Equal(t, JobCompleted, state.Status)
	assert.Equal(t, 1.0, state.Progress)
	require.NotNil(t, state.Result)
	assert.Equal(t, "enrichment-results:job-3", state.Result.ResourceID)
}

func TestJobActorSendErrorSetsFailedState(t *testing.T) {
	a := newTestActor("job-4")
	a.InitializeJobState(PipelineCSVImport, 1)
	a.SendError(ErrorPayload{Code: "PROVIDER_ERROR", Message: "boom", Retryable: true})

	state := a.CurrentState()
	assert.Equal(t, JobFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Equal(t, "boom", state.Error.Message)
}

func TestJobActorCancelJob(t *testing.T) {
	a := newTestActor("job-5")
	a.InitializeJobState(PipelineAIScan, 1)
	assert.False(t, a.Canceled())

	a.CancelJob("user requested")
	assert.True(t, a.Canceled())
	assert.Equal(t, JobCanceled, a.CurrentState().Status)
}

func TestJobActorTokenLifecycle(t *testing.T) {
	a := newTestActor("job-6")
	tok := AuthToken{Value: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	a.SetAuthToken(tok)

	assert.True(t, a.TokenValid("abc", time.Now()))
	assert.False(t, a.TokenValid("wrong", time.Now()))
	assert.False(t, a.TokenValid("abc", time.Now().Add(2*time.Hour)))
}

func TestJobActorRefreshAuthTokenOutsideWindowRefused(t *testing.T) {
	a := newTestActor("job-7")
	now := time.Now()
	tok := AuthToken{Value: "abc", ExpiresAt: now.Add(authTokenTTL)}
	a.SetAuthToken(tok)

	_, ok := a.RefreshAuthToken("abc", now.Add(authTokenTTL-31*time.Minute))
	assert.False(t, ok)

	newTok, ok := a.RefreshAuthToken("abc", now.Add(authTokenTTL-time.Minute))
	assert.True(t, ok)
	assert.NotEqual(t, "abc", newTok.Value)
}
