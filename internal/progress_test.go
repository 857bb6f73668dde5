package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{
			Type: MsgJobStarted, JobID: "job-1", Pipeline: PipelineCSVImport,
			Timestamp: "2026-07-31T00:00:00Z", Version: protocolVersion,
			Payload: JobStartedPayload{TotalCount: 10},
		},
		{
			Type: MsgJobProgress, JobID: "job-1", Pipeline: PipelineAIScan,
			Timestamp: "2026-07-31T00:00:01Z", Version: protocolVersion,
			Payload: JobProgressPayload{ProcessedCount: 3, TotalCount: 10, Progress: 0.3, Index: 2},
		},
		{
			Type: MsgJobComplete, JobID: "job-1", Pipeline: PipelineBatchEnrichment,
			Timestamp: "2026-07-31T00:00:02Z", Version: protocolVersion,
			Payload: CompletionSummary{TotalProcessed: 10, SuccessCount: 9, FailureCount: 1, ResourceID: "enrichment-results:job-1"},
		},
		{
			Type: MsgError, JobID: "job-1", Pipeline: PipelineCSVImport,
			Timestamp: "2026-07-31T00:00:03Z", Version: protocolVersion,
			Payload: ErrorPayload{Code: "PROVIDER_ERROR", Message: "boom", Retryable: true},
		},
	}

	for _, m := range cases {
		raw, err := serializeMessage(m)
		require.NoError(t, err)

		parsed, err := parseMessage(raw)
		require.NoError(t, err)

		assert.Equal(t, m.Type, parsed.Type)
		assert.Equal(t, m.JobID, parsed.JobID)
		assert.Equal(t, m.Pipeline, parsed.Pipeline)
		assert.Equal(t, m.Timestamp, parsed.Timestamp)
		assert.Equal(t, m.Version, parsed.Version)
		// Payload round-trips as map[string]any through the generic Message
		// envelope; re-marshal it and compare against the typed original.
		wantPayload, err := serializeMessage(Message{Payload: m.Payload})
		require.NoError(t, err)
		gotPayload, err := serializeMessage(Message{Payload: parsed.Payload})
		require.NoError(t, err)
		assert.JSONEq(t, string(wantPayload), string(gotPayload))
	}
}

func TestCloseCodeRetryable(t *testing.T) {
	assert.True(t, CloseInternalError.retryable())
	assert.True(t, CloseServiceRestart.retryable())
	assert.True(t, CloseTryAgainLater.retryable())
	assert.False(t, CloseNormal.retryable())
	assert.False(t, CloseCanceled.retryable())
	assert.False(t, ClosePolicy.retryable())
	assert.False(t, CloseMessageTooBig.retryable())
}
