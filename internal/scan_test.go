package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	assert.Error(t, ValidateImage("text/plain", []byte("x")))
	assert.Error(t, ValidateImage("image/jpeg", nil))
	assert.Error(t, ValidateImage("image/jpeg", make([]byte, maxScanImageBytes+1)))
	assert.NoError(t, ValidateImage("image/jpeg", []byte{0xFF, 0xD8, 0xFF}))
}

func TestScannerRunEnrichesEveryDetection(t *testing.T) {
	vision := &fakeVisionModel{
		maxSide:   3072,
		ctxWindow: 1_000_000,
		detections: []Detection{
			{Title: "Dune", Author: "Frank Herbert", Confidence: 0.9},
			{Title: "Dune Messiah", Author: "Frank Herbert", Confidence: 0.5},
		},
	}
	enricher := NewEnricher() // no providers: every detection stays needsReview
	cache := NewCache(mustRistrettoTier(t), nil, nil)
	scanner := NewScanner(vision, enricher, cache)

	actor := newTestActor("scan-job-1")
	scanner.Run(context.Background(), actor, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")

	state := actor.CurrentState()
	assert.Equal(t, PipelineAIScan, state.Pipeline)
	assert.Equal(t, JobCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, 2, state.Result.TotalProcessed)

	result, found, err := FetchScanResult(context.Background(), cache, "scan-job-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, result.Books, 2)
	for _, b := range result.Books {
		assert.Equal(t, "needsReview", b.Status)
	}
}

// TestScannerRunBatchTagsPipelineBeforeFirstImage pins the same fix as
// TestScannerRunEnrichesEveryDetection for the batch entrypoint: the job
// actor must carry pipeline:ai_scan from job_started, not just on the
// single-image path.
func TestScannerRunBatchTagsPipelineBeforeFirstImage(t *testing.T) {
	vision := &fakeVisionModel{
		maxSide:   3072,
		ctxWindow: 1_000_000,
		detections: []Detection{
			{Title: "Dune", Author: "Frank Herbert", Confidence: 0.9},
		},
	}
	enricher := NewEnricher()
	cache := NewCache(mustRistrettoTier(t), nil, nil)
	scanner := NewScanner(vision, enricher, cache)

	actor := newTestActor("scan-batch-1")
	scanner.RunBatch(context.Background(), actor, []BatchImage{
		{Index: 0, Data: []byte{0xFF, 0xD8, 0xFF}, MIME: "image/jpeg"},
		{Index: 1, Data: []byte{0xFF, 0xD8, 0xFF}, MIME: "image/jpeg"},
	})

	state := actor.CurrentState()
	assert.Equal(t, PipelineAIScan, state.Pipeline)
	assert.Equal(t, JobCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, 2, state.Result.TotalProcessed)
}

func TestDedupeDetectionsKeepsHighestConfidence(t *testing.T) {
	detections := []Detection{
		{Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593", Confidence: 0.4},
		{Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593", Confidence: 0.9},
		{Title: "Neuromancer", Author: "William Gibson", Confidence: 0.7},
	}
	deduped := dedupeDetections(detections)

	require.Len(t, deduped, 2)
	assert.Equal(t, 0.9, deduped[0].Confidence)
}

func TestSummarizeScan(t *testing.T) {
	books := []DetectedBook{
		{Status: "approved"},
		{Status: "approved"},
		{Status: "needsReview"},
	}
	s := summarizeScan(books)
	assert.Equal(t, 3, s.TotalDetected)
	assert.Equal(t, 2, s.Approved)
	assert.Equal(t, 1, s.NeedsReview)
}
