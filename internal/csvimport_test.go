package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVisionModel is a hand-rolled VisionModel test double; the vision
// model itself is explicitly out of scope (§1 Non-goals), so orchestrator
// tests only need a double that returns fixed rows/detections.
type fakeVisionModel struct {
	rows       []CSVRow
	detections []Detection
	err        error
	maxSide    int
	ctxWindow  int
}

func (f *fakeVisionModel) ParseCSV(ctx context.Context, csvText string, promptVersion string) ([]CSVRow, error) {
	return f.rows, f.err
}

func (f *fakeVisionModel) DetectBooks(ctx context.Context, image []byte, mimeType string) ([]Detection, error) {
	return f.detections, f.err
}

func (f *fakeVisionModel) MaxSideLength() int { return f.maxSide }
func (f *fakeVisionModel) ContextWindowTokens() int {
	if f.ctxWindow == 0 {
		return 1_000_000
	}
	return f.ctxWindow
}

func TestValidateCSV(t *testing.T) {
	assert.Error(t, ValidateCSV(nil))

	good := []byte("title,author,isbn\nDune,Frank Herbert,9780441013593\n")
	assert.NoError(t, ValidateCSV(good))

	ragged := []byte("title,author,isbn\nDune,Frank Herbert\n")
	assert.Error(t, ValidateCSV(ragged))

	tooBig := make([]byte, maxCSVBytes+1)
	assert.Error(t, ValidateCSV(tooBig))
}

func TestCSVImporterRunEnrichesEveryRowAndStoresResult(t *testing.T) {
	vision := &fakeVisionModel{rows: []CSVRow{
		{Title: "Dune", Author: "Frank Herbert"},
		{Title: "Neuromancer", Author: "William Gibson"},
		{Title: "Foundation", Author: "Isaac Asimov"},
	}}
	// No providers configured: every identifier enriches to "no match
	// found", exercising the concurrency-10 fan-out and index alignment
	// without depending on any provider's wire format.
	enricher := NewEnricher()
	cache := NewCache(mustRistrettoTier(t), nil, nil)
	importer := NewCSVImporter(vision, enricher, cache)

	actor := newTestActor("csv-job-1")
	importer.Run(context.Background(), actor, []byte("irrelevant, validated upstream"))

	state := actor.CurrentState()
	assert.Equal(t, JobCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, 3, state.Result.TotalProcessed)
	assert.Equal(t, 0, state.Result.SuccessCount)
	assert.Equal(t, 3, state.Result.FailureCount)

	result, found, err := FetchCSVResult(context.Background(), cache, "csv-job-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, result.Books, 3)
	for i, row := range vision.rows {
		assert.Equal(t, row.Title, result.Books[i].Row.Title, "result stays index-aligned with input rows")
		assert.NotEmpty(t, result.Books[i].Error)
	}
}

// TestCSVImporterRunExcludesRowsWhenCanceledBeforeStart covers §4.9's
// "partial results are stored and returned" on cancellation: rows never
// attempted because the actor was already canceled must not inflate
// TotalProcessed or appear in the stored result.
func TestCSVImporterRunExcludesRowsWhenCanceledBeforeStart(t *testing.T) {
	vision := &fakeVisionModel{rows: []CSVRow{
		{Title: "Dune", Author: "Frank Herbert"},
		{Title: "Neuromancer", Author: "William Gibson"},
		{Title: "Foundation", Author: "Isaac Asimov"},
	}}
	enricher := NewEnricher()
	cache := NewCache(mustRistrettoTier(t), nil, nil)
	importer := NewCSVImporter(vision, enricher, cache)

	actor := newTestActor("csv-job-canceled")
	actor.CancelJob("test cancel before start")
	importer.Run(context.Background(), actor, []byte("irrelevant, validated upstream"))

	state := actor.CurrentState()
	require.NotNil(t, state.Result)
	assert.Equal(t, 0, state.Result.TotalProcessed)
	assert.Equal(t, 0, state.Result.SuccessCount)
	assert.Equal(t, 0, state.Result.FailureCount)

	result, found, err := FetchCSVResult(context.Background(), cache, "csv-job-canceled")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, result.Books)
	assert.Equal(t, "0/0", result.SuccessRate)
}

func mustRistrettoTier(t *testing.T) tier {
	t.Helper()
	tr, err := NewRistrettoTier()
	require.NoError(t, err)
	return tr
}
