package internal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHandler wires a handler with only the components the §6 batch-scan
// route touches; the rest of the wiring is exercised in enrichment_test.go,
// csvimport_test.go, and scan_test.go at the orchestrator level.
func newTestHandler(t *testing.T) *handler {
	t.Helper()
	vision := &fakeVisionModel{detections: nil}
	cache := NewCache(mustRistrettoTier(t), nil, nil)
	enricher := NewEnricher()
	scanner := NewScanner(vision, enricher, cache)
	jobs := NewJobManager(nil, cache)
	return NewHandler(nil, enricher, nil, scanner, jobs, cache, nil, nil, NewMetrics(), NewRateLimiter())
}

func postBatchScan(t *testing.T, ts *httptest.Server, images []batchImageUpload) *http.Response {
	t.Helper()
	body, err := json.Marshal(batchScanRequest{Images: images})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/scan-bookshelf/batch", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func fakeImageUpload(index, size int) batchImageUpload {
	return batchImageUpload{
		Index: index,
		Data:  base64.StdEncoding.EncodeToString(make([]byte, size)),
		MIME:  "image/jpeg",
	}
}

// TestHandleScanBookshelfBatchAcceptsImagesUnderPerImageCap covers spec.md's
// "Accepts up to 5 images in one request; each <= 10 MB": three 4MB images
// total 12MB, over the old aggregate cap this handler used to enforce, but
// each is individually well under the per-image limit and must be accepted.
func TestHandleScanBookshelfBatchAcceptsImagesUnderPerImageCap(t *testing.T) {
	h := newTestHandler(t)
	ts := httptest.NewServer(NewMux(h))
	t.Cleanup(ts.Close)

	images := []batchImageUpload{
		fakeImageUpload(0, 4*1024*1024),
		fakeImageUpload(1, 4*1024*1024),
		fakeImageUpload(2, 4*1024*1024),
	}
	resp := postBatchScan(t, ts, images)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted scanAcceptedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, 3, accepted.TotalPhotos)
}

// TestHandleScanBookshelfBatchRejectsSingleOversizedImage covers the
// per-image half of the cap: one image over 10MB must be rejected even
// though it's the only image in the request, which the old aggregate-only
// check would have accepted.
func TestHandleScanBookshelfBatchRejectsSingleOversizedImage(t *testing.T) {
	h := newTestHandler(t)
	ts := httptest.NewServer(NewMux(h))
	t.Cleanup(ts.Close)

	resp := postBatchScan(t, ts, []batchImageUpload{fakeImageUpload(0, 11*1024*1024)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t)
	ts := httptest.NewServer(NewMux(h))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"status":"ok"`)
}
