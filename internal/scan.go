package internal

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	maxScanImageBytes  = 5 * 1024 * 1024
	maxBatchImages     = 5
	maxBatchImageBytes = 10 * 1024 * 1024

	// approvalThreshold is the confidence bar for "approved" vs
	// "needsReview" (§4.10 step 6).
	approvalThreshold = 0.6

	// tokenBudgetFraction is the share of the model's context window a scan
	// is allowed to consume before the image gets resized (§4.10 step 2).
	tokenBudgetFraction = 0.8

	// resizeJPEGQuality is the quality setting used when re-encoding a
	// resized image (§4.10 step 2: "a JPEG quality setting").
	resizeJPEGQuality = 85
)

// DetectedBook pairs a raw Detection with its enrichment outcome and review
// bucket (§4.10 step 6).
type DetectedBook struct {
	Detection Detection `json:"detection"`
	Work      *Work     `json:"work,omitempty"`
	Status    string    `json:"status"` // "approved" | "needsReview"
}

// ScanResult is stored at `scan-results:<jobId>` (§4.10 step 7).
type ScanResult struct {
	Books []DetectedBook `json:"books"`
}

// ScanSummary tallies a scan job's detections. finish reports it through
// the generic CompletionSummary (TotalProcessed = detections, SuccessCount =
// approved, FailureCount = needsReview, plus Duration), so the job_complete
// payload does not carry the totalDetected/approved/needsReview field names.
type ScanSummary struct {
	TotalDetected int     `json:"totalDetected"`
	Approved      int     `json:"approved"`
	NeedsReview   int     `json:"needsReview"`
	Duration      float64 `json:"duration"`
}

// Scanner runs the AI bookshelf-scan orchestrator (§4.10).
type Scanner struct {
	vision   VisionModel
	enricher *Enricher
	cache    *Cache
}

func NewScanner(vision VisionModel, enricher *Enricher, cache *Cache) *Scanner {
	return &Scanner{vision: vision, enricher: enricher, cache: cache}
}

// ValidateImage implements §4.10 step 1.
func ValidateImage(contentType string, body []byte) error {
	if len(contentType) < 6 || contentType[:6] != "image/" {
		return errBadRequest
	}
	if len(body) == 0 {
		return errBadRequest
	}
	if len(body) > maxScanImageBytes {
		return errRequestTooBig
	}
	return nil
}

// Run drives the single-image orchestrator (§4.10 steps 2-7), initializing
// the job actor's state itself so job_started carries pipeline:ai_scan
// before any progress is broadcast (§4.7/§4.8).
func (sc *Scanner) Run(ctx context.Context, actor *jobActor, img []byte, mimeType string) {
	start := time.Now()
	actor.InitializeJobState(PipelineAIScan, 1)
	books, err := sc.runOneImage(ctx, actor, img, mimeType, 0)
	if err != nil {
		actor.SendError(ErrorPayload{Code: "PROVIDER_ERROR", Message: err.Error(), Retryable: true})
		return
	}

	sc.finish(ctx, actor, books, start)
}

// runOneImage performs steps 2-6 for a single photo, used by both Run and
// RunBatch's per-image loop; index attributes progress to the photo's
// position in a batch (§4.10 "Batch variant").
func (sc *Scanner) runOneImage(ctx context.Context, actor *jobActor, img []byte, mimeType string, index int) ([]DetectedBook, error) {
	resized, resizedType := sc.maybeResize(img, mimeType)

	detections, err := sc.vision.DetectBooks(ctx, resized, resizedType)
	if err != nil {
		return nil, err
	}
	for i := range detections {
		detections[i].BoundingBox.clamp()
	}
	detections = dedupeDetections(detections)

	// §4.10 step 6: enrich detections in parallel, concurrency 10.
	books := make([]DetectedBook, len(detections))
	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultEnrichConcurrency)
	for i, d := range detections {
		i, d := i, d
		g.Go(func() error {
			if actor.Canceled() {
				books[i] = DetectedBook{Detection: d, Status: "needsReview"}
				return nil
			}
			work, err := sc.enricher.enrichOne(gctx, Identifier{ISBN: d.ISBN, Title: d.Title, Author: d.Author})
			status := "needsReview"
			if err == nil && work != nil && d.Confidence >= approvalThreshold {
				status = "approved"
			}
			books[i] = DetectedBook{Detection: d, Work: work, Status: status}
			n := done.Add(1)
			actor.UpdateProgress(int(n), index)
			return nil
		})
	}
	_ = g.Wait()
	return books, nil
}

// maybeResize implements §4.10 step 2: estimate tokens, and if they exceed
// 80% of the model's context window, downscale to the model's max side
// length and re-encode as JPEG at a fixed quality.
func (sc *Scanner) maybeResize(body []byte, mimeType string) ([]byte, string) {
	estimated := estimatedTokens(len(body))
	budget := int(float64(sc.vision.ContextWindowTokens()) * tokenBudgetFraction)
	if estimated <= budget {
		return body, mimeType
	}

	src, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return body, mimeType // fall back to sending the original rather than failing the scan
	}

	maxSide := sc.vision.MaxSideLength()
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSide && h <= maxSide {
		return body, mimeType
	}

	scale := float64(maxSide) / float64(w)
	if hScale := float64(maxSide) / float64(h); hScale < scale {
		scale = hScale
	}
	dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: resizeJPEGQuality}); err != nil {
		return body, mimeType
	}
	return buf.Bytes(), "image/jpeg"
}

// dedupeDetections implements §4.10 step 5: dedupe by ISBN when present,
// else `title::author`, keeping the highest-confidence detection.
func dedupeDetections(detections []Detection) []Detection {
	best := map[string]Detection{}
	order := []string{}
	for _, d := range detections {
		key := detectionKey(d)
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = d
			continue
		}
		if d.Confidence > existing.Confidence {
			best[key] = d
		}
	}
	out := make([]Detection, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func detectionKey(d Detection) string {
	if i13, ok := toISBN13(d.ISBN); ok {
		return "isbn:" + i13
	}
	return "ta:" + normalizeTitle(d.Title) + "::" + normalizeAuthor(d.Author)
}

func (sc *Scanner) finish(ctx context.Context, actor *jobActor, books []DetectedBook, start time.Time) {
	result := ScanResult{Books: books}
	sc.store(ctx, actor.id, result)

	summary := summarizeScan(books)
	summary.Duration = time.Since(start).Seconds()
	actor.Complete(CompletionSummary{
		TotalProcessed: len(books),
		SuccessCount:   summary.Approved,
		FailureCount:   summary.NeedsReview,
		Duration:       summary.Duration,
		ResourceID:     scanResultsKey(actor.id),
	})
}

func summarizeScan(books []DetectedBook) ScanSummary {
	s := ScanSummary{TotalDetected: len(books)}
	for _, b := range books {
		if b.Status == "approved" {
			s.Approved++
		} else {
			s.NeedsReview++
		}
	}
	return s
}

func (sc *Scanner) store(ctx context.Context, jobID string, result ScanResult) {
	raw, err := sonic.Marshal(result)
	if err != nil {
		Log(ctx).Error("failed to marshal scan result", "jobId", jobID, "err", err)
		return
	}
	sc.cache.Put(ctx, scanResultsKey(jobID), raw, 24*time.Hour)
}

// FetchScanResult implements `GET /v1/scan/results/{jobId}` (§6).
func FetchScanResult(ctx context.Context, cache *Cache, jobID string) (ScanResult, bool, error) {
	raw, src, err := cache.Get(ctx, scanResultsKey(jobID))
	if err != nil {
		return ScanResult{}, false, err
	}
	if src == SourceMiss {
		return ScanResult{}, false, nil
	}
	var result ScanResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return ScanResult{}, false, err
	}
	return result, true, nil
}

// BatchImage is one photo in a batch scan request (§6 `POST
// /api/scan-bookshelf/batch`).
type BatchImage struct {
	Index int    `json:"index"`
	Data  []byte `json:"data"`
	MIME  string `json:"mime"`
}

// RunBatch implements the batch variant (§4.10): uploads happen before this
// is called (the handler layer owns blob storage); this runs steps 3-7
// sequentially per image, attributing progress to each image's index, and
// returns whatever was completed if canceled mid-batch.
func (sc *Scanner) RunBatch(ctx context.Context, actor *jobActor, images []BatchImage) {
	start := time.Now()
	actor.InitializeJobState(PipelineAIScan, len(images))
	sort.Slice(images, func(i, j int) bool { return images[i].Index < images[j].Index })

	var all []DetectedBook
	for _, img := range images {
		if actor.Canceled() {
			break
		}
		books, err := sc.runOneImage(ctx, actor, img.Data, img.MIME, img.Index)
		if err != nil {
			Log(ctx).Warn("batch scan: image failed", "jobId", actor.id, "index", img.Index, "err", err)
			continue
		}
		all = append(all, books...)
	}

	sc.finish(ctx, actor, all, start)
}
