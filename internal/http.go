package internal

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/stampede"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// envelopeMeta is the `metadata` member of every response envelope (§6).
type envelopeMeta struct {
	Timestamp      string `json:"timestamp"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
	Provider       string `json:"provider,omitempty"`
	Cached         bool   `json:"cached"`
	CacheSource    string `json:"cacheSource,omitempty"`
}

// envelope is `{data, metadata, error?}` (§6).
type envelope struct {
	Data     any           `json:"data"`
	Metadata *envelopeMeta `json:"metadata,omitempty"`
	Error    *wireError    `json:"error,omitempty"`
}

// writeJSON marshals v with sonic and writes it with status, the common
// write path every handler (and Metrics.Handler) funnels through.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		_logHandler.Error("failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeData(w http.ResponseWriter, start time.Time, data any, cached bool, source Source) {
	meta := &envelopeMeta{
		Timestamp:      nowISO(),
		ProcessingTime: time.Since(start).Milliseconds(),
		Cached:         cached,
	}
	if cached {
		meta.CacheSource = string(source)
	}
	writeJSON(w, http.StatusOK, envelope{Data: data, Metadata: meta})
}

// codeForStatus maps an HTTP status to the wire-level error code families
// named in §7, used when the originating error isn't already one of the
// handler's specific codeXxx constants.
func codeForStatus(status int) wireCode {
	switch status {
	case http.StatusBadRequest:
		return codeInvalidRequest
	case http.StatusUnauthorized:
		return codeAuthError
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusRequestEntityTooLarge:
		return codeFileTooLarge
	case http.StatusTooManyRequests:
		return codeRateLimited
	case http.StatusBadGateway:
		return codeProviderError
	case http.StatusGatewayTimeout:
		return codeProviderTimo
	default:
		return codeInternalError
	}
}

func writeErr(w http.ResponseWriter, err error, code wireCode) {
	status := httpStatusFor(err)
	if code == "" {
		code = codeForStatus(status)
	}
	writeJSON(w, status, envelope{Error: &wireError{Message: err.Error(), Code: code}})
}

// handler holds every service the router dispatches to. Grounded on the
// teacher's handler struct in handler.go, generalized from one book-metadata
// controller to this gateway's job-oriented surface.
type handler struct {
	search    *SearchService
	enricher  *Enricher
	csvImport *CSVImporter
	scanner   *Scanner
	jobs      *JobManager
	cache     *Cache
	blobStore *BlobStore
	queue     *Queue
	metrics   *Metrics
	limiter   *RateLimiter
	validate  *validator.Validate
}

// NewHandler builds the handler every route in NewMux dispatches to.
func NewHandler(search *SearchService, enricher *Enricher, csvImport *CSVImporter, scanner *Scanner,
	jobs *JobManager, cache *Cache, blobStore *BlobStore, queue *Queue, metrics *Metrics, limiter *RateLimiter) *handler {
	return &handler{
		search: search, enricher: enricher, csvImport: csvImport, scanner: scanner,
		jobs: jobs, cache: cache, blobStore: blobStore, queue: queue,
		metrics: metrics, limiter: limiter, validate: validator.New(),
	}
}

// NewMux wires every endpoint in §6 onto a chi router and returns it as an
// http.Handler, grounded on the teacher's newMux but moved from
// net/http.ServeMux to chi for path params and per-route middleware
// composition (SPEC_FULL §A).
func NewMux(h *handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-AI-Provider"},
	}))
	r.Use(h.rateLimit)
	if h.metrics != nil {
		r.Use(h.metrics.instrument)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/metrics", h.metrics.Handler())

	r.Get("/v1/search/title", h.handleSearchTitle)
	r.Get("/v1/search/isbn", h.handleSearchISBN)
	r.Get("/v1/search/advanced", h.handleSearchAdvanced)
	r.Get("/v1/editions/search", h.handleEditionsSearch)

	// /v1/... results reads are deduped per-URL for a short window so a
	// client polling a just-completed job doesn't hammer the cache tier.
	dedupe := stampede.Handler(1024, 2*time.Second)
	r.With(dedupe).Get("/v1/scan/results/{jobId}", h.handleScanResults)
	r.With(dedupe).Get("/v1/csv/results/{jobId}", h.handleCSVResults)
	r.With(dedupe).Get("/v1/enrichment/results/{jobId}", h.handleEnrichmentResults)

	r.Post("/api/scan-bookshelf", h.handleScanBookshelf)
	r.Post("/api/scan-bookshelf/batch", h.handleScanBookshelfBatch)
	r.Post("/api/scan-bookshelf/cancel", h.handleScanCancel)

	r.Post("/api/import/csv-gemini", h.handleCSVImport)

	r.Post("/v1/enrichment/batch", h.handleEnrichmentBatch)
	r.Post("/api/enrichment/cancel", h.handleEnrichmentCancel)

	r.Post("/api/token/refresh", h.handleTokenRefresh)
	r.Get("/api/job-state/{jobId}", h.handleJobState)
	r.Get("/ws/progress", h.handleWebSocket)

	r.Get("/images/proxy", h.handleImageProxy)
	r.Get("/api/queue/dead-letter-depth", h.handleDeadLetterDepth)

	return r
}

// rateLimit applies the fixed-window per-IP limiter (§4.6) ahead of every
// route; /health and /metrics are exempt since they're operational, not
// user traffic.
func (h *handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		res := h.limiter.CheckAndIncrement(r.Context(), clientIP(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(res.ResetAt).Seconds())))
			writeErr(w, errTooManyReqs, codeRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"endpoints": []string{
			"/v1/search/title", "/v1/search/isbn", "/v1/search/advanced", "/v1/editions/search",
			"/api/scan-bookshelf", "/api/scan-bookshelf/batch", "/api/scan-bookshelf/cancel",
			"/api/import/csv-gemini", "/v1/enrichment/batch", "/api/enrichment/cancel",
			"/api/token/refresh", "/api/job-state/{jobId}", "/ws/progress",
			"/v1/scan/results/{jobId}", "/v1/csv/results/{jobId}", "/v1/enrichment/results/{jobId}",
			"/metrics", "/images/proxy", "/api/queue/dead-letter-depth",
		},
	})
}

// --- search -----------------------------------------------------------

func (h *handler) handleSearchTitle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	maxResults := 10
	if v := r.URL.Query().Get("maxResults"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxResults = n
		}
	}
	res, err := h.search.SearchByTitle(r.Context(), q, maxResults)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	writeData(w, start, res.Result, res.FromCache, res.Source)
}

func (h *handler) handleSearchISBN(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	isbn := r.URL.Query().Get("isbn")
	if isbn == "" {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	if _, ok := normalizeISBN(isbn); !ok {
		writeErr(w, errBadRequest, codeInvalidISBN)
		return
	}
	res, err := h.search.SearchByISBN(r.Context(), isbn)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	writeData(w, start, res.Result, res.FromCache, res.Source)
}

func (h *handler) handleSearchAdvanced(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	title := r.URL.Query().Get("title")
	author := r.URL.Query().Get("author")
	if title == "" && author == "" {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	res, err := h.search.SearchAdvanced(r.Context(), title, author)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	writeData(w, start, res.Result, res.FromCache, res.Source)
}

func (h *handler) handleEditionsSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	workTitle := r.URL.Query().Get("workTitle")
	author := r.URL.Query().Get("author")
	if workTitle == "" || author == "" {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	res, err := h.search.SearchEditions(r.Context(), workTitle, author, limit)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	if len(res.Result.Works) == 0 {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	writeData(w, start, res.Result, res.FromCache, res.Source)
}

// --- ai scan -----------------------------------------------------------

// scanAcceptedResponse is the 202 body for both single and batch scan
// submissions (§6).
type scanAcceptedResponse struct {
	JobID          string   `json:"jobId"`
	Token          string   `json:"token"`
	Status         string   `json:"status"`
	WebsocketReady bool     `json:"websocketReady"`
	Stages         []string `json:"stages,omitempty"`
	EstimatedRange string   `json:"estimatedRange,omitempty"`
	TotalPhotos    int      `json:"totalPhotos,omitempty"`
}

var scanStages = []string{"resize", "detect", "enrich", "review"}

func (h *handler) handleScanBookshelf(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScanImageBytes+1))
	if err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	if err := ValidateImage(contentType, body); err != nil {
		writeErr(w, err, codeFileTooLarge)
		return
	}

	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	actor, tok := h.jobs.NewJob(jobID)
	h.metrics.JobStarted(PipelineAIScan)

	go func() {
		actor.WaitForReady(2 * time.Second)
		h.scanner.Run(context.Background(), actor, body, contentType)
	}()

	writeJSON(w, http.StatusAccepted, scanAcceptedResponse{
		JobID: jobID, Token: tok.Value, Status: string(JobInitialized),
		WebsocketReady: true, Stages: scanStages, EstimatedRange: "10-60s",
	})
}

// batchScanRequest is `POST /api/scan-bookshelf/batch`'s body (§6).
type batchScanRequest struct {
	JobID  string             `json:"jobId,omitempty"`
	Images []batchImageUpload `json:"images" validate:"required,min=1,max=5"`
}

type batchImageUpload struct {
	Index int    `json:"index"`
	Data  string `json:"data"`
	MIME  string `json:"mime"`
}

func (h *handler) handleScanBookshelfBatch(w http.ResponseWriter, r *http.Request) {
	var req batchScanRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, errBadRequest, codeBatchTooLarge)
		return
	}

	images := make([]BatchImage, 0, len(req.Images))
	for _, up := range req.Images {
		data, err := base64.StdEncoding.DecodeString(up.Data)
		if err != nil {
			writeErr(w, errBadRequest, codeInvalidRequest)
			return
		}
		if len(data) > maxBatchImageBytes {
			writeErr(w, errRequestTooBig, codeFileTooLarge)
			return
		}
		images = append(images, BatchImage{Index: up.Index, Data: data, MIME: up.MIME})
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	actor, tok := h.jobs.NewJob(jobID)
	h.metrics.JobStarted(PipelineAIScan)

	go func() {
		actor.WaitForReady(2 * time.Second)
		h.scanner.RunBatch(context.Background(), actor, images)
	}()

	writeJSON(w, http.StatusAccepted, scanAcceptedResponse{
		JobID: jobID, Token: tok.Value, Status: string(JobInitialized), TotalPhotos: len(images),
	})
}

// jobIDRequest is the shared `{jobId}` body for the cancel endpoints (§6).
type jobIDRequest struct {
	JobID string `json:"jobId" validate:"required"`
}

func (h *handler) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	h.handleCancel(w, r)
}

func (h *handler) handleEnrichmentCancel(w http.ResponseWriter, r *http.Request) {
	h.handleCancel(w, r)
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req jobIDRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	actor, ok := h.jobs.Get(req.JobID)
	if !ok {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	actor.CancelJob("canceled by client request")
	writeJSON(w, http.StatusOK, map[string]any{"jobId": req.JobID, "status": "canceled"})
}

// --- csv import ----------------------------------------------------------

func (h *handler) handleCSVImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCSVBytes + 1024); err != nil {
		writeErr(w, errRequestTooBig, codeFileTooLarge)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	defer func() { _ = file.Close() }()

	body, err := io.ReadAll(io.LimitReader(file, maxCSVBytes+1))
	if err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	if err := ValidateCSV(body); err != nil {
		writeErr(w, err, "")
		return
	}

	jobID := uuid.NewString()
	actor, tok := h.jobs.NewJob(jobID)
	h.metrics.JobStarted(PipelineCSVImport)

	go func() {
		actor.WaitForReady(2 * time.Second)
		h.csvImport.Run(context.Background(), actor, body)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID, "token": tok.Value})
}

// --- batch enrichment ------------------------------------------------------

// enrichmentBatchRequest is `POST /v1/enrichment/batch`'s body (§6).
type enrichmentBatchRequest struct {
	JobID string       `json:"jobId,omitempty"`
	Books []Identifier `json:"books" validate:"required,min=1"`
}

func (h *handler) handleEnrichmentBatch(w http.ResponseWriter, r *http.Request) {
	var req enrichmentBatchRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, errMissingIDs, codeInvalidRequest)
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	actor, tok := h.jobs.NewJob(jobID)
	h.metrics.JobStarted(PipelineBatchEnrichment)

	go func() {
		actor.WaitForReady(2 * time.Second)
		h.enricher.RunBatch(context.Background(), actor, h.cache, req.Books)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID, "token": tok.Value})
}

// --- job state / token refresh / websocket ------------------------------

// tokenRefreshRequest is `POST /api/token/refresh`'s body (§6).
type tokenRefreshRequest struct {
	JobID    string `json:"jobId" validate:"required"`
	OldToken string `json:"oldToken" validate:"required"`
}

func (h *handler) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRefreshRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	actor, ok := h.jobs.Get(req.JobID)
	if !ok {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	tok, ok := actor.RefreshAuthToken(req.OldToken, time.Now())
	if !ok {
		writeErr(w, errUnauthorized, codeAuthError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": req.JobID, "token": tok.Value, "expiresIn": int(time.Until(tok.ExpiresAt).Seconds()),
	})
}

func (h *handler) handleJobState(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	actor, ok := h.jobs.Get(jobID)
	if !ok {
		writeErr(w, errNotFound, codeNotFound)
		return
	}

	token := bearerToken(r)
	if !actor.TokenValid(token, time.Now()) {
		writeErr(w, errUnauthorized, codeAuthError)
		return
	}
	writeJSON(w, http.StatusOK, actor.CurrentState())
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (h *handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	token := r.URL.Query().Get("token")
	if jobID == "" || token == "" {
		http.Error(w, "missing jobId or token", http.StatusBadRequest)
		return
	}
	_ = h.jobs.Upgrade(w, r, jobID, token) // Upgrade writes its own error response on failure
}

// --- results, metrics, image proxy, dead-letter depth ---------------------

func (h *handler) handleScanResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	result, found, err := FetchScanResult(r.Context(), h.cache, jobID)
	if err != nil {
		writeErr(w, errInternal, codeInternalError)
		return
	}
	if !found {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: result, Metadata: &envelopeMeta{Timestamp: nowISO()}})
}

func (h *handler) handleCSVResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	result, found, err := FetchCSVResult(r.Context(), h.cache, jobID)
	if err != nil {
		writeErr(w, errInternal, codeInternalError)
		return
	}
	if !found {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: result, Metadata: &envelopeMeta{Timestamp: nowISO()}})
}

func (h *handler) handleEnrichmentResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	result, found, err := FetchBatchEnrichResult(r.Context(), h.cache, jobID)
	if err != nil {
		writeErr(w, errInternal, codeInternalError)
		return
	}
	if !found {
		writeErr(w, errNotFound, codeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: result, Metadata: &envelopeMeta{Timestamp: nowISO()}})
}

// imageProxyKey namespaces cached proxied cover bytes, distinct from the
// structured search/enrichment cache namespaces.
func imageProxyKey(url string) string {
	return cacheKey("img:proxy", map[string]string{"url": url})
}

// handleImageProxy fetches and caches a cover image URL so repeated clients
// don't hammer the origin host directly (§6 `GET /images/proxy`).
func (h *handler) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeErr(w, errBadRequest, codeMissingParam)
		return
	}
	key := imageProxyKey(url)

	if raw, src, _ := h.cache.Get(r.Context(), key); src != SourceMiss {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(raw)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		writeErr(w, errBadRequest, codeInvalidRequest)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeErr(w, errBadGateway, codeProviderError)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		writeErr(w, statusErr(resp.StatusCode), codeProviderError)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScanImageBytes))
	if err != nil {
		writeErr(w, errInternal, codeInternalError)
		return
	}
	h.cache.Put(r.Context(), key, data, 7*24*time.Hour)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// handleDeadLetterDepth reports the warm queue's dead-letter depth (§4.11:
// "a monitoring endpoint reports its depth").
func (h *handler) handleDeadLetterDepth(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"depth": 0})
		return
	}
	depth, err := h.queue.DeadLetterDepth()
	if err != nil {
		writeErr(w, errInternal, codeInternalError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"depth": depth})
}
