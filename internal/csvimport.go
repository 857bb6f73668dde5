package internal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

const (
	maxCSVBytes = 10 * 1024 * 1024
	maxCSVRows  = 10_000
)

// ImportedBook is one row of the CSV import's final result: the enriched
// Work if enrichment succeeded, or an error describing why it didn't.
type ImportedBook struct {
	Row   CSVRow `json:"row"`
	Work  *Work  `json:"work,omitempty"`
	Error string `json:"error,omitempty"`
}

// CSVImportResult is stored at `csv-results:<jobId>` (§4.9 step 4).
type CSVImportResult struct {
	Books       []ImportedBook `json:"books"`
	SuccessRate string         `json:"successRate"` // "ok/total"
}

// CSVImporter runs the CSV-import orchestrator (§4.9).
type CSVImporter struct {
	vision   VisionModel
	enricher *Enricher
	cache    *Cache
}

func NewCSVImporter(vision VisionModel, enricher *Enricher, cache *Cache) *CSVImporter {
	return &CSVImporter{vision: vision, enricher: enricher, cache: cache}
}

// ValidateCSV implements §4.9 step 1: non-empty, within the size and row
// caps, and every row's column count matches the header's (RFC 4180
// quoting, including doubled quotes, is handled by encoding/csv).
func ValidateCSV(body []byte) error {
	if len(body) == 0 {
		return errBadRequest
	}
	if len(body) > maxCSVBytes {
		return errRequestTooBig
	}

	r := csv.NewReader(bufio.NewReader(bytes.NewReader(body)))
	r.FieldsPerRecord = -1 // we check column consistency ourselves to report a clean error

	header, err := r.Read()
	if err != nil {
		return errBadRequest
	}
	cols := len(header)

	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errBadRequest
		}
		if len(record) != cols {
			return errBadRequest
		}
		rows++
		if rows > maxCSVRows {
			return errBadRequest
		}
	}
	return nil
}

// Run drives the whole orchestrator against an already-validated CSV body
// and an already-initialized job actor (§4.9 steps 2-5).
func (ci *CSVImporter) Run(ctx context.Context, actor *jobActor, body []byte) {
	rows, err := ci.parseCached(ctx, body)
	if err != nil {
		actor.SendError(ErrorPayload{Code: "PROVIDER_ERROR", Message: err.Error(), Retryable: true})
		return
	}

	actor.InitializeJobState(PipelineCSVImport, len(rows))

	// §4.9 step 3: enrich rows through §4.5 with concurrency 10, polling
	// cancellation before each row; row-level progress fires every
	// completion (the actor's own throttle rule governs how often that's
	// actually persisted, satisfying "every row or every 30s, whichever
	// first"). A canceled row is left unattempted (nil slot) and dropped
	// from the stored result entirely, so a mid-batch cancel (§8 scenario
	// 5) reports counts that sum to what was actually processed, not the
	// full row count.
	slots := make([]*ImportedBook, len(rows))
	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultEnrichConcurrency)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if actor.Canceled() {
				return nil
			}
			work, err := ci.enricher.enrichOne(gctx, Identifier{ISBN: row.ISBN, Title: row.Title, Author: row.Author})
			var book ImportedBook
			switch {
			case err != nil:
				book = ImportedBook{Row: row, Error: err.Error()}
			case work == nil:
				book = ImportedBook{Row: row, Error: "no match found"}
			default:
				book = ImportedBook{Row: row, Work: work}
			}
			slots[i] = &book
			n := done.Add(1)
			actor.UpdateProgress(int(n), i)
			return nil
		})
	}
	_ = g.Wait()

	books := make([]ImportedBook, 0, len(rows))
	for _, s := range slots {
		if s != nil {
			books = append(books, *s)
		}
	}

	result := buildCSVResult(books)
	ci.store(ctx, actor.id, result)

	successCount, failureCount := countOutcomes(books)
	actor.Complete(CompletionSummary{
		TotalProcessed: len(books),
		SuccessCount:   successCount,
		FailureCount:   failureCount,
		ResourceID:     csvResultsKey(actor.id),
	})
}

// parseCached wraps vision.ParseCSV with a version-tagged cache keyed on the
// CSV body's content and csvParsePromptVersion, so a prompt rewrite
// invalidates every previously-parsed file without touching any stored
// csv-results (§4.9 step 2).
func (ci *CSVImporter) parseCached(ctx context.Context, body []byte) ([]CSVRow, error) {
	key := csvParseKey(body, csvParsePromptVersion)
	if ci.cache != nil {
		if raw, src, _ := ci.cache.Get(ctx, key); src != SourceMiss {
			var rows []CSVRow
			if err := sonic.Unmarshal(raw, &rows); err == nil {
				return rows, nil
			}
		}
	}

	rows, err := ci.vision.ParseCSV(ctx, string(body), csvParsePromptVersion)
	if err != nil {
		return nil, err
	}

	if ci.cache != nil {
		if raw, err := sonic.Marshal(rows); err == nil {
			ci.cache.Put(ctx, key, raw, ttlEditions)
		}
	}
	return rows, nil
}

func buildCSVResult(books []ImportedBook) CSVImportResult {
	ok, _ := countOutcomes(books)
	return CSVImportResult{
		Books:       books,
		SuccessRate: fmt.Sprintf("%d/%d", ok, len(books)),
	}
}

func countOutcomes(books []ImportedBook) (success, failure int) {
	for _, b := range books {
		if b.Work != nil {
			success++
		} else {
			failure++
		}
	}
	return
}

func (ci *CSVImporter) store(ctx context.Context, jobID string, result CSVImportResult) {
	raw, err := sonic.Marshal(result)
	if err != nil {
		Log(ctx).Error("failed to marshal csv import result", "jobId", jobID, "err", err)
		return
	}
	ci.cache.Put(ctx, csvResultsKey(jobID), raw, 24*time.Hour)
}

// FetchCSVResult implements `GET /v1/csv/results/{jobId}` (§6).
func FetchCSVResult(ctx context.Context, cache *Cache, jobID string) (CSVImportResult, bool, error) {
	raw, src, err := cache.Get(ctx, csvResultsKey(jobID))
	if err != nil {
		return CSVImportResult{}, false, err
	}
	if src == SourceMiss {
		return CSVImportResult{}, false, nil
	}
	var result CSVImportResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return CSVImportResult{}, false, err
	}
	return result, true, nil
}
