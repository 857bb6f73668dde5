package internal

import (
	"context"
	"io"
	"net/http"
	"time"
)

// harvestLookback is how far back the cover harvest looks for recently
// searched ISBNs (§4.11: "walks a list of ISBNs logged from recent
// searches").
const harvestLookback = 7 * 24 * time.Hour

// harvestBatchSize caps one run's work so a single harvest never runs
// unbounded against the provider fan-out.
const harvestBatchSize = 500

// archivalBatchSize caps one archival run per namespace for the same reason.
const archivalBatchSize = 1000

// archivalNamespaces are the cache namespaces eligible for COLD promotion
// (§4.11); search:isbn is the natural fit since ISBN lookups are the
// longest-lived, highest-value records (30d base TTL already).
var archivalNamespaces = []string{"search:isbn", "v1:editions"}

// Harvester runs the three daily/periodic scheduled jobs (§4.11): cover
// harvest, cache archival, and error/hit-rate alerting.
type Harvester struct {
	persister  *Persister
	providers  []Provider
	blobStore  *BlobStore
	cache      *Cache
	metrics    *Metrics
	httpClient *http.Client
}

func NewHarvester(persister *Persister, blobStore *BlobStore, cache *Cache, metrics *Metrics, providers ...Provider) *Harvester {
	return &Harvester{
		persister:  persister,
		providers:  providers,
		blobStore:  blobStore,
		cache:      cache,
		metrics:    metrics,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// RunCoverHarvest implements §4.11's "Scheduled cover harvest": for each
// recently-searched ISBN, ask every provider for the edition, take the
// cover URL from the highest-quality result, and write it into the blob
// store. The upload happens for every ISBN that some provider has a cover
// for and replaces any cover already stored; no check is made for an
// existing cover first.
func (h *Harvester) RunCoverHarvest(ctx context.Context) (int, error) {
	isbns, err := h.persister.RecentlySearchedISBNs(ctx, harvestLookback, harvestBatchSize)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for _, isbn := range isbns {
		if ctx.Err() != nil {
			break
		}
		if h.harvestOne(ctx, isbn) {
			fetched++
		}
	}
	return fetched, nil
}

func (h *Harvester) harvestOne(ctx context.Context, isbn13 string) bool {
	var best Edition
	haveBest := false

	for _, p := range h.providers {
		res := p.SearchByISBN(ctx, isbn13)
		if !res.ok {
			continue
		}
		works, err := normalize(p.Name(), true, res.rawJSON)
		if err != nil || len(works) == 0 {
			continue
		}
		for _, e := range works[0].Editions {
			if e.CoverURL == "" {
				continue
			}
			if !haveBest || e.ISBNdbQuality > best.ISBNdbQuality {
				best = e
				haveBest = true
			}
		}
	}
	if !haveBest {
		return false
	}

	data, contentType, err := h.downloadCover(ctx, best.CoverURL)
	if err != nil {
		Log(ctx).Warn("cover harvest: download failed", "isbn", isbn13, "err", err)
		return false
	}
	if _, err := h.blobStore.PutCover(ctx, isbn13, data, contentType); err != nil {
		Log(ctx).Warn("cover harvest: upload failed", "isbn", isbn13, "err", err)
		return false
	}
	return true
}

func (h *Harvester) downloadCover(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, "", statusErr(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// RunArchival implements §4.11's "Scheduled archival": promotes eligible
// warm-tier records into the COLD blob index.
func (h *Harvester) RunArchival(ctx context.Context) (int, error) {
	total := 0
	for _, ns := range archivalNamespaces {
		n, err := h.cache.ArchiveEligible(ctx, ns, archivalBatchSize)
		if err != nil {
			Log(ctx).Warn("archival: namespace failed", "namespace", ns, "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

// RunAlertCheck implements §4.11's "Scheduled alerts": evaluated every 15
// minutes by the caller's scheduler, raising alert records when thresholds
// are exceeded. Alerts are logged; a production deployment would also ship
// them to a paging system, which is out of scope here.
func (h *Harvester) RunAlertCheck(ctx context.Context) []Alert {
	alerts := h.metrics.CheckAlerts()
	for _, a := range alerts {
		Log(ctx).Warn("alert", "reason", a.Reason, "errorRate", a.Summary.ErrorRate, "cacheHitRatio", a.Summary.CacheHitRatio)
	}
	return alerts
}

// RunScheduler runs the three jobs on their own tickers until ctx is
// canceled: cover harvest and archival daily, alerts every 15 minutes.
func (h *Harvester) RunScheduler(ctx context.Context) {
	daily := time.NewTicker(24 * time.Hour)
	alertTicker := time.NewTicker(15 * time.Minute)
	defer daily.Stop()
	defer alertTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-daily.C:
			if n, err := h.RunCoverHarvest(ctx); err != nil {
				Log(ctx).Error("cover harvest failed", "err", err)
			} else {
				Log(ctx).Info("cover harvest complete", "fetched", n)
			}
			if n, err := h.RunArchival(ctx); err != nil {
				Log(ctx).Error("archival failed", "err", err)
			} else {
				Log(ctx).Info("archival complete", "archived", n)
			}
		case <-alertTicker.C:
			h.RunAlertCheck(ctx)
		}
	}
}
