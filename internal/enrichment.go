package internal

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// highCompleteness is the bar a single provider result must clear to
// short-circuit the rest of the fan-out (§4.5 step 3): ISBN + cover +
// description present. Under completeness()'s weights (0.25 ISBN + 0.25
// cover + 0.10 description>=100) that combination scores 0.60, so the
// threshold sits there rather than higher, where it would never fire on
// exactly the three fields the spec names.
const highCompleteness = 0.60

// defaultEnrichConcurrency is enrichMany's default fan-out cap (§4.5).
const defaultEnrichConcurrency = 10

// Identifier is what enrichOne searches for: either an ISBN, or a
// title/author pair, or both.
type Identifier struct {
	ISBN   string `json:"isbn,omitempty"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// Enricher runs the provider fan-out + merge pipeline (§4.5). It holds no
// per-call state; all coordination is via its singleflight group, the same
// coalescing idiom the teacher's Controller uses for cache-miss fetches.
type Enricher struct {
	providers []Provider
	group     singleflight.Group
}

func NewEnricher(providers ...Provider) *Enricher {
	return &Enricher{providers: providers}
}

type candidateResult struct {
	provider string
	works    []Work
	err      error
}

// enrichOne implements §4.5's single-enrichment algorithm.
func (en *Enricher) enrichOne(ctx context.Context, id Identifier) (*Work, error) {
	v, err, _ := en.group.Do(id.ISBN+"|"+id.Title+"|"+id.Author, func() (any, error) {
		return en.enrichOneUncoalesced(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	w, _ := v.(*Work)
	if w == nil {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (en *Enricher) enrichOneUncoalesced(ctx context.Context, id Identifier) (*Work, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resultsCh := make(chan candidateResult, len(en.providers))
	var wg sync.WaitGroup

	for _, p := range en.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			works, err := fetchFromProvider(ctx, p, id)
			resultsCh <- candidateResult{provider: p.Name(), works: works, err: err}
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var collected []candidateResult
	for r := range resultsCh {
		if r.err == nil && len(r.works) > 0 {
			collected = append(collected, r)
			if completeness(r.works[0]) >= highCompleteness {
				// Short-circuit: stop waiting on the rest. The deferred
				// cancel cancels the still-outstanding provider calls when
				// this function returns; only results already buffered in
				// resultsCh are collected by the drain below.
				break
			}
		}
	}

	// Drain whatever else has already landed in the buffer without blocking.
	drainLoop:
	for {
		select {
		case r, ok := <-resultsCh:
			if !ok {
				break drainLoop
			}
			if r.err == nil && len(r.works) > 0 {
				collected = append(collected, r)
			}
		default:
			break drainLoop
		}
	}

	if len(collected) == 0 {
		return nil, nil
	}

	return mergeCandidates(collected), nil
}

func fetchFromProvider(ctx context.Context, p Provider, id Identifier) ([]Work, error) {
	var res providerResult
	single := false
	switch {
	case id.ISBN != "":
		res = p.SearchByISBN(ctx, id.ISBN)
		single = true
	case id.Title != "" && id.Author != "":
		res = p.ListEditionsForWork(ctx, id.Title, id.Author)
	default:
		res = p.SearchByTitle(ctx, id.Title, 5)
	}
	if !res.ok {
		return nil, errBadGateway
	}
	return normalize(p.Name(), single, res.rawJSON)
}

// mergeCandidates implements §4.5 step 4: highest-completeness provider is
// the base; missing fields are adopted from the next provider by rank;
// external IDs and contributors are unioned.
func mergeCandidates(results []candidateResult) *Work {
	var all []Work
	for _, r := range results {
		all = append(all, r.works...)
	}
	return mergeWorks(all)
}

// mergeWorks folds a set of same-work candidates (one per contributing
// provider, each already tagged with Provenance.PrimaryProvider by its
// normalizer) into a single canonical Work, highest-completeness first
// (§4.5 step 4). Used both by enrichOne's per-identifier merge and by the
// search path's cross-provider title grouping.
func mergeWorks(works []Work) *Work {
	if len(works) == 0 {
		return nil
	}
	sorted := make([]Work, len(works))
	copy(sorted, works)
	sort.SliceStable(sorted, func(i, j int) bool { return completeness(sorted[i]) > completeness(sorted[j]) })

	base := sorted[0]
	prov := base.Provenance.PrimaryProvider
	base.Provenance = Provenance{PrimaryProvider: prov}
	base.Provenance.addContributor(prov)

	for _, w := range sorted[1:] {
		if base.Description == "" {
			base.Description = w.Description
		}
		if base.CoverURL == "" {
			base.CoverURL = w.CoverURL
		}
		if base.FirstPublicationYear == 0 {
			base.FirstPublicationYear = w.FirstPublicationYear
		}
		base.Editions = append(base.Editions, w.Editions...)
		base.SubjectTags = normalizeGenres(append(base.SubjectTags, w.SubjectTags...))
		base.ExternalIDs.union(w.ExternalIDs)
		base.Provenance.addContributor(w.Provenance.PrimaryProvider)
		if len(base.Authors) == 0 {
			base.Authors = w.Authors
		}
	}

	dedupeEditions(&base)
	synthesizeWorkIfNeeded(&base)
	return &base
}

// groupByTitle partitions a flat list of provider-normalized Works into
// same-work clusters using the editions-endpoint fuzzy title rule (§4.5),
// so a multi-provider title/author/editions search can merge each cluster
// with mergeWorks instead of returning provider-duplicated entries.
func groupByTitle(works []Work) [][]Work {
	var groups [][]Work
	for _, w := range works {
		placed := false
		for i, g := range groups {
			if fuzzyTitleMatch(g[0].Title, w.Title) {
				groups[i] = append(groups[i], w)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []Work{w})
		}
	}
	return groups
}

// dedupeEditions groups editions by ISBN-13, keeps the highest-quality one
// per group, then orders by format/quality/date (§4.5).
func dedupeEditions(w *Work) {
	byISBN := map[string]Edition{}
	var noISBN []Edition
	for _, e := range w.Editions {
		key, ok := toISBN13(e.ISBN)
		if !ok {
			noISBN = append(noISBN, e)
			continue
		}
		existing, seen := byISBN[key]
		if !seen || e.ISBNdbQuality > existing.ISBNdbQuality {
			byISBN[key] = e
		}
	}
	out := make([]Edition, 0, len(byISBN)+len(noISBN))
	for _, e := range byISBN {
		out = append(out, e)
	}
	out = append(out, noISBN...)
	editionPriority(out)
	w.Editions = out
}

// synthesizeWorkIfNeeded copies title/year/provider/cover from the leading
// edition when the work itself carries no title of its own, per §3's
// invariant that every Edition belongs to a Work (synthesized if absent).
func synthesizeWorkIfNeeded(w *Work) {
	if w.Title != "" {
		return
	}
	if len(w.Editions) == 0 {
		return
	}
	e := w.Editions[0]
	w.Title = e.Title
	w.FirstPublicationYear = extractYear(e.PublicationDate)
	w.CoverURL = e.CoverURL
	w.Synthetic = true
	w.Provenance.PrimaryProvider = e.Provenance.PrimaryProvider
}

// EnrichResult pairs a successful enrichment with its source identifier so
// batch callers can report per-item failures without aborting the batch.
type EnrichResult struct {
	Identifier Identifier
	Work       *Work
	Err        error
}

// enrichMany implements §4.5's batch algorithm: bounded concurrency,
// individual failures don't abort the batch, authors are deduped across the
// whole result set afterward.
func (en *Enricher) enrichMany(ctx context.Context, ids []Identifier, concurrency int, canceled func() bool) []EnrichResult {
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}

	// slots is index-aligned with ids so results stay attributable to their
	// originating identifier; a nil slot means that item was never attempted
	// (canceled before its turn) and is dropped below, not reported.
	slots := make([]*EnrichResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if canceled != nil && canceled() {
				return nil
			}
			w, err := en.enrichOne(gctx, id)
			slots[i] = &EnrichResult{Identifier: id, Work: w, Err: err}
			return nil // never abort the batch for one item's failure
		})
	}
	_ = g.Wait()

	results := make([]EnrichResult, 0, len(ids))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}

	dedupeAuthors(results)
	return results
}

// dedupeAuthors merges authors across a batch's results, keyed by normalized
// name: external IDs unioned, birth/death year preserved when present (§4.5).
func dedupeAuthors(results []EnrichResult) {
	byName := map[string]*Author{}
	for _, r := range results {
		if r.Work == nil {
			continue
		}
		for i := range r.Work.Authors {
			a := &r.Work.Authors[i]
			key := normalizeAuthor(a.Name)
			if existing, ok := byName[key]; ok {
				existing.ExternalIDs.union(a.ExternalIDs)
				if existing.BirthYear == 0 {
					existing.BirthYear = a.BirthYear
				}
				if existing.DeathYear == 0 {
					existing.DeathYear = a.DeathYear
				}
				*a = *existing
			} else {
				byName[key] = a
			}
		}
	}
}

// BatchEnrichResult is stored at `enrichment-results:<jobId>`, following the
// same summary-only-over-the-socket / full-result-by-HTTP-GET convention
// named generally in §4.7 and applied explicitly to csv_import and ai_scan.
type BatchEnrichResult struct {
	Books []EnrichResult `json:"books"`
}

// RunBatch drives `POST /v1/enrichment/batch` against an already-initialized
// job actor: concurrency-10 fan-out via enrichMany's errgroup, with
// per-completion progress (§4.7's batch_enrichment throttle: 5 updates/10s),
// then a stored full result and a summary completion.
func (en *Enricher) RunBatch(ctx context.Context, actor *jobActor, cache *Cache, ids []Identifier) {
	actor.InitializeJobState(PipelineBatchEnrichment, len(ids))

	// slots mirrors enrichMany's nil-means-not-attempted convention so a
	// mid-batch cancel (§8 scenario 5) excludes the unprocessed tail from
	// the stored result and the summary counts entirely, rather than
	// reporting it as a synthetic failure.
	slots := make([]*EnrichResult, len(ids))
	var processed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultEnrichConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if actor.Canceled() {
				return nil
			}
			w, err := en.enrichOne(gctx, id)
			slots[i] = &EnrichResult{Identifier: id, Work: w, Err: err}
			n := processed.Add(1)
			actor.UpdateProgress(int(n), i)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]EnrichResult, 0, len(ids))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	dedupeAuthors(results)

	raw, err := sonic.Marshal(BatchEnrichResult{Books: results})
	if err == nil {
		cache.Put(ctx, enrichmentResultsKey(actor.id), raw, 24*time.Hour)
	} else {
		Log(ctx).Error("failed to marshal batch enrichment result", "jobId", actor.id, "err", err)
	}

	success, failure := 0, 0
	for _, r := range results {
		if r.Work != nil {
			success++
		} else {
			failure++
		}
	}
	actor.Complete(CompletionSummary{
		TotalProcessed: len(results),
		SuccessCount:   success,
		FailureCount:   failure,
		ResourceID:     enrichmentResultsKey(actor.id),
	})
}

// FetchBatchEnrichResult implements the supplemented `GET
// /v1/enrichment/results/{jobId}`.
func FetchBatchEnrichResult(ctx context.Context, cache *Cache, jobID string) (BatchEnrichResult, bool, error) {
	raw, src, err := cache.Get(ctx, enrichmentResultsKey(jobID))
	if err != nil {
		return BatchEnrichResult{}, false, err
	}
	if src == SourceMiss {
		return BatchEnrichResult{}, false, nil
	}
	var result BatchEnrichResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return BatchEnrichResult{}, false, err
	}
	return result, true, nil
}

// fuzzyTitleMatch implements the editions-endpoint title rule (§4.5): equal
// after normalization, substring containment, or Levenshtein similarity >= 0.70.
func fuzzyTitleMatch(a, b string) bool {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == nb {
		return true
	}
	if na == "" || nb == "" {
		return false
	}
	if containsStr(na, nb) || containsStr(nb, na) {
		return true
	}
	return titleSimilarity(na, nb) >= 0.70
}

func containsStr(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func titleSimilarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}
