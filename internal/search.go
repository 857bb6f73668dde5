package internal

import (
	"context"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

// SearchResult is the `{works, editions, authors}` envelope payload every
// search endpoint in §6 returns.
type SearchResult struct {
	Works    []Work    `json:"works"`
	Editions []Edition `json:"editions"`
	Authors  []Author  `json:"authors"`
}

// SearchService answers the cache-first search endpoints (§6) and backs the
// cache-warming consumer (§4.11), which must call these same methods so its
// cache keys match the live endpoints' exactly (§9 design note).
type SearchService struct {
	cache     *Cache
	providers []Provider
	metrics   *Metrics
	persister *Persister
}

func NewSearchService(cache *Cache, metrics *Metrics, persister *Persister, providers ...Provider) *SearchService {
	return &SearchService{cache: cache, providers: providers, metrics: metrics, persister: persister}
}

// CachedResult pairs a SearchResult with the cache metadata the response
// envelope needs (§6: {timestamp, processingTime, provider, cached, cacheSource}).
type CachedResult struct {
	Result     SearchResult
	Source     Source
	FromCache  bool
}

// SearchByTitle implements `GET /v1/search/title` (§6): fan out to every
// provider's SearchByTitle, merge same-work clusters, cache under
// `search:title` with quality-adjusted 24h TTL (§4.1).
func (s *SearchService) SearchByTitle(ctx context.Context, title string, maxResults int) (CachedResult, error) {
	key := titleSearchKey(title, maxResults)
	return s.cachedSearch(ctx, key, ttlTitle, func(ctx context.Context) (SearchResult, error) {
		works, err := s.fanOut(ctx, false, func(p Provider) providerResult {
			return p.SearchByTitle(ctx, title, maxResults)
		})
		if err != nil {
			return SearchResult{}, err
		}
		return mergeToResult(works), nil
	})
}

// SearchByISBN implements `GET /v1/search/isbn` (§6): normalize the ISBN,
// fan out to SearchByISBN, cache under `search:isbn` with a 30-day TTL.
func (s *SearchService) SearchByISBN(ctx context.Context, isbn string) (CachedResult, error) {
	i13, ok := toISBN13(isbn)
	if !ok {
		return CachedResult{}, errBadRequest
	}
	key := isbnSearchKey(i13)
	if s.persister != nil {
		if err := s.persister.LogSearchedISBN(ctx, i13); err != nil {
			Log(ctx).Warn("failed to log searched isbn", "isbn", i13, "err", err)
		}
	}
	return s.cachedSearch(ctx, key, ttlISBN, func(ctx context.Context) (SearchResult, error) {
		works, err := s.fanOut(ctx, true, func(p Provider) providerResult {
			return p.SearchByISBN(ctx, i13)
		})
		if err != nil {
			return SearchResult{}, err
		}
		return mergeToResult(works), nil
	})
}

// SearchAdvanced implements `GET /v1/search/advanced` (§6): title and/or
// author, cached under `v1:advanced`.
func (s *SearchService) SearchAdvanced(ctx context.Context, title, author string) (CachedResult, error) {
	key := advancedSearchKey(title, author)
	return s.cachedSearch(ctx, key, ttlTitle, func(ctx context.Context) (SearchResult, error) {
		works, err := s.fanOut(ctx, false, func(p Provider) providerResult {
			if title != "" {
				return p.SearchByTitle(ctx, title, 10)
			}
			return p.ListAuthorWorks(ctx, author, 10, 0)
		})
		if err != nil {
			return SearchResult{}, err
		}
		return mergeToResult(works), nil
	})
}

// SearchEditions implements `GET /v1/editions/search` (§6): cached under
// `v1:editions` with a 7-day TTL; an empty result is a 404 at the handler
// layer, not here.
func (s *SearchService) SearchEditions(ctx context.Context, workTitle, author string, limit int) (CachedResult, error) {
	key := editionsSearchKey(workTitle, author)
	return s.cachedSearch(ctx, key, ttlEditions, func(ctx context.Context) (SearchResult, error) {
		works, err := s.fanOut(ctx, false, func(p Provider) providerResult {
			return p.ListEditionsForWork(ctx, workTitle, author)
		})
		if err != nil {
			return SearchResult{}, err
		}
		filtered := make([]Work, 0, len(works))
		for _, w := range works {
			if fuzzyTitleMatch(w.Title, workTitle) {
				filtered = append(filtered, w)
			}
		}
		result := mergeToResult(filtered)
		if limit > 0 && len(result.Editions) > limit {
			result.Editions = result.Editions[:limit]
		}
		return result, nil
	})
}

// SearchAuthor runs ListAuthorWorks against every provider and returns the
// merged works, used by the cache-warming consumer's author step (§4.11);
// it intentionally does not itself populate the title cache -- the consumer
// calls SearchByTitle per returned work so keys match exactly.
func (s *SearchService) SearchAuthor(ctx context.Context, name string, limit int) ([]Work, error) {
	works, err := s.fanOut(ctx, false, func(p Provider) providerResult {
		return p.ListAuthorWorks(ctx, name, limit, 0)
	})
	if err != nil {
		return nil, err
	}
	return groupAndMerge(works), nil
}

// fanOut issues call against every provider in parallel with a 10s deadline
// (§4.3), normalizes each response, and never aborts the whole fan-out for
// one provider's failure; PROVIDER_ERROR is returned only if every provider
// fails (§7). single must match the shape `call` actually requests: a
// single-book lookup (e.g. SearchByISBN, which hits each provider's
// single-resource endpoint) normalizes differently from a collection
// endpoint (§4.4), so callers must pass the right one or the normalizer
// picks the wrong JSON shape and silently drops that provider's results.
func (s *SearchService) fanOut(ctx context.Context, single bool, call func(Provider) providerResult) ([]Work, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	allWorks := make([][]Work, len(s.providers))
	attempts := make([]providerStatus, len(s.providers))

	for i, p := range s.providers {
		i, p := i, p
		g.Go(func() error {
			res := call(p)
			attempts[i] = res.status
			if s.metrics != nil {
				s.metrics.ProviderCall(p.Name(), res.status)
			}
			if !res.ok {
				return nil
			}
			works, err := normalize(p.Name(), single, res.rawJSON)
			if err != nil {
				Log(gctx).Warn("normalize failed", "provider", p.Name(), "err", err)
				return nil
			}
			allWorks[i] = works
			return nil
		})
	}
	_ = g.Wait()

	var flat []Work
	anyOK := false
	for i, ws := range allWorks {
		if attempts[i] == providerOK {
			anyOK = true
		}
		flat = append(flat, ws...)
	}
	if !anyOK && len(flat) == 0 {
		return nil, errBadGateway
	}
	return flat, nil
}

// mergeToResult groups cross-provider duplicates and flattens the merged
// Works into the {works, editions, authors} shape.
func mergeToResult(works []Work) SearchResult {
	merged := groupAndMerge(works)
	return flattenWorks(merged)
}

func groupAndMerge(works []Work) []Work {
	groups := groupByTitle(works)
	merged := make([]Work, 0, len(groups))
	for _, g := range groups {
		if w := mergeWorks(g); w != nil {
			merged = append(merged, *w)
		}
	}
	return merged
}

// flattenWorks derives the top-level editions/authors arrays from a set of
// merged works, deduping authors by normalized name (§8 invariant).
func flattenWorks(works []Work) SearchResult {
	result := SearchResult{Works: works, Editions: []Edition{}, Authors: []Author{}}
	seenAuthor := map[string]bool{}
	for _, w := range works {
		result.Editions = append(result.Editions, w.Editions...)
		for _, a := range w.Authors {
			key := normalizeAuthor(a.Name)
			if seenAuthor[key] {
				continue
			}
			seenAuthor[key] = true
			result.Authors = append(result.Authors, a)
		}
	}
	sort.SliceStable(result.Authors, func(i, j int) bool { return result.Authors[i].Name < result.Authors[j].Name })
	return result
}

// cachedSearch is the common cache-probe/compute/store wrapper every search
// method above uses: tier probe first, compute on miss, quality-adjusted
// write on the way out (§4.1).
func (s *SearchService) cachedSearch(ctx context.Context, key string, baseTTL time.Duration, compute func(context.Context) (SearchResult, error)) (CachedResult, error) {
	if s.cache != nil {
		if raw, src, _ := s.cache.Get(ctx, key); src != SourceMiss {
			var r SearchResult
			if err := sonic.Unmarshal(raw, &r); err == nil {
				if s.metrics != nil {
					s.metrics.CacheHit(src)
				}
				return CachedResult{Result: r, Source: src, FromCache: true}, nil
			}
		}
	}
	if s.metrics != nil {
		s.metrics.CacheMiss()
	}

	result, err := compute(ctx)
	if err != nil {
		return CachedResult{}, err
	}

	if s.cache != nil {
		if raw, merr := sonic.Marshal(result); merr == nil {
			ttl := AdjustedTTL(baseTTL, averageQuality(result.Works))
			s.cache.Put(ctx, key, raw, ttl)
		}
	}

	return CachedResult{Result: result, Source: SourceMiss, FromCache: false}, nil
}
