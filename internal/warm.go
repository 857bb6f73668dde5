package internal

import "context"

// NewWarmFunc adapts a SearchService into the WarmFunc the queue consumer
// calls (§4.11): author search first, then title search per returned work
// (with that endpoint's default maxResults of 10) so the title cache is
// populated through the exact same path and keys `GET /v1/search/title`
// uses. SearchAuthor fans out to the providers without reading or writing
// the cache, so this writes no author-shaped cache entries.
//
// depth controls how many of the author's works are warmed this way; §4.11
// only specifies depth∈[0..3], so depth is interpreted as "warm up to
// 5*(depth+1) of the author's works", giving depth 0 a small taste and
// depth 3 a thorough pass without unbounded provider calls for prolific
// authors.
func NewWarmFunc(search *SearchService) WarmFunc {
	return func(ctx context.Context, author string, depth int) error {
		if depth < 0 {
			depth = 0
		}
		if depth > maxWarmDepth {
			depth = maxWarmDepth
		}
		limit := 5 * (depth + 1)

		works, err := search.SearchAuthor(ctx, author, limit)
		if err != nil {
			return err
		}

		for i, w := range works {
			if i >= limit {
				break
			}
			if w.Title == "" {
				continue
			}
			if _, err := search.SearchByTitle(ctx, w.Title, 10); err != nil {
				Log(ctx).Warn("warm: title search failed", "author", author, "title", w.Title, "err", err)
			}
		}
		return nil
	}
}
