package internal

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// Source identifies which tier served a cache read (§4.1).
type Source string

const (
	SourceEdge Source = "EDGE"
	SourceKV   Source = "KV"
	SourceCold Source = "COLD"
	SourceMiss Source = "MISS"
)

// Base TTLs per namespace (§4.1), before quality adjustment.
const (
	ttlTitle    = 24 * time.Hour
	ttlAuthor   = 7 * 24 * time.Hour
	ttlISBN     = 30 * 24 * time.Hour
	ttlEditions = 7 * 24 * time.Hour

	edgeCap = 6 * time.Hour
)

// tier is the minimal get/set/delete contract each cache backend implements.
// A tier error is always treated as a miss by the caller; it is never fatal
// to the request (§4.1 failure semantics).
type tier interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delete(ctx context.Context, key string) error
}

// ristrettoTier is the L1 "edge" tier: process-local, millisecond latency,
// short TTL. Grounded on the teacher's eko/gocache + ristretto wiring
// referenced by hardcover_test.go's `newMemory()`.
type ristrettoTier struct {
	cache *gocache.Cache[[]byte]
}

// NewRistrettoTier builds the L1 "edge" tier.
func NewRistrettoTier() (*ristrettoTier, error) {
	r, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,
		MaxCost:     1 << 28, // 256MB
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	rstore := ristretto_store.NewRistretto(r)
	return &ristrettoTier{cache: gocache.New[[]byte](rstore)}, nil
}

func (t *ristrettoTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := t.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.NotFound{}) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (t *ristrettoTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.cache.Set(ctx, key, value, store.WithExpiration(ttl))
}

func (t *ristrettoTier) delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, key)
}

// fuzz randomizes a duration into [d, d*f), mirroring the teacher's fuzz
// helper used to avoid thundering-herd expiry across identically-TTL'd keys.
func fuzz(d time.Duration, f float64) time.Duration {
	if f <= 1 {
		return d
	}
	extra := float64(d) * (f - 1) * rand.Float64()
	return d + time.Duration(extra)
}

// AdjustedTTL scales a base TTL by an item's completeness score (§4.1):
// 2x if quality >= 0.8, 1x if 0.4 <= quality < 0.8, 0.5x if quality < 0.4.
func AdjustedTTL(base time.Duration, quality float64) time.Duration {
	var mult float64
	switch {
	case quality >= 0.8:
		mult = 2
	case quality >= 0.4:
		mult = 1
	default:
		mult = 0.5
	}
	return fuzz(time.Duration(float64(base)*mult), 1.1)
}

// Cache is the single logical multi-tier cache. It probes L1 edge, L2 warm,
// L3 cold in order, promoting hits into faster tiers asynchronously (§4.1).
type Cache struct {
	edge tier
	warm tier
	cold *BlobIndex

	rehydrate singleflight.Group
}

// NewCache wires all three tiers. warm and cold may be nil in tests, in
// which case that tier is always a miss.
func NewCache(edge tier, warm tier, cold *BlobIndex) *Cache {
	return &Cache{edge: edge, warm: warm, cold: cold}
}

// Get probes tiers in order. On a KV hit it asynchronously populates L1
// (fire-and-forget). On a COLD hit it asynchronously populates L2 and L1.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, Source, error) {
	if c.edge != nil {
		if v, ok, err := c.edge.get(ctx, key); err != nil {
			Log(ctx).Warn("edge cache error, treating as miss", "key", key, "err", err)
		} else if ok {
			return v, SourceEdge, nil
		}
	}

	if c.warm != nil {
		if v, ok, err := c.warm.get(ctx, key); err != nil {
			Log(ctx).Warn("warm cache error, treating as miss", "key", key, "err", err)
		} else if ok {
			go c.promote(key, v, c.edge, edgeCap)
			return v, SourceKV, nil
		}
	}

	if c.cold != nil {
		v, ok, err := c.cold.Get(ctx, key)
		if err != nil {
			Log(ctx).Warn("cold cache error, treating as miss", "key", key, "err", err)
		} else if ok {
			go c.promote(key, v, c.warm, ttlISBN)
			go c.promote(key, v, c.edge, edgeCap)
			return v, SourceCold, nil
		}
	}

	return nil, SourceMiss, nil
}

func (c *Cache) promote(key string, value []byte, dst tier, ttl time.Duration) {
	if dst == nil {
		return
	}
	_, _, _ = c.rehydrate.Do(key+":promote", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dst.set(ctx, key, value, ttl); err != nil {
			_logHandler.Warn("tier promotion failed", "key", key, "err", err)
		}
		return nil, nil
	})
}

// Put writes to L2 with ttl, and to L1 with min(ttl, edgeCap). COLD is only
// written by the scheduled archival job, never here (§4.1).
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.warm != nil {
		if err := c.warm.set(ctx, key, value, ttl); err != nil {
			Log(ctx).Warn("warm cache put failed", "key", key, "err", err)
		}
	}
	if c.edge != nil {
		edgeTTL := ttl
		if edgeTTL > edgeCap {
			edgeTTL = edgeCap
		}
		if err := c.edge.set(ctx, key, value, edgeTTL); err != nil {
			Log(ctx).Warn("edge cache put failed", "key", key, "err", err)
		}
	}
}

// Invalidate deletes from L1 and L2 and tombstones L3 (§4.1: "Delete from L1
// and L2; COLD is tombstoned"). COLD is append-mostly so the tombstone is a
// marker object written over the key, not a real delete.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.edge != nil {
		_ = c.edge.delete(ctx, key)
	}
	if c.warm != nil {
		_ = c.warm.delete(ctx, key)
	}
	if c.cold != nil {
		if err := c.cold.Tombstone(ctx, key); err != nil {
			Log(ctx).Warn("invalidate: failed to tombstone cold tier", "key", key, "err", err)
		}
	}
}

// scannable is implemented by tiers that can enumerate their own keys
// (currently only redisTier); the blob-backed and process-local tiers don't
// need to support it since the archival job only ever reads from warm.
type scannable interface {
	ScanNamespace(ctx context.Context, namespace string, limit int) ([]string, error)
}

// ArchiveEligible promotes up to limit records in namespace from the warm
// tier into COLD (§4.11 "Scheduled archival"): a record already present in
// COLD under the current or the previous month is skipped, since the index is append-mostly
// and re-archiving would just duplicate the object.
func (c *Cache) ArchiveEligible(ctx context.Context, namespace string, limit int) (int, error) {
	if c.cold == nil {
		return 0, nil
	}
	scanner, ok := c.warm.(scannable)
	if !ok {
		return 0, nil
	}

	keys, err := scanner.ScanNamespace(ctx, namespace, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, key := range keys {
		if _, found, _ := c.cold.Get(ctx, key); found {
			continue
		}
		value, ok, err := c.warm.get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if err := c.cold.Archive(ctx, key, value); err != nil {
			Log(ctx).Warn("archival: failed to promote key to cold tier", "key", key, "err", err)
			continue
		}
		archived++
	}
	return archived, nil
}
