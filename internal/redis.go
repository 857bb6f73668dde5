package internal

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTier is the L2 "warm" cache tier: cross-region durable KV, tens-of-ms
// latency, long TTL. Grounded on evalgo-org-eve's queue/redis client, which
// uses the same redis.Client for a different concern (see Queue in queue.go).
type redisTier struct {
	client *redis.Client
}

// NewRedisTier connects to Redis using a URL like `redis://host:6379/0`.
func NewRedisTier(ctx context.Context, url string) (*redisTier, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisTier{client: client}, nil
}

func (t *redisTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *redisTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

func (t *redisTier) delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, key).Err()
}

func (t *redisTier) Close() error {
	return t.client.Close()
}

// ScanNamespace walks keys under `namespace:*` using SCAN (never KEYS, to
// avoid blocking the server on a large keyspace), up to limit keys, for the
// scheduled archival job (§4.11).
func (t *redisTier) ScanNamespace(ctx context.Context, namespace string, limit int) ([]string, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, namespace+":*", 1000).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= limit {
			break
		}
	}
	return keys, iter.Err()
}
