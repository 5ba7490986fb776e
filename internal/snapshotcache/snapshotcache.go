// Package snapshotcache is the last-writer-wins ChainSnapshot cache
// described in spec.md §4.3 FETCH: a scan worker looks here before
// calling the Chain Provider, and caches what it gets back with a TTL
// equal to the ticker's tier cadence. The tiered scheduler also reads
// the most recent snapshot for a ticker (see Latest) to evaluate the
// "currently listed expiry" condition in its high-tier rule, without
// itself depending on the Chain Provider.
package snapshotcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forwardfactor/scanner/internal/domain"
)

// Cache wraps a Redis client to store ChainSnapshots as JSON.
type Cache struct {
	rdb *redis.Client
}

// New builds a Cache over rdb.
func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func bucketKey(ticker string, bucket int64) string {
	return fmt.Sprintf("snap|%s|%d", ticker, bucket)
}

func latestKey(ticker string) string {
	return fmt.Sprintf("snap|%s|latest", ticker)
}

// Bucket returns floor(at / cadence), the scan-bucket integer from
// spec.md §4.2/§9 used both for scan-job dedup and for the FETCH cache key.
func Bucket(at time.Time, cadence time.Duration) int64 {
	return at.Unix() / int64(cadence.Seconds())
}

// Get returns the cached snapshot for (ticker, bucket), if present.
func (c *Cache) Get(ctx context.Context, ticker string, bucket int64) (domain.ChainSnapshot, bool, error) {
	return c.get(ctx, bucketKey(ticker, bucket))
}

// Latest returns the most recently cached snapshot for ticker regardless
// of bucket, used by the scheduler's tiering check.
func (c *Cache) Latest(ctx context.Context, ticker string) (domain.ChainSnapshot, bool, error) {
	return c.get(ctx, latestKey(ticker))
}

func (c *Cache) get(ctx context.Context, key string) (domain.ChainSnapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.ChainSnapshot{}, false, nil
	}
	if err != nil {
		return domain.ChainSnapshot{}, false, fmt.Errorf("snapshotcache: get %s: %w", key, err)
	}
	var snap domain.ChainSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return domain.ChainSnapshot{}, false, fmt.Errorf("snapshotcache: decode %s: %w", key, err)
	}
	return snap, true, nil
}

// Put stores snap for (ticker, bucket) and mirrors it as the latest
// snapshot for ticker, both with ttl (the tier's cadence, per spec.md §4.3).
func (c *Cache) Put(ctx context.Context, ticker string, bucket int64, snap domain.ChainSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshotcache: encode: %w", err)
	}
	if err := c.rdb.Set(ctx, bucketKey(ticker, bucket), raw, ttl).Err(); err != nil {
		return fmt.Errorf("snapshotcache: put %s: %w", ticker, err)
	}
	if err := c.rdb.Set(ctx, latestKey(ticker), raw, ttl).Err(); err != nil {
		return fmt.Errorf("snapshotcache: put latest %s: %w", ticker, err)
	}
	return nil
}
