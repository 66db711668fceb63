// Package cache memoises mining results in Redis. A result depends only on
// the transactions and the support/mode tunables, so the key is a digest of
// exactly those; partition count and response limits are not part of it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/redis"
)

const keyPrefix = "pfp:result:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies a mining result.
type Key struct {
	Transactions [][]string
	MinSupport   float64
	Ordered      bool
}

// ResultCache is a read-through cache of mining results. A nil
// *ResultCache is valid and always computes.
type ResultCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a ResultCache storing entries for ttl. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

// Get returns the cached response for key, if present. Backend failures are
// logged and reported as misses.
func (c *ResultCache) Get(ctx context.Context, key Key) (*proto.MineResponse, bool) {
	return c.get(ctx, buildKey(key))
}

func (c *ResultCache) get(ctx context.Context, k string) (*proto.MineResponse, bool) {
	data, err := c.backend.GetBytes(ctx, k)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp proto.MineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", k)
	return &resp, true
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Set stores resp under key. Failures are logged, not returned.
func (c *ResultCache) Set(ctx context.Context, key Key, resp *proto.MineResponse) {
	c.set(ctx, buildKey(key), resp)
}

func (c *ResultCache) set(ctx context.Context, k string, resp *proto.MineResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.backend.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached response for key or runs compute, caching
// its result. Concurrent calls for the same key share one computation. The
// boolean reports a cache hit.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func() (*proto.MineResponse, error),
) (*proto.MineResponse, bool, error) {
	if c == nil {
		resp, err := compute()
		return resp, false, err
	}
	k := buildKey(key)
	if resp, ok := c.get(ctx, k); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(k, func() (any, error) {
		if resp, ok := c.get(ctx, k); ok {
			return resp, nil
		}
		resp, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, k, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*proto.MineResponse), false, nil
}

// Invalidate drops every cached result.
func (c *ResultCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts since start.
func (c *ResultCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// buildKey digests the key with length prefixes so that no two distinct
// transaction lists collide by concatenation.
func buildKey(key Key) string {
	h := sha256.New()
	writeUint(h, math.Float64bits(key.MinSupport))
	if key.Ordered {
		writeUint(h, 1)
	} else {
		writeUint(h, 0)
	}
	writeUint(h, uint64(len(key.Transactions)))
	for _, tx := range key.Transactions {
		writeUint(h, uint64(len(tx)))
		for _, item := range tx {
			writeUint(h, uint64(len(item)))
			h.Write([]byte(item))
		}
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
