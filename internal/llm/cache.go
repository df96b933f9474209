package llm

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// responseCache is a two-tier cache for validated generation results:
// L1 in-memory Ristretto, L2 optional Redis shared across workers. Values are
// the validated JSON payloads, so a hit skips both the provider call and
// re-validation.
type responseCache struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func newResponseCache(maxCost int64, ttl time.Duration, l2 *redis.Client, logger *zap.Logger) (*responseCache, error) {
	if maxCost == 0 {
		maxCost = 64 << 20
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &responseCache{
		l1:     l1,
		l2:     l2,
		ttl:    ttl,
		logger: logger.Named("llmcache"),
	}, nil
}

func (c *responseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if data, found := c.l1.Get(key); found {
		cacheHits.WithLabelValues("l1").Inc()
		return data, true
	}
	if c.l2 != nil {
		data, err := c.l2.Get(ctx, key).Bytes()
		if err == nil && len(data) > 0 {
			cacheHits.WithLabelValues("l2").Inc()
			c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
			return data, true
		}
	}
	cacheMisses.Inc()
	return nil, false
}

func (c *responseCache) Set(ctx context.Context, key string, data []byte) {
	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
	if c.l2 != nil {
		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.l2.Set(setCtx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("l2 cache set failed", zap.Error(err))
			}
		}()
	}
}

func (c *responseCache) Close() {
	c.l1.Close()
}
