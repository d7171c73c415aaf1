package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/domain/repository"
	"MetaAgent/pkg/cache"
)

// RedisDeadLetter is a bounded Redis list of rejected decision payloads.
// Entries are kept for inspection only; nothing replays them.
type RedisDeadLetter struct {
	cache *cache.RedisCache
	key   string
	max   int64
}

func NewRedisDeadLetter(c *cache.RedisCache, key string, max int64) repository.DeadLetter {
	if key == "" {
		key = "metaagent:deadletter"
	}
	if max <= 0 {
		max = 10000
	}
	return &RedisDeadLetter{cache: c, key: key, max: max}
}

func (d *RedisDeadLetter) Push(ctx context.Context, payload []byte, reason string) error {
	entry, err := json.Marshal(map[string]interface{}{
		"payload": string(payload),
		"reason":  reason,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	client := d.cache.Client()
	if err := client.LPush(ctx, d.key, entry).Err(); err != nil {
		return err
	}
	return client.LTrim(ctx, d.key, 0, d.max-1).Err()
}

// LastPriceCache holds the latest observed price per symbol with a TTL,
// so risk projections stop trusting stale quotes. Reads go through the
// layered cache (memory first, Redis second) since the same symbols are
// priced on every decision.
type LastPriceCache struct {
	cache cache.Service
	ttl   time.Duration
}

func NewLastPriceCache(c cache.Service, ttl time.Duration) repository.PriceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LastPriceCache{cache: c, ttl: ttl}
}

func (p *LastPriceCache) SetLastPrice(ctx context.Context, symbol string, price float64) error {
	return p.cache.Set(ctx, priceKey(symbol), price, p.ttl)
}

func (p *LastPriceCache) LastPrice(ctx context.Context, symbol string) (float64, bool, error) {
	var price float64
	err := p.cache.Get(ctx, priceKey(symbol), &price)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, true, nil
}

func priceKey(symbol string) string {
	return cache.GenerateKey("price:last", symbol)
}

// RedisSnapshotter keeps the most recent risk summary outside the
// process for dashboards and post-mortem inspection.
type RedisSnapshotter struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisSnapshotter(c *cache.RedisCache, ttl time.Duration) repository.Snapshotter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSnapshotter{cache: c, ttl: ttl}
}

func (s *RedisSnapshotter) SaveSummary(ctx context.Context, summary models.RiskSummary) error {
	return s.cache.Set(ctx, "risk:summary", summary, s.ttl)
}
