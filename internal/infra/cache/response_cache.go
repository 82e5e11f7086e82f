package cache

import (
	"context"
	"encoding/json"
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/infra/metrics"
	red "ai-analysis-gateway/internal/infra/redis"

	"github.com/rs/zerolog"
)

const SourceNone = "none"

// Lookup is the outcome of a cache read. Source names the tier that answered
// ("memory", "networked") or SourceNone on a miss.
type Lookup struct {
	Hit    bool
	Data   *model.AnalysisResult
	Source string
}

// Fetcher produces a fresh result on a cache miss.
type Fetcher func(ctx context.Context) (*model.AnalysisResult, error)

// ResponseCache is a two-tier read-through/write-through cache for analysis
// results. The tiers fail independently; a networked-tier failure degrades to
// the memory tier or to a miss and is never returned to the caller.
type ResponseCache struct {
	fast   Tier
	slow   Tier // nil when no networked store is configured
	policy TTLPolicy
	log    *zerolog.Logger
}

func NewResponseCache(fast, slow Tier, policy TTLPolicy, logger *zerolog.Logger) *ResponseCache {
	l := logger.With().Str("component", "ResponseCache").Logger()
	return &ResponseCache{fast: fast, slow: slow, policy: policy, log: &l}
}

// New wires the go-cache memory tier in front of the redis tier.
func New(cfg config.CacheConfig, client red.RedisClient, logger *zerolog.Logger) *ResponseCache {
	var slow Tier
	if client != nil {
		slow = NewRedisTier(client)
	}
	return NewResponseCache(
		NewMemoryTier(cfg.MemoryMaxTTL, cfg.MemoryCleanup),
		slow,
		TTLPolicy{Default: cfg.DefaultTTL, Endpoints: cfg.EndpointTTL},
		logger,
	)
}

func (c *ResponseCache) Get(ctx context.Context, sessionID, query, endpoint string) Lookup {
	key := GenerateCacheKey(sessionID, query, endpoint)

	if e, ok, _ := c.fast.Get(ctx, key); ok {
		if res, ok := decode(e.Val); ok {
			metrics.IncCacheRequest(c.fast.Name(), "hit")
			return Lookup{Hit: true, Data: res, Source: c.fast.Name()}
		}
	}
	metrics.IncCacheRequest(c.fast.Name(), "miss")

	if c.slow == nil {
		return Lookup{Source: SourceNone}
	}
	e, ok, err := c.slow.Get(ctx, key)
	if err != nil {
		metrics.IncCacheError(c.slow.Name(), "get")
		c.log.Warn().Err(err).Str("key", key).Msg("networked cache read failed")
		return Lookup{Source: SourceNone}
	}
	if !ok {
		metrics.IncCacheRequest(c.slow.Name(), "miss")
		return Lookup{Source: SourceNone}
	}
	res, ok := decode(e.Val)
	if !ok {
		metrics.IncCacheRequest(c.slow.Name(), "miss")
		return Lookup{Source: SourceNone}
	}
	metrics.IncCacheRequest(c.slow.Name(), "hit")

	// read-repair, never past the networked copy's own expiry
	if ttl, ok := repairTTL(c.policy.For(endpoint), e.TTL); ok {
		_ = c.fast.Set(ctx, sessionID, key, e.Val, ttl)
	}
	return Lookup{Hit: true, Data: res, Source: c.slow.Name()}
}

// Set writes to both tiers. It never fails: a networked write error is logged
// and the memory tier keeps serving.
func (c *ResponseCache) Set(ctx context.Context, sessionID, query, endpoint string, v *model.AnalysisResult) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("encode cache value")
		return
	}
	key := GenerateCacheKey(sessionID, query, endpoint)
	ttl := c.policy.For(endpoint)

	_ = c.fast.Set(ctx, sessionID, key, b, ttl)
	if c.slow == nil {
		return
	}
	if err := c.slow.Set(ctx, sessionID, key, b, ttl); err != nil {
		metrics.IncCacheError(c.slow.Name(), "set")
		c.log.Warn().Err(err).Str("key", key).Msg("networked cache write failed")
	}
}

// Invalidate drops every entry cached for the session from both tiers.
func (c *ResponseCache) Invalidate(ctx context.Context, sessionID string) {
	_ = c.fast.InvalidateSession(ctx, sessionID)
	if c.slow == nil {
		return
	}
	if err := c.slow.InvalidateSession(ctx, sessionID); err != nil {
		metrics.IncCacheError(c.slow.Name(), "invalidate")
		c.log.Warn().Err(err).Msg("networked cache invalidate failed")
	}
}

// WithCache returns the cached result when present. Otherwise it calls fetch
// and caches the result only when it reports success; failed or fallback
// payloads are returned but never stored.
func (c *ResponseCache) WithCache(ctx context.Context, sessionID, query, endpoint string, fetch Fetcher) (*model.AnalysisResult, Lookup, error) {
	if hit := c.Get(ctx, sessionID, query, endpoint); hit.Hit {
		return hit.Data, hit, nil
	}
	res, err := fetch(ctx)
	if err != nil {
		return nil, Lookup{Source: SourceNone}, err
	}
	if res != nil && res.Success {
		c.Set(ctx, sessionID, query, endpoint, res)
	}
	return res, Lookup{Source: SourceNone}, nil
}

// repairTTL is the lifetime of a read-repaired copy: the policy TTL capped by
// what the networked entry has left. An unknown remaining lifetime skips the
// repair.
func repairTTL(policy, remaining time.Duration) (time.Duration, bool) {
	switch {
	case remaining < 0:
		return 0, false
	case remaining > 0 && remaining < policy:
		return remaining, true
	}
	return policy, true
}

func decode(b []byte) (*model.AnalysisResult, bool) {
	var res model.AnalysisResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, false
	}
	return &res, true
}
