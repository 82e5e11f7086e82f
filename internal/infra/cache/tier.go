package cache

import (
	"context"
	"sync"
	"time"

	red "ai-analysis-gateway/internal/infra/redis"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is a cached value with its remaining lifetime. TTL is zero when the
// value does not expire and negative when the lifetime could not be read.
type Entry struct {
	Val []byte
	TTL time.Duration
}

// Tier is one level of the response cache. Values are opaque JSON bytes.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, sessionID, key string, val []byte, ttl time.Duration) error
	InvalidateSession(ctx context.Context, sessionID string) error
}

var (
	_ Tier = (*MemoryTier)(nil)
	_ Tier = (*RedisTier)(nil)
)

// memEntry remembers its session so eviction can prune the session index.
type memEntry struct {
	session string
	val     []byte
}

// MemoryTier is the fast in-process tier. Entries never outlive maxTTL so a
// stale local hit cannot survive long after the networked copy expired.
// The session index only holds keys go-cache still has: expiry and deletion
// both remove them through the eviction hook.
type MemoryTier struct {
	c      *gocache.Cache
	maxTTL time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

func NewMemoryTier(maxTTL, cleanup time.Duration) *MemoryTier {
	if cleanup <= 0 {
		cleanup = maxTTL
	}
	m := &MemoryTier{
		c:        gocache.New(maxTTL, cleanup),
		maxTTL:   maxTTL,
		sessions: map[string]map[string]struct{}{},
	}
	m.c.OnEvicted(m.evicted)
	return m
}

func (m *MemoryTier) Name() string { return "memory" }

func (m *MemoryTier) Get(_ context.Context, key string) (Entry, bool, error) {
	v, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := v.(memEntry)
	if !ok {
		return Entry{}, false, nil
	}
	var ttl time.Duration
	if !exp.IsZero() {
		ttl = time.Until(exp)
	}
	return Entry{Val: e.val, TTL: ttl}, true, nil
}

func (m *MemoryTier) Set(_ context.Context, sessionID, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > m.maxTTL {
		ttl = m.maxTTL
	}
	m.mu.Lock()
	keys, ok := m.sessions[sessionID]
	if !ok {
		keys = map[string]struct{}{}
		m.sessions[sessionID] = keys
	}
	keys[key] = struct{}{}
	m.mu.Unlock()

	m.c.Set(key, memEntry{session: sessionID, val: val}, ttl)
	return nil
}

func (m *MemoryTier) InvalidateSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions[sessionID]))
	for k := range m.sessions[sessionID] {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	// Delete fires the eviction hook, which empties the index
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// evicted runs outside go-cache's lock for expired and deleted items.
func (m *MemoryTier) evicted(key string, v interface{}) {
	e, ok := v.(memEntry)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.sessions[e.session]
	delete(keys, key)
	if len(keys) == 0 {
		delete(m.sessions, e.session)
	}
}

// indexed reports how many keys the session index holds.
func (m *MemoryTier) indexed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, keys := range m.sessions {
		n += len(keys)
	}
	return n
}

// RedisTier is the networked tier. Expiry is redis-native; a per-session set
// (cache:session:{digest}) indexes keys for invalidation.
type RedisTier struct {
	client red.RedisClient
}

func NewRedisTier(client red.RedisClient) *RedisTier {
	return &RedisTier{client: client}
}

func (r *RedisTier) Name() string { return "networked" }

func redisKey(key string) string              { return "cache:" + key }
func sessionIndexKey(sessionID string) string { return "cache:session:" + sessionDigest(sessionID) }

// Get reads the value and its remaining TTL. A failed TTL read still returns
// the value, with a negative TTL.
func (r *RedisTier) Get(ctx context.Context, key string) (Entry, bool, error) {
	v, err := r.client.Get(ctx, redisKey(key))
	if err != nil {
		if red.IsNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e := Entry{Val: []byte(v), TTL: -1}
	ttl, err := r.client.TTL(ctx, redisKey(key))
	switch {
	case err != nil:
	case ttl == -1:
		// no expiry on the key
		e.TTL = 0
	case ttl > 0:
		e.TTL = ttl
	}
	return e, true, nil
}

func (r *RedisTier) Set(ctx context.Context, sessionID, key string, val []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKey(key), val, ttl); err != nil {
		return err
	}
	idx := sessionIndexKey(sessionID)
	if err := r.client.SAdd(ctx, idx, redisKey(key)); err != nil {
		return err
	}
	// the index lives as long as its longest-lived member
	cur, err := r.client.TTL(ctx, idx)
	if err != nil {
		return err
	}
	if cur < ttl {
		return r.client.Expire(ctx, idx, ttl)
	}
	return nil
}

func (r *RedisTier) InvalidateSession(ctx context.Context, sessionID string) error {
	idx := sessionIndexKey(sessionID)
	keys, err := r.client.SMembers(ctx, idx)
	if err != nil {
		return err
	}
	return r.client.Del(ctx, append(keys, idx)...)
}
