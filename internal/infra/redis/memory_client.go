package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var _ RedisClient = (*MemoryClient)(nil)

// MemoryClient is an in-process RedisClient for local development and tests.
// It honours expirations lazily against its clock.
type MemoryClient struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	strings map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time

	// FailWith, when set, makes every call return it.
	FailWith error
}

func NewMemoryClient() *MemoryClient {
	return NewMemoryClientWithClock(clockwork.NewRealClock())
}

func NewMemoryClientWithClock(clock clockwork.Clock) *MemoryClient {
	return &MemoryClient{
		clock:   clock,
		strings: map[string]string{},
		lists:   map[string][]string{},
		sets:    map[string]map[string]struct{}{},
		expiry:  map[string]time.Time{},
	}
}

// evict drops key if it has expired. Callers hold mu.
func (m *MemoryClient) evict(key string) {
	if at, ok := m.expiry[key]; ok && !m.clock.Now().Before(at) {
		m.drop(key)
	}
}

func (m *MemoryClient) drop(key string) {
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *MemoryClient) exists(key string) bool {
	m.evict(key)
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	_, ok := m.sets[key]
	return ok
}

func (m *MemoryClient) setExpiry(key string, d time.Duration) {
	if d > 0 {
		m.expiry[key] = m.clock.Now().Add(d)
	} else {
		delete(m.expiry, key)
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func (m *MemoryClient) Ping(ctx context.Context) error { return m.FailWith }

func (m *MemoryClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(key)
	m.strings[key] = toString(value)
	m.setExpiry(key, expiration)
	return nil
}

func (m *MemoryClient) Get(ctx context.Context, key string) (string, error) {
	if m.FailWith != nil {
		return "", m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	v, ok := m.strings[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}

func (m *MemoryClient) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		m.evict(k)
		if v, ok := m.strings[k]; ok {
			out[i] = v
		}
	}
	return out, nil
}

func (m *MemoryClient) Incr(ctx context.Context, key string) (int64, error) {
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	n, _ := strconv.ParseInt(m.strings[key], 10, 64)
	n++
	m.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists(key) {
		return nil
	}
	if expiration <= 0 {
		m.drop(key)
		return nil
	}
	m.setExpiry(key, expiration)
	return nil
}

func (m *MemoryClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists(key) {
		return -2, nil
	}
	at, ok := m.expiry[key]
	if !ok {
		return -1, nil
	}
	return at.Sub(m.clock.Now()), nil
}

func (m *MemoryClient) Del(ctx context.Context, keys ...string) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.drop(k)
	}
	return nil
}

func (m *MemoryClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if m.FailWith != nil {
		return false, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists(key) {
		return false, nil
	}
	m.strings[key] = toString(value)
	m.setExpiry(key, expiration)
	return true, nil
}

func (m *MemoryClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	if m.FailWith != nil {
		return false, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if v, ok := m.strings[key]; ok && v == value {
		m.drop(key)
		return true, nil
	}
	return false, nil
}

func (m *MemoryClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	for _, v := range values {
		m.lists[key] = append(m.lists[key], toString(v))
	}
	return nil
}

func (m *MemoryClient) LPop(ctx context.Context, key string) (string, error) {
	if m.FailWith != nil {
		return "", m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	l := m.lists[key]
	if len(l) == 0 {
		return "", Nil
	}
	v := l[0]
	if len(l) == 1 {
		delete(m.lists, key)
	} else {
		m.lists[key] = l[1:]
	}
	return v, nil
}

func (m *MemoryClient) SAdd(ctx context.Context, key string, members ...interface{}) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	set, ok := m.sets[key]
	if !ok {
		set = map[string]struct{}{}
		m.sets[key] = set
	}
	for _, v := range members {
		set[toString(v)] = struct{}{}
	}
	return nil
}

func (m *MemoryClient) SMembers(ctx context.Context, key string) ([]string, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	out := make([]string, 0, len(m.sets[key]))
	for k := range m.sets[key] {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryClient) Close() error { return nil }
