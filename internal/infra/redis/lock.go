// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"ai-analysis-gateway/internal/domain"

	"github.com/google/uuid"
)

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

// RedisLocker claims a key with SETNX and releases it only while the caller
// still owns it.
type RedisLocker struct {
	client RedisClient
	tries  int
	wait   time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{client: c, tries: 3, wait: 50 * time.Millisecond}
}

func JobLockKey(id string) string { return "job:lock:" + id }

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
		} else if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.wait):
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrAlreadyClaimed
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.client.DelIfEquals(ctx, key, token)
	return err
}
