package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-analysis-gateway/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Nil is returned by Get and LPop on a missing key, by every RedisClient
// implementation.
var Nil = redis.Nil

// IsNil reports whether err means "key does not exist".
func IsNil(err error) bool { return errors.Is(err, redis.Nil) }

// RedisClient is the narrow key-value surface the gateway and worker need.
// It is the single source of truth for jobs; there are no transactions, the
// last write to a key wins.
type RedisClient interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// MGet returns one entry per key: a string, or nil for a miss.
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	// TTL returns a negative duration when the key is missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	// DelIfEquals deletes key only while it still holds value.
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
	RPush(ctx context.Context, key string, values ...interface{}) error
	LPop(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

// clientOptions accepts a bare host:port or a redis:// / rediss:// URL. The
// explicit password and db settings win over those carried by the URL.
func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.URL}
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return opts, nil
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	return &redClient{cli: c}, nil
}

// Open connects to redis, or returns the in-process store when no URL is
// configured. The in-process store is not shared between binaries.
func Open(ctx context.Context, cfg *config.RedisConfig, logger *zerolog.Logger) (RedisClient, error) {
	if cfg.URL == "" {
		logger.Warn().Msg("redis.url empty; using in-process store")
		return NewMemoryClient(), nil
	}
	c, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redClient) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	return c.cli.MGet(ctx, keys...).Result()
}

func (c *redClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *redClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

func (c *redClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.cli.TTL(ctx, key).Result()
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.cli.Del(ctx, keys...).Err()
}

func (c *redClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.cli.SetNX(ctx, key, value, expiration).Result()
}

var luaDelIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (c *redClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := luaDelIfEquals.Run(ctx, c.cli, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *redClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	return c.cli.RPush(ctx, key, values...).Err()
}

func (c *redClient) LPop(ctx context.Context, key string) (string, error) {
	return c.cli.LPop(ctx, key).Result()
}

func (c *redClient) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.cli.SAdd(ctx, key, members...).Err()
}

func (c *redClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.cli.SMembers(ctx, key).Result()
}

func (c *redClient) Close() error { return c.cli.Close() }
