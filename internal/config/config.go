// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port int `yaml:"port"` // metrics listener; 0 serves /metrics on the main port
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // optional; enables the result archive
}

type RedisConfig struct {
	URL      string `yaml:"url"` // host:port or redis:// URL; empty falls back to the in-memory store
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WorkerConfig struct {
	URL            string        `yaml:"url"` // empty soft-disables triggering
	Token          string        `yaml:"token"`
	TriggerTimeout time.Duration `yaml:"trigger_timeout"`
}

type BudgetConfig struct {
	RouteBudget       time.Duration `yaml:"route_budget"`
	Reserve           time.Duration `yaml:"reserve"`
	AttemptGuard      time.Duration `yaml:"attempt_guard"`
	MinAttemptTimeout time.Duration `yaml:"min_attempt_timeout"`
	MaxAttemptTimeout time.Duration `yaml:"max_attempt_timeout"`
	MinBuffer         time.Duration `yaml:"min_buffer"`
	DirectExtraBuffer time.Duration `yaml:"direct_extra_buffer"`
}

type StreamConfig struct {
	MaxDuration      time.Duration `yaml:"max_duration"`
	ProgressThrottle time.Duration `yaml:"progress_throttle"`
	ProcessingPoll   time.Duration `yaml:"processing_poll"`
	QueuedPoll       time.Duration `yaml:"queued_poll"`
	MinPoll          time.Duration `yaml:"min_poll"`
	MaxPoll          time.Duration `yaml:"max_poll"`
}

type JobsConfig struct {
	MaxRetries       int           `yaml:"max_retries"`       // 0 means the default of 2
	SubmitRateLimit  int           `yaml:"submit_rate_limit"` // per session per window; 0 disables
	SubmitRateWindow time.Duration `yaml:"submit_rate_window"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration            `yaml:"default_ttl"`
	MemoryMaxTTL  time.Duration            `yaml:"memory_max_ttl"`
	MemoryCleanup time.Duration            `yaml:"memory_cleanup"`
	EndpointTTL   map[string]time.Duration `yaml:"endpoint_ttl"` // key may end in * for a prefix match
}

type BreakerConfig struct {
	MinRequests   uint32        `yaml:"min_requests"`
	FailureRatio  float64       `yaml:"failure_ratio"`
	Interval      time.Duration `yaml:"interval"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
	HalfOpenProbe uint32        `yaml:"half_open_probe"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty leaves the API open (auth is delegated upstream)
}

type AIConfig struct {
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	DefaultModel    string        `yaml:"default_model"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent AI calls
	Workers         int           `yaml:"workers"`          // job pool size on the worker
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Budget   BudgetConfig   `yaml:"budget"`
	Stream   StreamConfig   `yaml:"stream"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Cache    CacheConfig    `yaml:"cache"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Auth     AuthConfig     `yaml:"auth"`
	AI       AIConfig       `yaml:"ai"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads an optional YAML file, then applies environment overrides,
// defaults and validation. A .env file in the working directory is loaded
// first when present.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// environment-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("PORT"); ok {
		cfg.Server.Port = v
	}
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Worker.URL, "WORKER_URL")
	setStr(&cfg.Worker.Token, "WORKER_AUTH_TOKEN")
	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setStr(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	setStr(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	setMillis(&cfg.Budget.RouteBudget, "ROUTE_BUDGET_MS")
	setMillis(&cfg.Budget.Reserve, "PLATFORM_RESERVE_MS")
	setMillis(&cfg.Stream.ProcessingPoll, "STREAM_POLL_PROCESSING_MS")
	setMillis(&cfg.Stream.QueuedPoll, "STREAM_POLL_QUEUED_MS")
	if v, ok := envInt("MAX_RETRIES"); ok {
		cfg.Jobs.MaxRetries = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownWait <= 0 {
		cfg.Server.ShutdownWait = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Worker.TriggerTimeout <= 0 {
		cfg.Worker.TriggerTimeout = 5 * time.Second
	}

	b := &cfg.Budget
	durDefault(&b.RouteBudget, 60*time.Second)
	durDefault(&b.Reserve, 5*time.Second)
	durDefault(&b.AttemptGuard, time.Second)
	durDefault(&b.MinAttemptTimeout, 3*time.Second)
	durDefault(&b.MaxAttemptTimeout, 25*time.Second)
	durDefault(&b.MinBuffer, 2*time.Second)
	durDefault(&b.DirectExtraBuffer, 3*time.Second)

	s := &cfg.Stream
	durDefault(&s.MaxDuration, 55*time.Second)
	durDefault(&s.ProgressThrottle, 2*time.Second)
	durDefault(&s.MinPoll, 100*time.Millisecond)
	durDefault(&s.MaxPoll, 5000*time.Millisecond)
	durDefault(&s.ProcessingPoll, time.Second)
	durDefault(&s.QueuedPoll, 3*time.Second)
	s.ProcessingPoll = ClampDuration(s.ProcessingPoll, s.MinPoll, s.MaxPoll)
	s.QueuedPoll = ClampDuration(s.QueuedPoll, s.MinPoll, s.MaxPoll)

	if cfg.Jobs.MaxRetries == 0 {
		cfg.Jobs.MaxRetries = 2
	}
	durDefault(&cfg.Jobs.SubmitRateWindow, time.Minute)

	c := &cfg.Cache
	durDefault(&c.DefaultTTL, 5*time.Minute)
	durDefault(&c.MemoryMaxTTL, 5*time.Minute)
	durDefault(&c.MemoryCleanup, time.Minute)
	if c.EndpointTTL == nil {
		c.EndpointTTL = map[string]time.Duration{
			"report*": time.Hour,
			"status":  time.Minute,
		}
	}

	br := &cfg.Breaker
	if br.MinRequests == 0 {
		br.MinRequests = 5
	}
	if br.FailureRatio <= 0 || br.FailureRatio > 1 {
		br.FailureRatio = 0.5
	}
	durDefault(&br.Interval, time.Minute)
	durDefault(&br.OpenTimeout, 30*time.Second)
	if br.HalfOpenProbe == 0 {
		br.HalfOpenProbe = 1
	}

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 1024
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.Workers <= 0 {
		cfg.AI.Workers = 4
	}
	durDefault(&cfg.AI.SweepInterval, 2*time.Second)
}

// Validate rejects settings the orchestration cannot run with.
func (c *Config) Validate() error {
	if c.Jobs.MaxRetries < 0 {
		return errors.New("jobs.max_retries must be >= 0")
	}
	if c.Budget.MinAttemptTimeout > c.Budget.MaxAttemptTimeout {
		return errors.New("budget.min_attempt_timeout must not exceed budget.max_attempt_timeout")
	}
	if c.Budget.Reserve >= c.Budget.RouteBudget {
		return errors.New("budget.reserve must be smaller than budget.route_budget")
	}
	if c.Stream.MinPoll > c.Stream.MaxPoll {
		return errors.New("stream.min_poll must not exceed stream.max_poll")
	}
	if c.Worker.URL != "" && !strings.HasPrefix(c.Worker.URL, "http") {
		return fmt.Errorf("worker.url must be an http(s) URL, got %q", c.Worker.URL)
	}
	return nil
}

// ClampDuration bounds d into [lo, hi].
func ClampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func durDefault(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setMillis(dst *time.Duration, key string) {
	if v, ok := envInt(key); ok {
		*dst = time.Duration(v) * time.Millisecond
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}
