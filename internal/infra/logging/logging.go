// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"ai-analysis-gateway/internal/config"

	"github.com/rs/zerolog"
)

// New creates the process logger. Every line carries the binary role
// (gateway|worker) so the two processes can share a log pipeline.
// Levels: trace|debug|info|warn|error. Formats: json|console.
func New(cfg config.LogConfig, dev bool, role string) *zerolog.Logger {
	return newLogger(os.Stdout, cfg, dev, role)
}

func newLogger(w io.Writer, cfg config.LogConfig, dev bool, role string) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if dev && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" || dev {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(out).Level(level).With().Timestamp().Str("role", role).Logger()

	if cfg.Sampling && !dev {
		// warn and above are never sampled
		sampled := base.Sample(zerolog.LevelSampler{
			TraceSampler: &zerolog.BasicSampler{N: 100},
			DebugSampler: &zerolog.BasicSampler{N: 100},
			InfoSampler:  &zerolog.BasicSampler{N: 10},
		})
		return &sampled
	}
	return &base
}

type (
	traceKey struct{}
	jobKey   struct{}
	sessKey  struct{}
)

// With attaches the request-scoped fields carried on ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		l = l.Str("trace_id", v)
	}
	if v, ok := ctx.Value(jobKey{}).(string); ok && v != "" {
		l = l.Str("job_id", v)
	}
	if v, ok := ctx.Value(sessKey{}).(string); ok && v != "" {
		l = l.Str("session_id", v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "JobUC.Retry")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobKey{}, id)
}
func WithSessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessKey{}, id)
}

// TraceIDFrom returns the trace id placed by WithTraceID, if any. Outbound
// calls to the worker forward it.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}
