package breaker

import (
	"context"
	"errors"
	"sync"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const fallbackContent = "The analysis service is temporarily unavailable. Please try again shortly."

// Primary is the guarded upstream call.
type Primary func(ctx context.Context) (*model.AnalysisResult, error)

// FallbackFunc builds the substitute payload. It receives the classified
// reason and the triggering error.
type FallbackFunc func(reason string, err error) *model.AnalysisResult

// Outcome of Execute. OriginalError is empty when Source is primary.
type Outcome struct {
	Data          *model.AnalysisResult
	Source        string
	Reason        string
	OriginalError string
}

func (o Outcome) IsFallback() bool { return o.Source == model.SourceFallback }

// Fallback keeps one circuit breaker per upstream key. Breakers are created
// lazily and shared by every in-flight request for that key.
type Fallback struct {
	cfg config.BreakerConfig
	log *zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(cfg config.BreakerConfig, logger *zerolog.Logger) *Fallback {
	l := logger.With().Str("component", "CircuitBreaker").Logger()
	return &Fallback{cfg: cfg, log: &l, breakers: map[string]*gobreaker.CircuitBreaker{}}
}

func (f *Fallback) breaker(key string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[key]; ok {
		return cb
	}
	minReq, ratio := f.cfg.MinRequests, f.cfg.FailureRatio
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: f.cfg.HalfOpenProbe,
		Interval:    f.cfg.Interval,
		Timeout:     f.cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq && float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		// a caller hanging up says nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.IncBreakerStateChange(name, to.String())
			f.log.Warn().Str("key", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		},
	})
	f.breakers[key] = cb
	return cb
}

// State reports the breaker state for key ("closed" for unknown keys).
func (f *Fallback) State(key string) string {
	f.mu.Lock()
	cb, ok := f.breakers[key]
	f.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Execute runs primary through the breaker for key. When the breaker rejects
// the call or primary fails, fallback supplies the payload and the outcome is
// tagged as a fallback with the original error attached.
func (f *Fallback) Execute(ctx context.Context, key string, primary Primary, fallback FallbackFunc) Outcome {
	if fallback == nil {
		fallback = DefaultFallback
	}
	// an empty or unsuccessful payload counts against the breaker like an error
	v, err := f.breaker(key).Execute(func() (interface{}, error) {
		res, err := primary(ctx)
		switch {
		case err != nil:
			return nil, err
		case res == nil:
			return nil, errors.New("upstream returned an empty response")
		case !res.Success:
			return nil, errors.New("upstream reported an unsuccessful analysis")
		}
		return res, nil
	})
	if err == nil {
		res := v.(*model.AnalysisResult)
		res.Source = model.SourcePrimary
		metrics.IncBreakerExecution(key, model.SourcePrimary, "")
		return Outcome{Data: res, Source: model.SourcePrimary}
	}

	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = errors.New("circuit breaker is open: half-open probe limit reached")
	}
	reason := ClassifyReason(err.Error())
	metrics.IncBreakerExecution(key, model.SourceFallback, reason)
	f.log.Warn().Err(err).Str("key", key).Str("reason", reason).Msg("serving fallback")

	data := fallback(reason, err)
	data.Source = model.SourceFallback
	data.Success = false
	if data.FallbackReason == "" {
		data.FallbackReason = reason
	}
	return Outcome{Data: data, Source: model.SourceFallback, Reason: reason, OriginalError: err.Error()}
}

// DefaultFallback is the deterministic substitute payload.
func DefaultFallback(reason string, _ error) *model.AnalysisResult {
	return &model.AnalysisResult{
		Success:        false,
		Content:        fallbackContent,
		Source:         model.SourceFallback,
		FallbackReason: reason,
		RetryAfter:     RetryAfterHint(reason),
	}
}
