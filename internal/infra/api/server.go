package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/ports/repository"
	"ai-analysis-gateway/internal/infra/metrics"
	"ai-analysis-gateway/internal/usecase"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, sessionID string)
}

// Server is the gateway's HTTP front door.
type Server struct {
	jobs     usecase.JobUseCase
	analysis usecase.AnalysisUseCase
	stream   *usecase.StreamDelivery
	cache    CacheInvalidator
	system   repository.SystemStateRepository
	store    Pinger
	auth     *AuthManager
	timeout  time.Duration
	log      *zerolog.Logger

	ServeMetrics bool // expose /metrics on this router
}

func NewServer(
	jobs usecase.JobUseCase,
	analysis usecase.AnalysisUseCase,
	stream *usecase.StreamDelivery,
	cache CacheInvalidator,
	system repository.SystemStateRepository,
	store Pinger,
	auth *AuthManager,
	requestTimeout time.Duration,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "api").Logger()
	return &Server{
		jobs:     jobs,
		analysis: analysis,
		stream:   stream,
		cache:    cache,
		system:   system,
		store:    store,
		auth:     auth,
		timeout:  requestTimeout,
		log:      &l,
	}
}

// Routes builds the router. Streams are outside the request timeout; they
// enforce their own wall-clock cap.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.health)
	if s.ServeMetrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require(""))

		r.Get("/jobs/{id}/stream", s.streamJob)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.timeout))
			r.Post("/jobs", s.submitJob)
			r.Get("/jobs/{id}", s.getJob)
			r.Delete("/jobs/{id}", s.cancelJob)
			r.Post("/jobs/{id}/retry", s.retryJob)
			r.Post("/analyze", s.analyze)
			r.Delete("/sessions/{sessionId}/cache", s.invalidateSession)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require(RoleAdmin), Timeout(s.timeout))
		r.Get("/admin/system", s.getSystem)
		r.Put("/admin/system", s.putSystem)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health: store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
