package worker

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/api"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the compute worker's HTTP surface: /process accepts triggers from
// the gateway and /analyze answers synchronous requests.
type Server struct {
	pool      *Pool
	processor *JobProcessor
	analyzer  *Analyzer
	store     Pinger
	token     string
	log       *zerolog.Logger

	ServeMetrics bool
}

func NewServer(pool *Pool, processor *JobProcessor, analyzer *Analyzer, store Pinger, token string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "worker-http").Logger()
	return &Server{pool: pool, processor: processor, analyzer: analyzer, store: store, token: token, log: &l}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(api.TraceID(), api.RequestLog(s.log), api.Recover(s.log))

	r.Get("/health", s.health)
	if s.ServeMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(s.bearer)
		r.Post("/process", s.process)
		r.Post("/analyze", s.analyze)
	})
	return r
}

// bearer checks the shared token the gateway sends. An empty token disables
// the check (local development).
func (s *Server) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		hdr := r.Header.Get("Authorization")
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	var req adapter.TriggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || req.JobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jobId is required"})
		return
	}
	id := req.JobID
	err := s.pool.Submit(id, func(ctx context.Context) error {
		return s.processor.Process(ctx, id)
	})
	if err != nil {
		// the job stays queued; the sweeper picks it up later
		logging.With(logging.WithJobID(r.Context(), id), s.log).Warn().Err(err).Msg("trigger not accepted")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "jobId": id})
}

// analyze returns non-2xx on failure so the gateway's breaker counts it.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	content, rm, err := s.analyzer.Analyze(r.Context(), req.Query)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logging.With(logging.WithSessID(r.Context(), req.SessionID), s.log).Error().Err(err).Msg("synchronous analysis failed")
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.AnalysisResult{
		Success: true,
		Content: content,
		Metrics: rm,
		Source:  model.SourcePrimary,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "pool": s.pool.Stats()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pool": s.pool.Stats()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
