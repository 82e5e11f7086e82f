package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/usecase"
)

const maxBody = 64 << 10

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

type submitRequest struct {
	Query     string `json:"query"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type submitResponse struct {
	JobID         string          `json:"jobId"`
	Status        model.JobStatus `json:"status"`
	TriggerStatus string          `json:"triggerStatus"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	// an authenticated caller without a session is rate limited by subject
	if req.SessionID == "" {
		if c, ok := ClaimsFrom(r.Context()); ok {
			req.SessionID = c.Subject
		}
	}
	res, err := s.jobs.Submit(r.Context(), usecase.SubmitInput{Query: req.Query, Type: req.Type, SessionID: req.SessionID})
	if err != nil {
		s.logErr(r, err, "submit job")
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:         res.JobID,
		Status:        res.Status,
		TriggerStatus: string(res.TriggerStatus),
	})
}

type jobResponse struct {
	JobID       string           `json:"jobId"`
	Type        string           `json:"type"`
	Status      model.JobStatus  `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"currentStep,omitempty"`
	Result      *model.JobResult `json:"result"`
	Error       string           `json:"error,omitempty"`
	RetryCount  int              `json:"retryCount"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt"`
}

func toJobResponse(j *model.Job) jobResponse {
	return jobResponse{
		JobID:       j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Result:      j.Result,
		Error:       j.Error,
		RetryCount:  j.Metadata.RetryCount,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logErr(r, err, "get job")
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.jobs.Cancel(r.Context(), id); err != nil {
		s.logErr(r, err, "cancel job")
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "job cancelled", "jobId": id})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logErr(r, err, "retry job")
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":         res.JobID,
		"status":        res.Status,
		"retryCount":    res.RetryCount,
		"triggerStatus": res.TriggerStatus,
	})
}

type analyzeResponse struct {
	Success        bool                 `json:"success"`
	Content        string               `json:"content"`
	Metrics        *model.ResultMetrics `json:"metrics,omitempty"`
	Source         string               `json:"source"`
	Cached         bool                 `json:"cached"`
	CacheSource    string               `json:"cacheSource"`
	Attempts       int                  `json:"attempts"`
	FallbackReason string               `json:"fallbackReason,omitempty"`
	RetryAfter     int                  `json:"retryAfter,omitempty"`
}

// analyze always answers 200 once the request is valid; a degraded answer
// carries success=false with the fallback reason and a retryAfter hint.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	out, err := s.analysis.Analyze(r.Context(), req)
	if err != nil {
		s.logErr(r, err, "analyze")
		writeError(w, err, http.StatusConflict)
		return
	}
	res := out.Result
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:        res.Success,
		Content:        res.Content,
		Metrics:        res.Metrics,
		Source:         res.Source,
		Cached:         out.Cached,
		CacheSource:    out.CacheSource,
		Attempts:       out.Attempts,
		FallbackReason: res.FallbackReason,
		RetryAfter:     res.RetryAfter,
	})
}

func (s *Server) invalidateSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionId")
	s.cache.Invalidate(r.Context(), sid)
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sid, "invalidated": true})
}

type systemState struct {
	Paused *bool `json:"paused"`
}

func (s *Server) getSystem(w http.ResponseWriter, r *http.Request) {
	ok, err := s.system.IsRunnable(r.Context())
	if err != nil {
		s.logErr(r, err, "read system state")
		writeError(w, err, http.StatusConflict)
		return
	}
	paused := !ok
	writeJSON(w, http.StatusOK, systemState{Paused: &paused})
}

func (s *Server) putSystem(w http.ResponseWriter, r *http.Request) {
	var req systemState
	if err := decodeBody(r, &req); err != nil || req.Paused == nil {
		writeError(w, domain.ErrInvalidArgument, http.StatusBadRequest)
		return
	}
	if err := s.system.SetPaused(r.Context(), *req.Paused); err != nil {
		s.logErr(r, err, "write system state")
		writeError(w, err, http.StatusConflict)
		return
	}
	ev := logging.With(r.Context(), s.log).Info().Bool("paused", *req.Paused)
	if c, ok := ClaimsFrom(r.Context()); ok {
		ev = ev.Str("by", c.Subject)
	}
	ev.Msg("system state changed")
	writeJSON(w, http.StatusOK, req)
}

// logErr logs only the failures a client cannot cause by itself.
func (s *Server) logErr(r *http.Request, err error, op string) {
	for _, expected := range []error{
		domain.ErrNotFound, domain.ErrInvalidState, domain.ErrRetryLimitExceeded,
		domain.ErrInvalidArgument, domain.ErrSystemPaused, domain.ErrRateLimited,
	} {
		if errors.Is(err, expected) {
			return
		}
	}
	logging.With(r.Context(), s.log).Error().Err(err).Msg(op)
}
