//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/api"
	"ai-analysis-gateway/internal/infra/breaker"
	"ai-analysis-gateway/internal/infra/cache"
	red "ai-analysis-gateway/internal/infra/redis"
	"ai-analysis-gateway/internal/usecase"
)

//
// ---------------- fakes ----------------
//

type okTrigger struct{}

func (okTrigger) Trigger(ctx context.Context, req adapter.TriggerRequest) adapter.TriggerStatus {
	return adapter.TriggerSent
}

type countingCompute struct{ calls int32 }

func (c *countingCompute) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	atomic.AddInt32(&c.calls, 1)
	return &model.AnalysisResult{Success: true, Content: "42", Source: model.SourcePrimary}, nil
}

type fixture struct {
	mem     *red.MemoryClient
	store   *red.JobStore
	system  *red.SystemStateRepo
	compute *countingCompute
	auth    *api.AuthManager
	router  http.Handler
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	clock := clockwork.NewRealClock()

	mem := red.NewMemoryClient()
	store := red.NewJobStore(mem)
	system := red.NewSystemStateRepo(mem)

	jobs := usecase.NewJobUseCase(store, store, system, okTrigger{}, red.NewRateLimiter(mem), clock,
		config.JobsConfig{MaxRetries: 2}, &logger)

	stream := usecase.NewStreamDelivery(store, system, clock, config.StreamConfig{
		MaxDuration:      2 * time.Second,
		ProgressThrottle: 100 * time.Millisecond,
		ProcessingPoll:   100 * time.Millisecond,
		QueuedPoll:       100 * time.Millisecond,
		MinPoll:          50 * time.Millisecond,
		MaxPoll:          500 * time.Millisecond,
	}, 2, &logger)

	rc := cache.New(config.CacheConfig{
		DefaultTTL:    time.Minute,
		MemoryMaxTTL:  time.Minute,
		MemoryCleanup: time.Minute,
	}, mem, &logger)
	fb := breaker.New(config.BreakerConfig{MinRequests: 5, FailureRatio: 0.5, Interval: time.Minute, OpenTimeout: time.Second, HalfOpenProbe: 1}, &logger)
	planner := usecase.NewRetryBudgetPlanner(config.BudgetConfig{
		RouteBudget:       60 * time.Second,
		Reserve:           5 * time.Second,
		AttemptGuard:      time.Second,
		MinAttemptTimeout: 3 * time.Second,
		MaxAttemptTimeout: 25 * time.Second,
		MinBuffer:         2 * time.Second,
		DirectExtraBuffer: 3 * time.Second,
	})
	compute := &countingCompute{}
	analysis := usecase.NewAnalysisUseCase(rc, fb, compute, planner, clock, 20*time.Second, &logger)

	auth := api.NewAuthManager(secret)
	srv := api.NewServer(jobs, analysis, stream, rc, system, mem, auth, 10*time.Second, &logger)
	srv.ServeMetrics = true

	return &fixture{mem: mem, store: store, system: system, compute: compute, auth: auth, router: srv.Routes()}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed(t *testing.T, job *model.Job) {
	t.Helper()
	if err := f.store.Save(context.Background(), job, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func failedJob(id string, retries int) *model.Job {
	j := model.NewJob(id, "", "q", "s1", time.Now().UTC())
	j.Status = model.JobStatusFailed
	j.Error = "upstream exploded"
	j.Metadata.RetryCount = retries
	return j
}

//
// ---------------- jobs ----------------
//

func TestJobs_SubmitPollComplete(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/jobs", `{"query":"what is the answer","sessionId":"s1"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: want 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	var sub struct {
		JobID         string `json:"jobId"`
		Status        string `json:"status"`
		TriggerStatus string `json:"triggerStatus"`
	}
	decode(t, rec, &sub)
	if sub.JobID == "" || sub.Status != "queued" || sub.TriggerStatus != "sent" {
		t.Fatalf("unexpected submit response: %+v", sub)
	}

	rec = f.do(t, http.MethodGet, "/jobs/"+sub.JobID, "", "")
	var got struct {
		Status string `json:"status"`
		Result *struct {
			Content string `json:"content"`
		} `json:"result"`
	}
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || got.Status != "queued" {
		t.Fatalf("poll: %d %+v", rec.Code, got)
	}

	// the worker finishes
	job, err := f.store.Get(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	job.Result = &model.JobResult{Content: "42"}
	f.seed(t, job)

	rec = f.do(t, http.MethodGet, "/jobs/"+sub.JobID, "", "")
	decode(t, rec, &got)
	if got.Status != "completed" || got.Result == nil || got.Result.Content != "42" {
		t.Fatalf("expected completed with 42, got %+v", got)
	}
}

func TestJobs_ErrorMapping(t *testing.T) {
	t.Run("submit without query is 400", func(t *testing.T) {
		f := newFixture(t, "")
		if rec := f.do(t, http.MethodPost, "/jobs", `{"query":"  "}`, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		f := newFixture(t, "")
		if rec := f.do(t, http.MethodPost, "/jobs", `{`, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		f := newFixture(t, "")
		rec := f.do(t, http.MethodGet, "/jobs/nope", "", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
		var body struct{ Reason string }
		decode(t, rec, &body)
		if body.Reason != "not_found" {
			t.Errorf("want reason not_found, got %q", body.Reason)
		}
	})

	t.Run("submit while paused is 409", func(t *testing.T) {
		f := newFixture(t, "")
		_ = f.system.SetPaused(context.Background(), true)
		if rec := f.do(t, http.MethodPost, "/jobs", `{"query":"q"}`, ""); rec.Code != http.StatusConflict {
			t.Fatalf("want 409, got %d", rec.Code)
		}
	})
}

func TestJobs_Cancel(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, model.NewJob("j1", "", "q", "", time.Now().UTC()))

	rec := f.do(t, http.MethodDelete, "/jobs/j1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first cancel: want 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message string `json:"message"`
		JobID   string `json:"jobId"`
	}
	decode(t, rec, &body)
	if body.JobID != "j1" || body.Message == "" {
		t.Errorf("unexpected body %+v", body)
	}

	if rec := f.do(t, http.MethodDelete, "/jobs/j1", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("second cancel: want 400, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/jobs/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: want 404, got %d", rec.Code)
	}
}

func TestJobs_Retry(t *testing.T) {
	t.Run("failed job is requeued", func(t *testing.T) {
		f := newFixture(t, "")
		f.seed(t, failedJob("j1", 0))

		rec := f.do(t, http.MethodPost, "/jobs/j1/retry", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		var body struct {
			JobID         string `json:"jobId"`
			Status        string `json:"status"`
			RetryCount    int    `json:"retryCount"`
			TriggerStatus string `json:"triggerStatus"`
		}
		decode(t, rec, &body)
		if body.Status != "queued" || body.RetryCount != 1 || body.TriggerStatus != "sent" {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("exhausted retries are 429", func(t *testing.T) {
		f := newFixture(t, "")
		f.seed(t, failedJob("j1", 2))
		rec := f.do(t, http.MethodPost, "/jobs/j1/retry", "", "")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("want 429, got %d", rec.Code)
		}
	})

	t.Run("non-failed job is 409", func(t *testing.T) {
		f := newFixture(t, "")
		f.seed(t, model.NewJob("j1", "", "q", "", time.Now().UTC()))
		if rec := f.do(t, http.MethodPost, "/jobs/j1/retry", "", ""); rec.Code != http.StatusConflict {
			t.Fatalf("want 409, got %d", rec.Code)
		}
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		f := newFixture(t, "")
		if rec := f.do(t, http.MethodPost, "/jobs/nope/retry", "", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})
}

//
// ---------------- stream ----------------
//

func TestStream_TerminalJob(t *testing.T) {
	f := newFixture(t, "")
	j := model.NewJob("j1", "", "q", "", time.Now().UTC())
	j.Status = model.JobStatusCompleted
	j.Result = &model.JobResult{Content: "42"}
	f.seed(t, j)
	// terminal jobs can be read back while paused
	_ = f.system.SetPaused(context.Background(), true)

	rec := f.do(t, http.MethodGet, "/jobs/j1/stream", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" || !strings.Contains(rec.Header().Get("Cache-Control"), "no-cache") {
		t.Errorf("buffering headers missing: %v", rec.Header())
	}
	body := rec.Body.String()
	ci := strings.Index(body, "event: connected\n")
	ri := strings.Index(body, "event: result\n")
	if ci < 0 || ri < 0 || ci > ri {
		t.Fatalf("expected connected then result, got:\n%s", body)
	}
	if strings.Count(body, "event: result") != 1 || !strings.Contains(body, `"content":"42"`) {
		t.Errorf("expected one result carrying the payload, got:\n%s", body)
	}
}

func TestStream_OpenErrors(t *testing.T) {
	f := newFixture(t, "")
	if rec := f.do(t, http.MethodGet, "/jobs/nope/stream", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}

	f.seed(t, model.NewJob("j1", "", "q", "", time.Now().UTC()))
	_ = f.system.SetPaused(context.Background(), true)
	if rec := f.do(t, http.MethodGet, "/jobs/j1/stream", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("want 409 while paused, got %d", rec.Code)
	}
}

func TestStream_CancelledJobEndsWithError(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, model.NewJob("j1", "", "q", "", time.Now().UTC()))

	go func() {
		time.Sleep(150 * time.Millisecond)
		f.do(t, http.MethodDelete, "/jobs/j1", "", "")
	}()

	rec := f.do(t, http.MethodGet, "/jobs/j1/stream", "", "")
	body := rec.Body.String()
	if !strings.Contains(body, "event: progress\n") {
		t.Errorf("expected a progress event before cancel:\n%s", body)
	}
	if !strings.Contains(body, "event: error\n") || !strings.Contains(body, `"reason":"cancelled"`) {
		t.Fatalf("expected cancelled error event:\n%s", body)
	}
	if strings.Contains(body, "event: timeout") {
		t.Errorf("stream should end on cancel, not time out:\n%s", body)
	}
}

//
// ---------------- analyze / cache ----------------
//

func TestAnalyze_CacheHitAndInvalidate(t *testing.T) {
	f := newFixture(t, "")
	body := `{"sessionId":"s1","query":"q1","endpoint":"reportA"}`

	var out struct {
		Success     bool   `json:"success"`
		Content     string `json:"content"`
		Source      string `json:"source"`
		Cached      bool   `json:"cached"`
		CacheSource string `json:"cacheSource"`
		Attempts    int    `json:"attempts"`
	}

	rec := f.do(t, http.MethodPost, "/analyze", body, "")
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || !out.Success || out.Content != "42" || out.Cached || out.CacheSource != "none" {
		t.Fatalf("first call: %d %+v", rec.Code, out)
	}

	rec = f.do(t, http.MethodPost, "/analyze", body, "")
	decode(t, rec, &out)
	if !out.Cached || out.CacheSource != "memory" {
		t.Fatalf("second call should hit memory: %+v", out)
	}
	if n := atomic.LoadInt32(&f.compute.calls); n != 1 {
		t.Fatalf("compute called %d times, want 1", n)
	}

	if rec := f.do(t, http.MethodDelete, "/sessions/s1/cache", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("invalidate: %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/analyze", body, "")
	decode(t, rec, &out)
	if out.Cached {
		t.Fatalf("expected a miss after invalidation: %+v", out)
	}
	if n := atomic.LoadInt32(&f.compute.calls); n != 2 {
		t.Fatalf("compute called %d times, want 2", n)
	}
}

func TestAnalyze_InvalidInput(t *testing.T) {
	f := newFixture(t, "")
	if rec := f.do(t, http.MethodPost, "/analyze", `{"sessionId":"s1"}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

//
// ---------------- auth / admin / health ----------------
//

func TestAuthAndAdmin(t *testing.T) {
	f := newFixture(t, "test-secret")
	user, _ := f.auth.Mint("u1", "user", time.Minute)
	admin, _ := f.auth.Mint("ops", api.RoleAdmin, time.Minute)
	forged, _ := api.NewAuthManager("other-secret").Mint("u1", api.RoleAdmin, time.Minute)

	if rec := f.do(t, http.MethodGet, "/jobs/x", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/jobs/x", "", forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: want 401, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/jobs/x", "", user); rec.Code != http.StatusNotFound {
		t.Fatalf("user token: want 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/admin/system", `{"paused":true}`, user); rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin: want 403, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPut, "/admin/system", `{"paused":true}`, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin pause: want 200, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/admin/system", "", admin)
	var st struct {
		Paused bool `json:"paused"`
	}
	decode(t, rec, &st)
	if !st.Paused {
		t.Fatal("expected paused after PUT")
	}
	if rec := f.do(t, http.MethodPut, "/admin/system", `{}`, admin); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing paused: want 400, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("expected a trace id header")
	}

	f.mem.FailWith = errors.New("connection refused")
	if rec := f.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with store down: want 503, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics: want 200, got %d", rec.Code)
	}
}
