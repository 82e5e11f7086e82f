//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	red "ai-analysis-gateway/internal/infra/redis"

	"github.com/jonboulle/clockwork"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		MaxDuration:      55 * time.Second,
		ProgressThrottle: 2 * time.Second,
		ProcessingPoll:   time.Second,
		QueuedPoll:       3 * time.Second,
		MinPoll:          100 * time.Millisecond,
		MaxPoll:          5000 * time.Millisecond,
	}
}

func TestPollInterval(t *testing.T) {
	cfg := testStreamConfig()
	processing := &model.Job{Status: model.JobStatusProcessing}
	queued := &model.Job{Status: model.JobStatusQueued}

	if got := PollInterval(cfg, processing); got != time.Second {
		t.Errorf("processing: got %v", got)
	}
	if got := PollInterval(cfg, queued); got != 3*time.Second {
		t.Errorf("queued: got %v", got)
	}
	if got := PollInterval(cfg, nil); got != 3*time.Second {
		t.Errorf("missing record: got %v", got)
	}

	cfg.ProcessingPoll = 10 * time.Millisecond
	cfg.QueuedPoll = time.Minute
	if got := PollInterval(cfg, processing); got != cfg.MinPoll {
		t.Errorf("expected clamp to min, got %v", got)
	}
	if got := PollInterval(cfg, queued); got != cfg.MaxPoll {
		t.Errorf("expected clamp to max, got %v", got)
	}
}

func TestDecideStream(t *testing.T) {
	cfg := testStreamConfig()
	t0 := testNow
	fresh := streamState{jobID: "j1"}
	throttled := streamState{jobID: "j1", progressSent: true, lastProgress: t0}

	t.Run("missing record yields an init placeholder", func(t *testing.T) {
		dec := decideStream(cfg, 2, fresh, t0, nil, nil)
		if dec.terminal || dec.event == nil || dec.event.Name != EventProgress {
			t.Fatalf("unexpected decision %+v", dec)
		}
		if dec.event.Data["stage"] != model.StageInit {
			t.Errorf("expected init stage, got %v", dec.event.Data["stage"])
		}
	})

	t.Run("progress is throttled", func(t *testing.T) {
		job := &model.Job{ID: "j1", Status: model.JobStatusProcessing}
		if dec := decideStream(cfg, 2, throttled, t0.Add(1999*time.Millisecond), job, nil); dec.event != nil {
			t.Errorf("expected no event inside the throttle window, got %v", dec.event)
		}
		dec := decideStream(cfg, 2, throttled, t0.Add(2*time.Second), job, nil)
		if dec.event == nil || dec.event.Name != EventProgress {
			t.Fatalf("expected progress after the window, got %+v", dec)
		}
		if dec.wait != time.Second {
			t.Errorf("expected processing poll, got %v", dec.wait)
		}
	})

	t.Run("progress record fields are forwarded", func(t *testing.T) {
		job := &model.Job{ID: "j1", Status: model.JobStatusProcessing, Progress: 10}
		prog := &model.JobProgress{Stage: model.StageAnalyzing, Progress: 55, Message: "thinking"}
		dec := decideStream(cfg, 2, fresh, t0, job, prog)
		if dec.event.Data["stage"] != model.StageAnalyzing || dec.event.Data["progress"] != 55 {
			t.Errorf("unexpected payload %v", dec.event.Data)
		}
	})

	t.Run("completed ends with result", func(t *testing.T) {
		job := &model.Job{ID: "j1", Status: model.JobStatusCompleted, Result: &model.JobResult{
			Content: "42", Metrics: &model.ResultMetrics{TotalTokens: 12},
		}}
		dec := decideStream(cfg, 2, throttled, t0, job, nil)
		if !dec.terminal || dec.event.Name != EventResult {
			t.Fatalf("unexpected decision %+v", dec)
		}
		if dec.event.Data["metrics"] == nil {
			t.Error("expected metrics in result payload")
		}
	})

	t.Run("failed ends with error", func(t *testing.T) {
		job := &model.Job{ID: "j1", Status: model.JobStatusFailed, Error: "boom"}
		job.Metadata.RetryCount = 2
		dec := decideStream(cfg, 2, throttled, t0, job, nil)
		if !dec.terminal || dec.event.Name != EventError {
			t.Fatalf("unexpected decision %+v", dec)
		}
		if dec.event.Data["retryable"] != false {
			t.Error("job at the retry limit is not retryable")
		}
	})

	t.Run("cancelled ends with error", func(t *testing.T) {
		job := &model.Job{ID: "j1", Status: model.JobStatusCancelled}
		dec := decideStream(cfg, 2, throttled, t0, job, nil)
		if !dec.terminal || dec.event.Name != EventError || dec.event.Data["reason"] != "cancelled" {
			t.Fatalf("unexpected decision %+v", dec)
		}
	})
}

type streamFixture struct {
	store  *red.JobStore
	system *red.SystemStateRepo
	sd     *StreamDelivery
}

func newStreamFixture(clock clockwork.Clock, cfg config.StreamConfig) *streamFixture {
	mem := red.NewMemoryClientWithClock(clock)
	store := red.NewJobStore(mem)
	system := red.NewSystemStateRepo(mem)
	return &streamFixture{
		store:  store,
		system: system,
		sd:     NewStreamDelivery(store, system, clock, cfg, 2, discardLogger()),
	}
}

func TestStreamDelivery_Open(t *testing.T) {
	ctx := context.Background()
	f := newStreamFixture(clockwork.NewRealClock(), testStreamConfig())

	if _, err := f.sd.Open(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	queued := model.NewJob("q1", "", "q", "", testNow)
	_ = f.store.Save(ctx, queued, 0)
	done := model.NewJob("d1", "", "q", "", testNow)
	done.Status = model.JobStatusCompleted
	_ = f.store.Save(ctx, done, 0)
	_ = f.system.SetPaused(ctx, true)

	if _, err := f.sd.Open(ctx, "q1"); !errors.Is(err, domain.ErrSystemPaused) {
		t.Fatalf("expected ErrSystemPaused for a live job, got %v", err)
	}
	if _, err := f.sd.Open(ctx, "d1"); err != nil {
		t.Fatalf("terminal jobs are readable while paused: %v", err)
	}
}

// connected, then an init placeholder, then exactly one result once the
// worker completes the job.
func TestStream_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testStreamConfig()
	cfg.QueuedPoll = 100 * time.Millisecond
	cfg.ProcessingPoll = 100 * time.Millisecond
	f := newStreamFixture(clockwork.NewRealClock(), cfg)

	job := model.NewJob("j1", "", "q", "", testNow)
	_ = f.store.Create(ctx, job)

	s, err := f.sd.Open(ctx, "j1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var names []string
	ev, ok := s.Next(ctx)
	if !ok || ev.Name != EventConnected {
		t.Fatalf("expected connected, got %v %v", ev, ok)
	}
	names = append(names, ev.Name)

	start := time.Now()
	ev, ok = s.Next(ctx)
	if !ok || ev.Name != EventProgress || ev.Data["stage"] != model.StageInit {
		t.Fatalf("expected init progress, got %v %v", ev, ok)
	}
	if time.Since(start) > cfg.ProgressThrottle {
		t.Error("placeholder must arrive within one throttle interval")
	}
	names = append(names, ev.Name)

	job.Status = model.JobStatusCompleted
	job.Result = &model.JobResult{Content: "42"}
	_ = f.store.Save(ctx, job, 0)

	for {
		ev, ok := s.Next(ctx)
		if !ok {
			break
		}
		names = append(names, ev.Name)
	}

	want := []string{EventConnected, EventProgress, EventResult}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	if s.EndReason() != EndResult {
		t.Errorf("expected result end, got %q", s.EndReason())
	}
}

func TestStream_TimeoutAtCap(t *testing.T) {
	ctx := context.Background()
	cfg := testStreamConfig()
	cfg.MaxDuration = 300 * time.Millisecond
	cfg.QueuedPoll = 100 * time.Millisecond
	f := newStreamFixture(clockwork.NewRealClock(), cfg)
	_ = f.store.Create(ctx, model.NewJob("j1", "", "q", "", testNow))

	s, _ := f.sd.Open(ctx, "j1")
	var last Event
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			break
		}
		last = ev
	}
	if last.Name != EventTimeout || s.EndReason() != EndTimeout {
		t.Fatalf("expected timeout, got %v (%s)", last, s.EndReason())
	}
}

func TestStream_AbortEndsWithoutEvent(t *testing.T) {
	cfg := testStreamConfig()
	f := newStreamFixture(clockwork.NewRealClock(), cfg)
	_ = f.store.Create(context.Background(), model.NewJob("j1", "", "q", "", testNow))

	ctx, cancel := context.WithCancel(context.Background())
	s, _ := f.sd.Open(ctx, "j1")
	s.Next(ctx) // connected
	s.Next(ctx) // progress, now sleeping 3s before the next poll

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if ev, ok := s.Next(ctx); ok {
		t.Fatalf("expected the stream to end, got %v", ev)
	}
	if time.Since(start) > time.Second {
		t.Error("abort must interrupt the sleep")
	}
	if s.EndReason() != EndAborted {
		t.Errorf("expected aborted, got %q", s.EndReason())
	}
}

func TestStream_StoreFailureEmitsOneError(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewRealClock()
	mem := red.NewMemoryClientWithClock(clock)
	store := red.NewJobStore(mem)
	sd := NewStreamDelivery(store, red.NewSystemStateRepo(mem), clock, testStreamConfig(), 2, discardLogger())
	_ = store.Create(ctx, model.NewJob("j1", "", "q", "", testNow))

	s, _ := sd.Open(ctx, "j1")
	s.Next(ctx)
	mem.FailWith = errors.New("connection reset")

	ev, ok := s.Next(ctx)
	if !ok || ev.Name != EventError || ev.Data["reason"] != "store_error" {
		t.Fatalf("expected one store error event, got %v %v", ev, ok)
	}
	if _, ok := s.Next(ctx); ok {
		t.Fatal("stream must end after the error event")
	}
}
