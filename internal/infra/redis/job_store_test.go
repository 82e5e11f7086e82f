//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"

	"github.com/jonboulle/clockwork"
)

func TestJobStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Create stores a queued job with a 24h TTL", func(t *testing.T) {
		mem := NewMemoryClientWithClock(clockwork.NewFakeClockAt(now))
		store := NewJobStore(mem)

		job := model.NewJob("j1", "", "what is 6*7", "s1", now)
		job.Status = model.JobStatusProcessing // Create must force queued
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := store.Get(ctx, "j1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != model.JobStatusQueued {
			t.Errorf("expected queued, got %s", got.Status)
		}
		if got.Type != model.DefaultJobType {
			t.Errorf("expected default type, got %q", got.Type)
		}
		ttl, _ := mem.TTL(ctx, JobKey("j1"))
		if ttl != JobTTL {
			t.Errorf("expected ttl %v, got %v", JobTTL, ttl)
		}
	})

	t.Run("Get returns ErrNotFound on miss and after expiry", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		store := NewJobStore(NewMemoryClientWithClock(clock))

		if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		_ = store.Create(ctx, model.NewJob("j2", "", "q", "", now))
		clock.Advance(JobTTL + time.Second)
		if _, err := store.Get(ctx, "j2"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after expiry, got %v", err)
		}
	})

	t.Run("GetWithProgress reads both records", func(t *testing.T) {
		store := NewJobStore(NewMemoryClientWithClock(clockwork.NewFakeClockAt(now)))

		job, prog, err := store.GetWithProgress(ctx, "none")
		if err != nil || job != nil || prog != nil {
			t.Fatalf("expected empty read, got %v %v %v", job, prog, err)
		}

		_ = store.Create(ctx, model.NewJob("j3", "", "q", "", now))
		job, prog, err = store.GetWithProgress(ctx, "j3")
		if err != nil || job == nil {
			t.Fatalf("expected job, got %v %v", job, err)
		}
		if prog != nil {
			t.Errorf("expected no progress yet, got %+v", prog)
		}

		_ = store.SetProgress(ctx, "j3", &model.JobProgress{Stage: model.StageAnalyzing, Progress: 140, UpdatedAt: now})
		_, prog, _ = store.GetWithProgress(ctx, "j3")
		if prog == nil || prog.Stage != model.StageAnalyzing {
			t.Fatalf("expected analyzing progress, got %+v", prog)
		}
		if prog.Progress != 100 {
			t.Errorf("expected progress clamped to 100, got %d", prog.Progress)
		}
	})

	t.Run("progress record expires after ten minutes", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		store := NewJobStore(NewMemoryClientWithClock(clock))
		_ = store.Create(ctx, model.NewJob("j4", "", "q", "", now))
		_ = store.SetProgress(ctx, "j4", &model.JobProgress{Stage: model.StageInit})

		clock.Advance(ProgressTTL)
		job, prog, _ := store.GetWithProgress(ctx, "j4")
		if job == nil {
			t.Fatal("job should outlive its progress record")
		}
		if prog != nil {
			t.Errorf("expected progress to be gone, got %+v", prog)
		}
	})

	t.Run("queue is FIFO and empty reads are not errors", func(t *testing.T) {
		store := NewJobStore(NewMemoryClient())
		for _, id := range []string{"a", "b"} {
			if err := store.Enqueue(ctx, id); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		for _, want := range []string{"a", "b", ""} {
			got, err := store.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue: %v", err)
			}
			if got != want {
				t.Errorf("expected %q, got %q", want, got)
			}
		}
	})

	t.Run("store failures are wrapped", func(t *testing.T) {
		mem := NewMemoryClient()
		mem.FailWith = errors.New("connection refused")
		store := NewJobStore(mem)
		if _, err := store.Get(ctx, "x"); err == nil || errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected a transport error, got %v", err)
		}
	})
}
