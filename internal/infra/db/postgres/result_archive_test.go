//go:build !integration

package postgres

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/model"
)

type mockExecer struct {
	mu    sync.Mutex
	calls [][]interface{}
	err   error
	done  chan struct{}
}

func (m *mockExecer) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.mu.Unlock()
	if m.done != nil {
		defer close(m.done)
	}
	if m.err != nil {
		return nil, m.err
	}
	return pgconn.CommandTag("INSERT 0 1"), nil
}

func newTestArchive(db execer) *ResultArchive {
	logger := zerolog.New(io.Discard)
	return NewResultArchive(db, &logger)
}

func completedJob() *model.Job {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := model.NewJob("01J0", "", "q", "s1", now)
	j.Status = model.JobStatusCompleted
	j.CompletedAt = &now
	j.Result = &model.JobResult{Content: "done", Metrics: &model.ResultMetrics{Model: "m", Provider: "p", PromptTokens: 3, OutputTokens: 4, DurationMs: 50}}
	return j
}

func TestResultArchive_Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts the terminal job with its metrics", func(t *testing.T) {
		db := &mockExecer{}
		if err := newTestArchive(db).Archive(ctx, completedJob()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(db.calls) != 1 {
			t.Fatalf("expected one exec, got %d", len(db.calls))
		}
		args := db.calls[0]
		if args[0] != "01J0" || args[3] != "completed" || args[5] != "done" || args[9] != 3 || args[10] != 4 {
			t.Errorf("unexpected args: %v", args)
		}
	})

	t.Run("rejects active jobs without touching the database", func(t *testing.T) {
		db := &mockExecer{}
		j := completedJob()
		j.Status = model.JobStatusProcessing
		if err := newTestArchive(db).Archive(ctx, j); err == nil {
			t.Fatal("expected an error for an active job")
		}
		if len(db.calls) != 0 {
			t.Errorf("expected no exec, got %d", len(db.calls))
		}
	})

	t.Run("unique violation is not an error", func(t *testing.T) {
		db := &mockExecer{err: &pgconn.PgError{Code: "23505"}}
		if err := newTestArchive(db).Archive(ctx, completedJob()); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})

	t.Run("other database errors are wrapped", func(t *testing.T) {
		boom := errors.New("conn reset")
		db := &mockExecer{err: boom}
		if err := newTestArchive(db).Archive(ctx, completedJob()); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped error, got %v", err)
		}
	})
}

func TestResultArchive_ArchiveAsync(t *testing.T) {
	db := &mockExecer{err: errors.New("down"), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the caller going away must not stop the write

	newTestArchive(db).ArchiveAsync(ctx, completedJob())

	select {
	case <-db.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async archive never ran")
	}
}
