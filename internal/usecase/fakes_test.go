//go:build !integration

package usecase

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	red "ai-analysis-gateway/internal/infra/redis"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type fakeTrigger struct {
	mu     sync.Mutex
	status adapter.TriggerStatus
	calls  []adapter.TriggerRequest
	onCall func(req adapter.TriggerRequest) // runs as the worker would on receipt
}

func (f *fakeTrigger) Trigger(ctx context.Context, req adapter.TriggerRequest) adapter.TriggerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.onCall != nil {
		f.onCall(req)
	}
	if f.status == "" {
		return adapter.TriggerSent
	}
	return f.status
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type jobFixture struct {
	mem     *red.MemoryClient
	store   *red.JobStore
	system  *red.SystemStateRepo
	trigger *fakeTrigger
	clock   clockwork.FakeClock
	uc      *jobUC
}

func newJobFixture(t *testing.T, cfg config.JobsConfig) *jobFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	mem := red.NewMemoryClientWithClock(clock)
	store := red.NewJobStore(mem)
	system := red.NewSystemStateRepo(mem)
	trig := &fakeTrigger{}
	uc := NewJobUseCase(store, store, system, trig, red.NewRateLimiter(mem), clock, cfg, discardLogger())
	return &jobFixture{mem: mem, store: store, system: system, trigger: trig, clock: clock, uc: uc}
}

// seed writes a job directly, the way the worker would.
func (f *jobFixture) seed(t *testing.T, job *model.Job) {
	t.Helper()
	if err := f.store.Save(context.Background(), job, 0); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}
