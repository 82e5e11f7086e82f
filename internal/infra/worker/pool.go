package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/infra/metrics"
)

// ErrPoolFull is returned by Submit when every slot and the buffer are taken.
var ErrPoolFull = errors.New("worker queue full")

type Task func(ctx context.Context) error

type pending struct {
	jobID string
	run   Task
}

// PoolStats is a point-in-time view for the health endpoint.
type PoolStats struct {
	Workers  int `json:"workers"`
	Buffered int `json:"buffered"`
	Busy     int `json:"busy"`
	Capacity int `json:"capacity"`
}

// Pool runs job tasks on a fixed set of goroutines behind a bounded buffer.
// A job id is held from Submit until its task returns, so a trigger and a
// sweep for the same job never occupy two slots.
type Pool struct {
	wg    sync.WaitGroup
	tasks chan pending
	quit  chan struct{}
	once  sync.Once
	n     int

	mu   sync.Mutex
	held map[string]struct{}
	busy int

	log *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "Pool").Logger()
	return &Pool{
		tasks: make(chan pending, workers*4),
		quit:  make(chan struct{}),
		n:     workers,
		held:  make(map[string]struct{}),
		log:   &l,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case t := <-p.tasks:
					p.run(ctx, id, t)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, worker int, t pending) {
	metrics.SetPoolBuffered(len(p.tasks))
	p.mu.Lock()
	p.busy++
	p.mu.Unlock()
	metrics.AddPoolBusy(1)

	defer func() {
		p.mu.Lock()
		p.busy--
		delete(p.held, t.jobID)
		p.mu.Unlock()
		metrics.AddPoolBusy(-1)
	}()

	if err := t.run(ctx); err != nil {
		p.log.Error().Err(err).Int("worker", worker).Str("job_id", t.jobID).Msg("task error")
	}
}

// Submit buffers the task for jobID without blocking. A job already held by
// the pool is accepted and dropped.
func (p *Pool) Submit(jobID string, task Task) error {
	if task == nil || jobID == "" {
		return errors.New("job id and task are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[jobID]; ok {
		p.log.Debug().Str("job_id", jobID).Msg("job already in pool")
		return nil
	}
	select {
	case p.tasks <- pending{jobID: jobID, run: task}:
		p.held[jobID] = struct{}{}
		metrics.SetPoolBuffered(len(p.tasks))
		return nil
	default:
		metrics.IncPoolRejected()
		return ErrPoolFull
	}
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Workers: p.n, Buffered: len(p.tasks), Busy: p.busy, Capacity: cap(p.tasks)}
}

// Stop signals the workers and waits for in-flight tasks. It returns the ids
// of buffered tasks that never started so the caller can put them back on the
// queue.
func (p *Pool) Stop() []string {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()

	var left []string
	for {
		select {
		case t := <-p.tasks:
			p.mu.Lock()
			delete(p.held, t.jobID)
			p.mu.Unlock()
			left = append(left, t.jobID)
		default:
			metrics.SetPoolBuffered(0)
			return left
		}
	}
}
