package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/ports/repository"
)

// Sweeper drains the pending queue so jobs whose trigger never arrived still
// get processed.
type Sweeper struct {
	queue     repository.JobQueue
	pool      *Pool
	processor *JobProcessor
	interval  time.Duration
	log       *zerolog.Logger
}

func NewSweeper(queue repository.JobQueue, pool *Pool, processor *JobProcessor, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	l := logger.With().Str("component", "Sweeper").Logger()
	return &Sweeper{queue: queue, pool: pool, processor: processor, interval: interval, log: &l}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("queue sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("queue sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce hands queued ids to the pool until the queue is empty or the pool
// is saturated. It returns how many ids it handed over.
func (s *Sweeper) sweepOnce(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		id, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("dequeue")
			return n
		}
		if id == "" {
			return n
		}
		if err := s.pool.Submit(id, s.task(id)); err != nil {
			if errors.Is(err, ErrPoolFull) {
				// put it back for the next tick
				if perr := s.queue.Enqueue(ctx, id); perr != nil {
					s.log.Error().Err(perr).Str("job_id", id).Msg("requeue after full pool")
				}
				return n
			}
			s.log.Error().Err(err).Str("job_id", id).Msg("submit job")
			return n
		}
		n++
	}
	return n
}

func (s *Sweeper) task(id string) Task {
	return func(ctx context.Context) error {
		return s.processor.Process(ctx, id)
	}
}
