package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/repository"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"
	red "ai-analysis-gateway/internal/infra/redis"
)

const (
	claimTTL    = 5 * time.Minute
	callTimeout = 3 * time.Minute
)

// Archiver receives finished jobs. postgres.ResultArchive implements it.
type Archiver interface {
	ArchiveAsync(ctx context.Context, job *model.Job)
}

// JobProcessor moves one queued job to a terminal state. It is safe to call
// twice for the same id (trigger and sweeper racing): the claim lock and the
// status check make the second call a no-op.
type JobProcessor struct {
	jobs     repository.JobRepository
	locker   red.Locker
	analyzer *Analyzer
	archive  Archiver // optional
	clock    clockwork.Clock
	log      *zerolog.Logger
}

func NewJobProcessor(
	jobs repository.JobRepository,
	locker red.Locker,
	analyzer *Analyzer,
	archive Archiver,
	clock clockwork.Clock,
	log *zerolog.Logger,
) *JobProcessor {
	l := log.With().Str("component", "JobProcessor").Logger()
	return &JobProcessor{
		jobs:     jobs,
		locker:   locker,
		analyzer: analyzer,
		archive:  archive,
		clock:    clock,
		log:      &l,
	}
}

func (p *JobProcessor) Process(ctx context.Context, id string) error {
	ctx = logging.WithJobID(ctx, id)
	log := logging.With(ctx, p.log)

	token, err := p.locker.TryLock(ctx, red.JobLockKey(id), claimTTL)
	if errors.Is(err, domain.ErrAlreadyClaimed) {
		log.Debug().Msg("job claimed elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx), red.JobLockKey(id), token); err != nil {
			log.Warn().Err(err).Msg("release claim")
		}
	}()

	job, err := p.jobs.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("job expired before pickup")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != model.JobStatusQueued && job.Status != model.JobStatusPending {
		log.Debug().Str("status", string(job.Status)).Msg("job not runnable; skipping")
		return nil
	}

	now := p.clock.Now().UTC()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &now
	job.Progress = 10
	job.CurrentStep = model.StageAnalyzing
	if err := p.jobs.Save(ctx, job, 0); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	p.progress(ctx, id, model.StageAnalyzing, 10, "analysis started")
	log.Info().Str("session_id", job.SessionID).Msg("processing job")

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	content, rm, runErr := p.analyzer.Analyze(cctx, job.Query)
	cancel()

	p.progress(ctx, id, model.StageFinalizing, 90, "writing result")

	// The gateway may have cancelled the job while the model was running.
	cur, err := p.jobs.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if cur.Status != model.JobStatusProcessing {
		log.Info().Str("status", string(cur.Status)).Msg("job changed while processing; result discarded")
		metrics.IncAIJob(string(cur.Status))
		return nil
	}

	done := p.clock.Now().UTC()
	cur.CompletedAt = &done
	cur.Progress = 100
	cur.CurrentStep = ""
	stage := model.StageCompleted
	if runErr != nil {
		cur.Status = model.JobStatusFailed
		cur.Error = runErr.Error()
		stage = model.StageFailed
		log.Error().Err(runErr).Msg("job failed")
	} else {
		cur.Status = model.JobStatusCompleted
		cur.Result = &model.JobResult{Content: content, Metrics: rm}
	}

	// final write must land even if the trigger request went away
	wctx := context.WithoutCancel(ctx)
	if err := p.jobs.Save(wctx, cur, 0); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	p.progress(wctx, id, stage, 100, "")
	metrics.IncAIJob(string(cur.Status))
	log.Info().Str("status", string(cur.Status)).Dur("duration", done.Sub(now)).Msg("job finished")

	if p.archive != nil {
		p.archive.ArchiveAsync(wctx, cur)
	}
	return nil
}

func (p *JobProcessor) progress(ctx context.Context, id, stage string, pct int, msg string) {
	err := p.jobs.SetProgress(ctx, id, &model.JobProgress{
		Stage:     stage,
		Progress:  pct,
		Message:   msg,
		UpdatedAt: p.clock.Now().UTC(),
	})
	if err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Str("stage", stage).Msg("write progress")
	}
}
