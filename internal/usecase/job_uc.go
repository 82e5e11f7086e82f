// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/domain/ports/repository"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// CancelledRetention is how long a cancelled job stays readable.
const CancelledRetention = time.Hour

const maxQueryLen = 8000

type JobUseCase interface {
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
	Retry(ctx context.Context, id string) (*RetryResult, error)
}

// RateLimiter is a fixed-window limiter keyed by caller-chosen keys. A refusal
// comes with the time left in the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type SubmitInput struct {
	Query     string
	Type      string
	SessionID string
}

type SubmitResult struct {
	JobID         string
	Status        model.JobStatus
	TriggerStatus adapter.TriggerStatus
}

type RetryResult struct {
	JobID         string
	Status        model.JobStatus
	RetryCount    int
	TriggerStatus adapter.TriggerStatus
}

// RateLimitError carries the retryAfter hint for a rejected submission.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return domain.ErrRateLimited.Error() }
func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

type jobUC struct {
	jobs    repository.JobRepository
	queue   repository.JobQueue
	system  repository.SystemStateRepository
	trigger adapter.WorkerTrigger
	limiter RateLimiter // optional
	clock   clockwork.Clock
	cfg     config.JobsConfig
	log     *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	queue repository.JobQueue,
	system repository.SystemStateRepository,
	trigger adapter.WorkerTrigger,
	limiter RateLimiter,
	clock clockwork.Clock,
	cfg config.JobsConfig,
	logger *zerolog.Logger,
) *jobUC {
	return &jobUC{
		jobs:    jobs,
		queue:   queue,
		system:  system,
		trigger: trigger,
		limiter: limiter,
		clock:   clock,
		cfg:     cfg,
		log:     logger,
	}
}

func (u *jobUC) maxRetries() int {
	if u.cfg.MaxRetries <= 0 {
		return 2
	}
	return u.cfg.MaxRetries
}

func (u *jobUC) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	defer logging.TraceDuration(u.log, "JobUC.Submit")()

	query := strings.TrimSpace(in.Query)
	if query == "" || len(query) > maxQueryLen {
		metrics.IncJobRejection("submit", "invalid")
		return nil, domain.ErrInvalidArgument
	}

	if ok, err := u.system.IsRunnable(ctx); err != nil {
		return nil, fmt.Errorf("read system state: %w", err)
	} else if !ok {
		metrics.IncJobRejection("submit", "paused")
		return nil, domain.ErrSystemPaused
	}

	if u.limiter != nil && in.SessionID != "" && u.cfg.SubmitRateLimit > 0 {
		allowed, wait, err := u.limiter.Allow(ctx, "rate_limit:submit:"+in.SessionID, u.cfg.SubmitRateLimit, u.cfg.SubmitRateWindow)
		if err != nil {
			// limiter outage must not block submissions
			logging.With(ctx, u.log).Warn().Err(err).Msg("submit rate limiter unavailable")
		} else if !allowed {
			metrics.IncJobRejection("submit", "rate_limit")
			return nil, &RateLimitError{RetryAfter: wait}
		}
	}

	job := model.NewJob(ulid.Make().String(), in.Type, query, in.SessionID, u.clock.Now().UTC())
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, u.log)

	if err := u.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJobTransition(string(model.JobStatusQueued))

	status := u.dispatch(ctx, job)
	log.Info().Str("trigger", string(status)).Msg("job submitted")

	return &SubmitResult{JobID: job.ID, Status: job.Status, TriggerStatus: status}, nil
}

func (u *jobUC) Get(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrNotFound
	}
	return u.jobs.Get(ctx, id)
}

// Cancel moves a queued or processing job to cancelled. The record is kept for
// CancelledRetention and its progress companion is removed.
func (u *jobUC) Cancel(ctx context.Context, id string) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "JobUC.Cancel")()
	log := logging.With(logging.WithJobID(ctx, id), u.log)

	job, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		metrics.IncJobRejection("cancel", string(job.Status))
		return nil, fmt.Errorf("cancel %s job: %w", job.Status, domain.ErrInvalidState)
	}

	now := u.clock.Now().UTC()
	job.Status = model.JobStatusCancelled
	job.CompletedAt = &now
	if err := u.jobs.Save(ctx, job, CancelledRetention); err != nil {
		return nil, fmt.Errorf("save cancelled job: %w", err)
	}
	metrics.IncJobTransition(string(model.JobStatusCancelled))

	if err := u.jobs.DeleteProgress(ctx, id); err != nil {
		log.Warn().Err(err).Msg("delete progress after cancel")
	}
	log.Info().Msg("job cancelled")
	return job, nil
}

// Retry re-queues a failed job. The read-validate-write sequence is not
// atomic; a worker finishing concurrently may be overwritten.
func (u *jobUC) Retry(ctx context.Context, id string) (*RetryResult, error) {
	defer logging.TraceDuration(u.log, "JobUC.Retry")()
	ctx = logging.WithJobID(ctx, id)
	log := logging.With(ctx, u.log)

	job, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		metrics.IncJobRejection("retry", string(job.Status))
		return nil, fmt.Errorf("retry %s job: %w", job.Status, domain.ErrInvalidState)
	}
	if job.Metadata.RetryCount+1 > u.maxRetries() {
		metrics.IncJobRejection("retry", "limit")
		return nil, domain.ErrRetryLimitExceeded
	}

	job.ResetForRetry()
	if err := u.jobs.Save(ctx, job, 0); err != nil {
		return nil, fmt.Errorf("save retried job: %w", err)
	}
	metrics.IncJobTransition(string(model.JobStatusQueued))

	stub := &model.JobProgress{
		Stage:     model.StageRetrying,
		Progress:  5,
		Message:   fmt.Sprintf("retry %d of %d", job.Metadata.RetryCount, u.maxRetries()),
		UpdatedAt: u.clock.Now().UTC(),
	}
	if err := u.jobs.SetProgress(ctx, id, stub); err != nil {
		log.Warn().Err(err).Msg("write retry progress stub")
	}

	status := u.dispatch(ctx, job)
	log.Info().Int("retry_count", job.Metadata.RetryCount).Str("trigger", string(status)).Msg("job retried")

	return &RetryResult{
		JobID:         job.ID,
		Status:        model.JobStatusQueued,
		RetryCount:    job.Metadata.RetryCount,
		TriggerStatus: status,
	}, nil
}

// dispatch queues the job for out-of-band pickup and notifies the worker.
// Neither step can fail the caller; the job stays pollable regardless. The
// job record is not written after the trigger: the worker may already own it.
func (u *jobUC) dispatch(ctx context.Context, job *model.Job) adapter.TriggerStatus {
	log := logging.With(ctx, u.log)

	if err := u.queue.Enqueue(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("enqueue job")
	}

	status := u.trigger.Trigger(ctx, adapter.TriggerRequest{
		JobID:     job.ID,
		Query:     job.Query,
		Type:      job.Type,
		SessionID: job.SessionID,
	})
	metrics.IncTrigger(string(status))
	if status != adapter.TriggerSent {
		log.Warn().Str("trigger", string(status)).Msg("worker trigger not delivered; job stays queued")
	}
	return status
}
