package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/repository"
	"ai-analysis-gateway/internal/infra/metrics"
)

var _ repository.ResultArchive = (*ResultArchive)(nil)

// execer is the slice of pgxpool.Pool the archive needs.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

// ResultArchive copies finished jobs into analysis_results. The shared store
// stays the source of truth; the archive only outlives its TTLs.
type ResultArchive struct {
	db      execer
	timeout time.Duration
	log     *zerolog.Logger
}

func NewResultArchive(db execer, logger *zerolog.Logger) *ResultArchive {
	l := logger.With().Str("component", "ResultArchive").Logger()
	return &ResultArchive{db: db, timeout: 5 * time.Second, log: &l}
}

// Archive inserts a terminal job. A job already archived (a retried job that
// failed first, or a redelivered trigger) is updated in place.
func (a *ResultArchive) Archive(ctx context.Context, job *model.Job) error {
	if job == nil || !job.Status.Terminal() {
		return fmt.Errorf("archive: job is not terminal")
	}

	const q = `
INSERT INTO analysis_results (job_id, session_id, job_type, status, query, content, error,
  model, provider, prompt_tokens, output_tokens, duration_ms, retry_count, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (job_id) DO UPDATE SET
  status = EXCLUDED.status,
  content = EXCLUDED.content,
  error = EXCLUDED.error,
  model = EXCLUDED.model,
  provider = EXCLUDED.provider,
  prompt_tokens = EXCLUDED.prompt_tokens,
  output_tokens = EXCLUDED.output_tokens,
  duration_ms = EXCLUDED.duration_ms,
  retry_count = EXCLUDED.retry_count,
  completed_at = EXCLUDED.completed_at,
  archived_at = now();`

	var (
		content        string
		mdl, provider  string
		prompt, output int
		durationMs     int64
	)
	if job.Result != nil {
		content = job.Result.Content
		if m := job.Result.Metrics; m != nil {
			mdl, provider = m.Model, m.Provider
			prompt, output, durationMs = m.PromptTokens, m.OutputTokens, m.DurationMs
		}
	}

	_, err := a.db.Exec(ctx, q,
		job.ID, job.SessionID, job.Type, string(job.Status), job.Query, content, job.Error,
		mdl, provider, prompt, output, durationMs, job.Metadata.RetryCount, job.CreatedAt, job.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// racing insert for the same job; the other writer won
			return nil
		}
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	return nil
}

// ArchiveAsync runs Archive in the background with its own deadline. Failures
// are logged and counted, never returned.
func (a *ResultArchive) ArchiveAsync(ctx context.Context, job *model.Job) {
	snapshot := *job
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.Archive(actx, &snapshot); err != nil {
			metrics.IncArchiveError()
			a.log.Error().Err(err).Str("job_id", snapshot.ID).Msg("archive result failed")
		}
	}()
}
