package repository

import (
	"context"
	"time"

	"ai-analysis-gateway/internal/domain/model"
)

// JobRepository is typed access to the job records in the shared store.
// There are no transactions: every transition is read, validate, write, and
// the last writer wins.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	// Get returns domain.ErrNotFound on a miss or after expiry.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Save overwrites the record with the given TTL (0 means the default job TTL).
	Save(ctx context.Context, job *model.Job, ttl time.Duration) error
	// GetWithProgress reads both records in one round trip. The progress
	// record may be nil; the job is nil when absent (no error).
	GetWithProgress(ctx context.Context, id string) (*model.Job, *model.JobProgress, error)
	SetProgress(ctx context.Context, id string, p *model.JobProgress) error
	DeleteProgress(ctx context.Context, id string) error
}

// JobQueue holds ids of jobs waiting for an out-of-band pickup.
type JobQueue interface {
	Enqueue(ctx context.Context, id string) error
	// Dequeue returns "" with no error when the queue is empty.
	Dequeue(ctx context.Context) (string, error)
}

// SystemStateRepository reports whether new work may run.
type SystemStateRepository interface {
	IsRunnable(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}

// ResultArchive persists finished results outside the shared store.
type ResultArchive interface {
	Archive(ctx context.Context, job *model.Job) error
}
