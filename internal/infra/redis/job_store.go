package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/repository"
)

const (
	JobTTL      = 24 * time.Hour
	ProgressTTL = 10 * time.Minute

	jobQueueKey = "job:queue"
)

var (
	_ repository.JobRepository = (*JobStore)(nil)
	_ repository.JobQueue      = (*JobStore)(nil)
)

// JobStore keeps Job and JobProgress records as JSON under job:{id} and
// job:progress:{id}.
type JobStore struct {
	client RedisClient
}

func NewJobStore(client RedisClient) *JobStore {
	return &JobStore{client: client}
}

func JobKey(id string) string      { return "job:" + id }
func ProgressKey(id string) string { return "job:progress:" + id }

func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusQueued
	return s.Save(ctx, job, JobTTL)
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.client.Get(ctx, JobKey(id))
	if err != nil {
		if IsNil(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStore) Save(ctx context.Context, job *model.Job, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = JobTTL
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, JobKey(job.ID), data, ttl); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) GetWithProgress(ctx context.Context, id string) (*model.Job, *model.JobProgress, error) {
	vals, err := s.client.MGet(ctx, JobKey(id), ProgressKey(id))
	if err != nil {
		return nil, nil, fmt.Errorf("read job %s: %w", id, err)
	}
	var (
		job  *model.Job
		prog *model.JobProgress
	)
	if len(vals) > 0 {
		if raw, ok := vals[0].(string); ok {
			job = &model.Job{}
			if err := json.Unmarshal([]byte(raw), job); err != nil {
				return nil, nil, fmt.Errorf("decode job %s: %w", id, err)
			}
		}
	}
	if len(vals) > 1 {
		if raw, ok := vals[1].(string); ok {
			prog = &model.JobProgress{}
			// a garbled progress record is treated as absent
			if json.Unmarshal([]byte(raw), prog) != nil {
				prog = nil
			}
		}
	}
	return job, prog, nil
}

func (s *JobStore) SetProgress(ctx context.Context, id string, p *model.JobProgress) error {
	p.Progress = model.ClampProgress(p.Progress)
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, ProgressKey(id), data, ProgressTTL)
}

func (s *JobStore) DeleteProgress(ctx context.Context, id string) error {
	return s.client.Del(ctx, ProgressKey(id))
}

func (s *JobStore) Enqueue(ctx context.Context, id string) error {
	return s.client.RPush(ctx, jobQueueKey, id)
}

func (s *JobStore) Dequeue(ctx context.Context) (string, error) {
	id, err := s.client.LPop(ctx, jobQueueKey)
	if err != nil {
		if IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}
