package redis

import (
	"context"

	"ai-analysis-gateway/internal/domain/ports/repository"
)

var _ repository.SystemStateRepository = (*SystemStateRepo)(nil)

const systemStateKey = "system:state"

const (
	systemRunning = "running"
	systemPaused  = "paused"
)

// SystemStateRepo stores the global run switch. A missing key means running.
type SystemStateRepo struct {
	client RedisClient
}

func NewSystemStateRepo(client RedisClient) *SystemStateRepo {
	return &SystemStateRepo{client: client}
}

func (s *SystemStateRepo) IsRunnable(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, systemStateKey)
	if err != nil {
		if IsNil(err) {
			return true, nil
		}
		return false, err
	}
	return v != systemPaused, nil
}

func (s *SystemStateRepo) SetPaused(ctx context.Context, paused bool) error {
	v := systemRunning
	if paused {
		v = systemPaused
	}
	return s.client.Set(ctx, systemStateKey, v, 0)
}
