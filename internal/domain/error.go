package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("job not found")
	ErrInvalidState       = errors.New("operation not valid for current job status")
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSystemPaused       = errors.New("system is not accepting work")
	ErrRateLimited        = errors.New("too many requests")
	ErrWorkerDisabled     = errors.New("worker endpoint not configured")
	ErrAlreadyClaimed     = errors.New("job already claimed by another worker")
)
