package model

import "time"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further processing-driven transition happens
// from this status. Cancel and retry both reject terminal jobs.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the worker may still move the job forward.
func (s JobStatus) Active() bool {
	switch s {
	case JobStatusQueued, JobStatusPending, JobStatusProcessing:
		return true
	}
	return false
}

const DefaultJobType = "analysis"

type JobMetadata struct {
	RetryCount int `json:"retryCount"`
}

type ResultMetrics struct {
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	PromptTokens int    `json:"promptTokens"`
	OutputTokens int    `json:"outputTokens"`
	TotalTokens  int    `json:"totalTokens"`
	DurationMs   int64  `json:"durationMs"`
}

type JobResult struct {
	Content string         `json:"content"`
	Metrics *ResultMetrics `json:"metrics,omitempty"`
}

// Job is persisted as JSON under job:{id}.
type Job struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Status      JobStatus   `json:"status"`
	Query       string      `json:"query"`
	SessionID   string      `json:"sessionId,omitempty"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"currentStep,omitempty"`
	Result      *JobResult  `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Metadata    JobMetadata `json:"metadata"`
}

// NewJob builds a freshly submitted job. Status always starts queued.
func NewJob(id, jobType, query, sessionID string, now time.Time) *Job {
	if jobType == "" {
		jobType = DefaultJobType
	}
	return &Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusQueued,
		Query:     query,
		SessionID: sessionID,
		CreatedAt: now,
	}
}

// ResetForRetry clears everything a previous attempt produced and puts the
// job back in the queue with one more retry on the counter.
func (j *Job) ResetForRetry() {
	j.Status = JobStatusQueued
	j.Metadata.RetryCount++
	j.Progress = 0
	j.CurrentStep = ""
	j.Result = nil
	j.Error = ""
	j.StartedAt = nil
	j.CompletedAt = nil
}

// JobProgress is the short-lived companion record under job:progress:{id}.
// A missing record means no progress was reported yet.
type JobProgress struct {
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	StageInit       = "init"
	StageRetrying   = "retrying"
	StageAnalyzing  = "analyzing"
	StageFinalizing = "finalizing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
