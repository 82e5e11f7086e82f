package adapter

import (
	"context"

	"ai-analysis-gateway/internal/domain/model"
)

type TriggerStatus string

const (
	TriggerSent    TriggerStatus = "sent"
	TriggerFailed  TriggerStatus = "failed"
	TriggerSkipped TriggerStatus = "skipped"
	TriggerTimeout TriggerStatus = "timeout"
)

// TriggerRequest is the body sent to the compute worker's /process endpoint.
type TriggerRequest struct {
	JobID     string `json:"jobId"`
	Query     string `json:"query"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// WorkerTrigger notifies the compute worker that a job is waiting.
// The result is advisory; the job stays valid whatever it returns.
type WorkerTrigger interface {
	Trigger(ctx context.Context, req TriggerRequest) TriggerStatus
}

// ComputeClient performs one synchronous analysis call against the worker.
type ComputeClient interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error)
}
