package model

// Source of an analysis payload.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
	SourceDirect   = "direct"
)

// AnalysisRequest is what the gateway forwards to the compute worker for
// synchronous analysis.
type AnalysisRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// AnalysisResult is the synchronous compute payload. Only results with
// Success set are ever written to the response cache.
type AnalysisResult struct {
	Success        bool           `json:"success"`
	Content        string         `json:"content"`
	Metrics        *ResultMetrics `json:"metrics,omitempty"`
	Source         string         `json:"source,omitempty"`
	FallbackReason string         `json:"fallbackReason,omitempty"`
	RetryAfter     int            `json:"retryAfter,omitempty"`
}
