package breaker

import "strings"

// Fallback reason codes. They exist for logs, metrics and retryAfter hints
// only and must never drive control flow.
const (
	ReasonCircuitOpen         = "circuit_open"
	ReasonCloudRunDisabled    = "cloud_run_disabled"
	ReasonTimeout             = "timeout"
	ReasonAuth                = "auth"
	ReasonForbidden           = "forbidden"
	ReasonRateLimit           = "rate_limit"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUnknown             = "unknown"
	ReasonUpstreamError       = "upstream_error"
)

// evaluated top to bottom; first match wins
var reasonTable = []struct {
	substr string
	reason string
}{
	{"circuit breaker is open", ReasonCircuitOpen},
	{"circuit_open", ReasonCircuitOpen},
	{"half-open probe limit", ReasonCircuitOpen},
	{"worker endpoint not configured", ReasonCloudRunDisabled},
	{"cloud_run_disabled", ReasonCloudRunDisabled},
	{"timeout", ReasonTimeout},
	{"timed out", ReasonTimeout},
	{"deadline exceeded", ReasonTimeout},
	{"401", ReasonAuth},
	{"unauthorized", ReasonAuth},
	{"403", ReasonForbidden},
	{"forbidden", ReasonForbidden},
	{"429", ReasonRateLimit},
	{"rate limit", ReasonRateLimit},
	{"too many requests", ReasonRateLimit},
	{"502", ReasonUpstreamUnavailable},
	{"503", ReasonUpstreamUnavailable},
	{"504", ReasonUpstreamUnavailable},
	{"unavailable", ReasonUpstreamUnavailable},
	{"connection refused", ReasonUpstreamUnavailable},
	{"no such host", ReasonUpstreamUnavailable},
}

// ClassifyReason maps an upstream error message to a stable reason code.
func ClassifyReason(msg string) string {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return ReasonUnknown
	}
	for _, row := range reasonTable {
		if strings.Contains(m, row.substr) {
			return row.reason
		}
	}
	return ReasonUpstreamError
}

// RetryAfterHint suggests how many seconds a client should wait before trying
// again. Zero means no hint.
func RetryAfterHint(reason string) int {
	switch reason {
	case ReasonCircuitOpen:
		return 30
	case ReasonRateLimit:
		return 60
	case ReasonUpstreamUnavailable:
		return 15
	case ReasonTimeout:
		return 10
	case ReasonCloudRunDisabled:
		return 300
	}
	return 0
}
