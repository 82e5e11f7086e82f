package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/usecase"
)

type errorBody struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. invalidState is the code
// used for domain.ErrInvalidState, which differs per operation.
func writeError(w http.ResponseWriter, err error, invalidState int) {
	var rl *usecase.RateLimitError
	switch {
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error(), Reason: "rate_limit", RetryAfter: secs})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Reason: "not_found"})
	case errors.Is(err, domain.ErrInvalidState):
		writeJSON(w, invalidState, errorBody{Error: err.Error(), Reason: "invalid_state"})
	case errors.Is(err, domain.ErrRetryLimitExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error(), Reason: "retry_limit"})
	case errors.Is(err, domain.ErrSystemPaused):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: "system_paused"})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Reason: "invalid_argument"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Reason: "internal"})
	}
}
