package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/logging"
)

const traceHeader = "X-Trace-Id"

// Compile-time assurance this client satisfies both ports
var (
	_ adapter.WorkerTrigger = (*Client)(nil)
	_ adapter.ComputeClient = (*Client)(nil)
)

// Client talks to the compute worker over HTTP: POST /process to trigger a
// queued job and POST /analyze for a synchronous analysis.
type Client struct {
	base           string
	token          string
	triggerTimeout time.Duration
	http           *http.Client
	log            *zerolog.Logger
}

func NewClient(cfg config.WorkerConfig, logger *zerolog.Logger) *Client {
	l := logger.With().Str("component", "ComputeClient").Logger()
	return &Client{
		base:           strings.TrimRight(cfg.URL, "/"),
		token:          cfg.Token,
		triggerTimeout: cfg.TriggerTimeout,
		// per-call deadlines come from the context
		http: &http.Client{},
		log:  &l,
	}
}

// Enabled reports whether a worker endpoint is configured.
func (c *Client) Enabled() bool { return c.base != "" }

// Trigger dispatches a processing request. It is bounded by its own timeout
// and detached from the caller's cancellation; the outcome is advisory.
func (c *Client) Trigger(ctx context.Context, req adapter.TriggerRequest) adapter.TriggerStatus {
	if !c.Enabled() {
		return adapter.TriggerSkipped
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.triggerTimeout)
	defer cancel()

	resp, err := c.post(tctx, "/process", req)
	if err != nil {
		if isTimeout(err) {
			c.log.Warn().Str("job_id", req.JobID).Dur("timeout", c.triggerTimeout).Msg("worker trigger timed out")
			return adapter.TriggerTimeout
		}
		c.log.Warn().Err(err).Str("job_id", req.JobID).Msg("worker trigger failed")
		return adapter.TriggerFailed
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("job_id", req.JobID).Msg("worker rejected trigger")
		return adapter.TriggerFailed
	}
	return adapter.TriggerSent
}

// Analyze performs one synchronous call. The deadline is the caller's.
func (c *Client) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if !c.Enabled() {
		return nil, domain.ErrWorkerDisabled
	}
	resp, err := c.post(ctx, "/analyze", req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("compute timeout: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("compute returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out model.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode compute response: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if tid := logging.TraceIDFrom(ctx); tid != "" {
		req.Header.Set(traceHeader, tid)
	}
	return c.http.Do(req)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
