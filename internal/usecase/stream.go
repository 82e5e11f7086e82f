package usecase

import (
	"context"
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/repository"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Stream event names.
const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventResult    = "result"
	EventError     = "error"
	EventTimeout   = "timeout"
)

// How a stream ended.
const (
	EndResult  = "result"
	EndError   = "error"
	EndTimeout = "timeout"
	EndAborted = "aborted"
)

type Event struct {
	Name string
	Data map[string]any
}

// StreamDelivery opens per-connection job streams. Every stream polls the
// shared store on its own; nothing is coordinated between connections.
type StreamDelivery struct {
	jobs       repository.JobRepository
	system     repository.SystemStateRepository
	clock      clockwork.Clock
	cfg        config.StreamConfig
	maxRetries int
	log        *zerolog.Logger
}

func NewStreamDelivery(jobs repository.JobRepository, system repository.SystemStateRepository, clock clockwork.Clock, cfg config.StreamConfig, maxRetries int, logger *zerolog.Logger) *StreamDelivery {
	cfg.ProcessingPoll = config.ClampDuration(cfg.ProcessingPoll, cfg.MinPoll, cfg.MaxPoll)
	cfg.QueuedPoll = config.ClampDuration(cfg.QueuedPoll, cfg.MinPoll, cfg.MaxPoll)
	l := logger.With().Str("component", "StreamDelivery").Logger()
	return &StreamDelivery{jobs: jobs, system: system, clock: clock, cfg: cfg, maxRetries: maxRetries, log: &l}
}

// Open validates that the job can be streamed. Unknown jobs yield
// domain.ErrNotFound; non-terminal jobs yield domain.ErrSystemPaused while the
// system is paused. Terminal jobs can always be read back.
func (d *StreamDelivery) Open(ctx context.Context, id string) (*Stream, error) {
	job, err := d.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		ok, err := d.system.IsRunnable(ctx)
		if err != nil {
			logging.With(ctx, d.log).Warn().Err(err).Msg("read system state; assuming runnable")
		} else if !ok {
			return nil, domain.ErrSystemPaused
		}
	}
	return &Stream{d: d, id: id, start: d.clock.Now()}, nil
}

// Stream is a pull-based event generator for one connection. Events come out
// strictly ordered: connected, zero or more progress, exactly one terminal
// event. After the terminal event Next reports false.
type Stream struct {
	d     *StreamDelivery
	id    string
	start time.Time

	connected    bool
	done         bool
	end          string
	sleep        time.Duration
	lastProgress time.Time
	progressSent bool
}

func (s *Stream) JobID() string          { return s.id }
func (s *Stream) EndReason() string      { return s.end }
func (s *Stream) Elapsed() time.Duration { return s.d.clock.Since(s.start) }

// Next blocks until the next event. It returns false once the stream has
// ended, including when ctx is cancelled (the client went away).
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	if s.done {
		return Event{}, false
	}
	if !s.connected {
		s.connected = true
		return s.emit(Event{Name: EventConnected, Data: map[string]any{"jobId": s.id}}), true
	}

	for {
		if s.sleep > 0 {
			wait := s.sleep
			s.sleep = 0
			if !s.wait(ctx, wait) {
				return s.finish(EndAborted, Event{}), false
			}
		}
		if ctx.Err() != nil {
			return s.finish(EndAborted, Event{}), false
		}

		now := s.d.clock.Now()
		elapsed := now.Sub(s.start)
		if elapsed >= s.d.cfg.MaxDuration {
			ev := Event{Name: EventTimeout, Data: map[string]any{
				"jobId":     s.id,
				"message":   "stream time limit reached; reconnect or poll the job",
				"elapsedMs": elapsed.Milliseconds(),
			}}
			return s.finish(EndTimeout, ev), true
		}

		job, prog, err := s.d.jobs.GetWithProgress(ctx, s.id)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(EndAborted, Event{}), false
			}
			logging.With(logging.WithJobID(ctx, s.id), s.d.log).Error().Err(err).Msg("stream poll failed")
			ev := Event{Name: EventError, Data: map[string]any{
				"jobId":  s.id,
				"reason": "store_error",
				"error":  "stream interrupted",
			}}
			return s.finish(EndError, ev), true
		}

		dec := decideStream(s.d.cfg, s.d.maxRetries, streamState{
			jobID:        s.id,
			lastProgress: s.lastProgress,
			progressSent: s.progressSent,
		}, now, job, prog)

		// never sleep past the wall-clock cap
		wait := dec.wait
		if left := s.d.cfg.MaxDuration - elapsed; wait > left {
			wait = left
		}

		if dec.terminal {
			end := EndError
			if dec.event.Name == EventResult {
				end = EndResult
			}
			return s.finish(end, *dec.event), true
		}
		if dec.event != nil {
			s.lastProgress = now
			s.progressSent = true
			s.sleep = wait
			return s.emit(*dec.event), true
		}
		s.sleep = wait
	}
}

// Close marks the stream finished; subsequent Next calls return false.
func (s *Stream) Close() {
	if !s.done {
		s.finish(EndAborted, Event{})
	}
}

func (s *Stream) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.d.clock.After(d):
		return true
	}
}

func (s *Stream) emit(ev Event) Event {
	metrics.IncStreamEvent(ev.Name)
	return ev
}

func (s *Stream) finish(end string, ev Event) Event {
	s.done = true
	s.end = end
	if ev.Name != "" {
		s.emit(ev)
	}
	return ev
}

type streamState struct {
	jobID        string
	lastProgress time.Time
	progressSent bool
}

type streamDecision struct {
	event    *Event
	terminal bool
	wait     time.Duration
}

// decideStream is one step of the stream state machine: given what the store
// holds at time now, what (if anything) to emit and how long to wait.
func decideStream(cfg config.StreamConfig, maxRetries int, st streamState, now time.Time, job *model.Job, prog *model.JobProgress) streamDecision {
	if job != nil {
		switch job.Status {
		case model.JobStatusCompleted:
			data := map[string]any{
				"jobId":       job.ID,
				"status":      job.Status,
				"result":      job.Result,
				"completedAt": job.CompletedAt,
			}
			if job.Result != nil {
				data["metrics"] = job.Result.Metrics
			}
			return streamDecision{event: &Event{Name: EventResult, Data: data}, terminal: true}
		case model.JobStatusFailed:
			return streamDecision{event: &Event{Name: EventError, Data: map[string]any{
				"jobId":      job.ID,
				"status":     job.Status,
				"reason":     "job_failed",
				"error":      job.Error,
				"retryCount": job.Metadata.RetryCount,
				"retryable":  job.Metadata.RetryCount < maxRetries,
			}}, terminal: true}
		case model.JobStatusCancelled:
			return streamDecision{event: &Event{Name: EventError, Data: map[string]any{
				"jobId":  job.ID,
				"status": job.Status,
				"reason": "cancelled",
			}}, terminal: true}
		}
	}

	dec := streamDecision{wait: PollInterval(cfg, job)}
	if st.progressSent && now.Sub(st.lastProgress) < cfg.ProgressThrottle {
		return dec
	}

	data := map[string]any{
		"jobId":    st.jobID,
		"stage":    model.StageInit,
		"progress": 0,
	}
	if job != nil {
		data["status"] = job.Status
		data["progress"] = job.Progress
		if job.CurrentStep != "" {
			data["currentStep"] = job.CurrentStep
		}
	}
	if prog != nil {
		data["stage"] = prog.Stage
		data["progress"] = prog.Progress
		if prog.Message != "" {
			data["message"] = prog.Message
		}
		data["updatedAt"] = prog.UpdatedAt
	}
	dec.event = &Event{Name: EventProgress, Data: data}
	return dec
}

// PollInterval favours responsiveness while a job is processing and store load
// while it waits in the queue.
func PollInterval(cfg config.StreamConfig, job *model.Job) time.Duration {
	d := cfg.QueuedPoll
	if job != nil && job.Status == model.JobStatusProcessing {
		d = cfg.ProcessingPoll
	}
	return config.ClampDuration(d, cfg.MinPoll, cfg.MaxPoll)
}
