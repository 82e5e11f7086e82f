package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"
	"ai-analysis-gateway/internal/usecase"
)

// streamJob serializes whatever the stream yields as SSE frames. All polling,
// throttling and deadline logic lives in usecase.Stream.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithJobID(r.Context(), id)

	st, err := s.stream.Open(ctx, id)
	if err != nil {
		s.logErr(r, err, "open stream")
		writeError(w, err, http.StatusConflict)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	metrics.StreamOpened()
	defer func() {
		st.Close()
		metrics.StreamClosed()
		metrics.ObserveStreamDuration(st.EndReason(), st.Elapsed().Seconds())
		logging.With(ctx, s.log).Debug().Str("end", st.EndReason()).Dur("elapsed", st.Elapsed()).Msg("stream closed")
	}()

	for {
		ev, ok := st.Next(ctx)
		if !ok {
			return
		}
		if err := writeEvent(w, ev); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("write stream event")
			return
		}
		if err := rc.Flush(); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("flush stream")
			return
		}
	}
}

func writeEvent(w io.Writer, ev usecase.Event) error {
	b, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, b)
	return err
}
