package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Serve runs srv until ctx is done, then shuts it down gracefully within wait.
func Serve(ctx context.Context, srv *http.Server, wait time.Duration, logger *zerolog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	logger.Info().Str("addr", srv.Addr).Msg("http shutting down")
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errc
}
