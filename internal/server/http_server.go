package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer wraps handler in an http.Server with production timeouts.
// WebSocket connections clear these deadlines after the upgrade.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer blocks serving HTTP until the server is shut down, which is
// not reported as an error.
func StartServer(srv *http.Server, log *slog.Logger) error {
	log.Info("server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits for in-flight
// requests until ctx is done.
func ShutdownServer(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	log.Info("shutting down http server")
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown error", "error", err)
		return err
	}
	log.Info("http server shutdown completed")
	return nil
}
