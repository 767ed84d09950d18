package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts services under a supervisor and blocks until a shutdown signal
// is received or a service fails. This is the standard main loop for
// dispatch binaries.
func Run(ctx context.Context, services ...Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	supervisor := NewSupervisor(services...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- supervisor.Run(ctx)
	}()

	select {
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			slog.Error("Supervisor error", "error", err)
			return err
		}
	}

	// Wait for the supervisor to finish stopping services
	select {
	case err := <-errCh:
		return err
	case <-time.After(35 * time.Second):
		slog.Error("Shutdown timed out")
		return nil
	}
}

// HTTPService wraps an http.Server as a Service.
type HTTPService struct {
	server *http.Server
	name   string
}

// NewHTTPService creates a Service from an http.Server.
func NewHTTPService(name string, server *http.Server) *HTTPService {
	return &HTTPService{
		server: server,
		name:   name,
	}
}

func (s *HTTPService) Name() string { return s.name }

func (s *HTTPService) Start(ctx context.Context) error {
	slog.Info("Starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Catch bind failures before reporting success
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	<-ctx.Done()
	return nil
}

func (s *HTTPService) Stop(ctx context.Context) error {
	slog.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *HTTPService) Health() error {
	return nil
}
