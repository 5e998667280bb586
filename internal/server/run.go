package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// DefaultShutdownTimeout bounds the HTTP drain and the cleanup hook.
const DefaultShutdownTimeout = 10 * time.Second

// NewHTTPServer returns an http.Server with the service timeouts.
func NewHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Runner serves HTTP and gRPC until the context is cancelled, then shuts both down.
type Runner struct {
	HTTP         *http.Server
	HTTPListener net.Listener
	GRPC         *grpc.Server
	GRPCListener net.Listener
	// Health is flipped to NOT_SERVING first on shutdown. Optional.
	Health *health.Server
	Logger *slog.Logger
	// Cleanup runs after both servers have stopped. Optional.
	Cleanup         func(ctx context.Context)
	ShutdownTimeout time.Duration
}

// Run blocks until ctx is done or a server fails.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", r.HTTPListener.Addr().String())
		if err := r.HTTP.Serve(r.HTTPListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting gRPC server", "addr", r.GRPCListener.Addr().String())
		if err := r.GRPC.Serve(r.GRPCListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		if r.Health != nil {
			r.Health.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.HTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		r.GRPC.GracefulStop()
		if r.Cleanup != nil {
			r.Cleanup(shutdownCtx)
		}
		logger.Info("shutdown complete")
		return nil
	})
	return g.Wait()
}
