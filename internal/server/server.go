// Package server runs the gateway's HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/txn2/mcp-crm-gateway/pkg/health"
)

// Version is set at build time.
var Version = "dev"

const readHeaderTimeout = 10 * time.Second

// Config configures the listener.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Run listens on cfg.Address and serves handler until ctx is done.
func Run(ctx context.Context, cfg Config, handler http.Handler, checker *health.Checker) error {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}
	return Serve(ctx, ln, cfg.ShutdownTimeout, handler, checker)
}

// Serve serves handler on ln until ctx is done, then drains. Request
// contexts are cancelled when draining starts so open event streams end.
func Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration, handler http.Handler, checker *health.Checker) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway listening", "address", ln.Addr().String(), "version", Version)
		checker.SetReady()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		checker.SetDraining()
		slog.Info("gateway draining")
		cancelBase()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http: %w", err)
		}
		return nil
	})
	return g.Wait() //nolint:wrapcheck // members wrap their own errors
}
