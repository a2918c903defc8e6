package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/tickvm/internal/config"
	httpAdapter "github.com/aretw0/tickvm/pkg/adapters/http"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/observability"
	"github.com/aretw0/tickvm/pkg/sandbox"
	"github.com/aretw0/tickvm/pkg/session"
)

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// ServeOptions configures Serve.
type ServeOptions struct {
	Config  config.Config
	Logger  *slog.Logger
	Version string
	// Listener overrides Config.HTTP.Addr.
	Listener net.Listener
	// Ready is called with the bound address once the server accepts connections.
	Ready func(addr string)
}

// Serve runs the HTTP API until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger

	backend, err := OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("store close failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return err
	}
	hooks := observability.Combine(metrics.Hooks(), observability.LoggingHooks(logger))

	mgr := newManager(cfg, backend, logger, hooks)

	api := httpAdapter.NewServer(mgr,
		httpAdapter.WithLogger(logger),
		httpAdapter.WithGatherer(reg),
		httpAdapter.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpAdapter.WithDefaultDelta(cfg.TickRate),
		httpAdapter.WithVersion(opts.Version),
	)
	srv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln := opts.Listener
	if ln == nil {
		if ln, err = net.Listen("tcp", cfg.HTTP.Addr); err != nil {
			return err
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", ln.Addr().String(), "store", cfg.Store.Kind)
		serverErrors <- srv.Serve(ln)
	}()
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown did not complete in %v: %w", ShutdownTimeout, err)
		}
		return nil
	}
}

// newManager builds the session manager shared by the HTTP and MCP servers.
func newManager(cfg config.Config, backend *Backend, logger *slog.Logger, hooks domain.LifecycleHooks) *session.Manager {
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithLockTTL(cfg.Store.LockTTL),
		session.WithRuntimeOptions(
			sandbox.WithFuel(cfg.FuelPerTick),
			sandbox.WithLogger(logger),
			sandbox.WithLifecycleHooks(hooks),
		),
	}
	if backend.Locker != nil {
		opts = append(opts, session.WithLocker(backend.Locker))
	}
	return session.NewManager(backend.Store, opts...)
}
