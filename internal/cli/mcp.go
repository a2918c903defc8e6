package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/aretw0/tickvm/internal/config"
	"github.com/aretw0/tickvm/pkg/adapters/mcp"
	"github.com/aretw0/tickvm/pkg/observability"
)

// MCPOptions configures ServeMCP.
type MCPOptions struct {
	Config    config.Config
	Logger    *slog.Logger
	Version   string
	Transport string // stdio or sse
	Addr      string // sse only
}

// ServeMCP exposes the configured session store as MCP tools. Stdio blocks
// until the client disconnects; SSE runs until ctx is cancelled.
func ServeMCP(ctx context.Context, opts MCPOptions) error {
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

	mgr := newManager(cfg, backend, logger, observability.LoggingHooks(logger))
	srv := mcp.NewServer(mgr, opts.Version,
		mcp.WithLogger(logger),
		mcp.WithDefaultDelta(cfg.TickRate),
	)

	switch opts.Transport {
	case "", "stdio":
		return srv.ServeStdio()
	case "sse":
		addr := opts.Addr
		if addr == "" {
			addr = ":8080"
		}
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("mcp addr: %w", err)
		}
		return srv.ServeSSE(ctx, addr, "http://localhost:"+port)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", opts.Transport)
	}
}
