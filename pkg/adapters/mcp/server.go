// Package mcp exposes tickvm sessions to AI agents as Model Context Protocol
// tools: agents can create sessions from programs, tick them with input and
// inspect or fork the result.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/tickvm/internal/logging"
	httpAdapter "github.com/aretw0/tickvm/pkg/adapters/http"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/session"
)

// SessionsURI is the resource listing stored sessions.
const SessionsURI = "tickvm://sessions"

// TickResponse is the structured result of tick_session. Calls are plain
// JSON objects tagged by "type".
type TickResponse struct {
	Tick  uint64           `json:"tick" jsonschema_description:"The tick that ran"`
	Calls []map[string]any `json:"calls" jsonschema_description:"Host calls emitted during the tick, in order"`
}

// ListResponse is the structured result of list_sessions.
type ListResponse struct {
	Sessions []string `json:"sessions" jsonschema_description:"Stored session ids"`
}

// DeleteResponse is the structured result of delete_session.
type DeleteResponse struct {
	Deleted string `json:"deleted" jsonschema_description:"Id of the deleted session"`
}

// Server wraps a session manager and exposes it as an MCP server.
type Server struct {
	sessions  httpAdapter.Sessions
	mcpServer *server.MCPServer
	logger    *slog.Logger
	delta     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDefaultDelta is the tick length used when tick_session omits delta_ms.
func WithDefaultDelta(dt time.Duration) Option {
	return func(s *Server) {
		s.delta = dt
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(sessions httpAdapter.Sessions, version string, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		mcpServer: server.NewMCPServer("tickvm-mcp", version),
		logger:    logging.NewNop(),
		delta:     time.Second / 60,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over Server-Sent Events on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "addr", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the ids of every stored session."),
		mcp.WithOutputSchema[ListResponse](),
	), mcp.NewStructuredToolHandler(s.handleList))

	s.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Load a compiled guest module into a new session at tick 0."),
		mcp.WithString("program", mcp.Required(), mcp.Description("Base64 of the compiled module")),
		mcp.WithString("session_id", mcp.Description("Id of the new session (generated when omitted)")),
		mcp.WithOutputSchema[session.Info](),
	), mcp.NewStructuredToolHandler(s.handleCreate))

	s.mcpServer.AddTool(mcp.NewTool("tick_session",
		mcp.WithDescription("Deliver player events to a session and run one tick."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to tick")),
		mcp.WithNumber("delta_ms", mcp.Description("Tick length in milliseconds")),
		mcp.WithString("events", mcp.Description(`JSON array of events, e.g. [{"player":0,"kind":"move","x":1,"y":2}]`)),
		mcp.WithOutputSchema[TickResponse](),
	), mcp.NewStructuredToolHandler(s.handleTick))

	s.mcpServer.AddTool(mcp.NewTool("inspect_session",
		mcp.WithDescription("Show the tick and sizes of a stored session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
		mcp.WithOutputSchema[session.Info](),
	), mcp.NewStructuredToolHandler(s.handleInspect))

	s.mcpServer.AddTool(mcp.NewTool("fork_session",
		mcp.WithDescription("Copy a session under a new id; the copies evolve independently."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to copy")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Id of the copy")),
		mcp.WithOutputSchema[session.Info](),
	), mcp.NewStructuredToolHandler(s.handleFork))

	s.mcpServer.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a stored session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to delete")),
		mcp.WithOutputSchema[DeleteResponse](),
	), mcp.NewStructuredToolHandler(s.handleDelete))
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (ListResponse, error) {
	ids, err := s.sessions.List(ctx)
	if err != nil {
		return ListResponse{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ListResponse{Sessions: ids}, nil
}

func (s *Server) handleCreate(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (session.Info, error) {
	program, err := base64.StdEncoding.DecodeString(stringArg(args, "program"))
	if err != nil {
		return session.Info{}, fmt.Errorf("program is not base64: %w", err)
	}
	id := stringArg(args, "session_id")
	if id == "" {
		id = fmt.Sprintf("mcp-%d", time.Now().UnixNano())
	}
	return s.sessions.Create(ctx, id, program)
}

func (s *Server) handleTick(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (TickResponse, error) {
	id := stringArg(args, "session_id")
	dt := s.delta
	if ms, ok := args["delta_ms"].(float64); ok {
		if ms < 0 {
			return TickResponse{}, errors.New("delta_ms must not be negative")
		}
		dt = time.Duration(ms * float64(time.Millisecond))
	}

	var events []domain.PlayerEvent
	if raw := stringArg(args, "events"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return TickResponse{}, fmt.Errorf("events: %w", err)
		}
	}
	inputs := make([]domain.Response, len(events))
	for i, ev := range events {
		inputs[i] = domain.EventResponse{Event: ev}
	}

	res, err := s.sessions.Tick(ctx, id, dt, inputs)
	if err != nil {
		s.logger.Warn("MCP tick failed", "session_id", id, "err", err)
		return TickResponse{}, err
	}
	calls, err := plainCalls(res.Calls)
	if err != nil {
		return TickResponse{}, err
	}
	return TickResponse{Tick: res.Tick, Calls: calls}, nil
}

// plainCalls turns calls into generic JSON objects.
func plainCalls(calls []domain.Call) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Server) handleInspect(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (session.Info, error) {
	return s.sessions.Inspect(ctx, stringArg(args, "session_id"))
}

func (s *Server) handleFork(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (session.Info, error) {
	return s.sessions.Fork(ctx, stringArg(args, "session_id"), stringArg(args, "target_id"))
}

func (s *Server) handleDelete(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (DeleteResponse, error) {
	id := stringArg(args, "session_id")
	if _, err := s.sessions.Inspect(ctx, id); err != nil {
		return DeleteResponse{}, err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return DeleteResponse{}, fmt.Errorf("delete failed: %w", err)
	}
	return DeleteResponse{Deleted: id}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SessionsURI, "Stored sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := s.handleList(ctx, mcp.CallToolRequest{}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		b, _ := json.Marshal(list)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      SessionsURI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	})
}
