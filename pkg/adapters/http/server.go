// Package http exposes a session manager over a JSON API, with a websocket
// stream of tick results and a Prometheus scrape endpoint.
package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/session"
)

// Sessions is the part of session.Manager the API needs.
type Sessions interface {
	Create(ctx context.Context, sessionID string, program []byte) (session.Info, error)
	Tick(ctx context.Context, sessionID string, dt time.Duration, inputs []domain.Response) (session.TickResult, error)
	Fork(ctx context.Context, src, dst string) (session.Info, error)
	Snapshot(ctx context.Context, sessionID string) ([]byte, error)
	Inspect(ctx context.Context, sessionID string) (session.Info, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	Join(ctx context.Context, sessionID string) (session.PlayerID, error)
	Leave(sessionID string, player session.PlayerID) error
}

var _ Sessions = (*session.Manager)(nil)

// Server serves the session API.
type Server struct {
	Sessions Sessions
	Streams  *StreamManager

	logger       *slog.Logger
	gatherer     prometheus.Gatherer
	maxBody      int64
	defaultDelta time.Duration
	version      string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithDefaultDelta is the tick length used when a tick request omits delta_ms.
func WithDefaultDelta(dt time.Duration) Option {
	return func(s *Server) {
		s.defaultDelta = dt
	}
}

// WithVersion is reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a Server over sessions.
func NewServer(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		Sessions:     sessions,
		logger:       logging.NewNop(),
		gatherer:     prometheus.DefaultGatherer,
		maxBody:      4 << 20,
		defaultDelta: time.Second / 60,
		version:      "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	return s
}

// NewHandler creates the HTTP handler for sessions.
func NewHandler(sessions Sessions, opts ...Option) http.Handler {
	return NewServer(sessions, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", s.GetOpenAPI)
	r.Get("/swagger", s.GetSwagger)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/tick", s.TickSession)
			r.Post("/fork", s.ForkSession)
			r.Get("/snapshot", s.GetSnapshot)
			r.Get("/stream", s.StreamSession)
			r.Post("/players", s.JoinPlayer)
			r.Delete("/players/{player}", s.LeavePlayer)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// -- Payloads --

// CreateRequest is the body of POST /sessions. Program is the base64 of a
// compiled module.
type CreateRequest struct {
	ID      string `json:"id,omitempty"`
	Program string `json:"program"`
}

// TickRequest is the body of POST /sessions/{id}/tick.
type TickRequest struct {
	DeltaMS *float64             `json:"delta_ms,omitempty"`
	Events  []domain.PlayerEvent `json:"events,omitempty"`
}

// ForkRequest is the body of POST /sessions/{id}/fork.
type ForkRequest struct {
	ID string `json:"id,omitempty"`
}

// TickMessage is pushed to stream subscribers after every tick.
type TickMessage struct {
	SessionID string        `json:"session_id"`
	Tick      uint64        `json:"tick"`
	Calls     []domain.Call `json:"calls"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// -- Handlers --

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tickvm-http",
		"version": s.version,
	})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	if !s.decode(w, r, createSchema, &body) {
		return
	}
	program, err := base64.StdEncoding.DecodeString(body.Program)
	if err != nil {
		s.badRequest(w, fmt.Errorf("program is not base64: %w", err))
		return
	}
	if body.ID == "" {
		body.ID = newID()
	}

	info, err := s.Sessions.Create(r.Context(), body.ID, program)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+info.ID)
	s.writeJSON(w, http.StatusCreated, info)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.Sessions.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Sessions.Inspect(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Streams.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

// TickSession handles POST /sessions/{id}/tick.
func (s *Server) TickSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body TickRequest
	if !s.decode(w, r, tickSchema, &body) {
		return
	}

	dt := s.defaultDelta
	if body.DeltaMS != nil {
		dt = time.Duration(*body.DeltaMS * float64(time.Millisecond))
	}
	inputs := make([]domain.Response, len(body.Events))
	for i, ev := range body.Events {
		inputs[i] = domain.EventResponse{Event: ev}
	}

	res, err := s.Sessions.Tick(r.Context(), id, dt, inputs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Calls == nil {
		res.Calls = []domain.Call{}
	}

	if msg, err := json.Marshal(TickMessage{SessionID: id, Tick: res.Tick, Calls: res.Calls}); err == nil {
		s.Streams.Broadcast(id, msg)
	} else {
		s.logger.Error("tick message encode failed", "session_id", id, "err", err)
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ForkSession handles POST /sessions/{id}/fork.
func (s *Server) ForkSession(w http.ResponseWriter, r *http.Request) {
	var body ForkRequest
	if !s.decode(w, r, forkSchema, &body) {
		return
	}
	if body.ID == "" {
		body.ID = newID()
	}
	info, err := s.Sessions.Fork(r.Context(), chi.URLParam(r, "id"), body.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+info.ID)
	s.writeJSON(w, http.StatusCreated, info)
}

// GetSnapshot handles GET /sessions/{id}/snapshot.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.Sessions.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".snap"))
	w.Header().Set("Content-Length", strconv.Itoa(len(snap)))
	_, _ = w.Write(snap)
}

// JoinPlayer handles POST /sessions/{id}/players.
func (s *Server) JoinPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.Sessions.Join(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]session.PlayerID{"player": player})
}

// LeavePlayer handles DELETE /sessions/{id}/players/{player}.
func (s *Server) LeavePlayer(w http.ResponseWriter, r *http.Request) {
	player, err := strconv.ParseUint(chi.URLParam(r, "player"), 10, 32)
	if err != nil {
		s.badRequest(w, fmt.Errorf("invalid player id: %w", err))
		return
	}
	if err := s.Sessions.Leave(chi.URLParam(r, "id"), session.PlayerID(player)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Helpers --

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// decode reads a JSON body, validates it against schema and unmarshals it
// into dst. It writes the error response itself and reports success.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema schemaRef, dst any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return false
		}
		s.badRequest(w, err)
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := schema.validate(raw); err != nil {
		s.badRequest(w, err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.badRequest(w, err)
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.logger.Warn("invalid request", "err", err)
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLoad), errors.Is(err, domain.ErrTick):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v before committing the status, so an unencodable
// value becomes a 500 instead of an empty success.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("response encode failed", "err", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: "response encode failed"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
