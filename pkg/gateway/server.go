package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/script"
	"github.com/voxline/voxline/pkg/session"
	"github.com/voxline/voxline/pkg/telephony"
)

type Config struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Deps wires the HTTP surface to the engine internals.
type Deps struct {
	Registry *session.Registry
	Holder   *script.Holder
	Voice    VoiceFactory
	Dialer   *telephony.Dialer
	Gatherer prometheus.Gatherer
	Config   Config
}

// VoiceFactory builds a voice session around an existing conversation.
// Nil disables the websocket endpoint.
type VoiceFactory func(conv *session.Conversation) *session.VoiceSession

// Server is the HTTP and websocket front door.
type Server struct {
	deps   Deps
	http   *http.Server
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	deps.Config.applyDefaults()
	s := &Server{
		deps:   deps,
		logger: logging.NewComponentLogger(slog.Default(), "gateway"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleState)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /v1/script/reload", s.handleReload)
	mux.HandleFunc("POST /v1/calls", s.handleDial)
	mux.HandleFunc("GET /v1/voice", s.handleVoice)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	s.http = &http.Server{
		Addr:         deps.Config.Addr,
		Handler:      mux,
		ReadTimeout:  deps.Config.ReadTimeout,
		WriteTimeout: deps.Config.WriteTimeout,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", "addr", s.deps.Config.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.deps.Config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting"`
	NodeID    string `json:"node_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv := s.deps.Registry.Create(body.SessionID)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: conv.ID(),
		Greeting:  conv.Greeting(),
		NodeID:    conv.Snapshot().NodeID,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type chatResponse struct {
	SessionID string   `json:"session_id"`
	Reply     string   `json:"reply"`
	NodeID    string   `json:"node_id"`
	Status    string   `json:"status"`
	Elicit    []string `json:"elicit,omitempty"`
	Advanced  bool     `json:"advanced"`
	Unhandled bool     `json:"unhandled"`
	Dispatch  string   `json:"dispatch"`
	Ended     bool     `json:"ended"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	conv := s.deps.Registry.Create(req.SessionID)
	reply, err := conv.HandleTurn(r.Context(), req.Text)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonSessionClosed) {
			writeError(w, http.StatusGone, "session closed")
			return
		}
		s.logger.Error("turn failed", "session_id", conv.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: conv.ID(),
		Reply:     reply.Text,
		NodeID:    reply.NodeID,
		Status:    string(reply.Status),
		Elicit:    reply.Elicit,
		Advanced:  reply.Advanced,
		Unhandled: reply.Unhandled,
		Dispatch:  reply.Dispatch.String(),
		Ended:     reply.Ended,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.deps.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, conv.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.deps.Registry.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleReload accepts a full script document and swaps it in only if
// it validates. On any error the previous script stays active.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sc, err := script.Parse(data)
	if err != nil {
		s.logger.Warn("script reload rejected", "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.deps.Holder.Swap(sc)
	s.logger.Info("script reloaded", "name", sc.Name, "nodes", len(sc.Nodes))
	writeJSON(w, http.StatusOK, map[string]any{"name": sc.Name, "nodes": len(sc.Nodes)})
}

type dialRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	URL  string `json:"url"`
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dialer == nil {
		writeError(w, http.StatusNotImplemented, "outbound calling not configured")
		return
	}
	var req dialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sid, err := s.deps.Dialer.Dial(r.Context(), req.To, req.From, req.URL)
	if err != nil {
		s.logger.Error("outbound dial failed", "to", req.To, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"call_sid": sid})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.Len(),
		"script":   s.deps.Holder.Current().Name,
	})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
