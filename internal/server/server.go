// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/api"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultHost keeps the service on the loopback interface.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8787

	// MaxRequestBodySize is the maximum size of a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultRateLimit is the per-IP request rate (requests per second).
	DefaultRateLimit = 20

	// DefaultRateBurst is the per-IP burst.
	DefaultRateBurst = 40
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts handled requests.
type Stats struct {
	Parsed    int64     `json:"parsed"`
	Rendered  int64     `json:"rendered"`
	Streamed  int64     `json:"streamed"`
	Errors    int64     `json:"errors"`
	StartTime time.Time `json:"start_time"`
}

type counters struct {
	parsed, rendered, streamed, errors atomic.Int64
	start                              time.Time
}

func (c *counters) snapshot() Stats {
	return Stats{
		Parsed:    c.parsed.Load(),
		Rendered:  c.rendered.Load(),
		Streamed:  c.streamed.Load(),
		Errors:    c.errors.Load(),
		StartTime: c.start,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Streamer sends a chat request to the backend. *api.Client implements it.
type Streamer interface {
	Chat(ctx context.Context, req model.ChatAppRequest, callback api.StreamCallback) error
}

// Options configures a Server.
type Options struct {
	Host string
	Port int

	// AuthToken, when set, is required as a bearer token.
	AuthToken string

	// AllowedOrigins replaces the default CORS allowlist when non-empty.
	AllowedOrigins []string

	// RateLimit is requests per second per IP; RateBurst its burst.
	RateLimit float64
	RateBurst int

	// HighlightStyle is the chroma style for code blocks.
	HighlightStyle string

	// Resolver builds citation paths. Defaults to "/content/{label}".
	Resolver *citation.Resolver

	// Backend enables POST /api/chat.
	Backend Streamer

	Logger  *zap.Logger
	Version string
}

// Server is the local answer service.
type Server struct {
	addr     string
	version  string
	logger   *zap.Logger
	mux      *http.ServeMux
	handler  http.Handler
	server   *http.Server
	cors     *CORSConfig
	limiter  *RateLimiter
	html     *render.HTMLRenderer
	htmlP    *answer.Parser
	textP    *answer.Parser
	resolver *citation.Resolver
	backend  Streamer
	stats    *counters

	// WebSocket keepalive
	pongWait   time.Duration
	pingPeriod time.Duration

	mu   sync.Mutex
	done chan struct{}
}

// New creates a server. Zero options use the defaults.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = citation.NewResolver("")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	cors := DefaultCORSConfig()
	if len(opts.AllowedOrigins) > 0 {
		cors.SetOrigins(opts.AllowedOrigins)
	}

	s := &Server{
		addr:       net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		version:    opts.Version,
		logger:     opts.Logger,
		mux:        http.NewServeMux(),
		cors:       cors,
		limiter:    NewRateLimiter(opts.RateLimit, opts.RateBurst),
		html:       render.NewHTMLRenderer(opts.HighlightStyle),
		htmlP:      answer.NewParser(answer.WithPlaceholder(answer.HTMLPlaceholder)),
		textP:      answer.NewParser(answer.WithPlaceholder(answer.SuperscriptPlaceholder)),
		resolver:   opts.Resolver,
		backend:    opts.Backend,
		stats:      &counters{start: time.Now()},
		pongWait:   wsPongWait,
		pingPeriod: wsPingPeriod,
		done:       make(chan struct{}),
	}

	s.setupRoutes()
	s.handler = Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		MetricsMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		AuthMiddleware(opts.AuthToken, s.logger),
		RateLimitMiddleware(s.limiter, s.logger),
		BodyLimitMiddleware(MaxRequestBodySize),
	)(s.mux)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetAllowedOrigins replaces the CORS allowlist, e.g. after a config reload.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) == 0 {
		origins = DefaultCORSConfig().AllowedOrigins
	}
	s.cors.SetOrigins(origins)
	s.logger.Info("cors origins updated", zap.Strings("origins", origins))
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("GET /api/styles.css", s.handleStyles)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if s.backend != nil {
		s.mux.HandleFunc("POST /api/chat", s.handleChat)
		s.mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	}
}

// ============================================================================
// TYPES
// ============================================================================

// ParseRequest is the body of /api/parse and /api/render.
type ParseRequest struct {
	Text      string `json:"text"`
	Streaming bool   `json:"streaming"`

	// Placeholder selects the citation marker for /api/parse: "html"
	// (default) or "superscript".
	Placeholder string `json:"placeholder,omitempty"`
}

// ParseResponse is an interpreted answer with resolved citation paths.
type ParseResponse struct {
	Text      string         `json:"text"`
	Followups []string       `json:"followups"`
	Citations []citation.Ref `json:"citations"`
}

// ChatEvent is one NDJSON line of /api/chat.
type ChatEvent struct {
	ParseResponse
	Thoughts string `json:"thoughts,omitempty"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) toResponse(parsed answer.Parsed) ParseResponse {
	followups := parsed.Followups
	if followups == nil {
		followups = []string{}
	}
	return ParseResponse{
		Text:      parsed.Text,
		Followups: followups,
		Citations: s.resolver.Refs(parsed),
	}
}

func (s *Server) parserFor(name string) *answer.Parser {
	switch strings.ToLower(name) {
	case "superscript", "unicode", "terminal":
		return s.textP
	default:
		return s.htmlP
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleParse handles POST /api/parse.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !s.decode(w, r, &req) {
		return
	}

	parsed := s.parserFor(req.Placeholder).Parse(req.Text, req.Streaming)
	s.stats.parsed.Add(1)
	writeJSON(w, http.StatusOK, s.toResponse(parsed))
}

// handleRender handles POST /api/render.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !s.decode(w, r, &req) {
		return
	}

	parsed := s.htmlP.Parse(req.Text, req.Streaming)
	out, err := s.html.Render(parsed, s.resolver)
	if err != nil {
		s.logger.Error("render failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "render failed")
		return
	}
	s.stats.rendered.Add(1)
	writeJSON(w, http.StatusOK, out)
}

// handleStyles handles GET /api/styles.css.
func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	css, err := s.html.CSS()
	if err != nil {
		s.logger.Error("css failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "stylesheet unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(css))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.stats.start).Round(time.Second).String(),
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.snapshot())
}

// handleChat handles POST /api/chat. Each backend chunk produces one NDJSON
// line holding the interpretation of the whole answer so far; the last line
// has done set.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatAppRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		s.fail(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	s.streamChat(r.Context(), req, transportNDJSON, func(ev ChatEvent) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

const (
	transportNDJSON    = "ndjson"
	transportWebSocket = "websocket"
)

// streamChat proxies one chat request to the backend and emits an event per
// content chunk plus a final event with done set. Emit errors mean the client
// went away; the backend stream is still drained so the answer is counted.
func (s *Server) streamChat(ctx context.Context, req model.ChatAppRequest, transport string, emit func(ChatEvent) error) {
	req.Stream = true
	start := time.Now()
	turn := model.NewTurn(req.Messages[len(req.Messages)-1].Content)

	send := func(ev ChatEvent) {
		if err := emit(ev); err != nil {
			s.logger.Debug("client went away", zap.String("transport", transport), zap.Error(err))
			return
		}
		StreamEventsTotal.WithLabelValues(transport).Inc()
	}

	err := s.backend.Chat(ctx, req, func(chunk model.ChatAppChunk) {
		turn.ApplyChunk(chunk)
		if chunk.GetContent() == "" {
			return
		}
		send(ChatEvent{ParseResponse: s.toResponse(turn.Parse(s.htmlP))})
	})

	outcome := "ok"
	if err != nil {
		turn.Fail(err)
		outcome = "error"
	} else {
		turn.Finalize()
	}

	final := ChatEvent{
		ParseResponse: s.toResponse(turn.Parse(s.htmlP)),
		Thoughts:      s.html.Sanitize(turn.Context.Thoughts),
		Done:          true,
	}
	if err != nil {
		s.logger.Warn("chat proxy failed", zap.String("transport", transport), zap.Error(err))
		s.stats.errors.Add(1)
		final.Error = err.Error()
	} else {
		observeAnswer(final.ParseResponse)
	}
	s.stats.streamed.Add(1)
	StreamDuration.WithLabelValues(transport, outcome).Observe(time.Since(start).Seconds())
	send(final)
}

// decode reads a JSON body into v, writing the error response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.logger.Debug("invalid request body", zap.Error(err))
		s.fail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	s.stats.errors.Add(1)
	writeError(w, status, message)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	go s.pruneLoop()

	s.logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("version", s.version))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug("pruned idle clients", zap.Int("count", n))
			}
		}
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
