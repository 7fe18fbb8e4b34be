// Package httpapi is the HTTP surface of the assistant: the ask endpoint,
// usage history, settings, the speech push endpoint for devices running their
// own recognizer, an events websocket, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

type UsageReader interface {
	Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error)
	Totals(ctx context.Context) (domain.UsageTotals, error)
}

type KeyStore interface {
	APIKey(ctx context.Context) (string, bool, error)
	SetAPIKey(ctx context.Context, key string) error
}

type WakeControl interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Running() bool
}

type SpeechSink interface {
	Push(channel, transcript, code string) error
}

// Deps are the components behind the routes. Speech, Wake and Metrics are
// optional; their routes are not registered when nil.
type Deps struct {
	Assistant application.Responder
	Usage     UsageReader
	Keys      KeyStore
	Settings  application.SettingsStore
	Wake      WakeControl
	Speech    SpeechSink
	Events    *Hub
	Metrics   http.Handler
	Observer  HTTPObserver
}

type Options struct {
	Addr      string
	AuthToken string
	// Per-IP request rate on /v1/ask and /v1/speech; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// Peers allowed to report the client address in X-Forwarded-For or
	// X-Real-IP. Other peers are limited by their own address.
	TrustedProxies []netip.Prefix
	// Extra Origin host patterns accepted on the events websocket. Same-host
	// origins and clients sending no Origin are always accepted.
	AllowedOrigins []string
}

type Server struct {
	opts    Options
	deps    Deps
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	startedAt time.Time
}

func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = NewHub(logger)
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.handler = chain(s.mux, recovery(logger), logging(logger, deps.Observer))
	return s
}

func (s *Server) routes() {
	auth := requireToken(s.opts.AuthToken, s.logger)
	limited := rateLimited(s.opts.RateLimit, s.opts.RateBurst, s.opts.TrustedProxies)

	handle := func(pattern string, h http.HandlerFunc, mw ...middleware) {
		s.mux.Handle(pattern, chain(h, append([]middleware{auth}, mw...)...))
	}

	handle("POST /v1/ask", s.handleAsk, limited)
	handle("GET /v1/usage", s.handleUsage)
	handle("GET /v1/usage/summary", s.handleUsageSummary)
	handle("GET /v1/settings/api-key", s.handleGetAPIKey)
	handle("PUT /v1/settings/api-key", s.handlePutAPIKey)
	handle("DELETE /v1/settings/api-key", s.handleDeleteAPIKey)
	handle("GET /v1/settings/wake-word", s.handleGetWakeWord)
	if s.deps.Wake != nil {
		handle("PUT /v1/settings/wake-word", s.handlePutWakeWord)
	}
	if s.deps.Speech != nil {
		handle("POST /v1/speech/{channel}", s.handleSpeech, limited)
	}
	handle("GET /v1/events", s.deps.Events.serveWS(s.opts.AllowedOrigins))

	// No auth or rate limiting on probes.
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	s.startedAt = time.Now()
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}
