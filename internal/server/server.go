package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eekr1/emlak-ymh/internal/auth"
	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/ratelimit"
	"github.com/eekr1/emlak-ymh/internal/retrieval"
)

// Server is the HTTP server for the chat and admin surfaces.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Vectors, Buffer, ChatLimiter, AuthLimiter.
type Config struct {
	// Required dependencies.
	Runner   TurnRunner
	Brands   *brand.Registry
	Store    AdminStore
	Embedder retrieval.Provider
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Vectors     VectorIndex
	Buffer      BufferStats
	ChatLimiter ratelimit.Limiter
	AuthLimiter ratelimit.Limiter

	AdminKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	KeepAlive           time.Duration
	TurnTimeout         time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Runner:       cfg.Runner,
		Brands:       cfg.Brands,
		Store:        cfg.Store,
		Vectors:      cfg.Vectors,
		Embedder:     cfg.Embedder,
		JWTMgr:       cfg.JWTMgr,
		AdminKeyHash: cfg.AdminKeyHash,
		Buffer:       cfg.Buffer,
		Logger:       cfg.Logger,
		KeepAlive:    cfg.KeepAlive,
		TurnTimeout:  cfg.TurnTimeout,
		MaxBody:      cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	chatRL := ratelimit.Middleware(cfg.ChatLimiter, ratelimit.IPKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Public chat surface (rate limited by client IP).
	mux.Handle("POST /chat/init", chatRL(http.HandlerFunc(h.HandleChatInit)))
	mux.Handle("POST /chat/message", chatRL(http.HandlerFunc(h.HandleChatMessage)))
	mux.Handle("POST /chat/stream", chatRL(http.HandlerFunc(h.HandleChatStream)))

	// Token exchange (no auth, tighter limiter).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Admin surface (JWT required).
	adminOnly := requireAdmin(cfg.JWTMgr)
	mux.Handle("GET /v1/leads", adminOnly(http.HandlerFunc(h.HandleListLeads)))
	mux.Handle("PATCH /v1/leads/{id}", adminOnly(http.HandlerFunc(h.HandleUpdateLead)))
	mux.Handle("PUT /v1/knowledge/{brandKey}", adminOnly(http.HandlerFunc(h.HandleIngestKnowledge)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
