// Package webui is the HTTP surface of the generation queue: the JSON API,
// admin-guarded configuration writes, artifact serving and a websocket
// feed of job transitions.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"sdqueue/db"
	"sdqueue/jobs"
	"sdqueue/metrics"
	"sdqueue/outputs"
	"sdqueue/settings"
	"sdqueue/shutdown"
)

// DefaultMaxBodyBytes bounds request bodies on write endpoints.
const DefaultMaxBodyBytes = 64 << 10

// Config configures the Server.
type Config struct {
	// Addr is host:port to listen on.
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AdminPassword guards configuration writes when set. It may be a
	// bcrypt hash.
	AdminPassword string

	// RateLimit is requests per second per client on POST /generate;
	// zero disables limiting.
	RateLimit float64
	RateBurst int

	MaxBodyBytes int64

	// TrustProxy honours X-Forwarded-For, X-Real-IP and True-Client-IP.
	// Only enable it behind a proxy that overwrites those headers; the
	// rate limiter keys on the resulting address.
	TrustProxy bool

	Hub HubConfig

	// LogSkipPaths are not request-logged.
	LogSkipPaths []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "0.0.0.0:8000",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateBurst:       5,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		Hub:             DefaultHubConfig(),
		LogSkipPaths:    []string{"/health"},
	}
}

// ArchiveReader is the read side of the job archive.
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]jobs.Job, error)
	Counts(ctx context.Context) (db.Counts, error)
}

// Deps are the components the handlers serve. Archive, Metrics and
// Tracker may be nil.
type Deps struct {
	Queue    *jobs.Queue
	Settings *settings.Store
	Outputs  *outputs.Store
	Archive  ArchiveReader
	Metrics  *metrics.Store
	Tracker  *shutdown.OperationTracker
}

// Server owns the router, the websocket hub and the http.Server.
type Server struct {
	config     Config
	logger     *zap.Logger
	httpServer *http.Server
	router     chi.Router

	queue    *jobs.Queue
	settings *settings.Store
	outputs  *outputs.Store
	archive  ArchiveReader
	metrics  *metrics.Store
	tracker  *shutdown.OperationTracker

	hub     *Hub
	auth    *AdminAuth
	limiter *RateLimiter

	mu        sync.Mutex
	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

// NewServer wires the routes and subscribes the websocket hub to the queue.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Queue == nil || deps.Settings == nil || deps.Outputs == nil {
		return nil, errors.New("webui: queue, settings and outputs are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		queue:    deps.Queue,
		settings: deps.Settings,
		outputs:  deps.Outputs,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		tracker:  deps.Tracker,
		auth:     NewAdminAuth(cfg.AdminPassword),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst, 0)
	}
	s.hub = NewHub(cfg.Hub, func() InitialData {
		return InitialData{Health: s.queue.Health(), Jobs: s.queue.List()}
	}, logger.Named("ws"))
	s.queue.Subscribe(s.hub.Observe)

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	logger.Info("HTTP server created",
		zap.String("addr", cfg.Addr),
		zap.Bool("admin_auth", s.auth != nil),
		zap.Bool("rate_limited", s.limiter != nil),
		zap.Bool("trust_proxy", cfg.TrustProxy),
		zap.Bool("archive", s.archive != nil),
		zap.Bool("metrics", s.metrics != nil),
	)
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(s.logger, s.config.LogSkipPaths...))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { writeNotFound(w) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method+" not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.trackOperations)

		r.With(s.rateLimit).Post("/generate", s.handleGenerate)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Get("/archive", s.handleArchive)

		r.Get("/config", s.handleGetConfig)
		r.With(s.auth.Middleware).Put("/config", s.handleReplaceConfig)
		r.With(s.auth.Middleware).Put("/config/generation", s.handleUpdateGeneration)

		r.Get("/outputs", s.handleListOutputs)
		r.Get("/outputs/{name}", s.handleGetOutput)
		r.With(s.auth.Middleware).Delete("/outputs/{name}", s.handleDeleteOutput)
	})
	return r
}

// trackOperations registers each request with the shutdown tracker and
// refuses new work once shutdown began.
func (s *Server) trackOperations(next http.Handler) http.Handler {
	if s.tracker == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tracker.Start() {
			w.Header().Set("Connection", "close")
			writeError(w, http.StatusServiceUnavailable, "ShuttingDown", "server is shutting down")
			return
		}
		defer s.tracker.Done()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := s.limiter.Allow(clientIP(r)); !ok {
			setRetryAfter(w, wait)
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// startBackground runs the hub and the limiter cleanup until Shutdown.
func (s *Server) startBackground(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hubCancel != nil {
		return
	}
	bgCtx, cancel := context.WithCancel(ctx)
	s.hubCancel = cancel
	s.hubDone = make(chan struct{})
	go func() {
		defer close(s.hubDone)
		s.hub.Run(bgCtx)
	}()
	if s.limiter != nil {
		s.limiter.StartCleanupTicker(bgCtx, time.Minute)
	}
}

// Start listens on the configured address and blocks until the server is
// shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startBackground(ctx)
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	s.mu.Lock()
	hubCancel, hubDone := s.hubCancel, s.hubDone
	s.mu.Unlock()
	if hubCancel != nil {
		hubCancel()
		select {
		case <-hubDone:
		case <-shutdownCtx.Done():
		}
	}

	if err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
