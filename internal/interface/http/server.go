// Package http exposes the bot over HTTP: the WhatsApp gateway webhook, the
// payment webhook, the admin entitlement API, health endpoints and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/falaja/tutor-bot/internal/application/command"
	"github.com/falaja/tutor-bot/internal/application/query"
	"github.com/falaja/tutor-bot/internal/application/session"
	"github.com/falaja/tutor-bot/internal/interface/http/handlers"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxHeaderBytes int
	MaxBodyBytes   int64

	// MetricsPath mounts Dependencies.Metrics; empty disables it.
	MetricsPath string

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		MetricsPath:    "/metrics",
		Version:        "dev",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// TurnHandler runs one inbound message. *session.Orchestrator implements it.
type TurnHandler interface {
	Handle(ctx context.Context, msg session.Inbound) session.Outcome
}

// Dependencies contains everything the handlers call. Optional parts left nil
// are not mounted.
type Dependencies struct {
	Turns TurnHandler

	// Entitlement commands and query
	ApplyPayment   *command.ApplyPaymentHandler
	GrantPremium   *command.GrantPremiumHandler
	RevokePremium  *command.RevokePremiumHandler
	GetEntitlement *query.GetEntitlementHandler

	// AdminAuth guards /admin; nil leaves the admin API unmounted.
	AdminAuth *handlers.TokenAuth
	// PaymentAuth guards /webhook/payment; nil leaves it unmounted.
	PaymentAuth *handlers.TokenAuth

	HealthChecker handlers.HealthChecker
	Metrics       http.Handler

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	startedAt atomic.Pointer[time.Time] // nil while stopped
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: chi.NewRouter(),
		logger: deps.Logger,
	}

	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.config.MaxBodyBytes <= 0 {
		s.config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(s.requestIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	// Health & status
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	// Gateway webhook
	if s.deps.Turns != nil {
		r.Post("/webhook/zapi", s.handleMessageWebhook)
		r.Post("/webhook/message", s.handleMessageWebhook)
	}

	// Payment webhook
	if s.deps.PaymentAuth != nil && s.deps.ApplyPayment != nil {
		r.With(s.deps.PaymentAuth.Middleware).Post("/webhook/payment", s.handlePaymentWebhook)
	}

	// Admin API
	if s.deps.AdminAuth != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.deps.AdminAuth.Middleware)

			r.Route("/students/{phone}/premium", func(r chi.Router) {
				if s.deps.GetEntitlement != nil {
					r.Get("/", s.handleGetEntitlement)
				}
				if s.deps.GrantPremium != nil {
					r.Post("/", s.handleGrantPremium)
				}
				if s.deps.RevokePremium != nil {
					r.Delete("/", s.handleRevokePremium)
				}
			})
		})
	}

	if s.config.MetricsPath != "" && s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.deps.Metrics)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestIDMiddleware keeps a caller-supplied X-Request-ID of sane length,
// otherwise mints one, and scopes the request logger to it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) isHealthPath(path string) bool {
	switch path {
	case "/live", "/health", "/healthz", "/ready":
		return true
	}
	return path == s.config.MetricsPath
}

// loggingMiddleware logs one line per request. Health checks and scrapes are quiet.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isHealthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.FromContext(r.Context()).Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Latency(time.Since(start)),
			logger.String("ip", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 envelope. Aborted
// handlers keep panicking so net/http can drop the connection.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context()).Error("panic recovered",
				logger.Any("panic", rec),
				logger.String("path", r.URL.Path),
				logger.String("stack", string(debug.Stack())),
			)
			writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start blocks serving until Shutdown. A second concurrent Start fails.
func (s *Server) Start() error {
	now := time.Now()
	if !s.startedAt.CompareAndSwap(nil, &now) {
		return errors.New("server already running")
	}

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		s.startedAt.Store(nil)
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting webhooks and waits for in-flight turns, bounded by
// ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.startedAt.Swap(nil) == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) IsRunning() bool { return s.startedAt.Load() != nil }

// Uptime is zero while stopped.
func (s *Server) Uptime() time.Duration {
	if t := s.startedAt.Load(); t != nil {
		return time.Since(*t)
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse wraps every body this server writes.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

const apiVersion = "v1"

func respond(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.Meta = &ResponseMeta{Timestamp: time.Now().UTC(), Version: apiVersion}
	body.RequestID = getRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	respond(w, r, status, JSONResponse{Success: status < 300 && status >= 200, Data: data})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respond(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

type contextKey struct{}

var contextKeyRequestID contextKey

func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
