package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/telecomverify/telecom/internal/config"
	"github.com/telecomverify/telecom/internal/dispatch"
	"github.com/telecomverify/telecom/internal/httputil"
)

// Server is the HTTP front of the verification dispatcher.
type Server struct {
	cfg        *config.Config
	router     *chi.Mux
	http       *http.Server
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	tokens     *dispatch.TokenIssuer // nil when tokens are not issued
	verifyRL   *RateLimiter          // nil when server.rate_limit is 0
	startTime  time.Time
	logBuffer  *LogBuffer // nil when not using buffered logging
}

// New creates a Server with middleware and routes configured. tokens may be nil.
func New(cfg *config.Config, logger *slog.Logger, d *dispatch.Dispatcher, tokens *dispatch.TokenIssuer) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))

	s := &Server{
		cfg:        cfg,
		router:     r,
		logger:     logger,
		dispatcher: d,
		tokens:     tokens,
		startTime:  time.Now(),
	}
	// Built here so Shutdown never races with StartWithReady.
	s.http = &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.Get("/health", s.handleHealth)
	r.Get("/rank", s.handleRank)
	r.Get("/stats", s.handleStats)
	r.Get("/carriers", s.handleCarriers)
	r.Get("/token", s.handleToken)
	r.Get("/logs", s.handleLogs)
	r.Get("/runtime", s.handleRuntime)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		if cfg.Server.RateLimit > 0 {
			s.verifyRL = NewRateLimiter(cfg.Server.RateLimit, time.Minute)
			r.Use(s.verifyRL.Middleware)
		}
		r.Post("/verify", s.handleVerify)
	})

	return s
}

// SetLogBuffer attaches a log buffer for the /logs endpoint.
func (s *Server) SetLogBuffer(lb *LogBuffer) {
	s.logBuffer = lb
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	return s.StartWithReady(nil)
}

// StartWithReady begins listening. It closes ready (if non-nil) once the
// listener is bound, then blocks serving requests.
// A Shutdown that lands first makes it return nil without serving.
func (s *Server) StartWithReady(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.logger.Info("server starting", "address", s.cfg.Address())
	if ready != nil {
		close(ready)
	}

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down server", "timeout", timeout)
	if s.verifyRL != nil {
		s.verifyRL.Stop()
	}
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
