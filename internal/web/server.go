// Package web exposes the monitor over HTTP: session listing, manual
// send/capture/focus operations, turn history, and a websocket event feed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samotage/claude-monitor/internal/logging"
	"github.com/samotage/claude-monitor/internal/tracker"
)

var log = logging.ForComponent(logging.CompWeb)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Tracker    *tracker.Tracker
	Scanner    *tracker.Scanner
	// RateLimitPerSecond bounds request-driven backend operations. Zero
	// disables limiting.
	RateLimitPerSecond float64
}

// Server wraps the HTTP server and the latest scan snapshot.
type Server struct {
	cfg        Config
	httpServer *http.Server
	limiter    *rate.Limiter

	baseCtx    context.Context
	cancelBase context.CancelFunc

	reportMu   sync.RWMutex
	lastReport *tracker.ScanReport
}

// NewServer creates a server with routes and middleware configured.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7711"
	}

	s := &Server{cfg: cfg}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	if cfg.RateLimitPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), int(cfg.RateLimitPerSecond)+1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/session/", s.handleSessionByID)
	mux.HandleFunc("/api/turns", s.handleTurns)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/ws/events", s.handleEventsWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until shutdown. A scanner subscription keeps the latest
// report around for /api/sessions. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	if s.cfg.Scanner != nil {
		reports, cancel := s.cfg.Scanner.Subscribe()
		defer cancel()
		go func() {
			for report := range reports {
				s.reportMu.Lock()
				s.lastReport = report
				s.reportMu.Unlock()
			}
		}()
	}

	log.Info("web_server_started", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, force-closing if long-lived connections keep
// the graceful path from finishing.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) latestReport() *tracker.ScanReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport
}

// setReport is used by tests and the subscription goroutine.
func (s *Server) setReport(report *tracker.ScanReport) {
	s.reportMu.Lock()
	s.lastReport = report
	s.reportMu.Unlock()
}

// allow enforces the request rate limit on backend-touching operations.
func (s *Server) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	})
}
