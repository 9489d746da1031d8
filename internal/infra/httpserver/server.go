// Package httpserver exposes the operational endpoints of the bot:
// liveness, readiness, prometheus metrics and monitoring stats.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"rzd_seat_bot/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StatsProvider is satisfied by app.MonitoringService.
type StatsProvider interface {
	GetMonitoringStats(ctx context.Context) (*app.MonitoringStats, error)
}

// ReadyFunc reports whether the store can serve requests.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	httpServer *http.Server
	stats      StatsProvider
	ready      ReadyFunc
	logger     *logrus.Entry
}

func New(addr string, stats StatsProvider, ready ReadyFunc, logger *logrus.Entry) *Server {
	s := &Server{
		stats:  stats,
		ready:  ready,
		logger: logger.WithField("component", "httpserver"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/stats", s.statsHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves in the background. A listen failure is logged.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Starting ops HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Ops HTTP server error")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	text(w, http.StatusOK, "OK")
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.WithError(err).Warn("Readiness check failed")
		text(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	text(w, http.StatusOK, "OK")
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.GetMonitoringStats(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to get monitoring stats")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// StoreReady builds a ReadyFunc from a readiness channel and an optional ping.
func StoreReady(ready <-chan struct{}, ping func(ctx context.Context) error) ReadyFunc {
	return func(ctx context.Context) error {
		select {
		case <-ready:
		default:
			return errors.New("schema not ready")
		}
		if ping != nil {
			return ping(ctx)
		}
		return nil
	}
}
