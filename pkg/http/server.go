package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/alerting"
	"grit-server/pkg/auth"
	"grit-server/pkg/config"
	"grit-server/pkg/metrics"
	"grit-server/pkg/session"
)

// Server is the stateless gateway: it validates, authenticates, and
// routes every request to the session layer. It holds no session state
// of its own.
type Server struct {
	config    config.HTTPConfig
	logger    *logrus.Logger
	sessions  *session.Manager
	cache     session.ScoreCache
	hub       *ScoreHub
	evaluator *alerting.Evaluator

	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
	readiness  map[string]ReadinessCheck
}

// NewServer wires routes and middleware. The hub must be started
// separately with Run.
func NewServer(cfg config.HTTPConfig, sessions *session.Manager, cache session.ScoreCache, hub *ScoreHub, verifier *auth.Verifier, logger *logrus.Logger) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		sessions:  sessions,
		cache:     cache,
		hub:       hub,
		evaluator: alerting.NewEvaluator(logger, nil),
		startTime: time.Now(),
		readiness: make(map[string]ReadinessCheck),
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("/api/session/start", requireMethod(http.MethodPost, s.handleStartSession))
	mux.HandleFunc("/api/session/telemetry", requireMethod(http.MethodPost, s.handleTelemetry))
	mux.HandleFunc("/api/session/situation", requireMethod(http.MethodPost, s.handleSituation))
	mux.HandleFunc("/api/session/event", requireMethod(http.MethodPost, s.handleEvent))
	mux.HandleFunc("/api/session", requireMethod(http.MethodDelete, s.handleEndSession))
	mux.HandleFunc("/api/session/scores", requireMethod(http.MethodGet, s.handleScores))
	mux.HandleFunc("/api/session/status", requireMethod(http.MethodGet, s.handleSessionStatus))
	mux.HandleFunc("/api/system/health", requireMethod(http.MethodGet, s.handleSystemHealth))
	mux.HandleFunc("/api/system/metrics", requireMethod(http.MethodGet, s.handleSystemMetrics))
	mux.HandleFunc("/ws/scores", hub.ServeWs)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	if cfg.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			}))
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		}
	}

	authmw := &authMiddleware{verifier: verifier, logger: logger}
	handler := authmw.wrap(mux)
	handler = metricsMiddleware(handler)
	handler = correlationMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// AddReadinessCheck registers a dependency probe for /health and
// /health/ready.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.readiness[name] = check
}

// Handler exposes the full middleware-wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
