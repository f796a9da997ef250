package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/internal/session"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// Refresher triggers an out-of-band metrics cycle
type Refresher interface {
	RefreshNow(ctx context.Context) error
}

// HealthChecker is a pingable component
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the HTTP API server
type Server struct {
	cfg        *config.Config
	logger     *logrus.Entry
	router     *mux.Router
	httpServer *http.Server

	table     *metrics.Table
	registry  *session.Registry
	refresher Refresher
	wsHandler http.Handler
	health    map[string]HealthChecker
}

// NewServer creates the API server. wsHandler serves /ws; health maps
// component names to their checkers.
func NewServer(
	cfg *config.Config,
	table *metrics.Table,
	registry *session.Registry,
	refresher Refresher,
	wsHandler http.Handler,
	health map[string]HealthChecker,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.WithField("component", "api-server"),
		table:     table,
		registry:  registry,
		refresher: refresher,
		wsHandler: wsHandler,
		health:    health,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Security.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/metrics", s.handleGetMetrics).Methods("GET")
	api.HandleFunc("/metrics/{symbol}", s.handleGetSymbol).Methods("GET")
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")

	if s.wsHandler != nil {
		s.router.Handle("/ws", s.wsHandler)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use", s.cfg.Server.Port)
		}
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Security.CORSOrigins),
		handlers.AllowedMethods(s.cfg.Security.CORSMethods),
		handlers.AllowedHeaders(s.cfg.Security.CORSHeaders),
		handlers.AllowCredentials(),
	)(next)
}

// Handler functions

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	services := make(map[string]models.ServiceHealth, len(s.health))
	for name, checker := range s.health {
		start := time.Now()
		if err := checker.Health(ctx); err != nil {
			status = "degraded"
			services[name] = models.ServiceHealth{
				Status: "down",
				Error:  err.Error(),
			}
			continue
		}
		services[name] = models.ServiceHealth{
			Status:  "up",
			Latency: time.Since(start).Milliseconds(),
		}
	}

	s.writeJSON(w, http.StatusOK, &models.HealthStatus{
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Services:    services,
		Connections: s.registry.Len(),
		Version:     "1.0.0",
	})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	quote := q.Get("quote")
	if quote == "" {
		quote = "USDT"
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 500
	}

	rows := s.table.Snapshot(quote, q.Get("sort_by"), q.Get("order"))
	total := len(rows)

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	paged := rows[start:end]

	s.writeJSON(w, http.StatusOK, &models.MetricsResponse{
		Rows:          paged,
		Count:         len(paged),
		TotalCount:    total,
		Page:          page,
		PageSize:      pageSize,
		QuoteCurrency: quote,
	})
}

func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	row, ok := s.table.Get(symbol)
	if !ok {
		http.Error(w, "symbol not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		http.Error(w, "refresh unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.refresher.RefreshNow(ctx); err != nil {
		s.logger.WithError(err).Warn("Manual refresh failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": true,
		"symbols":   s.table.Len(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware chain
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	return hj.Hijack()
}
