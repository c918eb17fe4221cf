// Package httpapi exposes the broker + CRUD HTTP surface spec.md §6
// names: message creation, task reads/updates/cancellation, agent and
// tool-listing reads, and data source listing. It is the thin transport
// layer over internal/taskbroker, internal/toolserver, internal/
// projectsync, internal/agentconfig and internal/datasource.
//
// Grounded on internal/gateway/http_server.go's shape: a plain
// net/http.ServeMux, promhttp.Handler mounted at /metrics, a /healthz
// probe, and net.Listen + http.Server.Shutdown for graceful stop.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chicoryai/taskrunner/internal/agentconfig"
	"github.com/chicoryai/taskrunner/internal/auth"
	"github.com/chicoryai/taskrunner/internal/datasource"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/projectsync"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
	"github.com/chicoryai/taskrunner/internal/toolserver"
)

// Config wires a Server to its collaborators.
type Config struct {
	Host string
	Port int

	Broker      *taskbroker.Broker
	Aggregator  *toolserver.Aggregator
	Agents      agentconfig.Store
	Credentials *projectsync.CredentialResolver
	DataSources datasource.Store
	Webfetcher  *datasource.Webfetcher

	Auth    *auth.Service
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// Server is the apiserver's HTTP listener.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer builds a Server and its route table; it does not start
// listening until Start is called.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	h := &handlers{cfg: cfg, logger: cfg.Logger}
	var projectRoutes http.Handler = h.routes()
	if cfg.Auth != nil {
		projectRoutes = auth.HTTPMiddleware(cfg.Auth, cfg.Logger)(projectRoutes)
	}
	mux.Handle("/projects/", withRequestID(withTracing(cfg.Tracer, withMetrics(cfg.Metrics, projectRoutes))))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.server.Addr = addr

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("httpapi server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listener address, valid only after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// withRequestID stamps every request with a correlation ID used by
// observability.NewLogger's handler to tag each log line it produces
// while handling that request.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := observability.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withTracing(t *observability.Tracer, next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := t.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withMetrics(m *observability.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
