package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-contactgraph/pkg/health"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// Server exposes /metrics and /healthz while a pipeline runs, plus
// /readyz once a health checker is attached.
type Server struct {
	registry *Registry
	checker  *health.Checker
	logger   logging.Logger
	srv      *http.Server
	listener net.Listener
	start    time.Time
}

// NewServer binds addr and prepares the router. Call Serve to start it.
func NewServer(addr string, reg *Registry, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		registry: reg,
		logger:   logger.With(logging.Component("metrics")),
		listener: ln,
		start:    time.Now(),
	}
	s.srv = &http.Server{ReadHeaderTimeout: 5 * time.Second}
	return s, nil
}

// WithHealth serves hc on /healthz and /readyz. Call it before Serve.
func (s *Server) WithHealth(hc *health.Checker) *Server {
	s.checker = hc
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.registry.GetPrometheusRegistry(), promhttp.HandlerOpts{})).Methods("GET")
	if s.checker != nil {
		router.HandleFunc("/healthz", s.checker.HTTPHandler()).Methods("GET")
		router.HandleFunc("/readyz", s.checker.ReadinessHandler()).Methods("GET")
	} else {
		router.HandleFunc("/healthz", s.alive).Methods("GET")
	}
	router.Use(s.metricsMiddleware)
	return router
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.srv.Handler = s.Router()
	go s.updateSystemMetrics(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("metrics endpoint listening", logging.String("addr", s.Addr()))
		errc <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) alive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	s.registry.UpdateSystemMetrics(s.start)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.UpdateSystemMetrics(s.start)
		}
	}
}

// metricsMiddleware tracks HTTP request metrics
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.registry.HTTPRequestsInFlight.Inc()
		defer s.registry.HTTPRequestsInFlight.Dec()

		wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.registry.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
