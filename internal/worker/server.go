package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsDarianNgo/Chatter/internal/health"
	"github.com/itsDarianNgo/Chatter/internal/observe"
)

// Server is the worker HTTP surface: health probes, the stats snapshot, and
// the Prometheus scrape endpoint.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewServer builds the chi router and the http.Server around it. ready is
// the readiness probe for the bus dependency.
func NewServer(addr string, w *Worker, ready health.Checker, m *observe.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hh := health.New(ready)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(m))

	r.Get("/healthz", hh.Healthz)
	r.Get("/readyz", hh.Readyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(rw).Encode(w.Stats()); err != nil {
			http.Error(rw, `{"error":"encode failed"}`, http.StatusInternalServerError)
		}
	})

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
