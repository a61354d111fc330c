package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the part of the pipeline the API exposes.
type Service interface {
	sharedobs.ReadinessChecker
	Start(req pipeline.Request) (pipeline.Handle, error)
	RunStatus(fp domain.Fingerprint) (domain.RunStatus, error)
	LatestStatistic(fp domain.Fingerprint) (domain.RegionStatistic, error)
	TimeSeries(fp domain.Fingerprint) (domain.TimeSeries, error)
	Forecast(fp domain.Fingerprint, horizon int) (domain.Forecast, error)
	Fingerprints() []domain.Fingerprint
}

// Defaults fill optional request fields.
type Defaults struct {
	QualityThreshold float64
	HorizonMonths    int
}

// Server exposes health, readiness, metrics, and the NDVI API.
type Server struct {
	httpServer *http.Server
	svc        Service
	defaults   Defaults
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and /api/v1 routes.
func NewServer(addr string, svc Service, defaults Defaults, logger *slog.Logger) *Server {
	s := &Server{
		svc:      svc,
		defaults: defaults,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(s.svc))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/runs", s.handleStartRun)
		api.Get("/runs/{fingerprint}", s.handleRunStatus)
		api.Get("/results", s.handleListResults)
		api.Route("/results/{fingerprint}", func(rr chi.Router) {
			rr.Get("/statistic", s.handleStatistic)
			rr.Get("/series", s.handleSeries)
			rr.Get("/forecast", s.handleForecast)
		})
	})
	return r
}

// accessLog logs API requests at debug level; probes and scrapes are noisy.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
