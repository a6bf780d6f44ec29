package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/config"
	"example.com/venuetix/services/ticketing/internal/api/handlers"
	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// Services bundles the domain services the HTTP layer exposes. ScanSearch is
// nil when the search backend is unavailable.
type Services struct {
	Events     *services.EventService
	Inventory  *services.InventoryService
	Scans      *services.ScanService
	Fraud      *services.FraudService
	Analytics  *services.AnalyticsService
	ScanSearch handlers.ScanSearcher
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svcs Services, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:   cfg,
		services: svcs,
		metrics:  m,
		tracer:   tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.Default()

	// Recovery middleware
	router.Use(gin.Recovery())

	eventsHandler := handlers.NewEventsHandler(s.services.Events, s.tracer)
	eventsHandler.RegisterRoutes(router)

	bookingsHandler := handlers.NewBookingsHandler(s.services.Inventory, s.tracer)
	bookingsHandler.RegisterRoutes(router)

	scansHandler := handlers.NewScansHandler(s.services.Scans, s.services.ScanSearch, s.tracer)
	scansHandler.RegisterRoutes(router)

	analyticsHandler := handlers.NewAnalyticsHandler(s.services.Analytics, s.services.Fraud, s.tracer)
	analyticsHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
