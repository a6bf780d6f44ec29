package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/venuetix/services/ticketing/config"
	"example.com/venuetix/services/ticketing/internal/api"
	"example.com/venuetix/services/ticketing/internal/cache"
	"example.com/venuetix/services/ticketing/internal/database"
	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/repositories"
	"example.com/venuetix/services/ticketing/internal/search"
	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for event management, reservations, scans and analytics`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}
	if redisCache != nil {
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis connection")
			}
		}()
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}
	if tracer != nil {
		defer tracer.Close()
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize repositories
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	bookingRepo := repositories.NewBookingRepository(db, readOnlyDB)
	scanRepo := repositories.NewScanRepository(db, readOnlyDB)
	alertRepo := repositories.NewAlertRepository(db, readOnlyDB)

	// Initialize services
	svcs := api.Services{
		Events:    services.NewEventService(eventRepo, tracer),
		Inventory: services.NewInventoryService(eventRepo, bookingRepo, metricsCollector, tracer),
		Scans:     newScanService(scanRepo, eventRepo, bookingRepo, elasticClient, metricsCollector, tracer),
		Fraud:     newFraudService(cfg, scanRepo, eventRepo, alertRepo),
		Analytics: newAnalyticsService(eventRepo, bookingRepo, scanRepo, redisCache),
	}
	if elasticClient != nil {
		svcs.ScanSearch = elasticClient
	}

	// Initialize and start the server
	server := api.NewServer(cfg, svcs, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// newScanService wires the scan verifier, tolerating a missing search backend.
func newScanService(
	scanRepo *repositories.ScanRepository,
	eventRepo *repositories.EventRepository,
	bookingRepo *repositories.BookingRepository,
	elasticClient *search.ElasticClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *services.ScanService {
	var indexer services.ScanIndexer
	if elasticClient != nil {
		indexer = elasticClient
	}
	return services.NewScanService(eventRepo, bookingRepo, scanRepo, indexer, metricsCollector, tracer)
}

func newFraudService(
	cfg config.Config,
	scanRepo *repositories.ScanRepository,
	eventRepo *repositories.EventRepository,
	alertRepo *repositories.AlertRepository,
) *services.FraudService {
	thresholds := services.FraudThresholds{
		DuplicateAttempts: cfg.Fraud.DuplicateAttempts,
		RapidScanCount:    cfg.Fraud.RapidScanCount,
		RapidScanWindow:   cfg.Fraud.RapidScanWindow,
	}
	return services.NewFraudService(scanRepo, eventRepo, alertRepo, thresholds)
}

func newAnalyticsService(
	eventRepo *repositories.EventRepository,
	bookingRepo *repositories.BookingRepository,
	scanRepo *repositories.ScanRepository,
	redisCache *cache.RedisCache,
) *services.AnalyticsService {
	var analyticsCache services.AnalyticsCache
	if redisCache != nil {
		analyticsCache = redisCache
	}
	return services.NewAnalyticsService(eventRepo, bookingRepo, scanRepo, analyticsCache)
}
