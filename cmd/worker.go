package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/venuetix/services/ticketing/config"
	"example.com/venuetix/services/ticketing/internal/database"
	"example.com/venuetix/services/ticketing/internal/messaging"
	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
	"example.com/venuetix/services/ticketing/internal/search"
	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process scan events from Azure Service Bus and run the fraud sweep`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
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

	// Initialize repositories and services
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	bookingRepo := repositories.NewBookingRepository(db, readOnlyDB)
	scanRepo := repositories.NewScanRepository(db, readOnlyDB)
	alertRepo := repositories.NewAlertRepository(db, readOnlyDB)

	scanService := newScanService(scanRepo, eventRepo, bookingRepo, elasticClient, metricsCollector, tracer)
	fraudService := newFraudService(cfg, scanRepo, eventRepo, alertRepo)

	// Initialize Azure Service Bus client
	azureBus, err := messaging.NewAzureServiceBus(cfg.Azure, tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := azureBus.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus client")
		}
	}()

	// Start the service bus processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting scan event processor")
		return azureBus.ProcessMessages(ctx, scanMessageHandler(scanService, tracer))
	})

	// Start the periodic fraud sweep over published events
	g.Go(func() error {
		interval := cfg.Fraud.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		log.Info().Dur("interval", interval).Msg("Starting fraud sweep job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if err := fraudService.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("Fraud sweep failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// scanMessageHandler decodes queued scan payloads and runs them through the
// verifier. Malformed payloads are dropped after logging so they do not
// cycle through the queue forever.
func scanMessageHandler(scanService *services.ScanService, tracer tracing.Tracer) messaging.MessageHandler {
	return func(ctx context.Context, message *azservicebus.ReceivedMessage, txn *newrelic.Transaction) error {
		var payload models.ScanPayload
		if err := json.Unmarshal(message.Body, &payload); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Dropping malformed scan payload")
			return nil
		}

		eventID, err := uuid.Parse(payload.EventID)
		if err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Dropping scan payload with invalid event id")
			return nil
		}

		tracer.AddAttribute(txn, "event_id", payload.EventID)
		tracer.AddAttribute(txn, "scanner_id", payload.ScannerID)

		outcome, err := scanService.VerifyScan(ctx, services.ScanRequest{
			Code:           payload.Code,
			EventID:        eventID,
			ScannerID:      payload.ScannerID,
			DeviceID:       payload.DeviceID,
			Override:       payload.Override,
			OverrideReason: payload.OverrideReason,
			CanOverride:    payload.CanOverride,
		})
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNotFound),
				errors.Is(err, services.ErrOverrideReasonRequired),
				errors.Is(err, services.ErrOverrideNotPermitted):
				log.Warn().Err(err).Str("message_id", message.MessageID).Msg("Dropping unprocessable scan payload")
				return nil
			}
			return errors.Wrap(err, "failed to verify queued scan")
		}

		log.Info().
			Str("message_id", message.MessageID).
			Str("event_id", payload.EventID).
			Str("result", string(outcome.Result)).
			Bool("overridden", outcome.WasOverridden).
			Msg("Processed queued scan")
		return nil
	}
}
