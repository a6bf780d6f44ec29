package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
)

// FraudScanStore is the scan-log read surface the analyzer needs.
type FraudScanStore interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.TicketScan, error)
}

// FraudEventStore resolves events for analysis.
type FraudEventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error)
}

// FraudAlertStore persists sweep results.
type FraudAlertStore interface {
	ReplaceForEvent(ctx context.Context, eventID uuid.UUID, alerts []models.FraudAlert) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FraudAlert, error)
}

// FraudThresholds tunes the detection rules.
type FraudThresholds struct {
	DuplicateAttempts int           // already_used results per booking
	RapidScanCount    int           // scans per device inside the window
	RapidScanWindow   time.Duration // trailing sliding window
}

// DefaultFraudThresholds returns the stock detection thresholds.
func DefaultFraudThresholds() FraudThresholds {
	return FraudThresholds{
		DuplicateAttempts: 3,
		RapidScanCount:    10,
		RapidScanWindow:   60 * time.Second,
	}
}

// FraudService mines the scan log for abuse patterns. It is pure read-side:
// it never mutates bookings or inventory and never blocks scan ingestion.
type FraudService struct {
	scans      FraudScanStore
	events     FraudEventStore
	alerts     FraudAlertStore
	thresholds FraudThresholds
	now        func() time.Time
}

// NewFraudService creates a new fraud analyzer. alerts may be nil when sweep
// persistence is not wanted (on-demand analysis only).
func NewFraudService(scans FraudScanStore, events FraudEventStore, alerts FraudAlertStore, thresholds FraudThresholds) *FraudService {
	if thresholds.DuplicateAttempts <= 0 {
		thresholds.DuplicateAttempts = DefaultFraudThresholds().DuplicateAttempts
	}
	if thresholds.RapidScanCount <= 0 {
		thresholds.RapidScanCount = DefaultFraudThresholds().RapidScanCount
	}
	if thresholds.RapidScanWindow <= 0 {
		thresholds.RapidScanWindow = DefaultFraudThresholds().RapidScanWindow
	}
	return &FraudService{
		scans:      scans,
		events:     events,
		alerts:     alerts,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// DetectFraud recomputes the event's fraud alerts from the full scan log.
// Absence of data yields an empty set, never an error.
func (s *FraudService) DetectFraud(ctx context.Context, eventID uuid.UUID) ([]models.FraudAlert, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	scans, err := s.scans.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	alerts := make([]models.FraudAlert, 0)
	alerts = append(alerts, s.duplicateAttemptAlerts(eventID, scans, now)...)
	alerts = append(alerts, s.rapidScanningAlerts(eventID, scans, now)...)
	return alerts, nil
}

// duplicateAttemptAlerts flags bookings that keep getting presented after
// they were consumed.
func (s *FraudService) duplicateAttemptAlerts(eventID uuid.UUID, scans []models.TicketScan, now time.Time) []models.FraudAlert {
	attempts := make(map[uuid.UUID]int)
	order := make([]uuid.UUID, 0)
	for _, scan := range scans {
		if scan.Result != models.ScanResultAlreadyUsed || scan.BookingID == nil {
			continue
		}
		if _, seen := attempts[*scan.BookingID]; !seen {
			order = append(order, *scan.BookingID)
		}
		attempts[*scan.BookingID]++
	}

	var alerts []models.FraudAlert
	for _, bookingID := range order {
		count := attempts[bookingID]
		if count < s.thresholds.DuplicateAttempts {
			continue
		}
		id := bookingID
		alerts = append(alerts, models.FraudAlert{
			ID:           uuid.New(),
			EventID:      eventID,
			Type:         models.AlertTypeMultipleScanAttempts,
			Severity:     models.AlertSeverityHigh,
			BookingID:    &id,
			AttemptCount: count,
			DetectedAt:   now,
		})
	}
	return alerts
}

// rapidScanningAlerts flags devices bursting past the rate threshold inside
// the trailing window. The window slides with "now"; older bursts age out of
// the recomputation rather than accumulating.
func (s *FraudService) rapidScanningAlerts(eventID uuid.UUID, scans []models.TicketScan, now time.Time) []models.FraudAlert {
	cutoff := now.Add(-s.thresholds.RapidScanWindow)

	type deviceWindow struct {
		count     int
		scannerID string
	}
	windows := make(map[string]*deviceWindow)
	order := make([]string, 0)
	for _, scan := range scans {
		if scan.ScannedAt.Before(cutoff) || scan.ScannedAt.After(now) {
			continue
		}
		w, ok := windows[scan.DeviceID]
		if !ok {
			w = &deviceWindow{}
			windows[scan.DeviceID] = w
			order = append(order, scan.DeviceID)
		}
		w.count++
		w.scannerID = scan.ScannerID
	}

	var alerts []models.FraudAlert
	for _, deviceID := range order {
		w := windows[deviceID]
		if w.count <= s.thresholds.RapidScanCount {
			continue
		}
		device := deviceID
		scanner := w.scannerID
		alerts = append(alerts, models.FraudAlert{
			ID:           uuid.New(),
			EventID:      eventID,
			Type:         models.AlertTypeRapidScanning,
			Severity:     models.AlertSeverityMedium,
			DeviceID:     &device,
			ScannerID:    &scanner,
			AttemptCount: w.count,
			DetectedAt:   now,
		})
	}
	return alerts
}

// Sweep recomputes and persists alerts for every published event. Per-event
// failures are logged and skipped; the sweep itself keeps going.
func (s *FraudService) Sweep(ctx context.Context) error {
	events, err := s.events.ListByStatus(ctx, models.EventStatusPublished)
	if err != nil {
		return errors.Wrap(err, "failed to list events for fraud sweep")
	}

	for _, event := range events {
		alerts, err := s.DetectFraud(ctx, event.ID)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Fraud detection failed during sweep")
			continue
		}
		if s.alerts == nil {
			continue
		}
		if err := s.alerts.ReplaceForEvent(ctx, event.ID, alerts); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to persist fraud alerts")
			continue
		}
		if len(alerts) > 0 {
			log.Info().
				Str("event_id", event.ID.String()).
				Int("alerts", len(alerts)).
				Msg("Fraud alerts recorded")
		}
	}
	return nil
}

// ListAlerts returns the event's persisted alerts from the last sweep.
func (s *FraudService) ListAlerts(ctx context.Context, eventID uuid.UUID) ([]models.FraudAlert, error) {
	if s.alerts == nil {
		return s.DetectFraud(ctx, eventID)
	}
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.alerts.ListByEvent(ctx, eventID)
}
