package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// ScanEventStore is the event lookup the verifier needs.
type ScanEventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// ScanBookingStore is the booking-side storage the verifier needs.
type ScanBookingStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// ScanLog is the append-only scan record sink.
type ScanLog interface {
	Append(ctx context.Context, scan *models.TicketScan) error
}

// ScanIndexer mirrors scan records into the search backend. Indexing is
// best-effort and never affects the classification already decided.
type ScanIndexer interface {
	IndexScan(ctx context.Context, scan *models.TicketScan) error
}

// ScanRequest is one entry-scan attempt as received from a scanner.
type ScanRequest struct {
	Code           string
	EventID        uuid.UUID
	ScannerID      string
	DeviceID       string
	Override       bool
	OverrideReason string
	CanOverride    bool
}

// ScanOutcome is the classification of one scan attempt. Denials are
// outcomes, not errors.
type ScanOutcome struct {
	Result        models.ScanResult
	WasOverridden bool
	Booking       *models.Booking
	Scan          *models.TicketScan
}

// ScanService classifies entry-scan attempts against booking and event state
// and flips the used flag exactly once per admitted booking.
type ScanService struct {
	events   ScanEventStore
	bookings ScanBookingStore
	scans    ScanLog
	indexer  ScanIndexer
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	now      func() time.Time
}

// NewScanService creates a new scan verification service. indexer may be nil
// when search is unavailable.
func NewScanService(
	events ScanEventStore,
	bookings ScanBookingStore,
	scans ScanLog,
	indexer ScanIndexer,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *ScanService {
	return &ScanService{
		events:   events,
		bookings: bookings,
		scans:    scans,
		indexer:  indexer,
		metrics:  metricsCollector,
		tracer:   tracer,
		now:      time.Now,
	}
}

// Classify evaluates the precedence-ordered classification of one scan
// attempt. booking is nil when the code decoded to nothing. First match wins.
func Classify(booking *models.Booking, event *models.Event, scanEventID uuid.UUID, at time.Time) models.ScanResult {
	switch {
	case booking == nil:
		return models.ScanResultInvalidQR
	case booking.EventID != scanEventID:
		return models.ScanResultWrongEvent
	case booking.Status == models.BookingStatusCancelled:
		return models.ScanResultCancelled
	case booking.Status == models.BookingStatusRefunded:
		return models.ScanResultRefunded
	case booking.Status == models.BookingStatusPending:
		return models.ScanResultPaymentPending
	case at.Before(event.WindowStart) || at.After(event.WindowEnd):
		return models.ScanResultExpired
	case booking.IsUsed:
		return models.ScanResultAlreadyUsed
	default:
		return models.ScanResultValid
	}
}

// VerifyScan classifies one scan attempt, admits it when valid (or when a
// permitted override forces a rejected branch), and appends the scan record
// regardless of outcome.
func (s *ScanService) VerifyScan(ctx context.Context, req ScanRequest) (*ScanOutcome, error) {
	txn := s.tracer.StartTransaction("verify-scan")
	defer s.tracer.EndTransaction(txn)

	if req.Override {
		if !req.CanOverride {
			return nil, ErrOverrideNotPermitted
		}
		if req.OverrideReason == "" {
			return nil, ErrOverrideReasonRequired
		}
	}

	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	at := s.now().UTC()
	booking := s.decodeBooking(ctx, req.Code)
	result := Classify(booking, event, req.EventID, at)

	overridden := false
	if result == models.ScanResultValid {
		result, err = s.admit(ctx, booking, at)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
	} else if req.Override && overridable(result) {
		// A manager may force a rejected branch through, but the single-use
		// invariant still holds: the admit transaction re-checks the flag.
		result, err = s.admit(ctx, booking, at)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		overridden = result == models.ScanResultValid
	}

	scan := &models.TicketScan{
		ID:            uuid.New(),
		EventID:       req.EventID,
		ScannerID:     req.ScannerID,
		DeviceID:      req.DeviceID,
		Result:        result,
		ScannedAt:     at,
		WasOverridden: overridden,
	}
	if booking != nil {
		id := booking.ID
		scan.BookingID = &id
	}
	if overridden {
		reason := req.OverrideReason
		scan.OverrideReason = &reason
	}

	// The log append is the unit of observability for fraud detection; an
	// append failure is fatal to the call even though entry was decided.
	if err := s.scans.Append(ctx, scan); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if s.indexer != nil {
		if err := s.indexer.IndexScan(ctx, scan); err != nil {
			log.Warn().Err(err).Str("scan_id", scan.ID.String()).Msg("Failed to index scan record")
		}
	}

	s.metrics.IncrementCounter("scans.result." + string(result))
	if result == models.ScanResultValid {
		s.metrics.RecordSuccess("scans")
	} else {
		s.metrics.RecordError("scans")
	}

	log.Info().
		Str("event_id", req.EventID.String()).
		Str("scanner_id", req.ScannerID).
		Str("device_id", req.DeviceID).
		Str("result", string(result)).
		Bool("overridden", overridden).
		Msg("Scan classified")

	return &ScanOutcome{
		Result:        result,
		WasOverridden: overridden,
		Booking:       booking,
		Scan:          scan,
	}, nil
}

// decodeBooking resolves the scanned code to a booking, or nil for malformed
// or unknown codes.
func (s *ScanService) decodeBooking(ctx context.Context, code string) *models.Booking {
	id, err := uuid.Parse(code)
	if err != nil {
		return nil
	}
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Warn().Err(err).Str("code", code).Msg("Booking lookup failed during scan")
		}
		return nil
	}
	return booking
}

// admit performs the atomic used-flag transition. Two simultaneous scans of
// one booking cannot both pass the re-check under the row lock.
func (s *ScanService) admit(ctx context.Context, booking *models.Booking, at time.Time) (models.ScanResult, error) {
	result := models.ScanResultValid
	err := s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.bookings.GetForUpdate(txCtx, booking.ID)
		if err != nil {
			return err
		}
		if current.IsUsed {
			result = models.ScanResultAlreadyUsed
			return nil
		}
		return s.bookings.MarkUsed(txCtx, booking.ID, at)
	})
	if err != nil {
		return "", err
	}
	if result == models.ScanResultValid {
		booking.IsUsed = true
		used := at
		booking.UsedAt = &used
	}
	return result, nil
}

// overridable reports whether a rejected branch may be forced through.
// invalid_qr has no booking to admit, and already_used means a prior valid
// scan consumed the booking.
func overridable(result models.ScanResult) bool {
	switch result {
	case models.ScanResultWrongEvent,
		models.ScanResultCancelled,
		models.ScanResultRefunded,
		models.ScanResultPaymentPending,
		models.ScanResultExpired:
		return true
	default:
		return false
	}
}
