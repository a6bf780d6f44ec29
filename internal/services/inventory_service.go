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

// InventoryEventStore is the event-side storage the allocator needs.
type InventoryEventStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetTicketTypesForUpdate(ctx context.Context, eventID uuid.UUID, typeIDs []uuid.UUID) ([]models.TicketType, error)
	AddSoldCount(ctx context.Context, ticketTypeID uuid.UUID, delta int) error
	AddSoldTickets(ctx context.Context, eventID uuid.UUID, delta int) error
}

// InventoryBookingStore is the booking-side storage the allocator needs.
type InventoryBookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetLines(ctx context.Context, bookingID uuid.UUID) ([]models.TicketLine, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error
}

// InventoryService is the transactional allocator: it turns a reservation
// request into a confirmed booking or a rejection, and turns cancellations
// and refunds back into released capacity. All counter mutations for one
// event happen under that event's row lock.
type InventoryService struct {
	events     InventoryEventStore
	bookings   InventoryBookingStore
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	maxRetries int
}

const defaultAllocatorRetries = 3

// NewInventoryService creates a new inventory service
func NewInventoryService(
	events InventoryEventStore,
	bookings InventoryBookingStore,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *InventoryService {
	return &InventoryService{
		events:     events,
		bookings:   bookings,
		metrics:    metricsCollector,
		tracer:     tracer,
		maxRetries: defaultAllocatorRetries,
	}
}

// ReservationLine is one requested ticket-type position.
type ReservationLine struct {
	TicketTypeID uuid.UUID
	Quantity     int
}

// CreateReservationInput carries a reservation request.
type CreateReservationInput struct {
	EventID            uuid.UUID
	PaymentReferenceID string
	Lines              []ReservationLine
}

// ReleaseReason distinguishes cancellation from refund-driven release.
type ReleaseReason string

const (
	ReleaseReasonCancel ReleaseReason = "cancel"
	ReleaseReasonRefund ReleaseReason = "refund"
)

// CreateReservation reserves the requested quantities in one atomic step and
// returns the confirmed booking. A multi-line request either fully reserves
// or fully fails; on rejection nothing is mutated. Transient lock conflicts
// are retried internally and surface as ErrUnavailable only once exhausted.
func (s *InventoryService) CreateReservation(ctx context.Context, in CreateReservationInput) (*models.Booking, error) {
	txn := s.tracer.StartTransaction("create-reservation")
	defer s.tracer.EndTransaction(txn)

	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}

	started := time.Now()
	var booking *models.Booking
	var err error
	for attempt := 0; ; attempt++ {
		booking, err = s.tryReserve(ctx, in)
		if err == nil || !repositories.IsSerializationConflict(err) {
			break
		}
		if attempt+1 >= s.maxRetries {
			log.Warn().
				Str("event_id", in.EventID.String()).
				Int("attempts", attempt+1).
				Msg("Reservation retries exhausted on lock conflicts")
			s.metrics.IncrementCounter("reservations.conflict_exhausted")
			err = ErrUnavailable
			break
		}
	}
	s.metrics.RecordTimer("reservations.create", time.Since(started).Milliseconds())

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.RecordError("reservations")
		return nil, err
	}

	s.metrics.RecordSuccess("reservations")
	s.metrics.IncrementCounterBy("reservations.tickets_sold", int64(booking.TotalTickets()))
	log.Info().
		Str("booking_id", booking.ID.String()).
		Str("event_id", in.EventID.String()).
		Int("tickets", booking.TotalTickets()).
		Msg("Reservation confirmed")

	return booking, nil
}

// tryReserve runs one attempt of the check-then-increment transaction.
func (s *InventoryService) tryReserve(ctx context.Context, in CreateReservationInput) (*models.Booking, error) {
	var booking *models.Booking

	err := s.events.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.events.GetForUpdate(txCtx, in.EventID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !event.Sellable() {
			return ErrEventNotSellable
		}

		typeIDs := make([]uuid.UUID, 0, len(in.Lines))
		for _, line := range in.Lines {
			typeIDs = append(typeIDs, line.TicketTypeID)
		}
		types, err := s.events.GetTicketTypesForUpdate(txCtx, in.EventID, typeIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*models.TicketType, len(types))
		for i := range types {
			byID[types[i].ID] = &types[i]
		}

		// Validate every line before any mutation.
		total := 0
		for _, line := range in.Lines {
			tt, ok := byID[line.TicketTypeID]
			if !ok {
				return ErrUnknownTicketType
			}
			if line.Quantity > tt.Available() {
				return &InsufficientInventoryError{
					TicketTypeID: tt.ID,
					Requested:    line.Quantity,
					Available:    tt.Available(),
				}
			}
			total += line.Quantity
		}

		now := time.Now().UTC()
		b := &models.Booking{
			ID:                 uuid.New(),
			EventID:            in.EventID,
			PaymentReferenceID: in.PaymentReferenceID,
			Status:             models.BookingStatusConfirmed,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		for _, line := range in.Lines {
			b.Lines = append(b.Lines, models.TicketLine{
				ID:                  uuid.New(),
				BookingID:           b.ID,
				TicketTypeID:        line.TicketTypeID,
				Quantity:            line.Quantity,
				UnitPriceAtPurchase: byID[line.TicketTypeID].UnitPrice,
			})
		}

		for _, line := range in.Lines {
			if err := s.events.AddSoldCount(txCtx, line.TicketTypeID, line.Quantity); err != nil {
				return err
			}
		}
		if err := s.events.AddSoldTickets(txCtx, in.EventID, total); err != nil {
			return err
		}
		if err := s.bookings.Create(txCtx, b); err != nil {
			return err
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// GetBooking returns one booking with its lines.
func (s *InventoryService) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return booking, nil
}

// ReleaseReservation releases a confirmed booking's capacity back to the
// event and marks the booking cancelled or refunded. Releasing an already
// released booking is a no-op error, never a second decrement.
func (s *InventoryService) ReleaseReservation(ctx context.Context, bookingID uuid.UUID, reason ReleaseReason) error {
	txn := s.tracer.StartTransaction("release-reservation")
	defer s.tracer.EndTransaction(txn)

	var err error
	for attempt := 0; ; attempt++ {
		err = s.tryRelease(ctx, bookingID, reason)
		if err == nil || !repositories.IsSerializationConflict(err) {
			break
		}
		if attempt+1 >= s.maxRetries {
			err = ErrUnavailable
			break
		}
	}

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.RecordError("releases")
		return err
	}

	s.metrics.RecordSuccess("releases")
	log.Info().
		Str("booking_id", bookingID.String()).
		Str("reason", string(reason)).
		Msg("Reservation released")
	return nil
}

func (s *InventoryService) tryRelease(ctx context.Context, bookingID uuid.UUID, reason ReleaseReason) error {
	target := models.BookingStatusCancelled
	if reason == ReleaseReasonRefund {
		target = models.BookingStatusRefunded
	}

	return s.events.WithTx(ctx, func(txCtx context.Context) error {
		// Peek at the booking to learn its event, then take the event lock
		// first so release and reserve serialize the same way.
		peek, err := s.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		event, err := s.events.GetForUpdate(txCtx, peek.EventID)
		if err != nil {
			return err
		}

		booking, err := s.bookings.GetForUpdate(txCtx, bookingID)
		if err != nil {
			return err
		}
		switch booking.Status {
		case models.BookingStatusConfirmed:
		case models.BookingStatusCancelled, models.BookingStatusRefunded:
			return ErrAlreadyReleased
		default:
			return ErrAlreadyReleased
		}

		lines, err := s.bookings.GetLines(txCtx, bookingID)
		if err != nil {
			return err
		}

		typeIDs := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			typeIDs = append(typeIDs, line.TicketTypeID)
		}
		types, err := s.events.GetTicketTypesForUpdate(txCtx, event.ID, typeIDs)
		if err != nil {
			return err
		}
		soldByType := make(map[uuid.UUID]int, len(types))
		for _, tt := range types {
			soldByType[tt.ID] = tt.SoldCount
		}

		total := 0
		for _, line := range lines {
			release := line.Quantity
			if sold := soldByType[line.TicketTypeID]; release > sold {
				// A decrement below zero means a prior double-release slipped
				// through; surface it loudly instead of clamping silently.
				log.Error().
					Str("booking_id", bookingID.String()).
					Str("ticket_type_id", line.TicketTypeID.String()).
					Int("sold_count", sold).
					Int("release_quantity", release).
					Msg("Invariant violation: release would drive sold count negative")
				s.metrics.IncrementCounter("releases.invariant_violations")
				release = sold
			}
			if err := s.events.AddSoldCount(txCtx, line.TicketTypeID, -release); err != nil {
				return err
			}
			total += release
		}
		if err := s.events.AddSoldTickets(txCtx, event.ID, -total); err != nil {
			return err
		}

		return s.bookings.UpdateStatus(txCtx, bookingID, target)
	})
}

func validateLines(lines []ReservationLine) error {
	if len(lines) == 0 {
		return ErrNoLines
	}
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if seen[line.TicketTypeID] {
			return ErrDuplicateTicketType
		}
		seen[line.TicketTypeID] = true
	}
	return nil
}
