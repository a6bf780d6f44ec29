package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/venuetix/services/ticketing/internal/models"
)

// EventRepository provides access to event and ticket-type data
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// WithTx runs fn inside one database transaction
func (r *EventRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

// Create creates an event together with its ticket types
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := conn(ctx, r.db).Create(event).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create event")
	}
	return nil
}

// GetByID gets an event with its ticket types
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := conn(ctx, r.readOnlyDB).
		Preload("TicketTypes").
		First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}

// GetForUpdate locks the event row for the duration of the surrounding
// transaction. This is the serialization point for one event's counter set;
// different events never contend.
func (r *EventRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to lock event")
	}
	return &event, nil
}

// GetTicketTypesForUpdate locks the requested ticket-type rows, ordered by ID
// so concurrent allocators acquire them in the same order.
func (r *EventRepository) GetTicketTypesForUpdate(ctx context.Context, eventID uuid.UUID, typeIDs []uuid.UUID) ([]models.TicketType, error) {
	var types []models.TicketType
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("event_id = ? AND id IN ?", eventID, typeIDs).
		Order("id").
		Find(&types).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock ticket types")
	}
	return types, nil
}

// AddSoldCount adjusts one ticket type's sold counter by delta
func (r *EventRepository) AddSoldCount(ctx context.Context, ticketTypeID uuid.UUID, delta int) error {
	result := conn(ctx, r.db).
		Model(&models.TicketType{}).
		Where("id = ?", ticketTypeID).
		Update("sold_count", gorm.Expr("sold_count + ?", delta))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update sold count")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSoldTickets adjusts the event-level sold aggregate by delta
func (r *EventRepository) AddSoldTickets(ctx context.Context, eventID uuid.UUID, delta int) error {
	result := conn(ctx, r.db).
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Update("sold_tickets", gorm.Expr("sold_tickets + ?", delta))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update sold tickets")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the event status
func (r *EventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	result := conn(ctx, r.db).
		Model(&models.Event{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update event status")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTicketTypeCapacity sets a ticket type's capacity and adjusts the
// event's total capacity by the difference
func (r *EventRepository) UpdateTicketTypeCapacity(ctx context.Context, eventID, ticketTypeID uuid.UUID, capacity, capacityDelta int) error {
	result := conn(ctx, r.db).
		Model(&models.TicketType{}).
		Where("id = ? AND event_id = ?", ticketTypeID, eventID).
		Update("capacity", capacity)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update ticket type capacity")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	err := conn(ctx, r.db).
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Update("total_capacity", gorm.Expr("total_capacity + ?", capacityDelta)).Error
	if err != nil {
		return errors.Wrap(err, "failed to update total capacity")
	}
	return nil
}

// ListByOrganizer lists an organizer's events
func (r *EventRepository) ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]models.Event, error) {
	var events []models.Event
	err := conn(ctx, r.readOnlyDB).
		Preload("TicketTypes").
		Where("organizer_id = ?", organizerID).
		Order("window_start").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events by organizer")
	}
	return events, nil
}

// ListByStatus lists events in a given status
func (r *EventRepository) ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error) {
	var events []models.Event
	err := conn(ctx, r.readOnlyDB).
		Where("status = ?", status).
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events by status")
	}
	return events, nil
}

// GetOrganizer gets an organizer by ID
func (r *EventRepository) GetOrganizer(ctx context.Context, id uuid.UUID) (*models.Organizer, error) {
	var organizer models.Organizer
	err := conn(ctx, r.readOnlyDB).First(&organizer, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get organizer by ID")
	}
	return &organizer, nil
}

// BookingRepository provides access to booking data
type BookingRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *gorm.DB, readOnlyDB *gorm.DB) *BookingRepository {
	return &BookingRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// WithTx runs fn inside one database transaction
func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

// Create creates a booking together with its lines
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	if err := conn(ctx, r.db).Create(booking).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create booking")
	}
	return nil
}

// GetByID gets a booking with its lines
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := conn(ctx, r.readOnlyDB).
		Preload("Lines").
		First(&booking, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get booking by ID")
	}
	return &booking, nil
}

// GetForUpdate locks the booking row. Lock scope is the single booking;
// unrelated bookings are never blocked.
func (r *BookingRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&booking, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to lock booking")
	}
	return &booking, nil
}

// GetLines gets a booking's lines
func (r *BookingRepository) GetLines(ctx context.Context, bookingID uuid.UUID) ([]models.TicketLine, error) {
	var lines []models.TicketLine
	err := conn(ctx, r.db).
		Where("booking_id = ?", bookingID).
		Find(&lines).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get booking lines")
	}
	return lines, nil
}

// UpdateStatus sets the booking status
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error {
	result := conn(ctx, r.db).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update booking status")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsed flips the used flag. The caller must hold the booking row lock and
// have verified the flag is still false.
func (r *BookingRepository) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	result := conn(ctx, r.db).
		Model(&models.Booking{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark booking as used")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByEvent lists an event's bookings with their lines
func (r *BookingRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	err := conn(ctx, r.readOnlyDB).
		Preload("Lines").
		Where("event_id = ?", eventID).
		Find(&bookings).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bookings by event")
	}
	return bookings, nil
}

// ScanRepository provides access to the append-only scan log
type ScanRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ScanRepository {
	return &ScanRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Append writes one scan record. It deliberately ignores any transaction in
// ctx: the scan log never waits on booking or inventory locks.
func (r *ScanRepository) Append(ctx context.Context, scan *models.TicketScan) error {
	if err := r.db.WithContext(ctx).Create(scan).Error; err != nil {
		return errors.Wrap(err, "failed to append scan record")
	}
	return nil
}

// ListByEvent lists all scan records for an event, oldest first
func (r *ScanRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.TicketScan, error) {
	var scans []models.TicketScan
	err := conn(ctx, r.readOnlyDB).
		Where("event_id = ?", eventID).
		Order("scanned_at").
		Find(&scans).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scans by event")
	}
	return scans, nil
}

// ListByEventSince lists an event's scan records at or after since
func (r *ScanRepository) ListByEventSince(ctx context.Context, eventID uuid.UUID, since time.Time) ([]models.TicketScan, error) {
	var scans []models.TicketScan
	err := conn(ctx, r.readOnlyDB).
		Where("event_id = ? AND scanned_at >= ?", eventID, since).
		Order("scanned_at").
		Find(&scans).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scans by event since")
	}
	return scans, nil
}

// AlertRepository provides access to persisted fraud alerts
type AlertRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *gorm.DB, readOnlyDB *gorm.DB) *AlertRepository {
	return &AlertRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ReplaceForEvent swaps the event's persisted alerts for the given set. The
// sweep recomputes from the full scan log each run, so replacement keeps the
// table in step with the analyzer's sliding windows.
func (r *AlertRepository) ReplaceForEvent(ctx context.Context, eventID uuid.UUID, alerts []models.FraudAlert) error {
	return withTx(ctx, r.db, func(txCtx context.Context) error {
		if err := conn(txCtx, r.db).
			Where("event_id = ?", eventID).
			Delete(&models.FraudAlert{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear fraud alerts")
		}
		if len(alerts) == 0 {
			return nil
		}
		if err := conn(txCtx, r.db).Create(&alerts).Error; err != nil {
			return errors.Wrap(err, "failed to persist fraud alerts")
		}
		return nil
	})
}

// ListByEvent lists the event's persisted alerts, newest first
func (r *AlertRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FraudAlert, error) {
	var alerts []models.FraudAlert
	err := conn(ctx, r.readOnlyDB).
		Where("event_id = ?", eventID).
		Order("detected_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fraud alerts")
	}
	return alerts, nil
}
