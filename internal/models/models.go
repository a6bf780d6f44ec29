package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventStatus is the lifecycle state of an event. Cancelled events are a
// status, never a deletion.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
)

// ScanResult classifies one entry-scan attempt. Every value, including the
// rejections, is a successful classification outcome and is logged.
type ScanResult string

const (
	ScanResultInvalidQR      ScanResult = "invalid_qr"
	ScanResultWrongEvent     ScanResult = "wrong_event"
	ScanResultCancelled      ScanResult = "cancelled"
	ScanResultRefunded       ScanResult = "refunded"
	ScanResultPaymentPending ScanResult = "payment_pending"
	ScanResultExpired        ScanResult = "expired"
	ScanResultAlreadyUsed    ScanResult = "already_used"
	ScanResultValid          ScanResult = "valid"
)

// AlertType identifies a fraud-detection pattern.
type AlertType string

const (
	AlertTypeMultipleScanAttempts AlertType = "multiple_scan_attempts"
	AlertTypeRapidScanning        AlertType = "rapid_scanning"
)

// AlertSeverity grades a fraud alert.
type AlertSeverity string

const (
	AlertSeverityMedium AlertSeverity = "medium"
	AlertSeverityHigh   AlertSeverity = "high"
)

// Organizer owns events. Every event resolves its organizer at creation;
// there is no fallback lookup at call time.
type Organizer struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"not null;uniqueIndex" json:"email"`
	Events    []Event        `gorm:"foreignKey:OrganizerID" json:"-"`
}

// Event represents a timed, ticketed event with per-ticket-type inventory.
type Event struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizerID   uuid.UUID      `gorm:"type:uuid;not null" json:"organizer_id"`
	Name          string         `gorm:"not null" json:"name"`
	Venue         string         `json:"venue"`
	Status        EventStatus    `gorm:"not null;default:draft" json:"status"`
	WindowStart   time.Time      `gorm:"not null" json:"window_start"`
	WindowEnd     time.Time      `gorm:"not null" json:"window_end"`
	TotalCapacity int            `gorm:"not null;default:0" json:"total_capacity"`
	SoldTickets   int            `gorm:"not null;default:0" json:"sold_tickets"`
	Organizer     Organizer      `gorm:"foreignKey:OrganizerID" json:"-"`
	TicketTypes   []TicketType   `gorm:"foreignKey:EventID" json:"ticket_types,omitempty"`
}

// Sellable reports whether new reservations may be created against the event.
func (e *Event) Sellable() bool {
	return e.Status == EventStatusPublished
}

// TicketType is a priced ticket category with its own capacity and sold
// counter. The counters live on a dedicated row per (event, ticket type) and
// are mutated only inside allocator transactions.
type TicketType struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	EventID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Name      string         `gorm:"not null" json:"name"`
	UnitPrice int64          `gorm:"not null" json:"unit_price"` // minor currency units
	Capacity  int            `gorm:"not null" json:"capacity"`
	SoldCount int            `gorm:"not null;default:0" json:"sold_count"`
}

// Available returns the remaining sellable units for the type.
func (t *TicketType) Available() int {
	return t.Capacity - t.SoldCount
}

// Booking is a confirmed claim on ticket-type units, tied to the payment
// reference that authorized it. Lines are immutable after creation; only
// Status and the used flag change.
type Booking struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
	EventID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	PaymentReferenceID string         `gorm:"not null" json:"payment_reference_id"`
	Status             BookingStatus  `gorm:"not null" json:"status"`
	IsUsed             bool           `gorm:"not null;default:false" json:"is_used"`
	UsedAt             *time.Time     `json:"used_at,omitempty"`
	Lines              []TicketLine   `gorm:"foreignKey:BookingID" json:"lines,omitempty"`
}

// TotalTickets sums the line quantities of the booking.
func (b *Booking) TotalTickets() int {
	total := 0
	for _, l := range b.Lines {
		total += l.Quantity
	}
	return total
}

// TicketLine is one ticket-type position within a booking.
type TicketLine struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	BookingID           uuid.UUID `gorm:"type:uuid;not null;index" json:"booking_id"`
	TicketTypeID        uuid.UUID `gorm:"type:uuid;not null" json:"ticket_type_id"`
	Quantity            int       `gorm:"not null" json:"quantity"`
	UnitPriceAtPurchase int64     `gorm:"not null" json:"unit_price_at_purchase"`
}

// TicketScan is one append-only record of an entry-scan attempt. BookingID is
// nil when the scanned code did not decode to any booking.
type TicketScan struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	EventID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"event_id"`
	BookingID      *uuid.UUID `gorm:"type:uuid;index" json:"booking_id,omitempty"`
	ScannerID      string     `gorm:"not null;index" json:"scanner_id"`
	DeviceID       string     `gorm:"not null;index" json:"device_id"`
	Result         ScanResult `gorm:"not null" json:"result"`
	ScannedAt      time.Time  `gorm:"not null;index" json:"scanned_at"`
	WasOverridden  bool       `gorm:"not null;default:false" json:"was_overridden"`
	OverrideReason *string    `json:"override_reason,omitempty"`
}

// FraudAlert is a derived signal persisted by the scheduled analyzer sweep.
type FraudAlert struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	EventID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"event_id"`
	Type         AlertType     `gorm:"not null" json:"type"`
	Severity     AlertSeverity `gorm:"not null" json:"severity"`
	BookingID    *uuid.UUID    `gorm:"type:uuid" json:"booking_id,omitempty"`
	ScannerID    *string       `json:"scanner_id,omitempty"`
	DeviceID     *string       `json:"device_id,omitempty"`
	AttemptCount int           `gorm:"not null;default:0" json:"attempt_count"`
	DetectedAt   time.Time     `gorm:"not null" json:"detected_at"`
}

// ScanPayload is the wire form of a scan event arriving from a venue scanner
// device over the message queue.
type ScanPayload struct {
	Code           string `json:"code"`
	EventID        string `json:"event_id"`
	ScannerID      string `json:"scanner_id"`
	DeviceID       string `json:"device_id"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"override_reason"`
	CanOverride    bool   `json:"can_override"`
	ScannedAt      int64  `json:"scanned_at"` // unix seconds, 0 means "now"
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Organizer{},
		&Event{},
		&TicketType{},
		&Booking{},
		&TicketLine{},
		&TicketScan{},
		&FraudAlert{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
