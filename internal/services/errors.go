package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Caller-facing errors. Scan classifications are not errors; see ScanResult.
var (
	ErrNotFound               = errors.New("not found")
	ErrEventNotSellable       = errors.New("event is not open for sale")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrNoLines                = errors.New("reservation requires at least one line")
	ErrDuplicateTicketType    = errors.New("duplicate ticket type in reservation")
	ErrUnknownTicketType      = errors.New("ticket type does not belong to event")
	ErrAlreadyReleased        = errors.New("booking already released")
	ErrUnavailable            = errors.New("inventory temporarily unavailable, retry after re-quoting")
	ErrCapacityLocked         = errors.New("capacity cannot change after sales started")
	ErrInvalidCapacity        = errors.New("capacity must be positive")
	ErrInvalidWindow          = errors.New("event window end must be after start")
	ErrInvalidStatusChange    = errors.New("invalid event status transition")
	ErrOverrideReasonRequired = errors.New("override requires a reason")
	ErrOverrideNotPermitted   = errors.New("scanner is not permitted to override")
)

// InsufficientInventoryError rejects a reservation whose lines exceed what is
// available. The caller must re-quote availability before retrying.
type InsufficientInventoryError struct {
	TicketTypeID uuid.UUID
	Requested    int
	Available    int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket type %s: requested %d, available %d",
		e.TicketTypeID, e.Requested, e.Available)
}

// IsInsufficientInventory reports whether err is an inventory rejection.
func IsInsufficientInventory(err error) bool {
	var target *InsufficientInventoryError
	return errors.As(err, &target)
}
