package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/venuetix/services/ticketing/internal/services"
)

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var insufficient *services.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusConflict, gin.H{
			"error":          "insufficient_inventory",
			"ticket_type_id": insufficient.TicketTypeID,
			"requested":      insufficient.Requested,
			"available":      insufficient.Available,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyReleased),
		errors.Is(err, services.ErrEventNotSellable),
		errors.Is(err, services.ErrCapacityLocked),
		errors.Is(err, services.ErrInvalidStatusChange):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOverrideNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrNoLines),
		errors.Is(err, services.ErrDuplicateTicketType),
		errors.Is(err, services.ErrUnknownTicketType),
		errors.Is(err, services.ErrInvalidCapacity),
		errors.Is(err, services.ErrInvalidWindow),
		errors.Is(err, services.ErrOverrideReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
