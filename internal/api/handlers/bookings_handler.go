package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// BookingsHandler handles reservation HTTP requests
type BookingsHandler struct {
	inventory *services.InventoryService
	tracer    tracing.Tracer
}

// NewBookingsHandler creates a new bookings handler
func NewBookingsHandler(inventory *services.InventoryService, tracer tracing.Tracer) *BookingsHandler {
	return &BookingsHandler{
		inventory: inventory,
		tracer:    tracer,
	}
}

// ReservationLineRequest is one requested ticket-type position
type ReservationLineRequest struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id" binding:"required"`
	Quantity     int       `json:"quantity" binding:"required"`
}

// CreateBookingRequest is the reservation payload. The payment reference is
// supplied by the payment collaborator after it has obtained authorization.
type CreateBookingRequest struct {
	EventID            uuid.UUID                `json:"event_id" binding:"required"`
	PaymentReferenceID string                   `json:"payment_reference_id" binding:"required"`
	Lines              []ReservationLineRequest `json:"lines" binding:"required,dive"`
}

// HandleCreateBooking creates a reservation
func (h *BookingsHandler) HandleCreateBooking(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-booking")
	defer h.tracer.EndTransaction(txn)

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid booking request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "event_id", req.EventID.String())

	in := services.CreateReservationInput{
		EventID:            req.EventID,
		PaymentReferenceID: req.PaymentReferenceID,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, services.ReservationLine{
			TicketTypeID: line.TicketTypeID,
			Quantity:     line.Quantity,
		})
	}

	booking, err := h.inventory.CreateReservation(c.Request.Context(), in)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// HandleGetBooking returns one booking
func (h *BookingsHandler) HandleGetBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	booking, err := h.inventory.GetBooking(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// HandleCancelBooking releases a booking's capacity as a cancellation
func (h *BookingsHandler) HandleCancelBooking(c *gin.Context) {
	h.release(c, services.ReleaseReasonCancel)
}

// HandleRefundBooking releases a booking's capacity after the payment
// collaborator confirms a refund
func (h *BookingsHandler) HandleRefundBooking(c *gin.Context) {
	h.release(c, services.ReleaseReasonRefund)
}

func (h *BookingsHandler) release(c *gin.Context, reason services.ReleaseReason) {
	txn := h.tracer.StartTransaction("api-release-booking")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	if err := h.inventory.ReleaseReservation(c.Request.Context(), id, reason); err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	status := "cancelled"
	if reason == services.ReleaseReasonRefund {
		status = "refunded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// RegisterRoutes registers the handler's routes
func (h *BookingsHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/bookings", h.HandleCreateBooking)
	router.GET("/bookings/:id", h.HandleGetBooking)
	router.POST("/bookings/:id/cancel", h.HandleCancelBooking)
	router.POST("/bookings/:id/refund", h.HandleRefundBooking)
}
