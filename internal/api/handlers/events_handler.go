package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// EventsHandler handles event catalog HTTP requests
type EventsHandler struct {
	events *services.EventService
	tracer tracing.Tracer
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events *services.EventService, tracer tracing.Tracer) *EventsHandler {
	return &EventsHandler{
		events: events,
		tracer: tracer,
	}
}

// TicketTypeRequest describes one ticket type at event creation
type TicketTypeRequest struct {
	Name      string `json:"name" binding:"required"`
	UnitPrice int64  `json:"unit_price"`
	Capacity  int    `json:"capacity" binding:"required"`
}

// CreateEventRequest is the event creation payload
type CreateEventRequest struct {
	OrganizerID uuid.UUID           `json:"organizer_id" binding:"required"`
	Name        string              `json:"name" binding:"required"`
	Venue       string              `json:"venue"`
	WindowStart time.Time           `json:"window_start" binding:"required"`
	WindowEnd   time.Time           `json:"window_end" binding:"required"`
	TicketTypes []TicketTypeRequest `json:"ticket_types" binding:"required,dive"`
}

// UpdateCapacityRequest is the pre-sale capacity edit payload
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity" binding:"required"`
}

// HandleCreateEvent creates a draft event
func (h *EventsHandler) HandleCreateEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-event")
	defer h.tracer.EndTransaction(txn)

	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid event creation request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := services.CreateEventInput{
		OrganizerID: req.OrganizerID,
		Name:        req.Name,
		Venue:       req.Venue,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
	}
	for _, tt := range req.TicketTypes {
		in.TicketTypes = append(in.TicketTypes, services.TicketTypeInput{
			Name:      tt.Name,
			UnitPrice: tt.UnitPrice,
			Capacity:  tt.Capacity,
		})
	}

	event, err := h.events.CreateEvent(c.Request.Context(), in)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// HandleGetEvent returns one event
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.events.GetEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleListEvents lists an organizer's events
func (h *EventsHandler) HandleListEvents(c *gin.Context) {
	organizerID, err := uuid.Parse(c.Query("organizer_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organizer_id query parameter required"})
		return
	}

	events, err := h.events.ListEvents(c.Request.Context(), organizerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// HandlePublishEvent opens a draft event for sale
func (h *EventsHandler) HandlePublishEvent(c *gin.Context) {
	h.transition(c, h.events.PublishEvent)
}

// HandleCancelEvent cancels an event
func (h *EventsHandler) HandleCancelEvent(c *gin.Context) {
	h.transition(c, h.events.CancelEvent)
}

// HandleCompleteEvent closes out a published event
func (h *EventsHandler) HandleCompleteEvent(c *gin.Context) {
	h.transition(c, h.events.CompleteEvent)
}

func (h *EventsHandler) transition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := fn(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleUpdateCapacity edits a ticket type's capacity pre-sale
func (h *EventsHandler) HandleUpdateCapacity(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	ticketTypeID, err := uuid.Parse(c.Param("ticketTypeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket type id"})
		return
	}

	var req UpdateCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.events.UpdateTicketTypeCapacity(c.Request.Context(), eventID, ticketTypeID, req.Capacity); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/events", h.HandleCreateEvent)
	router.GET("/events", h.HandleListEvents)
	router.GET("/events/:id", h.HandleGetEvent)
	router.POST("/events/:id/publish", h.HandlePublishEvent)
	router.POST("/events/:id/cancel", h.HandleCancelEvent)
	router.POST("/events/:id/complete", h.HandleCompleteEvent)
	router.PATCH("/events/:id/ticket-types/:ticketTypeId/capacity", h.HandleUpdateCapacity)
}
