package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// ScanSearcher queries the indexed scan stream.
type ScanSearcher interface {
	SearchScans(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error)
}

// ScansHandler handles entry-scan HTTP requests
type ScansHandler struct {
	scans    *services.ScanService
	searcher ScanSearcher
	tracer   tracing.Tracer
}

// NewScansHandler creates a new scans handler. searcher may be nil when the
// search backend is unavailable.
func NewScansHandler(scans *services.ScanService, searcher ScanSearcher, tracer tracing.Tracer) *ScansHandler {
	return &ScansHandler{
		scans:    scans,
		searcher: searcher,
		tracer:   tracer,
	}
}

// ScanRequest is one entry-scan attempt. CanOverride is asserted by the
// staff-auth collaborator upstream and passed through.
type ScanRequest struct {
	Code           string    `json:"code" binding:"required"`
	EventID        uuid.UUID `json:"event_id" binding:"required"`
	ScannerID      string    `json:"scanner_id" binding:"required"`
	DeviceID       string    `json:"device_id" binding:"required"`
	Override       bool      `json:"override"`
	OverrideReason string    `json:"override_reason"`
	CanOverride    bool      `json:"can_override"`
}

// ScanResponse reports the classification of one scan attempt
type ScanResponse struct {
	Result        string    `json:"result"`
	Admitted      bool      `json:"admitted"`
	WasOverridden bool      `json:"was_overridden"`
	BookingID     *string   `json:"booking_id,omitempty"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// HandleScan classifies one scan attempt. Every classification, including
// denials, is a 200: denial is a result, not a transport error.
func (h *ScansHandler) HandleScan(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-verify-scan")
	defer h.tracer.EndTransaction(txn)

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid scan request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "event_id", req.EventID.String())
	h.tracer.AddAttribute(txn, "scanner_id", req.ScannerID)

	outcome, err := h.scans.VerifyScan(c.Request.Context(), services.ScanRequest{
		Code:           req.Code,
		EventID:        req.EventID,
		ScannerID:      req.ScannerID,
		DeviceID:       req.DeviceID,
		Override:       req.Override,
		OverrideReason: req.OverrideReason,
		CanOverride:    req.CanOverride,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	resp := ScanResponse{
		Result:        string(outcome.Result),
		Admitted:      outcome.Result == models.ScanResultValid || outcome.WasOverridden,
		WasOverridden: outcome.WasOverridden,
		ScannedAt:     outcome.Scan.ScannedAt,
	}
	if outcome.Booking != nil {
		id := outcome.Booking.ID.String()
		resp.BookingID = &id
	}

	c.JSON(http.StatusOK, resp)
}

// HandleSearchScans queries the indexed scan stream for an event, optionally
// filtered by result and scanner.
func (h *ScansHandler) HandleSearchScans(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan search is unavailable"})
		return
	}

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"event_id": eventID.String()}},
	}
	if result := c.Query("result"); result != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"result": result},
		})
	}
	if scannerID := c.Query("scanner_id"); scannerID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"scanner_id": scannerID},
		})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filters,
			},
		},
		"sort": []map[string]interface{}{
			{"scanned_at": map[string]interface{}{"order": "desc"}},
		},
		"size": 100,
	}

	docs, err := h.searcher.SearchScans(c.Request.Context(), query)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("Scan search failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "scan search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "scans": docs})
}

// RegisterRoutes registers the handler's routes
func (h *ScansHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/scans", h.HandleScan)
	router.GET("/events/:id/scans/search", h.HandleSearchScans)
}
