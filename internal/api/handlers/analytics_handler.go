package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// AnalyticsHandler handles check-in analytics and fraud-alert HTTP requests
type AnalyticsHandler struct {
	analytics *services.AnalyticsService
	fraud     *services.FraudService
	tracer    tracing.Tracer
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analytics *services.AnalyticsService, fraud *services.FraudService, tracer tracing.Tracer) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		fraud:     fraud,
		tracer:    tracer,
	}
}

// GetCheckInStats returns aggregate check-in statistics for an event
func (h *AnalyticsHandler) GetCheckInStats(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-checkin-stats")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	stats, err := h.analytics.CheckInStats(c.Request.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("Failed to compute check-in stats")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetScannerLeaderboard returns per-scanner activity for an event
func (h *AnalyticsHandler) GetScannerLeaderboard(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-scanner-leaderboard")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	scanners, err := h.analytics.ScannerLeaderboard(c.Request.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("Failed to compute scanner leaderboard")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "scanners": scanners})
}

// GetFraudAlerts returns fraud alerts for an event
func (h *AnalyticsHandler) GetFraudAlerts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-fraud-alerts")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	alerts, err := h.fraud.ListAlerts(c.Request.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("Failed to list fraud alerts")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "alerts": alerts})
}

// RegisterRoutes registers the handler's routes
func (h *AnalyticsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/events/:id/analytics/checkin", h.GetCheckInStats)
	router.GET("/events/:id/analytics/scanners", h.GetScannerLeaderboard)
	router.GET("/events/:id/fraud-alerts", h.GetFraudAlerts)
}
