package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
	"example.com/venuetix/services/ticketing/internal/services"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubCatalog is an in-memory catalog store backing the events handler tests.
type stubCatalog struct {
	organizers map[uuid.UUID]models.Organizer
	events     map[uuid.UUID]*models.Event
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		organizers: make(map[uuid.UUID]models.Organizer),
		events:     make(map[uuid.UUID]*models.Event),
	}
}

func (s *stubCatalog) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *stubCatalog) Create(ctx context.Context, event *models.Event) error {
	stored := *event
	s.events[event.ID] = &stored
	return nil
}

func (s *stubCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	event, ok := s.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *stubCatalog) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return s.GetByID(ctx, id)
}

func (s *stubCatalog) GetTicketTypesForUpdate(ctx context.Context, eventID uuid.UUID, typeIDs []uuid.UUID) ([]models.TicketType, error) {
	event, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	var out []models.TicketType
	for _, tt := range event.TicketTypes {
		for _, id := range typeIDs {
			if tt.ID == id {
				out = append(out, tt)
			}
		}
	}
	return out, nil
}

func (s *stubCatalog) GetOrganizer(ctx context.Context, id uuid.UUID) (*models.Organizer, error) {
	org, ok := s.organizers[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &org, nil
}

func (s *stubCatalog) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	event, ok := s.events[id]
	if !ok {
		return repositories.ErrNotFound
	}
	event.Status = status
	return nil
}

func (s *stubCatalog) UpdateTicketTypeCapacity(ctx context.Context, eventID, ticketTypeID uuid.UUID, capacity, capacityDelta int) error {
	event, ok := s.events[eventID]
	if !ok {
		return repositories.ErrNotFound
	}
	for i := range event.TicketTypes {
		if event.TicketTypes[i].ID == ticketTypeID {
			event.TicketTypes[i].Capacity = capacity
			event.TotalCapacity += capacityDelta
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (s *stubCatalog) ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]models.Event, error) {
	var out []models.Event
	for _, event := range s.events {
		if event.OrganizerID == organizerID {
			out = append(out, *event)
		}
	}
	return out, nil
}

func (s *stubCatalog) AddSoldCount(ctx context.Context, ticketTypeID uuid.UUID, delta int) error {
	for _, event := range s.events {
		for i := range event.TicketTypes {
			if event.TicketTypes[i].ID == ticketTypeID {
				event.TicketTypes[i].SoldCount += delta
				return nil
			}
		}
	}
	return repositories.ErrNotFound
}

func (s *stubCatalog) AddSoldTickets(ctx context.Context, eventID uuid.UUID, delta int) error {
	event, ok := s.events[eventID]
	if !ok {
		return repositories.ErrNotFound
	}
	event.SoldTickets += delta
	return nil
}

// stubBookings is an in-memory booking store backing the bookings and scans
// handler tests.
type stubBookings struct {
	bookings map[uuid.UUID]*models.Booking
}

func newStubBookings() *stubBookings {
	return &stubBookings{bookings: make(map[uuid.UUID]*models.Booking)}
}

func (s *stubBookings) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *stubBookings) Create(ctx context.Context, booking *models.Booking) error {
	stored := *booking
	s.bookings[booking.ID] = &stored
	return nil
}

func (s *stubBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, ok := s.bookings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *booking
	return &copied, nil
}

func (s *stubBookings) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.GetByID(ctx, id)
}

func (s *stubBookings) GetLines(ctx context.Context, bookingID uuid.UUID) ([]models.TicketLine, error) {
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return booking.Lines, nil
}

func (s *stubBookings) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error {
	booking, ok := s.bookings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	booking.Status = status
	return nil
}

func (s *stubBookings) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	booking, ok := s.bookings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	booking.IsUsed = true
	used := usedAt
	booking.UsedAt = &used
	return nil
}

// stubScanLog records appended scans.
type stubScanLog struct {
	scans []models.TicketScan
}

func (s *stubScanLog) Append(ctx context.Context, scan *models.TicketScan) error {
	s.scans = append(s.scans, *scan)
	return nil
}

func newEventsRouter(catalog *stubCatalog) *gin.Engine {
	router := gin.New()
	handler := NewEventsHandler(services.NewEventService(catalog, &tracing.NewRelicTracer{}), &tracing.NewRelicTracer{})
	handler.RegisterRoutes(router)
	return router
}

func TestCreateEventEndpoint(t *testing.T) {
	catalog := newStubCatalog()
	organizerID := uuid.New()
	catalog.organizers[organizerID] = models.Organizer{ID: organizerID, Name: "Org"}
	router := newEventsRouter(catalog)

	now := time.Now().UTC()
	body, err := json.Marshal(gin.H{
		"organizer_id": organizerID,
		"name":         "Summer Festival",
		"venue":        "Riverside Park",
		"window_start": now.Add(24 * time.Hour),
		"window_end":   now.Add(30 * time.Hour),
		"ticket_types": []gin.H{
			{"name": "General", "unit_price": 5000, "capacity": 300},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.EventStatusDraft, created.Status)
	require.Equal(t, 300, created.TotalCapacity)

	// Fetch it back through the API.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/events/"+created.ID.String(), nil)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEventEndpointRejectsBadPayload(t *testing.T) {
	router := newEventsRouter(newStubCatalog())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{"name":""}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventTransitionEndpoints(t *testing.T) {
	catalog := newStubCatalog()
	eventID := uuid.New()
	catalog.events[eventID] = &models.Event{ID: eventID, Status: models.EventStatusDraft}
	router := newEventsRouter(catalog)

	post := func(path string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, post(fmt.Sprintf("/events/%s/publish", eventID)))
	require.Equal(t, models.EventStatusPublished, catalog.events[eventID].Status)

	// Republishing conflicts.
	require.Equal(t, http.StatusConflict, post(fmt.Sprintf("/events/%s/publish", eventID)))

	require.Equal(t, http.StatusOK, post(fmt.Sprintf("/events/%s/complete", eventID)))
	require.Equal(t, http.StatusNotFound, post(fmt.Sprintf("/events/%s/publish", uuid.New())))
	require.Equal(t, http.StatusBadRequest, post("/events/not-a-uuid/publish"))
}

// seedPublishedEvent stores a published event with one ticket type.
func seedPublishedEvent(catalog *stubCatalog, capacity int) (uuid.UUID, uuid.UUID) {
	now := time.Now().UTC()
	eventID := uuid.New()
	typeID := uuid.New()
	catalog.events[eventID] = &models.Event{
		ID:            eventID,
		Status:        models.EventStatusPublished,
		WindowStart:   now.Add(-time.Hour),
		WindowEnd:     now.Add(time.Hour),
		TotalCapacity: capacity,
		TicketTypes: []models.TicketType{
			{ID: typeID, EventID: eventID, Name: "General", UnitPrice: 5000, Capacity: capacity},
		},
	}
	return eventID, typeID
}

func TestCreateBookingEndpoint(t *testing.T) {
	catalog := newStubCatalog()
	bookings := newStubBookings()
	eventID, typeID := seedPublishedEvent(catalog, 5)

	inventory := services.NewInventoryService(catalog, bookings, metrics.NewMetrics(), &tracing.NewRelicTracer{})
	router := gin.New()
	NewBookingsHandler(inventory, &tracing.NewRelicTracer{}).RegisterRoutes(router)

	body, err := json.Marshal(gin.H{
		"event_id":             eventID,
		"payment_reference_id": "pay-1",
		"lines": []gin.H{
			{"ticket_type_id": typeID, "quantity": 2},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	require.Equal(t, models.BookingStatusConfirmed, booking.Status)
	require.Equal(t, 2, booking.TotalTickets())

	// Overselling the remaining capacity conflicts with inventory detail.
	body, err = json.Marshal(gin.H{
		"event_id":             eventID,
		"payment_reference_id": "pay-2",
		"lines": []gin.H{
			{"ticket_type_id": typeID, "quantity": 4},
		},
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var rejection map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	require.Equal(t, "insufficient_inventory", rejection["error"])
	require.EqualValues(t, 4, rejection["requested"])
	require.EqualValues(t, 3, rejection["available"])
}

func TestScanEndpointReturnsResultNotError(t *testing.T) {
	catalog := newStubCatalog()
	bookings := newStubBookings()
	eventID, typeID := seedPublishedEvent(catalog, 5)

	bookingID := uuid.New()
	require.NoError(t, bookings.Create(context.Background(), &models.Booking{
		ID:      bookingID,
		EventID: eventID,
		Status:  models.BookingStatusConfirmed,
		Lines:   []models.TicketLine{{ID: uuid.New(), BookingID: bookingID, TicketTypeID: typeID, Quantity: 1}},
	}))

	scanLog := &stubScanLog{}
	scans := services.NewScanService(catalog, bookings, scanLog, nil, metrics.NewMetrics(), &tracing.NewRelicTracer{})
	router := gin.New()
	NewScansHandler(scans, nil, &tracing.NewRelicTracer{}).RegisterRoutes(router)

	post := func(code string) ScanResponse {
		body, err := json.Marshal(gin.H{
			"code":       code,
			"event_id":   eventID,
			"scanner_id": "scanner-1",
			"device_id":  "device-1",
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scans", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	resp := post(bookingID.String())
	require.Equal(t, "valid", resp.Result)
	require.True(t, resp.Admitted)

	// A second presentation is denied but still a 200 with a result.
	resp = post(bookingID.String())
	require.Equal(t, "already_used", resp.Result)
	require.False(t, resp.Admitted)

	resp = post("garbage")
	require.Equal(t, "invalid_qr", resp.Result)

	// Every attempt landed in the scan log.
	require.Len(t, scanLog.scans, 3)
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrUnavailable, http.StatusServiceUnavailable},
		{services.ErrAlreadyReleased, http.StatusConflict},
		{services.ErrEventNotSellable, http.StatusConflict},
		{services.ErrCapacityLocked, http.StatusConflict},
		{services.ErrInvalidStatusChange, http.StatusConflict},
		{services.ErrOverrideNotPermitted, http.StatusForbidden},
		{services.ErrNoLines, http.StatusBadRequest},
		{services.ErrInvalidQuantity, http.StatusBadRequest},
		{services.ErrOverrideReasonRequired, http.StatusBadRequest},
		{&services.InsufficientInventoryError{Requested: 5, Available: 2}, http.StatusConflict},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		respondError(c, tc.err)
		require.Equal(t, tc.status, rec.Code, "error %v", tc.err)
	}
}
