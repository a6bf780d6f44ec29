package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
)

// fakeDB is a shared in-memory backing store for the per-concern fakes.
// WithTx serializes callers on a single mutex, standing in for the row locks
// the real repositories take.
type fakeDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	organizers map[uuid.UUID]models.Organizer
	events     map[uuid.UUID]models.Event
	types      map[uuid.UUID]models.TicketType
	bookings   map[uuid.UUID]models.Booking
	lines      map[uuid.UUID][]models.TicketLine
	scans      []models.TicketScan
	alerts     map[uuid.UUID][]models.FraudAlert
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		organizers: make(map[uuid.UUID]models.Organizer),
		events:     make(map[uuid.UUID]models.Event),
		types:      make(map[uuid.UUID]models.TicketType),
		bookings:   make(map[uuid.UUID]models.Booking),
		lines:      make(map[uuid.UUID][]models.TicketLine),
		alerts:     make(map[uuid.UUID][]models.FraudAlert),
	}
}

func (db *fakeDB) withTx(fn func(ctx context.Context) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	return fn(context.Background())
}

func (db *fakeDB) addOrganizer() uuid.UUID {
	db.mu.Lock()
	defer db.mu.Unlock()
	org := models.Organizer{ID: uuid.New(), Name: "Org", Email: uuid.NewString() + "@example.com"}
	db.organizers[org.ID] = org
	return org.ID
}

// addEvent seeds a published event with one ticket type of the given capacity
// and returns the event and ticket type IDs.
func (db *fakeDB) addEvent(status models.EventStatus, capacity int, windowStart, windowEnd time.Time) (uuid.UUID, uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	event := models.Event{
		ID:            uuid.New(),
		OrganizerID:   uuid.New(),
		Name:          "Test Event",
		Status:        status,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		TotalCapacity: capacity,
	}
	tt := models.TicketType{
		ID:        uuid.New(),
		EventID:   event.ID,
		Name:      "General",
		UnitPrice: 5000,
		Capacity:  capacity,
	}
	db.events[event.ID] = event
	db.types[tt.ID] = tt
	return event.ID, tt.ID
}

func (db *fakeDB) addTicketType(eventID uuid.UUID, capacity int) uuid.UUID {
	db.mu.Lock()
	defer db.mu.Unlock()
	tt := models.TicketType{
		ID:        uuid.New(),
		EventID:   eventID,
		Name:      "VIP",
		UnitPrice: 12000,
		Capacity:  capacity,
	}
	db.types[tt.ID] = tt
	event := db.events[eventID]
	event.TotalCapacity += capacity
	db.events[eventID] = event
	return tt.ID
}

func (db *fakeDB) eventWithTypes(id uuid.UUID) (models.Event, bool) {
	event, ok := db.events[id]
	if !ok {
		return models.Event{}, false
	}
	for _, tt := range db.types {
		if tt.EventID == id {
			event.TicketTypes = append(event.TicketTypes, tt)
		}
	}
	sort.Slice(event.TicketTypes, func(i, j int) bool {
		return event.TicketTypes[i].ID.String() < event.TicketTypes[j].ID.String()
	})
	return event, true
}

func (db *fakeDB) soldCount(typeID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.types[typeID].SoldCount
}

func (db *fakeDB) soldTickets(eventID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.events[eventID].SoldTickets
}

// fakeEventStore implements the event-side store interfaces.
type fakeEventStore struct {
	db *fakeDB
}

func (s *fakeEventStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.withTx(fn)
}

func (s *fakeEventStore) Create(ctx context.Context, event *models.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := *event
	types := stored.TicketTypes
	stored.TicketTypes = nil
	s.db.events[stored.ID] = stored
	for _, tt := range types {
		s.db.types[tt.ID] = tt
	}
	return nil
}

func (s *fakeEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	event, ok := s.db.eventWithTypes(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &event, nil
}

func (s *fakeEventStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	event, ok := s.db.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &event, nil
}

func (s *fakeEventStore) GetTicketTypesForUpdate(ctx context.Context, eventID uuid.UUID, typeIDs []uuid.UUID) ([]models.TicketType, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.TicketType
	for _, id := range typeIDs {
		if tt, ok := s.db.types[id]; ok && tt.EventID == eventID {
			out = append(out, tt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *fakeEventStore) GetOrganizer(ctx context.Context, id uuid.UUID) (*models.Organizer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	org, ok := s.db.organizers[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &org, nil
}

func (s *fakeEventStore) AddSoldCount(ctx context.Context, ticketTypeID uuid.UUID, delta int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	tt, ok := s.db.types[ticketTypeID]
	if !ok {
		return repositories.ErrNotFound
	}
	tt.SoldCount += delta
	s.db.types[ticketTypeID] = tt
	return nil
}

func (s *fakeEventStore) AddSoldTickets(ctx context.Context, eventID uuid.UUID, delta int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	event, ok := s.db.events[eventID]
	if !ok {
		return repositories.ErrNotFound
	}
	event.SoldTickets += delta
	s.db.events[eventID] = event
	return nil
}

func (s *fakeEventStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	event, ok := s.db.events[id]
	if !ok {
		return repositories.ErrNotFound
	}
	event.Status = status
	s.db.events[id] = event
	return nil
}

func (s *fakeEventStore) UpdateTicketTypeCapacity(ctx context.Context, eventID, ticketTypeID uuid.UUID, capacity, capacityDelta int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	tt, ok := s.db.types[ticketTypeID]
	if !ok || tt.EventID != eventID {
		return repositories.ErrNotFound
	}
	tt.Capacity = capacity
	s.db.types[ticketTypeID] = tt
	event := s.db.events[eventID]
	event.TotalCapacity += capacityDelta
	s.db.events[eventID] = event
	return nil
}

func (s *fakeEventStore) ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Event
	for _, event := range s.db.events {
		if event.OrganizerID == organizerID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *fakeEventStore) ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Event
	for _, event := range s.db.events {
		if event.Status == status {
			out = append(out, event)
		}
	}
	return out, nil
}

// fakeBookingStore implements the booking-side store interfaces.
type fakeBookingStore struct {
	db *fakeDB
}

func (s *fakeBookingStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.withTx(fn)
}

func (s *fakeBookingStore) Create(ctx context.Context, booking *models.Booking) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := *booking
	lines := stored.Lines
	stored.Lines = nil
	s.db.bookings[stored.ID] = stored
	s.db.lines[stored.ID] = append([]models.TicketLine(nil), lines...)
	return nil
}

func (s *fakeBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	booking, ok := s.db.bookings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	booking.Lines = append([]models.TicketLine(nil), s.db.lines[id]...)
	return &booking, nil
}

func (s *fakeBookingStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.GetByID(ctx, id)
}

func (s *fakeBookingStore) GetLines(ctx context.Context, bookingID uuid.UUID) ([]models.TicketLine, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]models.TicketLine(nil), s.db.lines[bookingID]...), nil
}

func (s *fakeBookingStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BookingStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	booking, ok := s.db.bookings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	booking.Status = status
	s.db.bookings[id] = booking
	return nil
}

func (s *fakeBookingStore) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	booking, ok := s.db.bookings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if booking.IsUsed {
		return nil
	}
	booking.IsUsed = true
	used := usedAt
	booking.UsedAt = &used
	s.db.bookings[id] = booking
	return nil
}

func (s *fakeBookingStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Booking
	for id, booking := range s.db.bookings {
		if booking.EventID != eventID {
			continue
		}
		booking.Lines = append([]models.TicketLine(nil), s.db.lines[id]...)
		out = append(out, booking)
	}
	return out, nil
}

// fakeScanStore implements the scan-log store interfaces.
type fakeScanStore struct {
	db *fakeDB
}

func (s *fakeScanStore) Append(ctx context.Context, scan *models.TicketScan) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.scans = append(s.db.scans, *scan)
	return nil
}

func (s *fakeScanStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.TicketScan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.TicketScan
	for _, scan := range s.db.scans {
		if scan.EventID == eventID {
			out = append(out, scan)
		}
	}
	return out, nil
}

func (s *fakeScanStore) ListByEventSince(ctx context.Context, eventID uuid.UUID, since time.Time) ([]models.TicketScan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.TicketScan
	for _, scan := range s.db.scans {
		if scan.EventID == eventID && !scan.ScannedAt.Before(since) {
			out = append(out, scan)
		}
	}
	return out, nil
}

// fakeAlertStore implements the alert persistence interface.
type fakeAlertStore struct {
	db *fakeDB
}

func (s *fakeAlertStore) ReplaceForEvent(ctx context.Context, eventID uuid.UUID, alerts []models.FraudAlert) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.alerts[eventID] = append([]models.FraudAlert(nil), alerts...)
	return nil
}

func (s *fakeAlertStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FraudAlert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]models.FraudAlert(nil), s.db.alerts[eventID]...), nil
}
