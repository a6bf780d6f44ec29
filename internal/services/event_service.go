package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// CatalogStore is the storage surface of the event catalog.
type CatalogStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetTicketTypesForUpdate(ctx context.Context, eventID uuid.UUID, typeIDs []uuid.UUID) ([]models.TicketType, error)
	GetOrganizer(ctx context.Context, id uuid.UUID) (*models.Organizer, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error
	UpdateTicketTypeCapacity(ctx context.Context, eventID, ticketTypeID uuid.UUID, capacity, capacityDelta int) error
	ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]models.Event, error)
}

// EventService manages the event catalog: creation, lifecycle transitions
// and pre-sale capacity edits. Sold counters are out of its reach; only the
// allocator touches those.
type EventService struct {
	catalog CatalogStore
	tracer  tracing.Tracer
}

// NewEventService creates a new event service
func NewEventService(catalog CatalogStore, tracer tracing.Tracer) *EventService {
	return &EventService{
		catalog: catalog,
		tracer:  tracer,
	}
}

// TicketTypeInput describes one ticket type at event creation.
type TicketTypeInput struct {
	Name      string
	UnitPrice int64
	Capacity  int
}

// CreateEventInput carries an event creation request. The organizer is
// resolved here, at creation time, and stored on the event.
type CreateEventInput struct {
	OrganizerID uuid.UUID
	Name        string
	Venue       string
	WindowStart time.Time
	WindowEnd   time.Time
	TicketTypes []TicketTypeInput
}

// CreateEvent creates a draft event with its ticket types.
func (s *EventService) CreateEvent(ctx context.Context, in CreateEventInput) (*models.Event, error) {
	txn := s.tracer.StartTransaction("create-event")
	defer s.tracer.EndTransaction(txn)

	if !in.WindowEnd.After(in.WindowStart) {
		return nil, ErrInvalidWindow
	}
	if len(in.TicketTypes) == 0 {
		return nil, ErrInvalidCapacity
	}
	for _, tt := range in.TicketTypes {
		if tt.Capacity <= 0 {
			return nil, ErrInvalidCapacity
		}
	}

	if _, err := s.catalog.GetOrganizer(ctx, in.OrganizerID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	event := &models.Event{
		ID:          uuid.New(),
		OrganizerID: in.OrganizerID,
		Name:        in.Name,
		Venue:       in.Venue,
		Status:      models.EventStatusDraft,
		WindowStart: in.WindowStart.UTC(),
		WindowEnd:   in.WindowEnd.UTC(),
	}
	for _, tt := range in.TicketTypes {
		event.TicketTypes = append(event.TicketTypes, models.TicketType{
			ID:        uuid.New(),
			EventID:   event.ID,
			Name:      tt.Name,
			UnitPrice: tt.UnitPrice,
			Capacity:  tt.Capacity,
		})
		event.TotalCapacity += tt.Capacity
	}

	if err := s.catalog.Create(ctx, event); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("organizer_id", in.OrganizerID.String()).
		Int("total_capacity", event.TotalCapacity).
		Msg("Event created")

	return event, nil
}

// GetEvent returns one event with its ticket types.
func (s *EventService) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	event, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

// ListEvents lists an organizer's events.
func (s *EventService) ListEvents(ctx context.Context, organizerID uuid.UUID) ([]models.Event, error) {
	return s.catalog.ListByOrganizer(ctx, organizerID)
}

// PublishEvent opens a draft event for sale.
func (s *EventService) PublishEvent(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.EventStatusPublished, models.EventStatusDraft)
}

// CancelEvent cancels an event. Cancelled is a status, never a removal.
func (s *EventService) CancelEvent(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.EventStatusCancelled, models.EventStatusDraft, models.EventStatusPublished)
}

// CompleteEvent closes out a published event after it has run.
func (s *EventService) CompleteEvent(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.EventStatusCompleted, models.EventStatusPublished)
}

func (s *EventService) transition(ctx context.Context, id uuid.UUID, to models.EventStatus, from ...models.EventStatus) error {
	return s.catalog.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.catalog.GetForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		allowed := false
		for _, f := range from {
			if event.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrInvalidStatusChange
		}
		if err := s.catalog.UpdateStatus(txCtx, id, to); err != nil {
			return err
		}
		log.Info().
			Str("event_id", id.String()).
			Str("from", string(event.Status)).
			Str("to", string(to)).
			Msg("Event status changed")
		return nil
	})
}

// UpdateTicketTypeCapacity changes one ticket type's capacity. Edits are
// pre-sale only: once any unit of the type has sold, capacity is locked.
func (s *EventService) UpdateTicketTypeCapacity(ctx context.Context, eventID, ticketTypeID uuid.UUID, capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}

	return s.catalog.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.catalog.GetForUpdate(txCtx, eventID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		types, err := s.catalog.GetTicketTypesForUpdate(txCtx, eventID, []uuid.UUID{ticketTypeID})
		if err != nil {
			return err
		}
		if len(types) == 0 {
			return ErrUnknownTicketType
		}
		tt := types[0]
		if tt.SoldCount > 0 {
			return ErrCapacityLocked
		}

		return s.catalog.UpdateTicketTypeCapacity(txCtx, eventID, ticketTypeID, capacity, capacity-tt.Capacity)
	})
}
