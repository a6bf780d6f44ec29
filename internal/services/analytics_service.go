package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/repositories"
)

// AnalyticsBookingStore is the booking read surface analytics needs.
type AnalyticsBookingStore interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error)
}

// AnalyticsScanStore is the scan-log read surface analytics needs.
type AnalyticsScanStore interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.TicketScan, error)
	ListByEventSince(ctx context.Context, eventID uuid.UUID, since time.Time) ([]models.TicketScan, error)
}

// AnalyticsEventStore resolves events for analytics queries.
type AnalyticsEventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// AnalyticsCache caches computed snapshots. Analytics tolerate staleness;
// strict consistency is only for the allocator and the used-flag transition.
type AnalyticsCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CheckInStats is the per-event check-in snapshot.
type CheckInStats struct {
	EventID          uuid.UUID               `json:"event_id"`
	TotalTickets     int                     `json:"total_tickets"`
	CheckedIn        int                     `json:"checked_in"`
	Pending          int                     `json:"pending"`
	EntryRatePerHour int                     `json:"entry_rate_per_hour"`
	ByTicketType     []TicketTypeCheckInStat `json:"by_ticket_type"`
}

// TicketTypeCheckInStat mirrors CheckInStats scoped to one ticket type.
type TicketTypeCheckInStat struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	Name         string    `json:"name"`
	Total        int       `json:"total"`
	CheckedIn    int       `json:"checked_in"`
	Pending      int       `json:"pending"`
}

// ScannerStat is one leaderboard row.
type ScannerStat struct {
	ScannerID    string  `json:"scanner_id"`
	ValidScans   int     `json:"valid_scans"`
	InvalidScans int     `json:"invalid_scans"`
	TotalScans   int     `json:"total_scans"`
	SuccessRate  float64 `json:"success_rate"`
}

const analyticsCacheTTL = 30 * time.Second

// AnalyticsService derives real-time dashboards from the booking ledger and
// the scan log. Read-only; never blocks ingestion.
type AnalyticsService struct {
	events   AnalyticsEventStore
	bookings AnalyticsBookingStore
	scans    AnalyticsScanStore
	cache    AnalyticsCache
	now      func() time.Time
}

// NewAnalyticsService creates a new analytics service. cache may be nil.
func NewAnalyticsService(
	events AnalyticsEventStore,
	bookings AnalyticsBookingStore,
	scans AnalyticsScanStore,
	cache AnalyticsCache,
) *AnalyticsService {
	return &AnalyticsService{
		events:   events,
		bookings: bookings,
		scans:    scans,
		cache:    cache,
		now:      time.Now,
	}
}

// CheckInStats computes the event's check-in snapshot, including the
// per-ticket-type breakdown and the trailing-hour entry rate.
func (s *AnalyticsService) CheckInStats(ctx context.Context, eventID uuid.UUID) (*CheckInStats, error) {
	cacheKey := checkInCacheKey(eventID)
	if s.cache != nil {
		var cached CheckInStats
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	bookings, err := s.bookings.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	stats := &CheckInStats{EventID: eventID}
	totalByType := make(map[uuid.UUID]int)
	checkedByType := make(map[uuid.UUID]int)
	for _, booking := range bookings {
		if booking.Status != models.BookingStatusConfirmed {
			continue
		}
		for _, line := range booking.Lines {
			stats.TotalTickets += line.Quantity
			totalByType[line.TicketTypeID] += line.Quantity
			if booking.IsUsed {
				stats.CheckedIn += line.Quantity
				checkedByType[line.TicketTypeID] += line.Quantity
			}
		}
	}
	stats.Pending = stats.TotalTickets - stats.CheckedIn

	for _, tt := range event.TicketTypes {
		total := totalByType[tt.ID]
		checked := checkedByType[tt.ID]
		stats.ByTicketType = append(stats.ByTicketType, TicketTypeCheckInStat{
			TicketTypeID: tt.ID,
			Name:         tt.Name,
			Total:        total,
			CheckedIn:    checked,
			Pending:      total - checked,
		})
	}

	hourAgo := s.now().UTC().Add(-time.Hour)
	recent, err := s.scans.ListByEventSince(ctx, eventID, hourAgo)
	if err != nil {
		return nil, err
	}
	for _, scan := range recent {
		if scan.Result == models.ScanResultValid {
			stats.EntryRatePerHour++
		}
	}

	s.cachePut(ctx, cacheKey, stats)
	return stats, nil
}

// ScannerLeaderboard ranks scanners by valid scans, descending.
func (s *AnalyticsService) ScannerLeaderboard(ctx context.Context, eventID uuid.UUID) ([]ScannerStat, error) {
	cacheKey := leaderboardCacheKey(eventID)
	if s.cache != nil {
		var cached []ScannerStat
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	scans, err := s.scans.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	byScanner := make(map[string]*ScannerStat)
	order := make([]string, 0)
	for _, scan := range scans {
		stat, ok := byScanner[scan.ScannerID]
		if !ok {
			stat = &ScannerStat{ScannerID: scan.ScannerID}
			byScanner[scan.ScannerID] = stat
			order = append(order, scan.ScannerID)
		}
		stat.TotalScans++
		if scan.Result == models.ScanResultValid {
			stat.ValidScans++
		} else {
			stat.InvalidScans++
		}
	}

	board := make([]ScannerStat, 0, len(order))
	for _, scannerID := range order {
		stat := byScanner[scannerID]
		if stat.TotalScans > 0 {
			stat.SuccessRate = float64(stat.ValidScans) / float64(stat.TotalScans)
		}
		board = append(board, *stat)
	}
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].ValidScans > board[j].ValidScans
	})

	s.cachePut(ctx, cacheKey, board)
	return board, nil
}

func (s *AnalyticsService) cachePut(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, analyticsCacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache analytics snapshot")
	}
}

func checkInCacheKey(eventID uuid.UUID) string {
	return fmt.Sprintf("analytics:checkin:%s", eventID)
}

func leaderboardCacheKey(eventID uuid.UUID) string {
	return fmt.Sprintf("analytics:scanners:%s", eventID)
}
