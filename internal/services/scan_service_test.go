package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/venuetix/services/ticketing/internal/metrics"
	"example.com/venuetix/services/ticketing/internal/models"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

func newTestScanService(db *fakeDB) *ScanService {
	return NewScanService(
		&fakeEventStore{db: db},
		&fakeBookingStore{db: db},
		&fakeScanStore{db: db},
		nil,
		metrics.NewMetrics(),
		&tracing.NewRelicTracer{},
	)
}

// seedScanFixture creates a published event with an open window and one
// confirmed booking, returning the service, event and booking IDs.
func seedScanFixture(t *testing.T, db *fakeDB) (*ScanService, uuid.UUID, uuid.UUID) {
	t.Helper()
	start, end := publishedWindow()
	eventID, typeID := db.addEvent(models.EventStatusPublished, 100, start, end)

	inventory := newTestInventoryService(db)
	booking, err := inventory.CreateReservation(context.Background(), CreateReservationInput{
		EventID:            eventID,
		PaymentReferenceID: "pay-1",
		Lines:              []ReservationLine{{TicketTypeID: typeID, Quantity: 2}},
	})
	require.NoError(t, err)

	return newTestScanService(db), eventID, booking.ID
}

func scanReq(eventID uuid.UUID, code string) ScanRequest {
	return ScanRequest{
		Code:      code,
		EventID:   eventID,
		ScannerID: "scanner-1",
		DeviceID:  "device-1",
	}
}

func TestClassifyPrecedence(t *testing.T) {
	eventID := uuid.New()
	otherEventID := uuid.New()
	now := time.Now().UTC()
	event := &models.Event{
		ID:          eventID,
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now.Add(time.Hour),
	}
	confirmed := func() *models.Booking {
		return &models.Booking{ID: uuid.New(), EventID: eventID, Status: models.BookingStatusConfirmed}
	}

	require.Equal(t, models.ScanResultInvalidQR, Classify(nil, event, eventID, now))

	wrong := confirmed()
	wrong.EventID = otherEventID
	// Wrong event outranks every state the booking itself is in.
	wrong.Status = models.BookingStatusCancelled
	wrong.IsUsed = true
	require.Equal(t, models.ScanResultWrongEvent, Classify(wrong, event, eventID, now))

	cancelled := confirmed()
	cancelled.Status = models.BookingStatusCancelled
	cancelled.IsUsed = true
	require.Equal(t, models.ScanResultCancelled, Classify(cancelled, event, eventID, now))

	refunded := confirmed()
	refunded.Status = models.BookingStatusRefunded
	require.Equal(t, models.ScanResultRefunded, Classify(refunded, event, eventID, now))

	pending := confirmed()
	pending.Status = models.BookingStatusPending
	require.Equal(t, models.ScanResultPaymentPending, Classify(pending, event, eventID, now))

	// Outside the window outranks the used flag.
	used := confirmed()
	used.IsUsed = true
	require.Equal(t, models.ScanResultExpired, Classify(used, event, eventID, event.WindowEnd.Add(time.Minute)))
	require.Equal(t, models.ScanResultExpired, Classify(confirmed(), event, eventID, event.WindowStart.Add(-time.Minute)))

	require.Equal(t, models.ScanResultAlreadyUsed, Classify(used, event, eventID, now))
	require.Equal(t, models.ScanResultValid, Classify(confirmed(), event, eventID, now))
}

func TestVerifyScanAdmitsOnce(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)
	ctx := context.Background()

	first, err := svc.VerifyScan(ctx, scanReq(eventID, bookingID.String()))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultValid, first.Result)
	require.NotNil(t, first.Booking.UsedAt)

	second, err := svc.VerifyScan(ctx, scanReq(eventID, bookingID.String()))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultAlreadyUsed, second.Result)

	scans, err := (&fakeScanStore{db: db}).ListByEvent(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	require.Equal(t, models.ScanResultValid, scans[0].Result)
	require.Equal(t, models.ScanResultAlreadyUsed, scans[1].Result)
}

func TestVerifyScanRecordsEveryRejection(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)
	ctx := context.Background()

	outcome, err := svc.VerifyScan(ctx, scanReq(eventID, "not-a-uuid"))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultInvalidQR, outcome.Result)
	require.Nil(t, outcome.Booking)
	require.Nil(t, outcome.Scan.BookingID)

	outcome, err = svc.VerifyScan(ctx, scanReq(eventID, uuid.NewString()))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultInvalidQR, outcome.Result)

	otherStart, otherEnd := publishedWindow()
	otherEventID, _ := db.addEvent(models.EventStatusPublished, 10, otherStart, otherEnd)
	outcome, err = svc.VerifyScan(ctx, scanReq(otherEventID, bookingID.String()))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultWrongEvent, outcome.Result)

	// The log holds one record per attempt across both events.
	require.Len(t, db.scans, 3)

	_, err = svc.VerifyScan(ctx, scanReq(uuid.New(), bookingID.String()))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyScanExpiredWindow(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	outcome, err := svc.VerifyScan(context.Background(), scanReq(eventID, bookingID.String()))
	require.NoError(t, err)
	require.Equal(t, models.ScanResultExpired, outcome.Result)

	booking, err := (&fakeBookingStore{db: db}).GetByID(context.Background(), bookingID)
	require.NoError(t, err)
	require.False(t, booking.IsUsed)
}

func TestVerifyScanOverride(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)
	ctx := context.Background()

	// Past the window, an authorized override with a reason admits the holder.
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	req := scanReq(eventID, bookingID.String())
	req.Override = true
	req.CanOverride = true
	req.OverrideReason = "gate reopened for late arrivals"

	outcome, err := svc.VerifyScan(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ScanResultValid, outcome.Result)
	require.True(t, outcome.WasOverridden)
	require.NotNil(t, outcome.Scan.OverrideReason)

	booking, err := (&fakeBookingStore{db: db}).GetByID(ctx, bookingID)
	require.NoError(t, err)
	require.True(t, booking.IsUsed)

	// The single-use invariant survives the override path.
	outcome, err = svc.VerifyScan(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ScanResultAlreadyUsed, outcome.Result)
	require.False(t, outcome.WasOverridden)
}

func TestVerifyScanOverrideValidation(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)
	ctx := context.Background()

	req := scanReq(eventID, bookingID.String())
	req.Override = true

	_, err := svc.VerifyScan(ctx, req)
	require.ErrorIs(t, err, ErrOverrideNotPermitted)

	req.CanOverride = true
	_, err = svc.VerifyScan(ctx, req)
	require.ErrorIs(t, err, ErrOverrideReasonRequired)

	// No scan record is written for requests rejected before classification.
	require.Empty(t, db.scans)
}

func TestVerifyScanOverrideNeverForcesInvalidQR(t *testing.T) {
	db := newFakeDB()
	svc, eventID, _ := seedScanFixture(t, db)

	req := scanReq(eventID, "garbage")
	req.Override = true
	req.CanOverride = true
	req.OverrideReason = "manager waved them in"

	outcome, err := svc.VerifyScan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.ScanResultInvalidQR, outcome.Result)
	require.False(t, outcome.WasOverridden)
}

// Two racing scans of the same booking admit exactly one.
func TestVerifyScanConcurrentDoubleScan(t *testing.T) {
	db := newFakeDB()
	svc, eventID, bookingID := seedScanFixture(t, db)

	const attempts = 8
	type attempt struct {
		result models.ScanResult
		err    error
	}
	var wg sync.WaitGroup
	results := make(chan attempt, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.VerifyScan(context.Background(), scanReq(eventID, bookingID.String()))
			if err != nil {
				results <- attempt{err: err}
				return
			}
			results <- attempt{result: outcome.Result}
		}()
	}
	wg.Wait()
	close(results)

	valid, used := 0, 0
	for a := range results {
		require.NoError(t, a.err)
		switch a.result {
		case models.ScanResultValid:
			valid++
		case models.ScanResultAlreadyUsed:
			used++
		}
	}
	require.Equal(t, 1, valid)
	require.Equal(t, attempts-1, used)
}
