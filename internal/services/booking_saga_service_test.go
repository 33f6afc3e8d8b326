package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sagaFixture struct {
	saga          *BookingSagaService
	ledger        *LedgerService
	flaky         *flakyLedger
	intervals     *memIntervalStore
	payments      *fakePayments
	bookings      *memBookingStore
	stats         *fakeStats
	compensations *memCompensationLog
}

func setupSagaTest(t *testing.T, mutate ...func(*BookingSagaConfig)) *sagaFixture {
	t.Helper()
	intervals := &memIntervalStore{}
	offices := &memOfficeStore{offices: []models.Office{{ID: 1}, {ID: 2}, {ID: 3}}}
	ledger := NewLedgerService(intervals, offices, nil, DefaultLedgerConfig(), testLogger())
	require.NoError(t, ledger.StockVehicle(context.Background(), 1, "V", 0))

	f := &sagaFixture{
		ledger:        ledger,
		flaky:         &flakyLedger{inner: ledger},
		intervals:     intervals,
		payments:      newFakePayments(),
		bookings:      newMemBookingStore(),
		stats:         &fakeStats{},
		compensations: &memCompensationLog{},
	}

	config := DefaultBookingSagaConfig()
	for _, m := range mutate {
		m(&config)
	}
	f.saga = NewBookingSagaService(f.payments, f.flaky, f.bookings, f.stats, f.compensations, config, testLogger())
	return f
}

var alice = models.RequestorContext{UserID: "alice"}

func bookingRequest() models.CreateBookingRequest {
	return models.CreateBookingRequest{
		VehicleID:    "V",
		PaymentData:  models.PaymentData{CardNumber: "4111111111111111", Price: 1500},
		BookingStart: 10,
		BookingEnd:   20,
		StartOffice:  1,
		EndOffice:    2,
	}
}

func (f *sagaFixture) availability(t *testing.T) *models.CurrentAvailability {
	t.Helper()
	current, err := f.ledger.CurrentAvailability(context.Background(), "V")
	require.NoError(t, err)
	return current
}

func (f *sagaFixture) book(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	require.NoError(t, err)
	return id
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateBooking_Success(t *testing.T) {
	f := setupSagaTest(t)

	id, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	current := f.availability(t)
	assert.Equal(t, int64(2), current.OfficeID)
	assert.Equal(t, int64(20), current.From)

	booking, err := f.saga.GetBooking(context.Background(), alice, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusNew, booking.Status)
	assert.Equal(t, "alice", booking.UserID)
	assert.NotZero(t, booking.PaymentID)
	assert.Equal(t, int64(1500), f.payments.charges[booking.PaymentID])

	require.Len(t, f.stats.records, 1)
	assert.Equal(t, StatsEvent{VehicleID: "V", OfficeID: 1}, f.stats.records[0])
	assert.Empty(t, f.payments.reversals())
}

func TestCreateBooking_PaymentDeclined(t *testing.T) {
	f := setupSagaTest(t)
	req := bookingRequest()
	req.PaymentData.CardNumber = DeclinedCardSentinel

	_, err := f.saga.CreateBooking(context.Background(), alice, req)
	assert.ErrorIs(t, err, models.ErrPaymentRejected)

	current := f.availability(t)
	assert.Equal(t, int64(1), current.OfficeID)
	assert.Equal(t, int64(0), current.From)
	assert.Empty(t, f.bookings.bookings)
	assert.Empty(t, f.payments.reversals())
}

func TestCreateBooking_PaymentGatewayDown(t *testing.T) {
	f := setupSagaTest(t)
	f.payments.chargeErr = errors.New("connection refused")

	_, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	assert.ErrorIs(t, err, models.ErrPaymentGatewayUnavailable)
	assert.Equal(t, int64(1), f.availability(t).OfficeID)
	assert.Empty(t, f.bookings.bookings)
}

func TestCreateBooking_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CreateBookingRequest)
	}{
		{"end before start", func(r *models.CreateBookingRequest) { r.BookingEnd = 5 }},
		{"end equals start", func(r *models.CreateBookingRequest) { r.BookingEnd = r.BookingStart }},
		{"missing vehicle", func(r *models.CreateBookingRequest) { r.VehicleID = "" }},
		{"missing card", func(r *models.CreateBookingRequest) { r.PaymentData.CardNumber = "" }},
		{"negative price", func(r *models.CreateBookingRequest) { r.PaymentData.Price = -1 }},
		{"missing office", func(r *models.CreateBookingRequest) { r.StartOffice = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupSagaTest(t)
			req := bookingRequest()
			tt.mutate(&req)

			_, err := f.saga.CreateBooking(context.Background(), alice, req)
			assert.ErrorIs(t, err, models.ErrBadRequest)
			assert.Zero(t, f.payments.chargeCount())
		})
	}
}

func TestCreateBooking_ReserveRejectedReversesPayment(t *testing.T) {
	f := setupSagaTest(t)
	req := bookingRequest()
	req.StartOffice = 3

	_, err := f.saga.CreateBooking(context.Background(), alice, req)
	require.ErrorIs(t, err, models.ErrWrongOffice)
	assert.Contains(t, models.DetailOf(err), "office 1 from 0")

	assert.Len(t, f.payments.reversals(), 1)
	assert.Empty(t, f.bookings.bookings)
	assert.Empty(t, f.compensations.pending())
	// a definitive rejection needs no release
	assert.Equal(t, 0, f.flaky.releaseCount())
}

func TestCreateBooking_ReversalFailsAfterReserveRejected(t *testing.T) {
	f := setupSagaTest(t)
	f.payments.reverseErr = errors.New("processor timeout")
	req := bookingRequest()
	req.StartOffice = 2

	_, err := f.saga.CreateBooking(context.Background(), alice, req)
	require.ErrorIs(t, err, models.ErrCompensationFailed)
	// both the cause and the undo failure are reachable
	assert.ErrorIs(t, err, models.ErrWrongOffice)
	assert.ErrorContains(t, err, "processor timeout")

	pending := f.compensations.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.CompensationPaymentReversal, pending[0].Kind)
	assert.NotZero(t, pending[0].PaymentID)
	assert.Contains(t, pending[0].LastError, "processor timeout")
}

func TestCreateBooking_PersistFailureUndoesEverything(t *testing.T) {
	f := setupSagaTest(t)
	f.bookings.createErr = errors.New("disk full")

	_, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	require.Error(t, err)
	assert.Equal(t, models.KindInternal, models.KindOf(err))

	assert.Len(t, f.payments.reversals(), 1)
	assert.Equal(t, 1, f.flaky.releaseCount())
	assert.Empty(t, f.compensations.pending())
	assert.Empty(t, f.stats.records)

	// release removes the closed interval at office 1 and keeps the one at office 2
	history, err := f.ledger.HistoryForVehicle(context.Background(), "V")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].OfficeID)
}

func TestCreateBooking_LedgerUnreachable(t *testing.T) {
	f := setupSagaTest(t)
	f.flaky.reserveErr = errors.New("i/o timeout")

	_, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	// the speculative release finds nothing, which counts as success
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, 1, f.flaky.releaseCount())
	assert.Len(t, f.payments.reversals(), 1)
	assert.Empty(t, f.compensations.pending())
}

func TestCreateBooking_StatsFailureIgnored(t *testing.T) {
	f := setupSagaTest(t)
	f.stats.err = errors.New("stats down")

	id, err := f.saga.CreateBooking(context.Background(), alice, bookingRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestCreateBooking_SurvivesCallerCancellation(t *testing.T) {
	f := setupSagaTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := f.saga.CreateBooking(ctx, alice, bookingRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, f.payments.chargeCount())
}

func TestCreateBooking_SkipPayment(t *testing.T) {
	f := setupSagaTest(t, func(c *BookingSagaConfig) { c.SkipPayment = true })
	req := bookingRequest()
	req.PaymentData.CardNumber = ""

	id, err := f.saga.CreateBooking(context.Background(), alice, req)
	require.NoError(t, err)
	assert.Zero(t, f.payments.chargeCount())

	require.NoError(t, f.saga.CancelBooking(context.Background(), alice, id))
	assert.Empty(t, f.payments.reversals())
}

func TestCreateBooking_Owner(t *testing.T) {
	t.Run("user cannot book for someone else", func(t *testing.T) {
		f := setupSagaTest(t)
		req := bookingRequest()
		req.UserID = "bob"

		_, err := f.saga.CreateBooking(context.Background(), alice, req)
		assert.ErrorIs(t, err, models.ErrForbidden)
		assert.Zero(t, f.payments.chargeCount())
	})

	t.Run("service books on behalf of a user", func(t *testing.T) {
		f := setupSagaTest(t)
		req := bookingRequest()
		req.UserID = "bob"

		id, err := f.saga.CreateBooking(context.Background(), models.RequestorContext{IsService: true}, req)
		require.NoError(t, err)
		assert.Equal(t, "bob", f.bookings.bookings[id].UserID)
	})

	t.Run("service must name the user", func(t *testing.T) {
		f := setupSagaTest(t)
		_, err := f.saga.CreateBooking(context.Background(), models.RequestorContext{IsService: true}, bookingRequest())
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})
}

// ============================================================================
// CANCEL / FINISH
// ============================================================================

func TestCancelBooking_Success(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)
	paymentID := f.bookings.bookings[id].PaymentID

	require.NoError(t, f.saga.CancelBooking(context.Background(), alice, id))

	booking, err := f.saga.GetBooking(context.Background(), alice, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)
	assert.Nil(t, booking.PendingTransition)
	assert.Equal(t, []int64{paymentID}, f.payments.reversals())
	assert.Equal(t, 1, f.flaky.releaseCount())

	err = f.saga.CancelBooking(context.Background(), alice, id)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Len(t, f.payments.reversals(), 1)
}

func TestCancelBooking_ReversalFailureKeepsBookingNew(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)
	f.payments.reverseErr = errors.New("processor timeout")

	err := f.saga.CancelBooking(context.Background(), alice, id)
	assert.ErrorIs(t, err, models.ErrPaymentGatewayUnavailable)

	booking := f.bookings.bookings[id]
	assert.Equal(t, models.BookingStatusNew, booking.Status)
	assert.Nil(t, booking.PendingTransition)
	assert.Equal(t, 0, f.flaky.releaseCount())

	// retry once the processor is back
	f.payments.reverseErr = nil
	require.NoError(t, f.saga.CancelBooking(context.Background(), alice, id))
	assert.Equal(t, models.BookingStatusCancelled, f.bookings.bookings[id].Status)
}

func TestCancelBooking_UnknownPayment(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)
	delete(f.payments.charges, f.bookings.bookings[id].PaymentID)

	err := f.saga.CancelBooking(context.Background(), alice, id)
	assert.ErrorIs(t, err, models.ErrCompensationFailed)
	assert.Equal(t, models.BookingStatusNew, f.bookings.bookings[id].Status)
}

func TestCancelBooking_ReleaseFailureIsRecorded(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)
	f.flaky.releaseErr = errors.New("ledger down")

	require.NoError(t, f.saga.CancelBooking(context.Background(), alice, id))
	assert.Equal(t, models.BookingStatusCancelled, f.bookings.bookings[id].Status)

	pending := f.compensations.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.CompensationLedgerRelease, pending[0].Kind)
	require.NotNil(t, pending[0].BookingID)
	assert.Equal(t, id, *pending[0].BookingID)
	assert.Equal(t, "V", pending[0].VehicleID)
	assert.Equal(t, int64(1), pending[0].OfficeID)
	assert.Equal(t, int64(10), pending[0].StartTime)
}

func TestCancelBooking_Concurrent(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.saga.CancelBooking(context.Background(), alice, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrInvalidState):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, invalid)
	assert.Len(t, f.payments.reversals(), 1)
}

func TestCancelBooking_OtherUsersBookingIsHidden(t *testing.T) {
	f := setupSagaTest(t)
	id := f.book(t)

	err := f.saga.CancelBooking(context.Background(), models.RequestorContext{UserID: "bob"}, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.payments.reversals())

	err = f.saga.CancelBooking(context.Background(), alice, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	// admins may cancel anyone's booking
	require.NoError(t, f.saga.CancelBooking(context.Background(), models.RequestorContext{UserID: "root", IsAdmin: true}, id))
}

func TestFinishBooking(t *testing.T) {
	t.Run("finish then finish again", func(t *testing.T) {
		f := setupSagaTest(t)
		id := f.book(t)

		require.NoError(t, f.saga.FinishBooking(context.Background(), alice, id))
		assert.Equal(t, models.BookingStatusFinished, f.bookings.bookings[id].Status)
		assert.Equal(t, 1, f.flaky.releaseCount())
		assert.Empty(t, f.payments.reversals())

		err := f.saga.FinishBooking(context.Background(), alice, id)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		err = f.saga.CancelBooking(context.Background(), alice, id)
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("release disabled", func(t *testing.T) {
		f := setupSagaTest(t, func(c *BookingSagaConfig) { c.ReleaseOnFinish = false })
		id := f.book(t)

		require.NoError(t, f.saga.FinishBooking(context.Background(), alice, id))
		assert.Equal(t, 0, f.flaky.releaseCount())
	})

	t.Run("booking being cancelled", func(t *testing.T) {
		f := setupSagaTest(t)
		id := f.book(t)
		claimed, err := f.bookings.ClaimTransition(context.Background(), id, models.TransitionCancel)
		require.NoError(t, err)
		require.True(t, claimed)

		err = f.saga.FinishBooking(context.Background(), alice, id)
		require.ErrorIs(t, err, models.ErrInvalidState)
		assert.Contains(t, models.DetailOf(err), "already being cancelled")
	})
}

// ============================================================================
// READS
// ============================================================================

func TestListBookings(t *testing.T) {
	f := setupSagaTest(t)
	ctx := context.Background()
	f.book(t)
	for _, user := range []string{"bob", "bob"} {
		require.NoError(t, f.bookings.Create(ctx, &models.Booking{UserID: user, VehicleID: "X"}))
	}

	own, err := f.saga.ListBookings(ctx, alice, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	_, err = f.saga.ListBookings(ctx, alice, "bob", 0, 0)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.saga.ListBookings(ctx, models.RequestorContext{}, "", 0, 0)
	assert.ErrorIs(t, err, models.ErrForbidden)

	admin := models.RequestorContext{UserID: "root", IsAdmin: true}
	all, err := f.saga.ListBookings(ctx, admin, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bobs, err := f.saga.ListBookings(ctx, admin, "bob", 1, 0)
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}
