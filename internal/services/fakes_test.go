package services

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sort"
	"sync"

	"github.com/Evg-Mazay/rsoi-curse/internal/database"
	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// INTERVAL STORE
// ============================================================================

type memIntervalStore struct {
	mu        sync.Mutex
	intervals []models.AvailabilityInterval
	deleteErr error
}

func (m *memIntervalStore) GetOpenInterval(_ context.Context, vehicleID string) (*models.AvailabilityInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, iv := range m.intervals {
		if iv.VehicleID == vehicleID && iv.AvailableTo == nil {
			cp := iv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIntervalStore) list(match func(models.AvailabilityInterval) bool) []models.AvailabilityInterval {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.AvailabilityInterval{}
	for _, iv := range m.intervals {
		if match(iv) {
			result = append(result, iv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AvailableFrom > result[j].AvailableFrom })
	return result
}

func (m *memIntervalStore) ListByVehicle(_ context.Context, vehicleID string) ([]models.AvailabilityInterval, error) {
	return m.list(func(iv models.AvailabilityInterval) bool { return iv.VehicleID == vehicleID }), nil
}

func (m *memIntervalStore) ListByOffice(_ context.Context, officeID int64) ([]models.AvailabilityInterval, error) {
	return m.list(func(iv models.AvailabilityInterval) bool { return iv.OfficeID == officeID }), nil
}

func (m *memIntervalStore) ListByOfficeVehicle(_ context.Context, officeID int64, vehicleID string) ([]models.AvailabilityInterval, error) {
	return m.list(func(iv models.AvailabilityInterval) bool {
		return iv.OfficeID == officeID && iv.VehicleID == vehicleID
	}), nil
}

func (m *memIntervalStore) InsertOpenInterval(_ context.Context, interval *models.AvailabilityInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, iv := range m.intervals {
		if iv.VehicleID == interval.VehicleID && iv.AvailableTo == nil {
			return database.ErrOpenIntervalExists
		}
	}
	interval.ID = uuid.New()
	interval.AvailableTo = nil
	m.intervals = append(m.intervals, *interval)
	return nil
}

// ReserveMove reads and writes under separate critical sections so that only
// the caller's own serialization prevents lost updates.
func (m *memIntervalStore) ReserveMove(
	ctx context.Context,
	vehicleID string,
	decide func(current *models.AvailabilityInterval) (*database.MovePlan, error),
) error {
	current, _ := m.GetOpenInterval(ctx, vehicleID)
	runtime.Gosched()

	plan, err := decide(current)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.intervals {
		if m.intervals[i].ID == current.ID && m.intervals[i].AvailableTo == nil {
			closeAt := plan.CloseAt
			m.intervals[i].AvailableTo = &closeAt
			next := plan.Next
			next.ID = uuid.New()
			next.VehicleID = vehicleID
			next.AvailableTo = nil
			m.intervals = append(m.intervals, next)
			return nil
		}
	}
	return database.ErrIntervalChanged
}

func (m *memIntervalStore) DeleteClosedInterval(_ context.Context, vehicleID string, officeID, closedAt int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	for i, iv := range m.intervals {
		if iv.VehicleID == vehicleID && iv.OfficeID == officeID && iv.AvailableTo != nil && *iv.AvailableTo == closedAt {
			m.intervals = append(m.intervals[:i], m.intervals[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memIntervalStore) DeleteVehicleAtOffice(_ context.Context, officeID int64, vehicleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.intervals[:0]
	var removed int64
	for _, iv := range m.intervals {
		if iv.OfficeID == officeID && iv.VehicleID == vehicleID {
			removed++
			continue
		}
		kept = append(kept, iv)
	}
	m.intervals = kept
	return removed, nil
}

func (m *memIntervalStore) openCount(vehicleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, iv := range m.intervals {
		if iv.VehicleID == vehicleID && iv.AvailableTo == nil {
			count++
		}
	}
	return count
}

// ============================================================================
// OFFICES / CATALOG
// ============================================================================

type memOfficeStore struct {
	offices []models.Office
}

func (m *memOfficeStore) List(context.Context) ([]models.Office, error) {
	return m.offices, nil
}

func (m *memOfficeStore) GetByID(_ context.Context, officeID int64) (*models.Office, error) {
	for _, o := range m.offices {
		if o.ID == officeID {
			cp := o
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeCatalog struct {
	known map[string]bool
	err   error
}

func (f *fakeCatalog) Exists(_ context.Context, vehicleID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[vehicleID], nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type fakePayments struct {
	mu         sync.Mutex
	nextID     int64
	charges    map[int64]int64
	reversed   []int64
	chargeErr  error
	reverseErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{nextID: 100, charges: make(map[int64]int64)}
}

func (f *fakePayments) Charge(ctx context.Context, card string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chargeErr != nil {
		return 0, f.chargeErr
	}
	if card == DeclinedCardSentinel {
		return 0, ErrPaymentDeclined
	}
	f.nextID++
	f.charges[f.nextID] = amount
	return f.nextID, nil
}

func (f *fakePayments) Reverse(ctx context.Context, paymentID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reverseErr != nil {
		return f.reverseErr
	}
	if _, ok := f.charges[paymentID]; !ok {
		return ErrPaymentNotFound
	}
	f.reversed = append(f.reversed, paymentID)
	return nil
}

func (f *fakePayments) reversals() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.reversed...)
}

func (f *fakePayments) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookingStore struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*models.Booking
	createErr error
}

func newMemBookingStore() *memBookingStore {
	return &memBookingStore{bookings: make(map[uuid.UUID]*models.Booking)}
}

func (m *memBookingStore) Create(_ context.Context, booking *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	booking.ID = uuid.New()
	booking.Status = models.BookingStatusNew
	cp := *booking
	m.bookings[booking.ID] = &cp
	return nil
}

func (m *memBookingStore) GetByID(_ context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *memBookingStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.Booking{}
	for _, b := range m.bookings {
		if userID == "" || b.UserID == userID {
			result = append(result, *b)
		}
	}
	if offset >= len(result) {
		return []models.Booking{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memBookingStore) ClaimTransition(_ context.Context, bookingID uuid.UUID, transition models.BookingTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != models.BookingStatusNew || b.PendingTransition != nil {
		return false, nil
	}
	t := transition
	b.PendingTransition = &t
	return true, nil
}

func (m *memBookingStore) ReleaseClaim(_ context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.PendingTransition == nil || *b.PendingTransition != transition {
		return database.ErrClaimLost
	}
	b.PendingTransition = nil
	return nil
}

func (m *memBookingStore) CompleteTransition(_ context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != models.BookingStatusNew || b.PendingTransition == nil || *b.PendingTransition != transition {
		return database.ErrClaimLost
	}
	b.Status = transition.TargetStatus()
	b.PendingTransition = nil
	return nil
}

// ============================================================================
// STATS / COMPENSATION LOG
// ============================================================================

type fakeStats struct {
	mu      sync.Mutex
	records []StatsEvent
	err     error
}

func (f *fakeStats) Record(_ context.Context, vehicleID string, officeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, StatsEvent{VehicleID: vehicleID, OfficeID: officeID})
	return nil
}

type memCompensationLog struct {
	mu       sync.Mutex
	failures []models.CompensationFailure
}

func (m *memCompensationLog) Record(_ context.Context, failure *models.CompensationFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failure.ID = uuid.New()
	failure.Attempts = 1
	m.failures = append(m.failures, *failure)
	return nil
}

func (m *memCompensationLog) ListPending(_ context.Context, limit int) ([]models.CompensationFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.CompensationFailure{}
	for _, f := range m.failures {
		if f.ResolvedAt == nil && len(result) < limit {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *memCompensationLog) MarkResolved(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		if m.failures[i].ID == id {
			now := m.failures[i].CreatedAt
			m.failures[i].ResolvedAt = &now
			return nil
		}
	}
	return errors.New("unknown compensation")
}

func (m *memCompensationLog) MarkAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		if m.failures[i].ID == id {
			m.failures[i].Attempts++
			m.failures[i].LastError = lastError
			return nil
		}
	}
	return errors.New("unknown compensation")
}

func (m *memCompensationLog) pending() []models.CompensationFailure {
	result, _ := m.ListPending(context.Background(), 1000)
	return result
}

// ============================================================================
// LEDGER WRAPPER
// ============================================================================

// flakyLedger wraps a ledger and injects failures
type flakyLedger struct {
	inner      AvailabilityLedger
	reserveErr error
	releaseErr error
	mu         sync.Mutex
	releases   int
}

func (f *flakyLedger) ReserveMove(ctx context.Context, vehicleID string, req models.MoveRequest) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	return f.inner.ReserveMove(ctx, vehicleID, req)
}

func (f *flakyLedger) ReleaseMove(ctx context.Context, vehicleID string, req models.ReleaseRequest) error {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	return f.inner.ReleaseMove(ctx, vehicleID, req)
}

func (f *flakyLedger) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}
