package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrClaimLost is returned when completing or releasing a transition the
// caller no longer holds
var ErrClaimLost = errors.New("booking transition claim not held")

// BookingRepository handles vehicle booking database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, vehicle_id, user_id, payment_id, price, booking_start, booking_end,
		start_office, end_office, status, pending_transition, claimed_at, created_at, updated_at`

// ============================================================================
// BOOKING CRUD OPERATIONS
// ============================================================================

// Create inserts a new booking in status NEW
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	booking.ID = uuid.New()
	booking.Status = models.BookingStatusNew
	booking.PendingTransition = nil
	booking.ClaimedAt = nil
	booking.CreatedAt = time.Now()
	booking.UpdatedAt = booking.CreatedAt

	query := `
		INSERT INTO bookings (
			id, vehicle_id, user_id, payment_id, price, booking_start, booking_end,
			start_office, end_office, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		booking.ID, booking.VehicleID, booking.UserID, booking.PaymentID, booking.Price,
		booking.BookingStart, booking.BookingEnd, booking.StartOffice, booking.EndOffice,
		booking.Status, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by ID, or nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, bookingID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ListByUser returns a page of a user's bookings, newest first.
// An empty userID lists every user's bookings.
func (r *BookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// ClaimTransition atomically marks a NEW booking as being cancelled or
// finished. Returns false if the booking is not NEW or already claimed.
func (r *BookingRepository) ClaimTransition(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET pending_transition = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'NEW' AND pending_transition IS NULL`,
		bookingID, transition,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim booking transition: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ReleaseClaim gives up a claim so the booking is NEW and unclaimed again
func (r *BookingRepository) ReleaseClaim(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET pending_transition = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'NEW' AND pending_transition = $2`,
		bookingID, transition,
	)
	if err != nil {
		return fmt.Errorf("failed to release booking claim: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrClaimLost
	}
	return nil
}

// CompleteTransition moves a claimed booking to its terminal status
func (r *BookingRepository) CompleteTransition(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $3, pending_transition = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'NEW' AND pending_transition = $2`,
		bookingID, transition, transition.TargetStatus(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete booking transition: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReleaseStaleClaims clears claims taken before cutoff, left behind by a
// process that died mid-transition
func (r *BookingRepository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET pending_transition = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'NEW' AND pending_transition IS NOT NULL AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
