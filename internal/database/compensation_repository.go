package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CompensationRepository stores failed compensation steps for later retry
type CompensationRepository struct {
	db *sqlx.DB
}

// NewCompensationRepository creates a new CompensationRepository
func NewCompensationRepository(db *sqlx.DB) *CompensationRepository {
	return &CompensationRepository{db: db}
}

// Record inserts a new unresolved compensation failure
func (r *CompensationRepository) Record(ctx context.Context, failure *models.CompensationFailure) error {
	failure.ID = uuid.New()
	failure.Attempts = 1
	failure.ResolvedAt = nil
	failure.CreatedAt = time.Now()

	query := `
		INSERT INTO compensation_failures (
			id, booking_id, kind, payment_id, vehicle_id, office_id, start_time,
			last_error, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		failure.ID, failure.BookingID, failure.Kind, failure.PaymentID, failure.VehicleID,
		failure.OfficeID, failure.StartTime, failure.LastError, failure.Attempts, failure.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record compensation failure: %w", err)
	}
	return nil
}

// ListPending returns unresolved failures, oldest first
func (r *CompensationRepository) ListPending(ctx context.Context, limit int) ([]models.CompensationFailure, error) {
	failures := []models.CompensationFailure{}
	query := `
		SELECT id, booking_id, kind, payment_id, vehicle_id, office_id, start_time,
			last_error, attempts, resolved_at, created_at
		FROM compensation_failures
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &failures, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending compensations: %w", err)
	}
	return failures, nil
}

// MarkResolved closes a failure after a successful retry
func (r *CompensationRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE compensation_failures
		SET resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark compensation resolved: %w", err)
	}
	return nil
}

// MarkAttempt records another failed retry
func (r *CompensationRepository) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE compensation_failures
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to record compensation attempt: %w", err)
	}
	return nil
}
