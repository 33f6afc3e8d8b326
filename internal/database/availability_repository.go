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

var (
	// ErrOpenIntervalExists is returned when a vehicle already has an open interval
	ErrOpenIntervalExists = errors.New("vehicle already has an open availability interval")
	// ErrIntervalChanged is returned when the open interval was closed concurrently
	ErrIntervalChanged = errors.New("open availability interval changed concurrently")
)

// MovePlan is what a reserve-move does to a locked open interval
type MovePlan struct {
	CloseAt int64
	Next    models.AvailabilityInterval
}

// AvailabilityRepository handles availability interval database operations
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new AvailabilityRepository
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

const intervalColumns = `id, vehicle_id, office_id, available_from, available_to, created_at`

// ============================================================================
// QUERIES
// ============================================================================

// GetOpenInterval returns the vehicle's open interval, or nil if it has none
func (r *AvailabilityRepository) GetOpenInterval(ctx context.Context, vehicleID string) (*models.AvailabilityInterval, error) {
	var interval models.AvailabilityInterval
	query := `
		SELECT ` + intervalColumns + `
		FROM availability_intervals
		WHERE vehicle_id = $1 AND available_to IS NULL`

	err := r.db.GetContext(ctx, &interval, query, vehicleID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open interval: %w", err)
	}
	return &interval, nil
}

// ListByVehicle returns a vehicle's intervals, newest first
func (r *AvailabilityRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]models.AvailabilityInterval, error) {
	intervals := []models.AvailabilityInterval{}
	query := `
		SELECT ` + intervalColumns + `
		FROM availability_intervals
		WHERE vehicle_id = $1
		ORDER BY available_from DESC`

	if err := r.db.SelectContext(ctx, &intervals, query, vehicleID); err != nil {
		return nil, fmt.Errorf("failed to list intervals for vehicle: %w", err)
	}
	return intervals, nil
}

// ListByOffice returns all intervals at an office, newest first
func (r *AvailabilityRepository) ListByOffice(ctx context.Context, officeID int64) ([]models.AvailabilityInterval, error) {
	intervals := []models.AvailabilityInterval{}
	query := `
		SELECT ` + intervalColumns + `
		FROM availability_intervals
		WHERE office_id = $1
		ORDER BY available_from DESC`

	if err := r.db.SelectContext(ctx, &intervals, query, officeID); err != nil {
		return nil, fmt.Errorf("failed to list intervals for office: %w", err)
	}
	return intervals, nil
}

// ListByOfficeVehicle returns a vehicle's intervals at one office, newest first
func (r *AvailabilityRepository) ListByOfficeVehicle(ctx context.Context, officeID int64, vehicleID string) ([]models.AvailabilityInterval, error) {
	intervals := []models.AvailabilityInterval{}
	query := `
		SELECT ` + intervalColumns + `
		FROM availability_intervals
		WHERE office_id = $1 AND vehicle_id = $2
		ORDER BY available_from DESC`

	if err := r.db.SelectContext(ctx, &intervals, query, officeID, vehicleID); err != nil {
		return nil, fmt.Errorf("failed to list intervals for office vehicle: %w", err)
	}
	return intervals, nil
}

// ============================================================================
// MUTATIONS
// ============================================================================

// InsertOpenInterval stocks a vehicle. The partial unique index on
// (vehicle_id) WHERE available_to IS NULL rejects a second open interval.
func (r *AvailabilityRepository) InsertOpenInterval(ctx context.Context, interval *models.AvailabilityInterval) error {
	interval.ID = uuid.New()
	interval.AvailableTo = nil
	interval.CreatedAt = time.Now()

	query := `
		INSERT INTO availability_intervals (` + intervalColumns + `)
		VALUES ($1, $2, $3, $4, NULL, $5)`

	_, err := r.db.ExecContext(ctx, query,
		interval.ID, interval.VehicleID, interval.OfficeID, interval.AvailableFrom, interval.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrOpenIntervalExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}
	return nil
}

// ReserveMove locks the vehicle's open interval and passes it to decide (nil
// when there is none). If decide returns a plan, the interval is closed at
// plan.CloseAt and plan.Next is inserted in the same transaction.
func (r *AvailabilityRepository) ReserveMove(
	ctx context.Context,
	vehicleID string,
	decide func(current *models.AvailabilityInterval) (*MovePlan, error),
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Lock the open interval
	var current models.AvailabilityInterval
	lockQuery := `
		SELECT ` + intervalColumns + `
		FROM availability_intervals
		WHERE vehicle_id = $1 AND available_to IS NULL
		FOR UPDATE`

	var currentPtr *models.AvailabilityInterval
	err = tx.GetContext(ctx, &current, lockQuery, vehicleID)
	switch {
	case isNoRows(err):
	case err != nil:
		return fmt.Errorf("failed to lock open interval: %w", err)
	default:
		currentPtr = &current
	}

	// 2. Validate
	plan, err := decide(currentPtr)
	if err != nil {
		return err
	}
	if currentPtr == nil {
		return fmt.Errorf("reserve move planned without an open interval")
	}

	// 3. Close the current interval
	result, err := tx.ExecContext(ctx, `
		UPDATE availability_intervals
		SET available_to = $2
		WHERE id = $1 AND available_to IS NULL`,
		current.ID, plan.CloseAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close interval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrIntervalChanged
	}

	// 4. Open the next one
	next := plan.Next
	next.ID = uuid.New()
	next.VehicleID = vehicleID
	next.AvailableTo = nil
	next.CreatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO availability_intervals (`+intervalColumns+`)
		VALUES ($1, $2, $3, $4, NULL, $5)`,
		next.ID, next.VehicleID, next.OfficeID, next.AvailableFrom, next.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrIntervalChanged
	}
	if err != nil {
		return fmt.Errorf("failed to insert next interval: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reserve move: %w", err)
	}
	return nil
}

// DeleteClosedInterval removes the interval at officeID that ends at closedAt.
// Returns false if no such interval exists.
func (r *AvailabilityRepository) DeleteClosedInterval(ctx context.Context, vehicleID string, officeID, closedAt int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM availability_intervals
		WHERE vehicle_id = $1 AND office_id = $2 AND available_to = $3`,
		vehicleID, officeID, closedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete interval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteVehicleAtOffice removes every interval of a vehicle at an office and
// returns how many were removed
func (r *AvailabilityRepository) DeleteVehicleAtOffice(ctx context.Context, officeID int64, vehicleID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM availability_intervals
		WHERE office_id = $1 AND vehicle_id = $2`,
		officeID, vehicleID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vehicle intervals: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
