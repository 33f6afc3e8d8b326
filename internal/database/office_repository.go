package database

import (
	"context"
	"fmt"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/jmoiron/sqlx"
)

// OfficeRepository handles office database operations
type OfficeRepository struct {
	db *sqlx.DB
}

// NewOfficeRepository creates a new OfficeRepository
func NewOfficeRepository(db *sqlx.DB) *OfficeRepository {
	return &OfficeRepository{db: db}
}

// List returns all offices ordered by id
func (r *OfficeRepository) List(ctx context.Context) ([]models.Office, error) {
	offices := []models.Office{}
	query := `SELECT id, location FROM offices ORDER BY id`

	if err := r.db.SelectContext(ctx, &offices, query); err != nil {
		return nil, fmt.Errorf("failed to list offices: %w", err)
	}
	return offices, nil
}

// GetByID returns an office, or nil if it does not exist
func (r *OfficeRepository) GetByID(ctx context.Context, officeID int64) (*models.Office, error) {
	var office models.Office
	query := `SELECT id, location FROM offices WHERE id = $1`

	err := r.db.GetContext(ctx, &office, query, officeID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get office: %w", err)
	}
	return &office, nil
}
