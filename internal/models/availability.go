package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// AVAILABILITY LEDGER
// ============================================================================

// Office is a rental office a vehicle can be stocked at
type Office struct {
	ID       int64  `json:"id" db:"id"`
	Location string `json:"location" db:"location"`
}

// AvailabilityInterval is one segment of a vehicle's timeline at an office.
// AvailableTo == nil means the vehicle is available from AvailableFrom onward.
type AvailabilityInterval struct {
	ID            uuid.UUID `json:"id" db:"id"`
	VehicleID     string    `json:"vehicle_id" db:"vehicle_id"`
	OfficeID      int64     `json:"office_id" db:"office_id"`
	AvailableFrom int64     `json:"from" db:"available_from"`
	AvailableTo   *int64    `json:"to" db:"available_to"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// IsOpen reports whether the interval has no end
func (a *AvailabilityInterval) IsOpen() bool {
	return a.AvailableTo == nil
}

// CurrentAvailability is where and from when a vehicle is free
type CurrentAvailability struct {
	OfficeID int64 `json:"office_id"`
	From     int64 `json:"from"`
}

// VehicleAvailabilityResponse is returned by GET /vehicles/:vehicle_id/availability
type VehicleAvailabilityResponse struct {
	VehicleID     string                 `json:"vehicle_id"`
	LastAvailable *CurrentAvailability   `json:"last_available"`
	History       []AvailabilityInterval `json:"history"`
}

// MoveRequest closes the vehicle's open interval at StartTime and opens a new
// one at TakenTo from EndTime
type MoveRequest struct {
	TakenFrom int64 `json:"taken_from" binding:"required"`
	TakenTo   int64 `json:"taken_to" binding:"required"`
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time" binding:"required"`
}

// ReleaseRequest identifies the interval closed by a previous move
type ReleaseRequest struct {
	TakenFrom int64 `json:"taken_from" binding:"required"`
	StartTime int64 `json:"start_time"`
}

// StockVehicleRequest puts a vehicle into an office's inventory
type StockVehicleRequest struct {
	From *int64 `json:"from,omitempty"`
}
