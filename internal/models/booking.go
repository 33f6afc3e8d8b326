package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the status of a vehicle booking
type BookingStatus string

const (
	BookingStatusNew       BookingStatus = "NEW"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusFinished  BookingStatus = "FINISHED"
)

// BookingTransition is the terminal transition a booking is being moved through
type BookingTransition string

const (
	TransitionCancel BookingTransition = "cancel"
	TransitionFinish BookingTransition = "finish"
)

// TargetStatus returns the status a completed transition leaves the booking in
func (t BookingTransition) TargetStatus() BookingStatus {
	if t == TransitionCancel {
		return BookingStatusCancelled
	}
	return BookingStatusFinished
}

// Booking is a vehicle reservation owned by a user.
// PaymentID == 0 means the booking was created without a charge.
type Booking struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	VehicleID         string             `json:"vehicle_id" db:"vehicle_id"`
	UserID            string             `json:"user_id" db:"user_id"`
	PaymentID         int64              `json:"payment_id" db:"payment_id"`
	Price             int64              `json:"price" db:"price"`
	BookingStart      int64              `json:"booking_start" db:"booking_start"`
	BookingEnd        int64              `json:"booking_end" db:"booking_end"`
	StartOffice       int64              `json:"start_office" db:"start_office"`
	EndOffice         int64              `json:"end_office" db:"end_office"`
	Status            BookingStatus      `json:"status" db:"status"`
	PendingTransition *BookingTransition `json:"-" db:"pending_transition"`
	ClaimedAt         *time.Time         `json:"-" db:"claimed_at"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// PaymentData carries the card and amount to charge
type PaymentData struct {
	CardNumber string `json:"cc_number" validate:"required_unless=SkipPayment true"`
	Price      int64  `json:"price" validate:"gte=0"`
	// SkipPayment is set by the orchestrator from its config, never from JSON
	SkipPayment bool `json:"-"`
}

// CreateBookingRequest represents the request to book a vehicle
type CreateBookingRequest struct {
	VehicleID    string      `json:"car_uuid" validate:"required,max=64"`
	UserID       string      `json:"user_id,omitempty" validate:"omitempty,max=64"`
	PaymentData  PaymentData `json:"payment_data"`
	BookingStart int64       `json:"booking_start" validate:"gte=0"`
	BookingEnd   int64       `json:"booking_end" validate:"gtfield=BookingStart"`
	StartOffice  int64       `json:"start_office" validate:"required,gt=0"`
	EndOffice    int64       `json:"end_office" validate:"required,gt=0"`
}

// CreateBookingResponse is returned when a booking is created
type CreateBookingResponse struct {
	BookingID uuid.UUID `json:"booking_id"`
}

// ListBookingsResponse wraps a page of bookings
type ListBookingsResponse struct {
	Bookings []Booking `json:"bookings"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// RequestorContext is the authenticated caller of an operation, derived from
// the bearer token by the auth middleware
type RequestorContext struct {
	UserID    string
	IsAdmin   bool
	IsService bool
}

// IsPrivileged reports whether the requestor may act on other users' bookings
func (r RequestorContext) IsPrivileged() bool {
	return r.IsAdmin || r.IsService
}

// CanAccess reports whether the requestor may read or modify a booking
func (r RequestorContext) CanAccess(b *Booking) bool {
	return r.IsPrivileged() || (r.UserID != "" && r.UserID == b.UserID)
}
