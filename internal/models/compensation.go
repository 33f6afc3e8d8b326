package models

import (
	"time"

	"github.com/google/uuid"
)

// CompensationKind identifies which undo step failed
type CompensationKind string

const (
	CompensationPaymentReversal CompensationKind = "payment_reversal"
	CompensationLedgerRelease   CompensationKind = "ledger_release"
)

// CompensationFailure records an undo step that did not succeed, so that the
// reconciliation job (or an operator) can retry it later
type CompensationFailure struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	BookingID  *uuid.UUID       `json:"booking_id,omitempty" db:"booking_id"`
	Kind       CompensationKind `json:"kind" db:"kind"`
	PaymentID  int64            `json:"payment_id" db:"payment_id"`
	VehicleID  string           `json:"vehicle_id" db:"vehicle_id"`
	OfficeID   int64            `json:"office_id" db:"office_id"`
	StartTime  int64            `json:"start_time" db:"start_time"`
	LastError  string           `json:"last_error" db:"last_error"`
	Attempts   int              `json:"attempts" db:"attempts"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}
