package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category returned to API callers
type ErrorKind string

const (
	KindBadRequest                ErrorKind = "bad_request"
	KindPaymentRejected           ErrorKind = "payment_rejected"
	KindPaymentGatewayUnavailable ErrorKind = "payment_gateway_unavailable"
	KindUpstreamUnavailable       ErrorKind = "upstream_unavailable"
	KindVehicleNotAvailable       ErrorKind = "vehicle_not_available"
	KindWrongOffice               ErrorKind = "wrong_office"
	KindInvalidWindow             ErrorKind = "invalid_window"
	KindNotFound                  ErrorKind = "not_found"
	KindInvalidState              ErrorKind = "invalid_state"
	KindAlreadyStocked            ErrorKind = "already_stocked"
	KindCompensationFailed        ErrorKind = "compensation_failed"
	KindForbidden                 ErrorKind = "forbidden"
	KindUnauthorized              ErrorKind = "unauthorized"
	KindInternal                  ErrorKind = "internal"
)

// BookingError is the typed error surfaced by the ledger and the saga orchestrator.
// Detail is safe to show to end users; Err carries the underlying cause for logs.
type BookingError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *BookingError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors (no detail, no cause) by kind, so
// errors.Is(err, models.ErrNotFound) works for any not-found error.
func (e *BookingError) Is(target error) bool {
	t, ok := target.(*BookingError)
	if !ok || t.Detail != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// Sentinels for errors.Is checks
var (
	ErrBadRequest                = &BookingError{Kind: KindBadRequest}
	ErrPaymentRejected           = &BookingError{Kind: KindPaymentRejected}
	ErrPaymentGatewayUnavailable = &BookingError{Kind: KindPaymentGatewayUnavailable}
	ErrUpstreamUnavailable       = &BookingError{Kind: KindUpstreamUnavailable}
	ErrVehicleNotAvailable       = &BookingError{Kind: KindVehicleNotAvailable}
	ErrWrongOffice               = &BookingError{Kind: KindWrongOffice}
	ErrInvalidWindow             = &BookingError{Kind: KindInvalidWindow}
	ErrNotFound                  = &BookingError{Kind: KindNotFound}
	ErrInvalidState              = &BookingError{Kind: KindInvalidState}
	ErrAlreadyStocked            = &BookingError{Kind: KindAlreadyStocked}
	ErrCompensationFailed        = &BookingError{Kind: KindCompensationFailed}
	ErrForbidden                 = &BookingError{Kind: KindForbidden}
)

// NewError builds a BookingError with a formatted detail
func NewError(kind ErrorKind, format string, args ...interface{}) *BookingError {
	return &BookingError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError builds a BookingError that keeps err as its cause
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *BookingError {
	return &BookingError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost BookingError in err's chain,
// or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var bookingErr *BookingError
	if errors.As(err, &bookingErr) {
		return bookingErr.Kind
	}
	return KindInternal
}

// DetailOf returns the user-facing detail for err. Errors that are not
// BookingErrors never leak their text.
func DetailOf(err error) string {
	var bookingErr *BookingError
	if errors.As(err, &bookingErr) {
		if bookingErr.Detail != "" {
			return bookingErr.Detail
		}
		return string(bookingErr.Kind)
	}
	return "internal error"
}
