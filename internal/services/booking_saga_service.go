package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PaymentGateway charges and refunds cards
type PaymentGateway interface {
	Charge(ctx context.Context, card string, amount int64) (int64, error)
	Reverse(ctx context.Context, paymentID int64) error
}

// AvailabilityLedger moves vehicles between offices
type AvailabilityLedger interface {
	ReserveMove(ctx context.Context, vehicleID string, req models.MoveRequest) error
	ReleaseMove(ctx context.Context, vehicleID string, req models.ReleaseRequest) error
}

// BookingStore persists bookings
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Booking, error)
	ClaimTransition(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) (bool, error)
	ReleaseClaim(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error
	CompleteTransition(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error
}

// StatsRecorder reports bookings for analytics
type StatsRecorder interface {
	Record(ctx context.Context, vehicleID string, officeID int64) error
}

// CompensationLog keeps failed undo steps for reconciliation
type CompensationLog interface {
	Record(ctx context.Context, failure *models.CompensationFailure) error
}

// BookingSagaConfig holds configuration for the saga orchestrator
type BookingSagaConfig struct {
	SkipPayment     bool          // create bookings without charging (degraded deployments)
	ReleaseOnFinish bool          // release the move when a booking is finished
	CallTimeout     time.Duration // per remote call
	StatsTimeout    time.Duration // statistics are best effort
}

// DefaultBookingSagaConfig returns default configuration
func DefaultBookingSagaConfig() BookingSagaConfig {
	return BookingSagaConfig{
		SkipPayment:     false,
		ReleaseOnFinish: true,
		CallTimeout:     10 * time.Second,
		StatsTimeout:    2 * time.Second,
	}
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// BookingSagaService coordinates payment, vehicle moves and booking state.
// There is no shared transaction: every completed step has a matching undo
// that runs if a later step fails.
type BookingSagaService struct {
	payments      PaymentGateway
	ledger        AvailabilityLedger
	bookings      BookingStore
	stats         StatsRecorder
	compensations CompensationLog
	validate      *validator.Validate
	config        BookingSagaConfig
	logger        *logrus.Logger
}

// NewBookingSagaService creates a new BookingSagaService. stats and
// compensations may be nil.
func NewBookingSagaService(
	payments PaymentGateway,
	ledger AvailabilityLedger,
	bookings BookingStore,
	stats StatsRecorder,
	compensations CompensationLog,
	config BookingSagaConfig,
	logger *logrus.Logger,
) *BookingSagaService {
	if stats == nil {
		stats = NoopStatsRecorder{}
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultBookingSagaConfig().CallTimeout
	}
	if config.StatsTimeout <= 0 {
		config.StatsTimeout = DefaultBookingSagaConfig().StatsTimeout
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &BookingSagaService{
		payments:      payments,
		ledger:        ledger,
		bookings:      bookings,
		stats:         stats,
		compensations: compensations,
		validate:      validate,
		config:        config,
		logger:        logger,
	}
}

var sagaTracer = otel.Tracer("github.com/Evg-Mazay/rsoi-curse/internal/services/saga")

// compensation undoes one completed saga step
type compensation struct {
	step    string
	run     func(ctx context.Context) error
	failure models.CompensationFailure
}

// ============================================================================
// CREATE BOOKING
// ============================================================================

// CreateBooking charges the card, moves the vehicle and stores the booking.
// Once validation passes the saga runs to completion even if ctx is cancelled.
func (s *BookingSagaService) CreateBooking(
	ctx context.Context,
	requestor models.RequestorContext,
	req models.CreateBookingRequest,
) (uuid.UUID, error) {
	ctx, span := sagaTracer.Start(ctx, "saga.CreateBooking")
	defer span.End()
	span.SetAttributes(attribute.String("vehicle.id", req.VehicleID))

	// 1. Validate request
	ownerID, err := s.bookingOwner(requestor, req.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	req.PaymentData.SkipPayment = s.config.SkipPayment
	if err := s.validate.Struct(req); err != nil {
		return uuid.Nil, models.WrapError(models.KindBadRequest, err, "%s", validationDetail(err))
	}

	ctx = context.WithoutCancel(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"vehicle_id":   req.VehicleID,
		"user_id":      ownerID,
		"start_office": req.StartOffice,
		"end_office":   req.EndOffice,
	})

	var compensations []compensation

	// 2. Charge
	var paymentID int64
	if !s.config.SkipPayment {
		err := s.step(ctx, "charge", func(ctx context.Context) error {
			var err error
			paymentID, err = s.payments.Charge(ctx, req.PaymentData.CardNumber, req.PaymentData.Price)
			return err
		})
		if errors.Is(err, ErrPaymentDeclined) {
			log.Info("Payment declined")
			return uuid.Nil, models.WrapError(models.KindPaymentRejected, err, "payment was declined")
		}
		if err != nil {
			log.WithError(err).Error("Payment processor unavailable")
			return uuid.Nil, models.WrapError(models.KindPaymentGatewayUnavailable, err, "payment processor unavailable")
		}
		log = log.WithField("payment_id", paymentID)
		log.Info("Payment charged")

		compensations = append(compensations, compensation{
			step: "reverse payment",
			run: func(ctx context.Context) error {
				return s.payments.Reverse(ctx, paymentID)
			},
			failure: models.CompensationFailure{
				Kind:      models.CompensationPaymentReversal,
				PaymentID: paymentID,
			},
		})
	}

	// 3. Reserve the vehicle move
	moveReq := models.MoveRequest{
		TakenFrom: req.StartOffice,
		TakenTo:   req.EndOffice,
		StartTime: req.BookingStart,
		EndTime:   req.BookingEnd,
	}
	releaseMove := compensation{
		step: "release move",
		run: func(ctx context.Context) error {
			return s.ledger.ReleaseMove(ctx, req.VehicleID, models.ReleaseRequest{
				TakenFrom: req.StartOffice,
				StartTime: req.BookingStart,
			})
		},
		failure: models.CompensationFailure{
			Kind:      models.CompensationLedgerRelease,
			VehicleID: req.VehicleID,
			OfficeID:  req.StartOffice,
			StartTime: req.BookingStart,
		},
	}

	err = s.step(ctx, "reserve", func(ctx context.Context) error {
		return s.ledger.ReserveMove(ctx, req.VehicleID, moveReq)
	})
	if err != nil {
		log.WithError(err).Warn("Vehicle reservation failed, undoing booking")
		if !errors.As(err, new(*models.BookingError)) {
			err = models.WrapError(models.KindUpstreamUnavailable, err, "availability ledger unavailable")
		}
		if models.KindOf(err) == models.KindUpstreamUnavailable {
			// the move may have been applied before the call failed
			compensations = append(compensations, ambiguous(releaseMove))
		}
		return uuid.Nil, s.unwind(ctx, nil, err, compensations)
	}
	compensations = append(compensations, releaseMove)
	log.Info("Vehicle reserved")

	// 4. Persist
	booking := &models.Booking{
		VehicleID:    req.VehicleID,
		UserID:       ownerID,
		PaymentID:    paymentID,
		Price:        req.PaymentData.Price,
		BookingStart: req.BookingStart,
		BookingEnd:   req.BookingEnd,
		StartOffice:  req.StartOffice,
		EndOffice:    req.EndOffice,
	}
	err = s.step(ctx, "persist", func(ctx context.Context) error {
		return s.bookings.Create(ctx, booking)
	})
	if err != nil {
		log.WithError(err).Error("Failed to save booking, undoing booking")
		return uuid.Nil, s.unwind(ctx, nil, models.WrapError(models.KindInternal, err, "failed to save booking"), compensations)
	}

	// 5. Statistics, best effort
	s.recordStats(ctx, booking)

	log.WithField("booking_id", booking.ID).Info("Booking created")
	return booking.ID, nil
}

// bookingOwner decides whose booking is being created
func (s *BookingSagaService) bookingOwner(requestor models.RequestorContext, requested string) (string, error) {
	if requested == "" {
		if requestor.UserID == "" {
			return "", models.NewError(models.KindBadRequest, "user_id is required")
		}
		return requestor.UserID, nil
	}
	if requested != requestor.UserID && !requestor.IsPrivileged() {
		return "", models.NewError(models.KindForbidden, "cannot create bookings for another user")
	}
	return requested, nil
}

// ambiguous wraps a release so that "nothing to release" counts as success
func ambiguous(c compensation) compensation {
	run := c.run
	c.step = "release possibly applied move"
	c.run = func(ctx context.Context) error {
		err := run(ctx)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	return c
}

// unwind runs compensations newest first. It returns cause when all of them
// succeed, and a CompensationFailed error carrying cause and every undo
// failure otherwise.
func (s *BookingSagaService) unwind(ctx context.Context, bookingID *uuid.UUID, cause error, compensations []compensation) error {
	var failures []error
	for i := len(compensations) - 1; i >= 0; i-- {
		c := compensations[i]
		err := s.step(ctx, "compensate", c.run)
		if err == nil {
			s.logger.WithField("step", c.step).Info("Compensation applied")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"step":       c.step,
			"payment_id": c.failure.PaymentID,
			"vehicle_id": c.failure.VehicleID,
		}).WithError(err).Error("Compensation failed")

		failure := c.failure
		failure.BookingID = bookingID
		s.logCompensationFailure(ctx, &failure, err)
		failures = append(failures, fmt.Errorf("%s: %w", c.step, err))
	}

	if len(failures) == 0 {
		return cause
	}
	return &models.BookingError{
		Kind:   models.KindCompensationFailed,
		Detail: "booking failed and could not be fully undone: " + models.DetailOf(cause),
		Err:    errors.Join(append([]error{cause}, failures...)...),
	}
}

func (s *BookingSagaService) logCompensationFailure(ctx context.Context, failure *models.CompensationFailure, cause error) {
	if s.compensations == nil {
		return
	}
	failure.LastError = cause.Error()
	err := s.step(ctx, "log compensation", func(ctx context.Context) error {
		return s.compensations.Record(ctx, failure)
	})
	if err != nil {
		s.logger.WithError(err).WithField("kind", failure.Kind).Error("Failed to record compensation failure")
	}
}

func (s *BookingSagaService) recordStats(ctx context.Context, booking *models.Booking) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StatsTimeout)
	defer cancel()

	if err := s.stats.Record(ctx, booking.VehicleID, booking.StartOffice); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to record booking statistics")
	}
}

// step runs one remote call with its own timeout and span
func (s *BookingSagaService) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	ctx, span := sagaTracer.Start(ctx, "saga."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("saga.step", name)),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func validationDetail(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return "invalid booking request"
	}
	parts := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		parts = append(parts, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return "invalid booking request: " + strings.Join(parts, "; ")
}

// ============================================================================
// CANCEL / FINISH
// ============================================================================

// CancelBooking refunds the payment, releases the vehicle move and marks the
// booking CANCELLED. If the refund fails the booking stays NEW.
func (s *BookingSagaService) CancelBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) error {
	ctx, span := sagaTracer.Start(ctx, "saga.CancelBooking")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()))

	booking, err := s.loadForTransition(ctx, requestor, bookingID)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"vehicle_id": booking.VehicleID,
		"payment_id": booking.PaymentID,
	})

	// 0. Claim
	if err := s.claim(ctx, booking.ID, models.TransitionCancel); err != nil {
		return err
	}

	// 1. Reverse payment
	if booking.PaymentID != 0 {
		err := s.step(ctx, "reverse", func(ctx context.Context) error {
			return s.payments.Reverse(ctx, booking.PaymentID)
		})
		if err != nil {
			log.WithError(err).Error("Payment reversal failed, booking stays NEW")
			s.releaseClaim(ctx, booking.ID, models.TransitionCancel)
			if errors.Is(err, ErrPaymentNotFound) {
				return models.WrapError(models.KindCompensationFailed, err,
					"payment %d is unknown to the payment processor", booking.PaymentID)
			}
			return models.WrapError(models.KindPaymentGatewayUnavailable, err, "payment processor unavailable")
		}
		log.Info("Payment reversed")
	}

	// 2. Release move
	s.releaseMove(ctx, booking)

	// 3. Mark cancelled
	if err := s.complete(ctx, booking.ID, models.TransitionCancel); err != nil {
		return err
	}

	log.Info("Booking cancelled")
	return nil
}

// FinishBooking marks the booking FINISHED, releasing the move when
// ReleaseOnFinish is set. The payment is kept.
func (s *BookingSagaService) FinishBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) error {
	ctx, span := sagaTracer.Start(ctx, "saga.FinishBooking")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()))

	booking, err := s.loadForTransition(ctx, requestor, bookingID)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)

	// 0. Claim
	if err := s.claim(ctx, booking.ID, models.TransitionFinish); err != nil {
		return err
	}

	// 1. Release move
	if s.config.ReleaseOnFinish {
		s.releaseMove(ctx, booking)
	}

	// 2. Mark finished
	if err := s.complete(ctx, booking.ID, models.TransitionFinish); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"vehicle_id": booking.VehicleID,
	}).Info("Booking finished")
	return nil
}

func (s *BookingSagaService) loadForTransition(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, requestor, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusNew {
		return nil, models.NewError(models.KindInvalidState, "booking %s is %s", bookingID, booking.Status)
	}
	if booking.PendingTransition != nil {
		return nil, models.NewError(models.KindInvalidState, "booking %s is already being %s", bookingID, pastTense(*booking.PendingTransition))
	}
	return booking, nil
}

func (s *BookingSagaService) claim(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	var claimed bool
	err := s.step(ctx, "claim", func(ctx context.Context) error {
		var err error
		claimed, err = s.bookings.ClaimTransition(ctx, bookingID, transition)
		return err
	})
	if err != nil {
		return models.WrapError(models.KindInternal, err, "failed to update booking")
	}
	if !claimed {
		return models.NewError(models.KindInvalidState, "booking %s is no longer NEW", bookingID)
	}
	return nil
}

func (s *BookingSagaService) releaseClaim(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) {
	err := s.step(ctx, "release claim", func(ctx context.Context) error {
		return s.bookings.ReleaseClaim(ctx, bookingID, transition)
	})
	if err != nil {
		// reconciliation clears it after the claim TTL
		s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to release booking claim")
	}
}

func (s *BookingSagaService) complete(ctx context.Context, bookingID uuid.UUID, transition models.BookingTransition) error {
	err := s.step(ctx, "complete", func(ctx context.Context) error {
		return s.bookings.CompleteTransition(ctx, bookingID, transition)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": bookingID,
			"transition": transition,
		}).Error("Failed to complete booking transition")
		return models.WrapError(models.KindInternal, err, "failed to update booking")
	}
	return nil
}

// releaseMove undoes the booking's vehicle move. Failure is recorded for
// reconciliation and does not stop the caller.
func (s *BookingSagaService) releaseMove(ctx context.Context, booking *models.Booking) {
	err := s.step(ctx, "release", func(ctx context.Context) error {
		return s.ledger.ReleaseMove(ctx, booking.VehicleID, models.ReleaseRequest{
			TakenFrom: booking.StartOffice,
			StartTime: booking.BookingStart,
		})
	})
	if err == nil {
		return
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"vehicle_id": booking.VehicleID,
	}).Error("Failed to release vehicle move")

	bookingID := booking.ID
	s.logCompensationFailure(ctx, &models.CompensationFailure{
		BookingID: &bookingID,
		Kind:      models.CompensationLedgerRelease,
		VehicleID: booking.VehicleID,
		OfficeID:  booking.StartOffice,
		StartTime: booking.BookingStart,
	}, err)
}

func pastTense(t models.BookingTransition) string {
	if t == models.TransitionCancel {
		return "cancelled"
	}
	return "finished"
}

// ============================================================================
// READS
// ============================================================================

// GetBooking returns a booking visible to requestor. Other users' bookings
// are reported as not found.
func (s *BookingSagaService) GetBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to read booking")
	}
	if booking == nil || !requestor.CanAccess(booking) {
		return nil, models.NewError(models.KindNotFound, "booking %s not found", bookingID)
	}
	return booking, nil
}

// ListBookings returns the requestor's bookings. Admins and services may
// pass userFilter to list another user's bookings, or "" for everyone's.
func (s *BookingSagaService) ListBookings(
	ctx context.Context,
	requestor models.RequestorContext,
	userFilter string,
	limit, offset int,
) ([]models.Booking, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	userID := requestor.UserID
	switch {
	case requestor.IsPrivileged():
		userID = userFilter
	case requestor.UserID == "":
		return nil, models.NewError(models.KindForbidden, "unknown requestor")
	case userFilter != "" && userFilter != requestor.UserID:
		return nil, models.NewError(models.KindForbidden, "cannot list another user's bookings")
	}

	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to list bookings")
	}
	return bookings, nil
}
