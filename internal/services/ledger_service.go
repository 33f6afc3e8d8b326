package services

import (
	"context"
	"errors"

	"github.com/Evg-Mazay/rsoi-curse/internal/database"
	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// IntervalStore persists availability intervals
type IntervalStore interface {
	GetOpenInterval(ctx context.Context, vehicleID string) (*models.AvailabilityInterval, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]models.AvailabilityInterval, error)
	ListByOffice(ctx context.Context, officeID int64) ([]models.AvailabilityInterval, error)
	ListByOfficeVehicle(ctx context.Context, officeID int64, vehicleID string) ([]models.AvailabilityInterval, error)
	InsertOpenInterval(ctx context.Context, interval *models.AvailabilityInterval) error
	ReserveMove(ctx context.Context, vehicleID string, decide func(current *models.AvailabilityInterval) (*database.MovePlan, error)) error
	DeleteClosedInterval(ctx context.Context, vehicleID string, officeID, closedAt int64) (bool, error)
	DeleteVehicleAtOffice(ctx context.Context, officeID int64, vehicleID string) (int64, error)
}

// OfficeStore reads offices
type OfficeStore interface {
	List(ctx context.Context) ([]models.Office, error)
	GetByID(ctx context.Context, officeID int64) (*models.Office, error)
}

// VehicleCatalog answers whether a vehicle exists
type VehicleCatalog interface {
	Exists(ctx context.Context, vehicleID string) (bool, error)
}

// LedgerConfig holds availability policy
type LedgerConfig struct {
	MinBookingDuration int64 // shortest allowed end - start
}

// DefaultLedgerConfig returns default configuration
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{MinBookingDuration: 1}
}

// LedgerService owns the per-vehicle availability timeline. Mutations for one
// vehicle are serialized in-process; the store serializes them across replicas.
type LedgerService struct {
	intervals IntervalStore
	offices   OfficeStore
	catalog   VehicleCatalog
	locks     *vehicleLocks
	config    LedgerConfig
	logger    *logrus.Logger
}

// NewLedgerService creates a new LedgerService. catalog may be nil, in which
// case stocking does not check the vehicle catalog.
func NewLedgerService(
	intervals IntervalStore,
	offices OfficeStore,
	catalog VehicleCatalog,
	config LedgerConfig,
	logger *logrus.Logger,
) *LedgerService {
	if config.MinBookingDuration < 1 {
		config.MinBookingDuration = 1
	}
	return &LedgerService{
		intervals: intervals,
		offices:   offices,
		catalog:   catalog,
		locks:     newVehicleLocks(),
		config:    config,
		logger:    logger,
	}
}

var ledgerTracer = otel.Tracer("github.com/Evg-Mazay/rsoi-curse/internal/services/ledger")

// ============================================================================
// QUERIES
// ============================================================================

// CurrentAvailability returns where and from when the vehicle is free
func (s *LedgerService) CurrentAvailability(ctx context.Context, vehicleID string) (*models.CurrentAvailability, error) {
	current, err := s.intervals.GetOpenInterval(ctx, vehicleID)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to read availability")
	}
	if current == nil {
		return nil, models.NewError(models.KindVehicleNotAvailable, "vehicle %s is not available", vehicleID)
	}
	return &models.CurrentAvailability{OfficeID: current.OfficeID, From: current.AvailableFrom}, nil
}

// HistoryForVehicle returns every interval of a vehicle, newest first
func (s *LedgerService) HistoryForVehicle(ctx context.Context, vehicleID string) ([]models.AvailabilityInterval, error) {
	intervals, err := s.intervals.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to read availability history")
	}
	return intervals, nil
}

// HistoryForOffice returns every interval at an office, newest first
func (s *LedgerService) HistoryForOffice(ctx context.Context, officeID int64) ([]models.AvailabilityInterval, error) {
	if err := s.requireOffice(ctx, officeID); err != nil {
		return nil, err
	}
	intervals, err := s.intervals.ListByOffice(ctx, officeID)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to read office availability")
	}
	return intervals, nil
}

// HistoryForOfficeVehicle returns a vehicle's intervals at one office, newest first
func (s *LedgerService) HistoryForOfficeVehicle(ctx context.Context, officeID int64, vehicleID string) ([]models.AvailabilityInterval, error) {
	if err := s.requireOffice(ctx, officeID); err != nil {
		return nil, err
	}
	intervals, err := s.intervals.ListByOfficeVehicle(ctx, officeID, vehicleID)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to read office availability")
	}
	return intervals, nil
}

// ListOffices returns all offices
func (s *LedgerService) ListOffices(ctx context.Context) ([]models.Office, error) {
	offices, err := s.offices.List(ctx)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to list offices")
	}
	return offices, nil
}

func (s *LedgerService) requireOffice(ctx context.Context, officeID int64) error {
	office, err := s.offices.GetByID(ctx, officeID)
	if err != nil {
		return models.WrapError(models.KindInternal, err, "failed to read office")
	}
	if office == nil {
		return models.NewError(models.KindNotFound, "office %d not found", officeID)
	}
	return nil
}

// ============================================================================
// MOVES
// ============================================================================

// ReserveMove takes the vehicle out of its current office at req.StartTime and
// makes it available at req.TakenTo from req.EndTime
func (s *LedgerService) ReserveMove(ctx context.Context, vehicleID string, req models.MoveRequest) error {
	ctx, span := ledgerTracer.Start(ctx, "ledger.ReserveMove")
	defer span.End()
	span.SetAttributes(attribute.String("vehicle.id", vehicleID))

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	err := s.intervals.ReserveMove(ctx, vehicleID, func(current *models.AvailabilityInterval) (*database.MovePlan, error) {
		// 1. Vehicle must be available somewhere
		if current == nil {
			return nil, models.NewError(models.KindVehicleNotAvailable, "vehicle %s is not available", vehicleID)
		}

		// 2. ...at the office it is taken from
		if current.OfficeID != req.TakenFrom {
			return nil, models.NewError(models.KindWrongOffice,
				"vehicle %s is available at office %d from %d, not at office %d",
				vehicleID, current.OfficeID, current.AvailableFrom, req.TakenFrom)
		}

		// 3. The window must start inside the open interval
		if req.StartTime < current.AvailableFrom || req.EndTime-req.StartTime < s.config.MinBookingDuration {
			return nil, models.NewError(models.KindInvalidWindow,
				"vehicle %s is available from %d; window [%d, %d) is not allowed",
				vehicleID, current.AvailableFrom, req.StartTime, req.EndTime)
		}

		return &database.MovePlan{
			CloseAt: req.StartTime,
			Next: models.AvailabilityInterval{
				OfficeID:      req.TakenTo,
				AvailableFrom: req.EndTime,
			},
		}, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, database.ErrIntervalChanged):
		return models.WrapError(models.KindVehicleNotAvailable, err, "vehicle %s was moved concurrently", vehicleID)
	default:
		var bookingErr *models.BookingError
		if errors.As(err, &bookingErr) {
			return err
		}
		return models.WrapError(models.KindInternal, err, "failed to reserve vehicle")
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicleID,
		"taken_from": req.TakenFrom,
		"taken_to":   req.TakenTo,
		"start_time": req.StartTime,
		"end_time":   req.EndTime,
	}).Info("Vehicle reserved")

	return nil
}

// ReleaseMove deletes the interval at req.TakenFrom that a reserve-move
// closed at req.StartTime. The interval opened by that move is left alone,
// so the vehicle stays unavailable at its original office.
func (s *LedgerService) ReleaseMove(ctx context.Context, vehicleID string, req models.ReleaseRequest) error {
	ctx, span := ledgerTracer.Start(ctx, "ledger.ReleaseMove")
	defer span.End()
	span.SetAttributes(attribute.String("vehicle.id", vehicleID))

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	deleted, err := s.intervals.DeleteClosedInterval(ctx, vehicleID, req.TakenFrom, req.StartTime)
	if err != nil {
		return models.WrapError(models.KindInternal, err, "failed to release vehicle")
	}
	if !deleted {
		return models.NewError(models.KindNotFound,
			"no interval of vehicle %s at office %d ends at %d", vehicleID, req.TakenFrom, req.StartTime)
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicleID,
		"taken_from": req.TakenFrom,
		"start_time": req.StartTime,
	}).Info("Vehicle released")

	return nil
}

// ============================================================================
// INVENTORY
// ============================================================================

// StockVehicle makes a catalog vehicle available at an office from `from`
func (s *LedgerService) StockVehicle(ctx context.Context, officeID int64, vehicleID string, from int64) error {
	// 1. Office must exist
	if err := s.requireOffice(ctx, officeID); err != nil {
		return err
	}

	// 2. Vehicle must exist in the catalog
	if s.catalog != nil {
		exists, err := s.catalog.Exists(ctx, vehicleID)
		if err != nil {
			return models.WrapError(models.KindUpstreamUnavailable, err, "vehicle catalog unavailable")
		}
		if !exists {
			return models.NewError(models.KindBadRequest, "vehicle %s does not exist", vehicleID)
		}
	}

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	// 3. Vehicle must not be available anywhere yet
	current, err := s.intervals.GetOpenInterval(ctx, vehicleID)
	if err != nil {
		return models.WrapError(models.KindInternal, err, "failed to read availability")
	}
	if current != nil {
		return models.NewError(models.KindAlreadyStocked,
			"vehicle %s is already available at office %d", vehicleID, current.OfficeID)
	}

	// 4. Open an interval
	interval := &models.AvailabilityInterval{VehicleID: vehicleID, OfficeID: officeID, AvailableFrom: from}
	if err := s.intervals.InsertOpenInterval(ctx, interval); err != nil {
		if errors.Is(err, database.ErrOpenIntervalExists) {
			return models.NewError(models.KindAlreadyStocked, "vehicle %s is already available", vehicleID)
		}
		return models.WrapError(models.KindInternal, err, "failed to stock vehicle")
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicleID,
		"office_id":  officeID,
		"from":       from,
	}).Info("Vehicle stocked")

	return nil
}

// RemoveVehicleFromOffice deletes every interval of a vehicle at an office
func (s *LedgerService) RemoveVehicleFromOffice(ctx context.Context, officeID int64, vehicleID string) error {
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	removed, err := s.intervals.DeleteVehicleAtOffice(ctx, officeID, vehicleID)
	if err != nil {
		return models.WrapError(models.KindInternal, err, "failed to remove vehicle")
	}
	if removed == 0 {
		return models.NewError(models.KindNotFound, "vehicle %s has no intervals at office %d", vehicleID, officeID)
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicleID,
		"office_id":  officeID,
		"removed":    removed,
	}).Warn("Vehicle removed from office")

	return nil
}
