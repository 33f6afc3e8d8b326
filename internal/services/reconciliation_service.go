package services

import (
	"context"
	"errors"
	"time"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PendingCompensations reads and updates the compensation log
type PendingCompensations interface {
	ListPending(ctx context.Context, limit int) ([]models.CompensationFailure, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error
}

// ClaimSweeper clears booking claims abandoned mid-transition
type ClaimSweeper interface {
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReconciliationConfig holds configuration for the reconciliation job
type ReconciliationConfig struct {
	BatchSize   int
	ClaimTTL    time.Duration
	CallTimeout time.Duration
}

// DefaultReconciliationConfig returns default configuration
func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		BatchSize:   50,
		ClaimTTL:    10 * time.Minute,
		CallTimeout: 10 * time.Second,
	}
}

// ReconciliationResult summarizes one run
type ReconciliationResult struct {
	Resolved       int
	StillFailing   int
	ClaimsReleased int64
}

// ReconciliationService retries compensations that failed during a saga
type ReconciliationService struct {
	compensations PendingCompensations
	claims        ClaimSweeper
	payments      PaymentGateway
	ledger        AvailabilityLedger
	config        ReconciliationConfig
	logger        *logrus.Logger
	now           func() time.Time
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	compensations PendingCompensations,
	claims ClaimSweeper,
	payments PaymentGateway,
	ledger AvailabilityLedger,
	config ReconciliationConfig,
	logger *logrus.Logger,
) *ReconciliationService {
	defaults := DefaultReconciliationConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = defaults.ClaimTTL
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	return &ReconciliationService{
		compensations: compensations,
		claims:        claims,
		payments:      payments,
		ledger:        ledger,
		config:        config,
		logger:        logger,
		now:           time.Now,
	}
}

// RunOnce retries one batch of pending compensations and releases stale claims
func (s *ReconciliationService) RunOnce(ctx context.Context) (ReconciliationResult, error) {
	var result ReconciliationResult

	// 1. Release claims of transitions that never completed
	released, err := s.claims.ReleaseStaleClaims(ctx, s.now().Add(-s.config.ClaimTTL))
	if err != nil {
		return result, err
	}
	result.ClaimsReleased = released
	if released > 0 {
		s.logger.WithField("count", released).Warn("Released stale booking claims")
	}

	// 2. Retry pending compensations
	pending, err := s.compensations.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		return result, err
	}

	for i := range pending {
		failure := &pending[i]
		log := s.logger.WithFields(logrus.Fields{
			"compensation_id": failure.ID,
			"kind":            failure.Kind,
			"attempts":        failure.Attempts,
		})

		if err := s.retry(ctx, failure); err != nil {
			result.StillFailing++
			log.WithError(err).Warn("Compensation retry failed")
			if markErr := s.compensations.MarkAttempt(ctx, failure.ID, err.Error()); markErr != nil {
				log.WithError(markErr).Error("Failed to record compensation attempt")
			}
			continue
		}

		if err := s.compensations.MarkResolved(ctx, failure.ID); err != nil {
			log.WithError(err).Error("Failed to mark compensation resolved")
			continue
		}
		result.Resolved++
		log.Info("Compensation resolved")
	}

	return result, nil
}

func (s *ReconciliationService) retry(ctx context.Context, failure *models.CompensationFailure) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	switch failure.Kind {
	case models.CompensationPaymentReversal:
		err := s.payments.Reverse(ctx, failure.PaymentID)
		if errors.Is(err, ErrPaymentNotFound) {
			// nothing left to refund
			return nil
		}
		return err

	case models.CompensationLedgerRelease:
		err := s.ledger.ReleaseMove(ctx, failure.VehicleID, models.ReleaseRequest{
			TakenFrom: failure.OfficeID,
			StartTime: failure.StartTime,
		})
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err

	default:
		return errors.New("unknown compensation kind " + string(failure.Kind))
	}
}
