package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	reconciler *ReconciliationService
	schedule   string
	logger     *logrus.Logger
}

// NewCronService creates a new CronService. schedule uses the six-field
// format with seconds, e.g. "0 */5 * * * *" for every five minutes.
func NewCronService(reconciler *ReconciliationService, schedule string, logger *logrus.Logger) *CronService {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &CronService{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		logger:     logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	_, err := s.cron.AddFunc(s.schedule, s.reconcileJob)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("Scheduled: compensation reconciliation")

	s.cron.Start()
	s.logger.Info("Cron service started successfully")

	return nil
}

// Stop stops all cron jobs and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) reconcileJob() {
	startTime := time.Now()

	result, err := s.reconciler.RunOnce(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Reconciliation failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"resolved":        result.Resolved,
		"still_failing":   result.StillFailing,
		"claims_released": result.ClaimsReleased,
		"duration":        time.Since(startTime).String(),
	}).Info("[CRON] Reconciliation finished")
}
