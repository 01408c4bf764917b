package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	billing "terminal-billing/internal/billing/domain"
)

// BatchRunner runs the monthly statement batch.
type BatchRunner interface {
	GenerateAllDrafts(ctx context.Context, year int, month time.Month, asOf time.Time) (*BatchResult, error)
}

// Scheduler triggers the batch for the previous month once a month.
type Scheduler struct {
	runner     BatchRunner
	dayOfMonth int
	hour       int
	minute     int
	logger     logrus.FieldLogger

	mu      sync.Mutex
	lastRun time.Time
}

// NewScheduler constructs a Scheduler running on dayOfMonth at dailyAt (HH:MM, UTC).
func NewScheduler(runner BatchRunner, dayOfMonth int, dailyAt string, logger logrus.FieldLogger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: nil runner")
	}
	if dayOfMonth < 1 || dayOfMonth > 28 {
		return nil, errors.New("scheduler: day of month must be 1..28")
	}
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{runner: runner, dayOfMonth: dayOfMonth, hour: hour, minute: minute, logger: logger}, nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.RunDue(ctx, now.UTC())
		}
	}
}

// RunDue runs the batch when now is past this month's slot and the month has
// not run yet. It reports whether a run happened.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) bool {
	if !s.shouldRun(now) {
		return false
	}
	year, month := billing.PreviousMonth(now)
	asOf := billing.MonthStart(now.Year(), now.Month())
	logger := s.logger.WithFields(logrus.Fields{"year": year, "month": int(month)})
	logger.Info("monthly statement batch starting")

	result, err := s.runner.GenerateAllDrafts(ctx, year, month, asOf)
	if err != nil {
		logger.WithError(err).Error("monthly statement batch failed")
		return true
	}
	for _, failure := range result.Failures {
		logger.WithField("company_id", failure.CompanyID).WithError(failure.Err).Warn("company statement not generated")
	}
	return true
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	slot := time.Date(now.Year(), now.Month(), s.dayOfMonth, s.hour, s.minute, 0, 0, time.UTC)
	if now.Before(slot) || now.Day() != s.dayOfMonth {
		return false
	}
	month := billing.MonthStart(now.Year(), now.Month())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.Equal(month) {
		return false
	}
	s.lastRun = month
	return true
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
