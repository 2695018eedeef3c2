// Package retention prunes old classification sessions on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Pruner interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	store  Pruner
	days   int
	sched  cron.Schedule
	expr   string
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// New parses a standard 5-field cron expression (minute hour day-of-month
// month day-of-week), e.g. "0 3 * * *" for daily at 03:00.
func New(store Pruner, days int, schedule string, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("retention store cannot be nil")
	}
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}
	schedule = strings.TrimSpace(schedule)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid retention_schedule '%s': %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		days:   days,
		sched:  sched,
		expr:   schedule,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// RunOnce deletes sessions not updated within the retention window.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.days)
	deleted, err := s.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.logger.Info("retention prune complete",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return deleted, nil
}

// Run prunes at every scheduled time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("retention scheduled", zap.String("cron", s.expr), zap.Int("days", s.days))
	for {
		now := s.now().In(s.loc)
		next := s.sched.Next(now)
		wait := next.Sub(now)
		s.logger.Debug("next retention prune",
			zap.String("at", next.Format("Mon Jan 2 15:04")),
			zap.Duration("in", wait.Round(time.Minute)),
		)

		select {
		case <-ctx.Done():
			s.logger.Info("retention stopped")
			return
		case <-s.after(wait):
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention prune failed", zap.Error(err))
		}
	}
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start(ctx context.Context) {
	go s.Run(ctx)
}
