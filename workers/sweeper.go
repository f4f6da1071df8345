package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/NxTech4021/dl-backend-sub004/services"
)

// RecalcSweeper periodically fails PENDING recalculation jobs whose preview
// never produced a result, so operators are not left polling a job that
// silently died with its process.
type RecalcSweeper struct {
	scheduler gocron.Scheduler
	recalcs   services.RecalculationService
	logger    *slog.Logger
	interval  time.Duration
	maxAge    time.Duration
}

func NewRecalcSweeper(recalcs services.RecalculationService, logger *slog.Logger, interval, maxAge time.Duration) (*RecalcSweeper, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &RecalcSweeper{
		scheduler: scheduler,
		recalcs:   recalcs,
		logger:    logger,
		interval:  interval,
		maxAge:    maxAge,
	}, nil
}

func (s *RecalcSweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			failed, sweepErr := s.recalcs.FailOverdue(ctx, s.maxAge)
			if sweepErr != nil {
				s.logger.Error("recalculation sweep failed", "error", sweepErr)
				return
			}
			if failed > 0 {
				s.logger.Warn("failed overdue recalculation jobs", "count", failed, "max_age", s.maxAge)
			}
		}),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info("recalculation sweeper started", "interval", s.interval, "max_age", s.maxAge)
	return nil
}

func (s *RecalcSweeper) Stop() error {
	return s.scheduler.Shutdown()
}
