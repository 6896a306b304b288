// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/pkg/logger"
)

const jobTimeout = 30 * time.Second

// PauseCleaner removes expired conversation pauses.
type PauseCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	s      gocron.Scheduler
	logger *logger.Logger
}

// New creates a scheduler driven by clock. Jobs run once Start is called.
func New(clock clockwork.Clock, log *logger.Logger) (*Scheduler, error) {
	log = log.Named("scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{log.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{s: s, logger: log}, nil
}

// CacheSweeper drops expired keys from an in-process cache.
type CacheSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AddPauseCleanup runs cleaner every interval, starting immediately.
func (s *Scheduler) AddPauseCleanup(interval time.Duration, cleaner PauseCleaner) error {
	return s.addJob("pause-cleanup", interval, cleaner.CleanupExpired, "expired pauses removed")
}

// AddCacheSweep runs sweeper every interval, starting immediately.
func (s *Scheduler) AddCacheSweep(interval time.Duration, sweeper CacheSweeper) error {
	return s.addJob("cache-sweep", interval, sweeper.Sweep, "expired cache keys removed")
}

// addJob schedules a singleton duration job. fn reports how many rows or keys it removed.
func (s *Scheduler) addJob(name string, interval time.Duration, fn func(context.Context) (int64, error), removed string) error {
	if interval <= 0 {
		return fmt.Errorf("%s interval must be positive, got %s", name, interval)
	}

	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			n, err := fn(ctx)
			if err != nil {
				s.logger.Error("job failed", zap.String("name", name), zap.Error(err))
				return
			}
			if n > 0 {
				s.logger.Info(removed, zap.Int64("count", n))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.logger.Info("job scheduled", zap.String("name", name), zap.Duration("interval", interval))
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.s.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

// gocronLogger adapts zap to gocron.Logger.
type gocronLogger struct {
	l *zap.SugaredLogger
}

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Errorw(msg, args...) }
