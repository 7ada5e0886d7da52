package settlement

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"commissionplane/pkg/config"
	"commissionplane/pkg/taskname"
)

var SchedulerModule = fx.Module("settlement.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

// Scheduler enqueues the periodic settlement run and the daily fraud sweep.
// The batch itself executes on the worker, so multiple API replicas only ever
// race on enqueueing, never on settling.
type Scheduler struct {
	client   *asynq.Client
	interval time.Duration
}

func NewScheduler(client *asynq.Client, cfg *config.Config) *Scheduler {
	return &Scheduler{
		client:   client,
		interval: cfg.Settlement.RunInterval,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("settlement scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		now := time.Now()
		nextSweep := nextRunTime(now, 2, 0)

		select {
		case <-ticker.C:
			s.enqueue(ctx, taskname.SettlementRun)
		case <-time.After(nextSweep.Sub(now)):
			s.enqueue(ctx, taskname.FraudSweep)
		case <-ctx.Done():
			zap.L().Warn("settlement scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, name string) {
	task := asynq.NewTask(name, nil)
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue("default")); err != nil {
		zap.L().Error("failed to enqueue task", zap.String("task_type", name), zap.Error(err))
		return
	}
	zap.L().Info("task enqueued", zap.String("task_type", name))
}

// nextRunTime returns the next occurrence of hour:minute after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
