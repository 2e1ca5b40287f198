package scheduler

import (
	"context"
	"fmt"
	"time"

	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultBackfillCron = "@hourly"

// PeriodicBackfill enqueues a full stage backfill on a cron schedule.
type PeriodicBackfill struct {
	scheduler *asynq.Scheduler
	cron      string
	log       *logger.Logger
}

func NewPeriodicBackfill(cfg config.SchedulerConfig, log *logger.Logger) (*PeriodicBackfill, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	cron := cfg.GetStageBackfillCron()
	if cron == "" {
		cron = defaultBackfillCron
	}

	task, err := NewStageBackfillTask(StageBackfillPayload{})
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(cron, task, asynq.Queue(queueName(cfg)), asynq.Unique(backfillUniqueTTL)); err != nil {
		return nil, fmt.Errorf("register stage backfill %q: %w", cron, err)
	}

	return &PeriodicBackfill{scheduler: scheduler, cron: cron, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (p *PeriodicBackfill) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}

	if err := p.scheduler.Start(); err != nil {
		p.log.Error("periodic stage backfill failed to start", "error", err)
		return
	}
	p.log.Info("periodic stage backfill registered", "cron", p.cron)

	<-ctx.Done()
	p.scheduler.Shutdown()
}
