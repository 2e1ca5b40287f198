package scheduler

import (
	"context"
	"fmt"

	"fieldops_backend/internal/stages/service"
	"fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// BackfillRunner runs one reconciliation batch.
type BackfillRunner interface {
	Run(ctx context.Context, opts service.BackfillOptions) (transport.BackfillReport, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	backfiller BackfillRunner
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, backfiller BackfillRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(backfiller, log)
	w.server = server
	return w, nil
}

func newWorker(backfiller BackfillRunner, log *logger.Logger) *Worker {
	w := &Worker{
		mux:        asynq.NewServeMux(),
		backfiller: backfiller,
		log:        log,
	}
	w.mux.HandleFunc(TaskStageBackfill, w.handleStageBackfill)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleStageBackfill(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseStageBackfillPayload(task)
	if err != nil {
		return fmt.Errorf("parse stage backfill payload: %v: %w", err, asynq.SkipRetry)
	}

	opts := service.BackfillOptions{AutoAdvance: payload.AutoAdvance}
	if payload.JobID != "" {
		jobID, err := uuid.Parse(payload.JobID)
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", payload.JobID, asynq.SkipRetry)
		}
		opts.JobID = &jobID
	}

	report, err := w.backfiller.Run(ctx, opts)
	if err != nil {
		// Another run holds the lock or the job is gone; retrying cannot help.
		if apperr.Is(err, apperr.KindConflict) || apperr.Is(err, apperr.KindNotFound) {
			w.log.Info("stage backfill skipped", "reason", err.Error())
			return fmt.Errorf("stage backfill skipped: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.log.Info("stage backfill finished",
		"jobs_processed", report.JobsProcessed,
		"jobs_updated", report.JobsUpdated,
		"steps_completed", report.TotalStepsCompleted,
		"errors", len(report.Errors),
	)
	return nil
}
