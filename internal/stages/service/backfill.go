package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/repository"
	"fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/lock"
	"fieldops_backend/platform/logger"
)

const backfillLockName = "stage-backfill"

// RunLocker guards a batch run against overlap across processes.
type RunLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// BackfillOptions selects what a run reconciles.
type BackfillOptions struct {
	// JobID limits the run to one job. Nil selects every non-completed job.
	JobID       *uuid.UUID
	AutoAdvance bool
}

// BackfillSettings tunes the reconciler.
type BackfillSettings struct {
	Workers int
	MaxJobs int
	LockTTL time.Duration
}

// Backfiller re-applies auto-completion triggers to persisted jobs.
type Backfiller struct {
	svc      *Service
	repo     repository.Repository
	locker   RunLocker
	settings BackfillSettings
	log      *logger.Logger
}

// NewBackfiller creates a reconciler. locker may be nil when no Redis is configured.
func NewBackfiller(svc *Service, repo repository.Repository, locker RunLocker, settings BackfillSettings, log *logger.Logger) *Backfiller {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.MaxJobs < 1 {
		settings.MaxJobs = 5000
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 15 * time.Minute
	}
	return &Backfiller{svc: svc, repo: repo, locker: locker, settings: settings, log: log}
}

type jobOutcome struct {
	steps    int
	advanced int
	err      error
}

// Run reconciles the selected jobs. Per-job failures are collected into the
// report as "<job-ref>: <message>" and never abort the batch.
func (b *Backfiller) Run(ctx context.Context, opts BackfillOptions) (transport.BackfillReport, error) {
	report := transport.BackfillReport{Errors: []string{}}

	if b.locker != nil {
		release, err := b.locker.Acquire(ctx, backfillLockName, b.settings.LockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return report, apperr.Conflict("a stage backfill is already running")
			}
			return report, fmt.Errorf("acquire backfill lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				b.log.Warn("failed to release backfill lock", "error", err)
			}
		}()
	}

	refs, err := b.selectJobs(ctx, opts)
	if err != nil {
		return report, err
	}

	outcomes := make([]jobOutcome, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.settings.Workers)
	for i, ref := range refs {
		g.Go(func() error {
			outcomes[i] = b.reconcileJob(gctx, ref, opts.AutoAdvance)
			return nil
		})
	}
	_ = g.Wait()

	for i, out := range outcomes {
		report.JobsProcessed++
		if out.err != nil {
			b.log.BackfillJobFailed(refs[i].Ref(), out.err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", refs[i].Ref(), out.err.Error()))
			continue
		}
		if out.steps > 0 || out.advanced > 0 {
			report.JobsUpdated++
		}
		report.TotalStepsCompleted += out.steps
	}

	b.log.Info("stage backfill finished",
		"jobs_processed", report.JobsProcessed,
		"jobs_updated", report.JobsUpdated,
		"steps_completed", report.TotalStepsCompleted,
		"errors", len(report.Errors),
	)
	return report, nil
}

func (b *Backfiller) selectJobs(ctx context.Context, opts BackfillOptions) ([]repository.JobRef, error) {
	if opts.JobID != nil {
		ref, err := b.repo.GetJobRef(ctx, *opts.JobID)
		if err != nil {
			return nil, err
		}
		return []repository.JobRef{ref}, nil
	}
	return b.repo.ListActiveJobs(ctx, b.settings.MaxJobs)
}

// reconcileJob is the error boundary of one job: panics become errors.
func (b *Backfiller) reconcileJob(ctx context.Context, ref repository.JobRef, autoAdvance bool) (out jobOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = jobOutcome{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return jobOutcome{err: err}
	}

	facts, err := b.repo.GetJobFacts(ctx, ref.ID)
	if err != nil {
		return jobOutcome{err: err}
	}
	active := facts.Active()

	var steps, advanced int
	m, err := b.svc.mutate(ctx, ref.ID, true, func(job *repository.JobStage) (bool, error) {
		res, moves, err := b.svc.engine.Reconcile(&job.Data, active, domain.TriggerBackfill, autoAdvance)
		if err != nil {
			return false, err
		}
		steps, advanced = len(res.Changed), len(moves)
		return steps > 0 || advanced > 0, nil
	})
	if err != nil {
		return jobOutcome{err: err}
	}
	b.svc.publish(ctx, m, "backfill", domain.TriggerBackfill, nil)
	return jobOutcome{steps: steps, advanced: advanced}
}
