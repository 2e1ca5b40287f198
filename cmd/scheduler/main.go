package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops_backend/internal/adapters"
	"fieldops_backend/internal/events"
	"fieldops_backend/internal/jobs"
	"fieldops_backend/internal/proposals"
	"fieldops_backend/internal/scheduler"
	"fieldops_backend/internal/stages"
	"fieldops_backend/internal/stages/domain"
	stagestransport "fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/db"
	"fieldops_backend/platform/lock"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	val := validator.New()
	if err := stagestransport.RegisterValidations(val); err != nil {
		panic("failed to register stage validations: " + err.Error())
	}

	catalog, err := domain.LoadCatalog(cfg.GetStageCatalogFile())
	if err != nil {
		log.Error("failed to load stage catalog", "error", err)
		panic("failed to load stage catalog: " + err.Error())
	}
	engine := domain.NewEngine(catalog)

	// The worker always has Redis, so backfill runs are locked across processes.
	locker, err := lock.NewRedisLockerFromURL(cfg.GetRedisURL(), "fieldops:lock:")
	if err != nil {
		log.Error("failed to initialize backfill locker", "error", err)
		panic("failed to initialize backfill locker: " + err.Error())
	}
	defer func() { _ = locker.Close() }()

	// Worker-side wiring (no HTTP handlers required). The jobs module is
	// built so that stage events raised by backfill land in the activity feed.
	stagesModule := stages.NewModule(pool, engine, eventBus, locker, nil, cfg, val, log)
	proposalsModule := proposals.NewModule(pool, adapters.NewStageTriggerAdapter(stagesModule.Service()), eventBus, cfg, val, log)
	jobsModule := jobs.NewModule(pool, engine, adapters.NewProposalFactsReader(proposalsModule.Service()), eventBus, cfg, val, log)
	jobsModule.RegisterHandlers(eventBus)

	worker, err := scheduler.NewWorker(cfg, stagesModule.Backfiller(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodicBackfill(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic backfill", "error", err)
		panic("failed to initialize periodic backfill: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		periodic.Run(gctx)
		return nil
	})
	_ = g.Wait()
	eventBus.Wait()
	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
