package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops_backend/internal/adapters"
	"fieldops_backend/internal/events"
	apphttp "fieldops_backend/internal/http"
	"fieldops_backend/internal/http/router"
	"fieldops_backend/internal/jobs"
	"fieldops_backend/internal/proposals"
	"fieldops_backend/internal/scheduler"
	"fieldops_backend/internal/stages"
	"fieldops_backend/internal/stages/domain"
	stageshandler "fieldops_backend/internal/stages/handler"
	stagesservice "fieldops_backend/internal/stages/service"
	stagestransport "fieldops_backend/internal/stages/transport"
	"fieldops_backend/migrations"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/db"
	"fieldops_backend/platform/lock"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()
	if err := stagestransport.RegisterValidations(val); err != nil {
		panic("failed to register stage validations: " + err.Error())
	}

	catalog, err := domain.LoadCatalog(cfg.GetStageCatalogFile())
	if err != nil {
		log.Error("failed to load stage catalog", "error", err, "path", cfg.GetStageCatalogFile())
		panic("failed to load stage catalog: " + err.Error())
	}
	engine := domain.NewEngine(catalog)

	locker, closeLocker := initBackfillLocker(cfg, log)
	if closeLocker != nil {
		defer closeLocker()
	}

	enqueuer, closeEnqueuer := initBackfillEnqueuer(cfg, log)
	if closeEnqueuer != nil {
		defer closeEnqueuer()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	stagesModule := stages.NewModule(pool, engine, eventBus, locker, enqueuer, cfg, val, log)

	// Wire stage triggers: proposals → stages (approval and payment facts)
	stageTrigger := adapters.NewStageTriggerAdapter(stagesModule.Service())
	proposalsModule := proposals.NewModule(pool, stageTrigger, eventBus, cfg, val, log)

	// Wire proposal facts: jobs → proposals (pre-seeding new jobs)
	proposalFacts := adapters.NewProposalFactsReader(proposalsModule.Service())
	jobsModule := jobs.NewModule(pool, engine, proposalFacts, eventBus, cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			jobsModule,
			stagesModule,
			proposalsModule,
		},
	}

	// Jobs module records stage activity from domain events
	app.SubscribeModules()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initBackfillLocker returns a nil interface (not a typed nil) when Redis is absent.
func initBackfillLocker(cfg config.SchedulerConfig, log *logger.Logger) (stagesservice.RunLocker, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; stage backfill runs are not locked across processes")
		return nil, nil
	}

	locker, err := lock.NewRedisLockerFromURL(cfg.GetRedisURL(), "fieldops:lock:")
	if err != nil {
		log.Error("failed to initialize backfill locker", "error", err)
		return nil, nil
	}

	return locker, func() {
		_ = locker.Close()
	}
}

func initBackfillEnqueuer(cfg config.SchedulerConfig, log *logger.Logger) (stageshandler.Enqueuer, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; async stage backfill disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
