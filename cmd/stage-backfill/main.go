package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fieldops_backend/internal/events"
	"fieldops_backend/internal/jobs"
	"fieldops_backend/internal/stages"
	"fieldops_backend/internal/stages/domain"
	stagesservice "fieldops_backend/internal/stages/service"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/db"
	"fieldops_backend/platform/lock"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"

	"github.com/google/uuid"
)

// One-shot stage reconciliation. STAGE_BACKFILL_JOB_ID limits the run to a
// single job; STAGE_BACKFILL_AUTO_ADVANCE=true also advances eligible jobs.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting stage backfill")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := stagesservice.BackfillOptions{
		AutoAdvance: strings.EqualFold(strings.TrimSpace(os.Getenv("STAGE_BACKFILL_AUTO_ADVANCE")), "true"),
	}
	if raw := strings.TrimSpace(os.Getenv("STAGE_BACKFILL_JOB_ID")); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			log.Error("invalid STAGE_BACKFILL_JOB_ID", "value", raw)
			os.Exit(2)
		}
		opts.JobID = &jobID
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	catalog, err := domain.LoadCatalog(cfg.GetStageCatalogFile())
	if err != nil {
		log.Error("failed to load stage catalog", "error", err)
		panic("failed to load stage catalog: " + err.Error())
	}
	engine := domain.NewEngine(catalog)
	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	var locker stagesservice.RunLocker
	if cfg.GetRedisURL() != "" {
		redisLocker, err := lock.NewRedisLockerFromURL(cfg.GetRedisURL(), "fieldops:lock:")
		if err != nil {
			log.Error("failed to initialize backfill locker", "error", err)
			panic("failed to initialize backfill locker: " + err.Error())
		}
		defer func() { _ = redisLocker.Close() }()
		locker = redisLocker
	}

	stagesModule := stages.NewModule(pool, engine, eventBus, locker, nil, cfg, val, log)

	// Activity is recorded from events; proposal facts are not needed here.
	jobsModule := jobs.NewModule(pool, engine, nil, eventBus, cfg, val, log)
	jobsModule.RegisterHandlers(eventBus)

	report, err := stagesModule.Backfiller().Run(ctx, opts)
	if err != nil {
		log.Error("stage backfill failed", "error", err)
		os.Exit(1)
	}
	// Let activity handlers finish before the pool closes.
	eventBus.Wait()

	for _, msg := range report.Errors {
		log.Warn("stage backfill job error", "error", msg)
	}
	log.Info("stage backfill complete",
		"jobs_processed", report.JobsProcessed,
		"jobs_updated", report.JobsUpdated,
		"steps_completed", report.TotalStepsCompleted,
		"errors", len(report.Errors),
	)
}
