// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client, worker and periodic scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetStageBackfillCron() string
}

// BackfillConfig provides settings for the stage backfill reconciler.
type BackfillConfig interface {
	GetStageBackfillSecret() string
	GetStageBackfillWorkers() int
	GetStageBackfillMaxJobs() int
	GetStageBackfillLockTTL() time.Duration
}

// StageCatalogConfig provides the optional stage catalog override file.
type StageCatalogConfig interface {
	GetStageCatalogFile() string
}

// BillingConfig provides payment milestone matching settings.
type BillingConfig interface {
	GetPaymentMatchToleranceCents() int64
}

// PhoneConfig provides phone number normalisation settings.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                        string
	HTTPAddr                   string
	DatabaseURL                string
	DatabaseMaxConns           int32
	JWTAccessSecret            string
	CORSAllowAll               bool
	CORSOrigins                []string
	CORSAllowCreds             bool
	RedisURL                   string
	RedisTLSInsecure           bool
	AsynqQueueName             string
	AsynqConcurrency           int
	StageBackfillCron          string
	StageBackfillSecret        string
	StageBackfillWorkers       int
	StageBackfillMaxJobs       int
	StageBackfillLockTTL       time.Duration
	StageCatalogFile           string
	PaymentMatchToleranceCents int64
	PhoneDefaultRegion         string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string          { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool    { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string    { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int     { return c.AsynqConcurrency }
func (c *Config) GetStageBackfillCron() string { return c.StageBackfillCron }

// BackfillConfig implementation
func (c *Config) GetStageBackfillSecret() string          { return c.StageBackfillSecret }
func (c *Config) GetStageBackfillWorkers() int            { return c.StageBackfillWorkers }
func (c *Config) GetStageBackfillMaxJobs() int            { return c.StageBackfillMaxJobs }
func (c *Config) GetStageBackfillLockTTL() time.Duration { return c.StageBackfillLockTTL }

// StageCatalogConfig implementation
func (c *Config) GetStageCatalogFile() string { return c.StageCatalogFile }

// BillingConfig implementation
func (c *Config) GetPaymentMatchToleranceCents() int64 { return c.PaymentMatchToleranceCents }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                        getEnv("APP_ENV", "development"),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:           int32(mustInt(getEnv("DB_MAX_CONNS", "25"))),
		JWTAccessSecret:            getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:               corsAllowAll,
		CORSOrigins:                corsOrigins,
		CORSAllowCreds:             strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                   getEnv("REDIS_URL", ""),
		RedisTLSInsecure:           strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:             getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:           mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		StageBackfillCron:          getEnv("STAGE_BACKFILL_CRON", "@hourly"),
		StageBackfillSecret:        getEnv("STAGE_BACKFILL_SECRET", ""),
		StageBackfillWorkers:       mustInt(getEnv("STAGE_BACKFILL_WORKERS", "4")),
		StageBackfillMaxJobs:       mustInt(getEnv("STAGE_BACKFILL_MAX_JOBS", "5000")),
		StageBackfillLockTTL:       mustDuration(getEnv("STAGE_BACKFILL_LOCK_TTL", "15m")),
		StageCatalogFile:           getEnv("STAGE_CATALOG_FILE", ""),
		PaymentMatchToleranceCents: mustInt64(getEnv("PAYMENT_MATCH_TOLERANCE_CENTS", "500")),
		PhoneDefaultRegion:         getEnv("PHONE_DEFAULT_REGION", "US"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.PaymentMatchToleranceCents < 0 {
		return nil, fmt.Errorf("PAYMENT_MATCH_TOLERANCE_CENTS must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
