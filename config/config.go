/*
Package config loads server configuration from the environment.

PURPOSE:
  One place that reads env vars (optionally from a .env file) and turns
  them into typed settings with defaults. Command-line flags in
  cmd/server override what is loaded here.

ENVIRONMENT:
  PORT                 HTTP port (8080)
  DATABASE_PATH        SQLite file, ":memory:" for ephemeral (rent.db)
  LOG_LEVEL            logrus level (info)
  LOG_FORMAT           text | json (text)
  CRON_SCHEDULE        cron spec for scheduled payments (@hourly)
  SCHEDULER_ENABLED    run due schedules from the in-process cron (true)
  BATCH_SWEEP_SCHEDULE cron spec re-enqueueing batches left processing (@every 1m)
  QUEUE_SIZE           pending batch jobs buffered (64)
  QUEUE_WORKERS        concurrent batch executions (2)
  BATCH_TIMEOUT        execution budget per batch (10m)
  FIRST_DUE_ON_START   first due date is the start date, not start + one period (false)
  CORS_ORIGINS         comma-separated allowed origins
  SCENARIOS_ENABLED    expose /api/scenarios demo seeding (false)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port               int
	DatabasePath       string
	LogLevel           string
	LogFormat          string
	CronSchedule       string
	SchedulerEnabled   bool
	BatchSweepSchedule string
	QueueSize          int
	QueueWorkers       int
	BatchTimeout       time.Duration
	FirstDueOnStart    bool
	CORSOrigins        []string
	ScenariosEnabled   bool
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		DatabasePath:       getEnvOrDefault("DATABASE_PATH", "rent.db"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		CronSchedule:       getEnvOrDefault("CRON_SCHEDULE", "@hourly"),
		BatchSweepSchedule: getEnvOrDefault("BATCH_SWEEP_SCHEDULE", "@every 1m"),
		CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
	}

	var err error
	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getInt("QUEUE_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.QueueWorkers, err = getInt("QUEUE_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout, err = getDuration("BATCH_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FirstDueOnStart, err = getBool("FIRST_DUE_ON_START", false); err != nil {
		return nil, err
	}
	if cfg.ScenariosEnabled, err = getBool("SCENARIOS_ENABLED", false); err != nil {
		return nil, err
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the config.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, raw)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration like 10m, got %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
