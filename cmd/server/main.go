/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rent engine server. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve (default)      HTTP API, batch queue workers and the cron scheduler
  process-scheduled    Run every organization's due schedules once and exit
                       (for deployments that trigger runs from an external cron)

STARTUP SEQUENCE:
  1. Load config (.env + environment), apply flag overrides
  2. Initialize SQLite store
  3. Wire services: factory, executor, queue, batch/schedule/analytics services
  4. Start queue workers, re-enqueue batches left in processing
  5. Start cron scheduler (due schedules, batch recovery sweep)
  6. Start HTTP server

FLAGS:
  --port   HTTP server port (overrides PORT)
  --db     SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections, wait for active requests (30s)
  2. Stop the scheduler, cancelling an in-flight run
  3. Stop queue workers; interrupted batches stay processing and resume on the next sweep or start
  4. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/rent-engine/analytics"
	"github.com/warp/rent-engine/api"
	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/config"
	"github.com/warp/rent-engine/factory"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/store/sqlite"
)

var Version = "dev"

func main() {
	var port int
	var dbPath string

	rootCmd := &cobra.Command{
		Use:     "rent-engine",
		Short:   "Bulk and scheduled rent payment engine",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port, dbPath)
		},
	}
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "HTTP server port (overrides PORT)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, batch workers and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port, dbPath)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "process-scheduled",
		Short: "Process every organization's due schedules once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessScheduled(cmd, dbPath)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *sqlite.Store
	queue     *bulkpay.Queue
	batches   *bulkpay.Service
	schedules *recurring.Service
	processor *recurring.Processor
	dashboard *analytics.Service
}

func setup(cmd *cobra.Command, port int, dbPath string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("db") {
		cfg.DatabasePath = dbPath
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	payments := factory.NewPaymentFactory()
	executor := bulkpay.NewExecutor(store, store, payments, logger)
	queue := bulkpay.NewQueue(executor, cfg.QueueSize, cfg.QueueWorkers, cfg.BatchTimeout, logger)

	return &app{
		cfg:       cfg,
		log:       logger,
		store:     store,
		queue:     queue,
		batches:   bulkpay.NewService(store, store, store, store, queue, logger),
		schedules: recurring.NewService(store, store, store, recurring.Options{FirstDueOnStart: cfg.FirstDueOnStart}, logger),
		processor: recurring.NewProcessor(store, store, payments, logger),
		dashboard: analytics.NewService(store, store, store, logger),
	}, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(cmd *cobra.Command, port int, dbPath string) error {
	a, err := setup(cmd, port, dbPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	log := a.log.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Queue workers first so recovered batches have somewhere to go.
	a.queue.Start(ctx)
	if n, err := a.batches.RecoverProcessing(ctx); err != nil {
		log.WithError(err).Error("Failed to resume interrupted batches")
	} else if n > 0 {
		log.WithField("batches", n).Info("Resumed interrupted batches")
	}

	scheduler, err := api.NewRecurringScheduler(a.processor, a.cfg.CronSchedule, a.log)
	if err != nil {
		a.queue.Stop()
		return err
	}
	scheduler.Enabled = a.cfg.SchedulerEnabled
	if err := scheduler.WithBatchSweep(a.batches, a.cfg.BatchSweepSchedule); err != nil {
		a.queue.Stop()
		return err
	}
	if err := scheduler.Start(); err != nil {
		a.queue.Stop()
		return err
	}

	var seed api.ScenarioStore
	if a.cfg.ScenariosEnabled {
		seed = a.store
	}
	handler := api.NewHandler(a.batches, a.schedules, a.processor, a.dashboard, seed, a.log)
	router := api.NewRouter(handler, api.RouterConfig{AllowedOrigins: a.cfg.CORSOrigins, Logger: a.log})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": a.cfg.Port, "db": a.cfg.DatabasePath}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		log.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	scheduler.Stop()
	a.queue.Stop()

	log.Info("Server stopped")
	return nil
}

func runProcessScheduled(cmd *cobra.Command, dbPath string) error {
	a, err := setup(cmd, 0, dbPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := a.processor.ProcessAll(ctx, time.Now())
	a.log.WithFields(logrus.Fields{
		"component":     "main",
		"organizations": summary.Organizations,
		"processed":     summary.Processed,
		"failed":        summary.Failed,
	}).Info("Scheduled payments processed")
	return err
}
