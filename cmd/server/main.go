/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bill approval engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file + APPROVALS_* environment)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Connect the NATS notifier when enabled
  5. Create billing service, API handler and escalation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional; defaults + env otherwise)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the escalation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Flush NATS and close the database
  5. Exit

EXAMPLES:
  # Run with defaults (SQLite file approvals.db on :8080)
  ./server

  # Run against PostgreSQL
  APPROVALS_DATABASE_DRIVER=postgres \
  APPROVALS_DATABASE_DSN=postgres://localhost/approvals ./server

  # Run with in-memory database
  APPROVALS_DATABASE_PATH=":memory:" ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - billing/service.go: Bill lifecycle
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/approval-engine/api"
	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/billing"
	"github.com/warp/approval-engine/config"
	"github.com/warp/approval-engine/logging"
	"github.com/warp/approval-engine/notify"
	"github.com/warp/approval-engine/store/postgres"
	"github.com/warp/approval-engine/store/sqlite"
)

// closableStore is a Store the server owns and must close.
type closableStore interface {
	approval.Store
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	// Initialize store
	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	opts := []billing.Option{
		billing.WithLogger(log.Named("billing")),
		billing.WithDefaultFlow(approval.FlowID(cfg.Approval.DefaultFlowID)),
	}

	// Notifications
	if cfg.NATS.Enabled {
		publisher, err := notify.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log.Named("notify"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, billing.WithNotifier(publisher))
		log.Info("notifications enabled", zap.String("url", cfg.NATS.URL))
	}

	svc := billing.NewService(store, opts...)
	handler := api.NewHandler(svc, log.Named("api"))

	scheduler := api.NewEscalationScheduler(svc, log)
	scheduler.Enabled = cfg.Escalation.Enabled
	scheduler.Interval = cfg.Escalation.Interval
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AccessLog:      cfg.Logger.Format == "console",
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig) (closableStore, error) {
	if cfg.Driver == "postgres" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, cfg.DSN, postgres.Options{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
