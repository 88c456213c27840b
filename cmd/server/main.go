/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cash book server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Create metrics, engine and API handler
  5. Start the low-stock monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (default: ./config.yaml if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the monitor
  4. Close database connection

EXAMPLES:
  # Run with defaults (SQLite file cashbook.db)
  ./server

  # Run against PostgreSQL
  CASHBOOK_DATABASE_DRIVER=postgres \
  CASHBOOK_DATABASE_DSN=postgres://cashbook@localhost/cashbook ./server

  # Run with an in-memory database and console logs
  CASHBOOK_DATABASE_DSN=":memory:" CASHBOOK_LOG_FORMAT=console ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Database implementations
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

	"github.com/warp/cashbook/api"
	"github.com/warp/cashbook/config"
	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/logging"
	"github.com/warp/cashbook/metrics"
	"github.com/warp/cashbook/store/postgres"
	"github.com/warp/cashbook/store/sqlite"
	"github.com/warp/cashbook/store/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DSN)
	default:
		return sqlite.New(ctx, cfg.DSN)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openStore(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	m := metrics.New()
	engine := core.New(store,
		core.WithLogger(logger),
		core.WithRecorder(m),
		core.WithMaxRetries(cfg.Store.MaxRetries),
	)

	handler := api.NewHandler(store, engine, logger, m)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	monitor := api.NewStockMonitor(engine.Inventory, logger, m)
	monitor.Enabled = cfg.Monitor.Enabled
	monitor.CheckInterval = cfg.Monitor.LowStockInterval
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
