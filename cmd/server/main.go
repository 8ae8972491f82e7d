/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the assortment server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, file, ASSORT_* environment, flags)
  2. Build the logger
  3. Pick the backend: remote HTTP backend if backend_url is set,
     otherwise the SQLite reference store (optionally seeded)
  4. Create API handler and router
  5. Start the idle session reaper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port         HTTP server port (default: 8080)
  -db           SQLite database path (default: assortment.db)
                Use ":memory:" for in-memory database
  -backend-url  Remote inventory backend (skips SQLite)
  -config       Config file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the session reaper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and demo data
  ASSORT_SEED_DEMO=true ./server -db="./data/assortment.db"

  # Run in front of a remote inventory backend
  ./server -backend-url="http://inventory:8080"

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Reference backend
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

	"github.com/gemvault/assortment-engine/api"
	"github.com/gemvault/assortment-engine/assortment"
	"github.com/gemvault/assortment-engine/client"
	"github.com/gemvault/assortment-engine/config"
	"github.com/gemvault/assortment-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	// Initialize backend
	var backend assortment.Backend
	if cfg.Remote() {
		backend = client.New(cfg.BackendURL, client.WithTimeout(cfg.BackendTimeout))
		logger.WithField("backend_url", cfg.BackendURL).Info("using remote backend")
	} else {
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize database")
		}
		defer store.Close()

		if cfg.SeedDemo {
			if err := store.SeedDemo(context.Background()); err != nil {
				logger.WithError(err).Warn("failed to seed demo data")
			}
		}
		backend = store
		logger.WithField("db_path", cfg.DBPath).Info("using SQLite backend")
	}

	// Initialize handler and router
	handler := api.NewHandler(backend, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	reaper := api.NewSessionReaper(handler.Sessions, logger)
	reaper.TTL = cfg.SessionTTL
	reaper.CheckInterval = cfg.ReapInterval
	reaper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	reaper.Stop()

	logger.WithField("open_sessions", handler.Sessions.Len()).Info("server stopped")
}
