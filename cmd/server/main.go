/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, optional YAML file, environment, flags)
  2. Initialize the logger and the SQLite store
  3. Seed the item catalog (idempotent)
  4. Create API handler, router and scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    YAML configuration file (optional)
  -port      HTTP server port (overrides config)
  -db        SQLite database path (overrides config)
             Use ":memory:" for in-memory database
  -log       Log mode: dev or prod (overrides config)
  -scenario  Load a demo scenario at startup (resets the database)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/fees.db"
  ./server -config=config.yaml -log=prod
  ./server -db=":memory:" -scenario=lote

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
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

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/logger"
	"github.com/warp/fee-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	logMode := flag.String("log", "", "Log mode (dev or prod)")
	scenario := flag.String("scenario", "", "Demo scenario to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *logMode != "" {
		cfg.Server.LogMode = *logMode
	}

	log, err := logger.New(cfg.Server.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to initialize database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, cfg.Engine, nil, log)
	if err := handler.Catalog.Seed(context.Background()); err != nil {
		log.Fatal("failed to seed catalog", "error", err)
	}
	if *scenario != "" {
		if err := handler.LoadScenarioByID(context.Background(), *scenario); err != nil {
			log.Fatal("failed to load scenario", "scenario", *scenario, "error", err)
		}
	}

	scheduler := api.NewScheduler(handler.Exemptions, handler.Trail, cfg.Engine, nil, log)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch runs
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", "http://localhost:"+cfg.Server.Port, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}

	log.Info("server stopped")
}
