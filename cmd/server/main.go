/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the card engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Load config (YAML file, then environment, then flags)
  3. Initialize logger and SQLite store
  4. Create API handler, auth and router
  5. Start the repair scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database
  -demo    Enable demo scenarios

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler (waits for a running repair)
  4. Close database connection

EXAMPLES:
  # Run with a config file
  ./server -config=config.yaml

  # Run in-memory with demo scenarios
  JWT_SECRET=$(openssl rand -hex 32) ./server -db=":memory:" -demo

SEE ALSO:
  - config/config.go: Configuration and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/card-engine/api"
	"github.com/warp/card-engine/config"
	"github.com/warp/card-engine/logger"
	"github.com/warp/card-engine/store/sqlite"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	// Flags
	configPath := flag.String("config", os.Getenv("CARD_ENGINE_CONFIG"), "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	demo := flag.Bool("demo", false, "Enable demo scenarios")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *demo {
		cfg.Demo.Enabled = true
	}

	log := logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to initialize database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tokens := api.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.TokenExpiryMinutes)*time.Minute)
	handler := api.NewHandler(store, tokens, logger.WithService("api"), time.Now)
	auth := &api.Authenticator{Tokens: tokens, Households: handler.Households}

	router := api.NewRouter(handler, auth, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Demo:           cfg.Demo.Enabled,
	})

	if err := handler.Repair.Schedule(cfg.Scheduler.RepairOwnership); err != nil {
		log.Error("Failed to schedule ownership repair", "error", err)
		os.Exit(1)
	}
	handler.Repair.Start()

	server := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: invoice streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", cfg.Address(), "db", cfg.Database.Path, "demo", cfg.Demo.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	handler.Repair.Stop()

	log.Info("Server stopped")
}
