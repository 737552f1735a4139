// Command api is the read-only retail security incident API server.
//
// Usage:
//
//	retail-security-api
//	API_PORT=8080 retail-security-api

// @title Retail Security Incident API
// @version 1.0.0
// @description Read-only API over normalized retail-security incidents: listings, search, trends, map clusters, location hierarchy and source status.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Retail Security Dashboard
// @license.name MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/albapepper/retail-security-data/internal/api"
	"github.com/albapepper/retail-security-data/internal/cache"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/listener"
	"github.com/albapepper/retail-security-data/internal/metrics"
	"github.com/albapepper/retail-security-data/internal/store"

	_ "github.com/albapepper/retail-security-data/docs" // swagger docs
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}
	if !cfg.UsePostgres() {
		logger.Error("The API serves from Postgres; set DATABASE_URL to a postgres:// URL")
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pg, err := store.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Flush cached responses whenever ingest reports a rebuild
	if cfg.CacheEnabled {
		go listener.Start(ctx, cfg.DatabaseURL, appCache, logger)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		logger.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Create router
	router := api.NewRouter(api.Deps{
		Reader:   pg,
		Cache:    appCache,
		Config:   cfg,
		Metrics:  httpMetrics,
		Registry: registry,
		Logger:   logger,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Retail Security API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/index.html", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
