// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ingest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names, matching the schema in internal/db
// --------------------------------------------------------------------------

const (
	IncidentsTable   = "incidents"
	SourcesTable     = "sources"
	LocationsTable   = "locations"
	DailyTrendsTable = "daily_trends"
)

// RefreshChannel is the Postgres NOTIFY channel ingest signals after a
// rebuild, so API instances can drop cached responses.
const RefreshChannel = "incidents_refreshed"

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database. A postgres:// DATABASE_URL selects Postgres; otherwise the
	// SQLite file at DBPath is used.
	DatabaseURL    string
	DBPath         string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration

	// Ingestion
	SourcesFile            string // YAML source catalog; empty = built-in
	NewsAPIKey             string
	IngestDaysBack         int
	NewsDaysBack           int
	AggregationWindowDays  int
	FetchRequestsPerMinute int
	UserAgent              string
	IngestSchedule         string // cron spec for `ingest schedule`
	PushgatewayURL         string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPath:         envOr("DB_PATH", "data/retail_security.db"),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),
		CacheTTL:     time.Duration(envInt("CACHE_TTL_SECONDS", 300)) * time.Second,

		SourcesFile:            envOr("SOURCES_FILE", ""),
		NewsAPIKey:             envOr("NEWS_API_KEY", ""),
		IngestDaysBack:         envInt("INGEST_DAYS_BACK", 30),
		NewsDaysBack:           envInt("NEWS_DAYS_BACK", 14),
		AggregationWindowDays:  envInt("AGGREGATION_WINDOW_DAYS", 90),
		FetchRequestsPerMinute: envInt("FETCH_REQUESTS_PER_MINUTE", 60),
		UserAgent:              envOr("FETCH_USER_AGENT", "RetailSecurityDashboard/1.0"),
		IngestSchedule:         envOr("INGEST_SCHEDULE", "0 */6 * * *"),
		PushgatewayURL:         envOr("PUSHGATEWAY_URL", ""),
	}

	// Render-style postgres:// URLs are accepted as-is by pgx.
	if cfg.DatabaseURL != "" && !cfg.UsePostgres() {
		return nil, fmt.Errorf("DATABASE_URL must use the postgres:// or postgresql:// scheme")
	}
	if cfg.AggregationWindowDays <= 0 {
		return nil, fmt.Errorf("AGGREGATION_WINDOW_DAYS must be positive, got %d", cfg.AggregationWindowDays)
	}
	if cfg.IngestDaysBack <= 0 || cfg.NewsDaysBack <= 0 {
		return nil, fmt.Errorf("INGEST_DAYS_BACK and NEWS_DAYS_BACK must be positive")
	}
	if cfg.FetchRequestsPerMinute <= 0 {
		return nil, fmt.Errorf("FETCH_REQUESTS_PER_MINUTE must be positive, got %d", cfg.FetchRequestsPerMinute)
	}
	return cfg, nil
}

// UsePostgres reports whether the Postgres backend is configured.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
