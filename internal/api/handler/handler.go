// Package handler provides HTTP handlers for all API endpoints.
// Handlers read through the Reader interface, render JSON once and keep the
// rendered bytes in the response cache until they expire or ingest signals a
// refresh.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/albapepper/retail-security-data/internal/api/respond"
	"github.com/albapepper/retail-security-data/internal/cache"
	"github.com/albapepper/retail-security-data/internal/metrics"
	"github.com/albapepper/retail-security-data/internal/provider"
	"github.com/albapepper/retail-security-data/internal/store"
)

// Reader is the read-only query surface the API serves from.
type Reader interface {
	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
	Incidents(ctx context.Context, f store.IncidentFilter) ([]store.StoredIncident, int, error)
	Incident(ctx context.Context, id int64) (store.StoredIncident, error)
	Search(ctx context.Context, q string, limit int) ([]store.StoredIncident, error)
	Trends(ctx context.Context, q store.TrendQuery) ([]store.TrendPoint, error)
	LocationClusters(ctx context.Context) ([]provider.LocationSummary, error)
	RecentGeolocated(ctx context.Context, since time.Time, limit int) ([]store.MapIncident, error)
	LocationHierarchy(ctx context.Context) ([]store.CountryNode, error)
	IncidentTypes(ctx context.Context) ([]store.KeyCount, error)
	SourceStatuses(ctx context.Context) ([]provider.SourceStatus, error)
	Retailers(ctx context.Context, since time.Time, limit int) ([]store.RetailerCount, error)
	SeverityDistribution(ctx context.Context, since time.Time) ([]store.SeverityBucket, error)
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	reader  Reader
	cache   *cache.Cache
	metrics *metrics.HTTPMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Handler. m may be nil.
func New(reader Reader, c *cache.Cache, m *metrics.HTTPMetrics, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, cache: c, metrics: m, logger: logger, now: time.Now}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status, and where the docs live.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"name":    "Retail Security Incident API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs/index.html",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.reader.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// --------------------------------------------------------------------------
// Cached rendering
// --------------------------------------------------------------------------

// cacheKey identifies a response by route name and normalized query.
func cacheKey(name string, q url.Values) string {
	if len(q) == 0 {
		return name
	}
	return name + "?" + q.Encode()
}

// serveCached answers from the cache when it can, otherwise calls load,
// renders the result and caches the bytes.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func(ctx context.Context) (any, error)) {
	ifNoneMatch := r.Header.Get("If-None-Match")

	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(ifNoneMatch, etag) {
			h.recordCache("not_modified")
			respond.NotModified(w, etag)
			return
		}
		h.recordCache("hit")
		respond.Cached(w, data, etag, ttl, true)
		return
	}
	h.recordCache("miss")

	v, err := load(r.Context())
	if store.IsNotFound(err) {
		respond.Error(w, r, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	etag := h.cache.Set(key, data, ttl)
	if cache.CheckETagMatch(ifNoneMatch, etag) {
		respond.NotModified(w, etag)
		return
	}
	respond.Cached(w, data, etag, ttl, false)
}

func (h *Handler) recordCache(result string) {
	if h.metrics != nil {
		h.metrics.RecordCacheLookup(result)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("Query failed", "path", r.URL.Path, "error", err)
	respond.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load data")
}

// orEmpty keeps nil slices from rendering as null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// today is the current UTC calendar date.
func (h *Handler) today() time.Time {
	return provider.DateOf(h.now().UTC())
}
