package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/retail-security-data/internal/api/handler"
	"github.com/albapepper/retail-security-data/internal/cache"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/metrics"
	"github.com/albapepper/retail-security-data/internal/store"
)

// statsReader implements only what these tests call.
type statsReader struct {
	handler.Reader
}

func (statsReader) Stats(context.Context) (store.Stats, error) {
	return store.Stats{TotalIncidents: 1}, nil
}

func (statsReader) HealthCheck(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		CORSAllowOrigins:  []string{"http://localhost:5173"},
		RateLimitEnabled:  true,
		RateLimitRequests: 4,
		RateLimitWindow:   time.Minute,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)
	r := NewRouter(Deps{
		Reader:   statsReader{},
		Cache:    cache.New(true),
		Config:   cfg,
		Metrics:  m,
		Registry: reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r, reg
}

func do(h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RateLimitEnabled = false
	h, _ := newTestServer(t, cfg)

	rec := do(h, http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health/").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health/db").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/v1/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodPost, "/api/v1/stats").Code)
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RateLimitEnabled = false
	h, _ := newTestServer(t, cfg)

	do(h, http.MethodGet, "/api/v1/stats")
	rec := do(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",route="/api/v1/stats",status="200"} 1`)
	assert.Contains(t, body, `http_cache_lookups_total{result="miss"} 1`)
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t, testConfig())

	rec := do(h, http.MethodOptions, "/api/v1/stats",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", http.MethodGet)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/v1/stats", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()
	h := RateLimitMiddleware(4, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	from := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
		return rec.Code
	}

	// Burst is half the window allowance.
	assert.Equal(t, http.StatusNoContent, from("10.0.0.1:1234"))
	assert.Equal(t, http.StatusNoContent, from("10.0.0.1:1235"))
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.1:1236"))
	assert.Equal(t, http.StatusNoContent, from("10.0.0.2:1234"), "buckets are per IP")
}

func TestTimingMiddleware_SetsHeaderBeforeBody(t *testing.T) {
	t.Parallel()
	h := TimingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^\d+\.\d{2}ms$`, rec.Header().Get("X-Process-Time"))
	assert.Equal(t, "ok", rec.Body.String())
}
