package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewIngestMetrics(reg)
	require.NoError(t, err)

	m.RecordFetch("city_chicago", "success", 1.5)
	m.RecordFetch("city_chicago", "error", 0.2)
	m.RecordRecords("police_api", "inserted", 10)
	m.RecordRecords("police_api", "duplicate", 0)
	m.RecordReclassified(3)
	m.RecordRollup("daily_trends", 42)
	m.RecordRun("success", 12, 1_780_000_000)

	assert.InDelta(t, 1, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("city_chicago", "error")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.recordsTotal.WithLabelValues("police_api", "inserted")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.recordsTotal), "zero adds create no series")
	assert.InDelta(t, 3, testutil.ToFloat64(m.reclassified), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.rollupRows.WithLabelValues("daily_trends")), 0)
	assert.InDelta(t, 1_780_000_000, testutil.ToFloat64(m.lastSuccessTime), 0)

	_, err = NewIngestMetrics(reg)
	assert.Error(t, err, "double registration fails")
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/incidents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for range 2 {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/incidents/7", nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(
		m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/incidents/{id}", "404")), 0)

	m.RecordCacheLookup("hit")
	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP http_cache_lookups_total Response cache lookups by result
# TYPE http_cache_lookups_total counter
http_cache_lookups_total{result="hit"} 1
`), "http_cache_lookups_total")
	assert.NoError(t, err)
}
