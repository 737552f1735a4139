package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/retail-security-data/internal/provider"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func testIncident(id string, date time.Time) provider.Incident {
	return provider.Incident{
		SourceID:          id,
		SourceType:        provider.SourcePoliceAPI,
		SourceName:        "Chicago PD",
		Description:       "RETAIL THEFT at Walgreens",
		IncidentType:      "shoplifting",
		Severity:          2,
		Country:           "United States",
		CountryCode:       "US",
		StateProvince:     "Illinois",
		City:              "Chicago",
		Latitude:          ptr(41.88),
		Longitude:         ptr(-87.63),
		RetailerMentioned: []string{"Walgreens"},
		IsRetailRelated:   true,
		IncidentDate:      date,
		RawData:           json.RawMessage(`{"id":"1"}`),
	}
}

func TestSQLite_EnsureSchemaIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestSQLite_InsertDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	res, err := s.InsertIncidents(ctx, []provider.Incident{
		testIncident("chicago_1", day),
		testIncident("chicago_2", day),
	})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 2}, res)

	// Re-inserting an existing id is a duplicate even with different content.
	changed := testIncident("chicago_1", day.AddDate(0, 0, 1))
	changed.Description = "different"
	res, err = s.InsertIncidents(ctx, []provider.Incident{changed, testIncident("chicago_3", day)})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1, Duplicates: 1}, res)

	facts, err := s.TrendFacts(ctx, day)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	for _, f := range facts {
		assert.Equal(t, day, f.Date, "first write wins")
		assert.Equal(t, "Chicago", f.City)
		require.NotNil(t, f.Latitude)
		assert.InDelta(t, 41.88, *f.Latitude, 1e-9)
	}

	res, err = s.InsertIncidents(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestSQLite_InsertKeepsOptionalFieldsNull(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	inc := testIncident("news_1", day)
	inc.Country, inc.CountryCode, inc.StateProvince, inc.City = "", "", "", ""
	inc.Latitude, inc.Longitude = nil, nil
	inc.RetailerMentioned = nil
	dt := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	inc.IncidentDatetime = &dt

	_, err := s.InsertIncidents(ctx, []provider.Incident{inc})
	require.NoError(t, err)

	var (
		country  *string
		lat      *float64
		retailer string
		datetime *string
	)
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT country, latitude, retailer_mentioned, incident_datetime FROM incidents WHERE source_id = ?`,
		"news_1").Scan(&country, &lat, &retailer, &datetime))
	assert.Nil(t, country)
	assert.Nil(t, lat)
	assert.Equal(t, "[]", retailer)
	require.NotNil(t, datetime)
	assert.Equal(t, "2026-03-15T14:30:00Z", *datetime)

	facts, err := s.LocationFacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts, "rows without a country are not location facts")
}

func TestSQLite_RecordSourceStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.RecordSourceStatus(ctx, "chicago", provider.SourcePoliceAPI, true, 5))
	require.NoError(t, s.RecordSourceStatus(ctx, "chicago", provider.SourcePoliceAPI, false, 0))
	require.NoError(t, s.RecordSourceStatus(ctx, "chicago", provider.SourcePoliceAPI, true, 3))

	statuses, err := s.SourceStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "chicago", statuses[0].Name)
	assert.Equal(t, 8, statuses[0].TotalIncidents)
	assert.True(t, statuses[0].LastSuccess)
	require.NotNil(t, statuses[0].LastScraped)
	assert.WithinDuration(t, time.Now(), *statuses[0].LastScraped, time.Minute)
}

func TestSQLite_Reclassify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	legacy := testIncident("a", day)
	legacy.IncidentType = "other"
	zero := testIncident("b", day)
	zero.Severity = 0
	fine := testIncident("c", day)
	_, err := s.InsertIncidents(ctx, []provider.Incident{legacy, zero, fine})
	require.NoError(t, err)

	rows, err := s.LegacyClassifications(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "other", rows[0].IncidentType)
	assert.Equal(t, 0, rows[1].Severity)

	n, err := s.UpdateClassifications(ctx, []Reclassification{
		{ID: rows[0].ID, IncidentType: "shoplifting", Severity: 2},
		{ID: rows[1].ID, IncidentType: "shoplifting", Severity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err = s.LegacyClassifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLite_ReplaceRollups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceDailyTrends(ctx, old, []provider.DailyTrend{
		{Date: old, Country: "United States", City: "Chicago", IncidentType: "theft", Count: 4, AvgSeverity: 2},
		{Date: day, Country: "United States", City: "Chicago", IncidentType: "theft", Count: 9, AvgSeverity: 2},
	}))

	// Only rows inside the window are replaced.
	require.NoError(t, s.ReplaceDailyTrends(ctx, since, []provider.DailyTrend{
		{Date: day, Country: "United States", City: "Chicago", IncidentType: "theft", Count: 1, AvgSeverity: 3},
	}))
	trends, err := s.DailyTrends(ctx)
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, old, trends[0].Date)
	assert.Equal(t, 4, trends[0].Count)
	assert.Equal(t, 1, trends[1].Count)
	assert.InDelta(t, 3.0, trends[1].AvgSeverity, 1e-9)

	require.NoError(t, s.ReplaceLocationSummaries(ctx, []provider.LocationSummary{
		{Country: "Canada", CountryCode: "CA", City: "Toronto", Count: 2},
	}))
	require.NoError(t, s.ReplaceLocationSummaries(ctx, []provider.LocationSummary{
		{Country: "United States", CountryCode: "US", StateProvince: "Illinois", City: "Chicago",
			Latitude: ptr(41.9), Longitude: ptr(-87.6), Count: 3},
	}))
	locs, err := s.LocationSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Chicago", locs[0].City)
	assert.Equal(t, 3, locs[0].Count)
	require.NotNil(t, locs[0].Latitude)
	assert.InDelta(t, 41.9, *locs[0].Latitude, 1e-9)
}

func TestSQLite_Stats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t)
	today := provider.DateOf(time.Now().UTC())

	recent := testIncident("r", today)
	older := testIncident("o", today.AddDate(0, 0, -20))
	older.IncidentType = "theft"
	ancient := testIncident("x", today.AddDate(0, 0, -200))
	ancient.SourceType = provider.SourceNews
	_, err := s.InsertIncidents(ctx, []provider.Incident{recent, older, ancient})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalIncidents)
	assert.Equal(t, 1, st.Last7Days)
	assert.Equal(t, 2, st.Last30Days)
	assert.Equal(t, map[string]int{"police_api": 2, "news": 1}, st.BySource)
	assert.Equal(t, 2, st.ByType["shoplifting"])
	assert.Equal(t, 1, st.ByType["theft"])
}
