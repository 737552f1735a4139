package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
	"github.com/albapepper/retail-security-data/internal/provider/city"
	"github.com/albapepper/retail-security-data/internal/provider/news"
	"github.com/albapepper/retail-security-data/internal/store"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testNow    = time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
)

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

type fakeSource struct {
	name  string
	typ   provider.SourceType
	batch provider.Batch
	err   error
	calls int
}

func (f *fakeSource) Name() string              { return f.name }
func (f *fakeSource) Type() provider.SourceType { return f.typ }
func (f *fakeSource) Fetch(ctx context.Context) (provider.Batch, error) {
	f.calls++
	if f.err != nil {
		return provider.Batch{}, f.err
	}
	return f.batch, ctx.Err()
}

type fakeNotifier struct {
	payloads []string
	err      error
}

func (n *fakeNotifier) NotifyRefreshed(_ context.Context, payload string) error {
	n.payloads = append(n.payloads, payload)
	return n.err
}

func incident(id, typ string, severity int, day time.Time) provider.Incident {
	lat, lon := 41.88, -87.63
	return provider.Incident{
		SourceID:      id,
		SourceType:    provider.SourcePoliceAPI,
		SourceName:    "chicago",
		Description:   "incident " + id,
		IncidentType:  typ,
		Severity:      severity,
		Country:       "United States",
		CountryCode:   "US",
		StateProvince: "Illinois",
		City:          "Chicago",
		Latitude:      &lat,
		Longitude:     &lon,
		IncidentDate:  day,
		RawData:       json.RawMessage(`{}`),
	}
}

func cityBatch() provider.Batch {
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	return provider.Batch{
		Source:  "chicago",
		Fetched: 3,
		Skipped: 1,
		Incidents: []provider.Incident{
			incident("chicago_1", "shoplifting", 2, day),
			incident("chicago_2", "burglary", 3, day),
		},
	}
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	notifier := &fakeNotifier{}
	runner := NewRunner(s, classify.Default(), testLogger, nil, notifier).WithClock(func() time.Time { return testNow })

	good := &fakeSource{name: "city_chicago", typ: provider.SourcePoliceAPI, batch: cityBatch()}
	bad := &fakeSource{name: "rss_lp_magazine", typ: provider.SourceRSS, err: errors.New("status 503")}
	opts := Options{Sources: []Source{good, bad}, Repair: true, Rebuild: true, WindowDays: 90}

	res, err := runner.Run(ctx, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Sources, 2)

	assert.Equal(t, SourceResult{
		Name: "city_chicago", Type: provider.SourcePoliceAPI,
		Fetched: 3, Skipped: 1, Inserted: 2, Duration: res.Sources[0].Duration,
	}, res.Sources[0])
	assert.True(t, res.Sources[1].Failed)
	assert.Equal(t, "status 503", res.Sources[1].Error)
	assert.Equal(t, 1, res.FailedSources())
	assert.Equal(t, []string{"rss_lp_magazine: status 503"}, res.Errors)

	require.NotNil(t, res.Rebuild)
	assert.Equal(t, 2, res.Rebuild.TrendRows)
	assert.Equal(t, 1, res.Rebuild.LocationRows)
	assert.Equal(t, []string{res.RunID}, notifier.payloads)

	statuses, err := s.SourceStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byName := map[string]provider.SourceStatus{}
	for _, st := range statuses {
		byName[st.Name] = st
	}
	assert.True(t, byName["city_chicago"].LastSuccess)
	assert.Equal(t, 2, byName["city_chicago"].TotalIncidents)
	assert.False(t, byName["rss_lp_magazine"].LastSuccess)

	// A second run re-skips everything as duplicates and leaves the
	// rollups unchanged.
	trendsBefore, err := s.DailyTrends(ctx)
	require.NoError(t, err)

	res, err = runner.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sources[0].Inserted)
	assert.Equal(t, 2, res.Sources[0].Duplicates)
	assert.Equal(t, 2, good.calls)

	trendsAfter, err := s.DailyTrends(ctx)
	require.NoError(t, err)
	assert.Equal(t, trendsBefore, trendsAfter)
}

func TestRunner_InBatchDuplicatesAreCounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	runner := NewRunner(s, classify.Default(), testLogger, nil, nil).WithClock(func() time.Time { return testNow })

	batch := cityBatch()
	batch.Fetched, batch.Skipped, batch.Duplicates = 4, 1, 1
	src := &fakeSource{name: "google_news", typ: provider.SourceNews, batch: batch}
	opts := Options{Sources: []Source{src}}

	for _, want := range []struct{ inserted, duplicates int }{{2, 1}, {0, 3}} {
		res, err := runner.Run(ctx, opts)
		require.NoError(t, err)
		sr := res.Sources[0]
		assert.Equal(t, want.inserted, sr.Inserted)
		assert.Equal(t, want.duplicates, sr.Duplicates)
		assert.Equal(t, sr.Fetched, sr.Skipped+sr.Inserted+sr.Duplicates)
	}
}

func TestRunner_NotifyFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	notifier := &fakeNotifier{err: errors.New("connection reset")}
	runner := NewRunner(s, classify.Default(), testLogger, nil, notifier).WithClock(func() time.Time { return testNow })

	res, err := runner.Run(context.Background(), Options{Rebuild: true})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], config.RefreshChannel)
}

func TestRunner_StoreErrorAborts(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	require.NoError(t, s.Close())
	runner := NewRunner(s, classify.Default(), testLogger, nil, nil)

	first := &fakeSource{name: "city_chicago", typ: provider.SourcePoliceAPI, batch: cityBatch()}
	second := &fakeSource{name: "city_nyc", typ: provider.SourcePoliceAPI, batch: cityBatch()}

	res, err := runner.Run(context.Background(), Options{Sources: []Source{first, second}, Rebuild: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert city_chicago")
	require.Len(t, res.Sources, 1)
	assert.True(t, res.Sources[0].Failed)
	assert.Zero(t, second.calls)
	assert.Nil(t, res.Rebuild)
}

func TestRunner_CancelledFetchAborts(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{name: "city_chicago", typ: provider.SourcePoliceAPI, err: fmt.Errorf("request: %w", context.Canceled)}
	_, err := NewRunner(s, classify.Default(), testLogger, nil, nil).Run(ctx, Options{Sources: []Source{src}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	statuses, err := s.SourceStatuses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses, "a cancelled fetch is not a source failure")
}

func TestReclassify(t *testing.T) {
	t.Parallel()
	rows := []store.LegacyRow{
		{ID: 1, IncidentType: "other", Description: "Armed robbery at a gas station", Severity: 2},
		{ID: 2, IncidentType: "", Description: "Suspect caught shoplifting", Severity: 0},
		{ID: 3, IncidentType: "other", Description: "Suspicious person reported", Severity: 2},
		{ID: 4, IncidentType: "THEFT", Description: "", Severity: 0},
	}
	got := Reclassify(rows, classify.Default())

	assert.Equal(t, []store.Reclassification{
		{ID: 1, IncidentType: "robbery", Severity: 5},
		{ID: 2, IncidentType: "theft", Severity: 2},
		{ID: 4, IncidentType: "theft", Severity: 2},
	}, got)
}

func TestReclassify_AgreesWithCityTransform(t *testing.T) {
	t.Parallel()
	src := config.CitySource{
		Key: "denver", Country: "United States", CountryCode: "US", State: "Colorado", City: "Denver",
		FieldMap: config.FieldMap{ID: "id", Date: "date", Type: "offense", Description: "detail"},
	}
	payload, err := provider.DecodeJSON([]byte(`[
		{"id": "1", "date": "2026-03-10", "offense": "AGGRAVATED ASSAULT", "detail": "domestic"},
		{"id": "2", "date": "2026-03-10", "offense": "ROBBERY", "detail": "armed with handgun"}
	]`))
	require.NoError(t, err)
	batch, err := city.Transform(src, payload, classify.Default())
	require.NoError(t, err)
	require.Len(t, batch.Incidents, 2)

	var rows []store.LegacyRow
	for i, inc := range batch.Incidents {
		rows = append(rows, store.LegacyRow{
			ID: int64(i + 1), IncidentType: inc.IncidentType, Description: inc.Description, Severity: inc.Severity,
		})
	}
	assert.Empty(t, Reclassify(rows, classify.Default()), "repair leaves transform output unchanged")
}

func TestRepair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	legacy := incident("legacy_1", "other", 2, day)
	legacy.Description = "Armed robbery at a gas station"
	plain := incident("legacy_2", "other", 2, day)
	plain.Description = "Suspicious person reported"
	_, err := s.InsertIncidents(ctx, []provider.Incident{legacy, plain, incident("ok_1", "theft", 2, day)})
	require.NoError(t, err)

	n, err := Repair(ctx, s, classify.Default(), testLogger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.LegacyClassifications(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Suspicious person reported", rows[0].Description)

	n, err = Repair(ctx, s, classify.Default(), testLogger)
	require.NoError(t, err)
	assert.Zero(t, n, "repair converges")
}

func TestBuildSources(t *testing.T) {
	t.Parallel()
	cat, err := config.LoadCatalog("")
	require.NoError(t, err)
	cfg := &config.Config{IngestDaysBack: 30, NewsDaysBack: 14}
	c := classify.Default()

	clients := Clients{
		City: city.NewClient("test", 60, testLogger),
		News: news.NewClient("", "test", 60, testLogger),
	}

	all, err := BuildSources(cat, cfg, Selection{Cities: true, News: true}, clients, c)
	require.NoError(t, err)
	assert.Len(t, all, len(cat.Cities)+1+len(cat.RSSFeeds), "no NewsAPI source without a key")
	assert.Equal(t, "city_chicago", all[0].Name())
	assert.Equal(t, "google_news", all[len(cat.Cities)].Name())
	assert.Equal(t, provider.SourceRSS, all[len(all)-1].Type())

	clients.News = news.NewClient("key", "test", 60, testLogger)
	newsOnly, err := BuildSources(cat, cfg, Selection{News: true}, clients, c)
	require.NoError(t, err)
	assert.Equal(t, "newsapi", newsOnly[0].Name())

	picked, err := BuildSources(cat, cfg, Selection{Cities: true, CityKeys: []string{"nyc", "chicago"}}, clients, c)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "city_nyc", picked[0].Name())

	_, err = BuildSources(cat, cfg, Selection{Cities: true, CityKeys: []string{"atlantis"}}, clients, c)
	assert.ErrorContains(t, err, `unknown city "atlantis"`)
}

const googleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>Smash and grab at Best Buy in Chicago</title><link>https://news.example.com/%s/1</link>
<pubDate>Wed, 18 Mar 2026 10:00:00 GMT</pubDate><description>&lt;p&gt;Thieves hit the store&lt;/p&gt;</description></item>
<item><title>Older story</title><link>https://news.example.com/%s/2</link>
<pubDate>Mon, 02 Feb 2026 10:00:00 GMT</pubDate><description>old</description></item>
<item><title>Third story over the limit</title><link>https://news.example.com/%s/3</link>
<pubDate>Thu, 19 Mar 2026 10:00:00 GMT</pubDate><description>x</description></item>
</channel></rss>`

// Uses the global httpmock transport, so it does not run in parallel.
func TestGoogleNewsSource(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	cfg := config.NewsConfig{
		GoogleNewsURL:     "https://news.google.test/rss/search",
		GoogleNewsTerms:   []string{"retail theft", "smash and grab"},
		GoogleNewsPerTerm: 2,
	}
	httpmock.RegisterResponder(http.MethodGet, "https://news.google.test/rss/search",
		func(req *http.Request) (*http.Response, error) {
			slug := strings.ReplaceAll(req.URL.Query().Get("q"), " ", "-")
			if slug == "smash-and-grab" {
				return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, fmt.Sprintf(googleFeed, slug, slug, slug)), nil
		})

	src := GoogleNewsSource(news.NewClient("", "test", 6000, testLogger), cfg, 14, classify.Default())
	src.(*googleNewsSource).now = func() time.Time { return testNow }

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err, "one failing term does not fail the source")
	assert.Equal(t, 2, batch.Fetched, "per-term limit applied")
	assert.Equal(t, 1, batch.Skipped, "story outside the window")
	require.Len(t, batch.Incidents, 1)

	inc := batch.Incidents[0]
	assert.Equal(t, "google_news", inc.SourceName)
	assert.Equal(t, provider.SourceNews, inc.SourceType)
	assert.True(t, strings.HasPrefix(inc.SourceID, "gnews_"))
	assert.Equal(t, "smash_grab", inc.IncidentType)
	assert.Equal(t, "Chicago", inc.City)
	assert.Equal(t, []string{"Best Buy"}, inc.RetailerMentioned)

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodGet, "https://news.google.test/rss/search",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	_, err = src.Fetch(context.Background())
	assert.Error(t, err, "every term failing fails the source")
}

func TestRunResult_Report(t *testing.T) {
	t.Parallel()
	res := RunResult{RunID: "run-1", Duration: 1500 * time.Millisecond}
	res.AddSource(SourceResult{Name: "city_chicago", Fetched: 10, Skipped: 2, Inserted: 7, Duplicates: 1})
	res.AddSource(SourceResult{Name: "newsapi", Failed: true, Error: "timeout"})
	res.Reclassified = 3

	out := res.Report()
	assert.Contains(t, out, "Run run-1 (1.5s)")
	assert.Contains(t, out, "failed: timeout")
	assert.Regexp(t, `total\s+10\s+2\s+7\s+1`, out)
	assert.Contains(t, out, "Reclassified: 3")
	assert.Len(t, res.Sources, 2, "report does not grow the source list")

	assert.Equal(t,
		"sources=2 failed=1 fetched=10 skipped=2 inserted=7 duplicates=1 reclassified=3 errors=1",
		res.Summary())
}
