// Package aggregate rebuilds the derived tables (daily_trends, locations)
// from the incidents table. A rebuild is a pure function of the stored
// incidents and the clock, so running it twice in a row without new
// incidents writes identical rows.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/albapepper/retail-security-data/internal/provider"
	"github.com/albapepper/retail-security-data/internal/store"
)

// Store is the slice of persistence a rebuild touches.
type Store interface {
	TrendFacts(ctx context.Context, since time.Time) ([]store.Fact, error)
	LocationFacts(ctx context.Context) ([]store.Fact, error)
	ReplaceDailyTrends(ctx context.Context, since time.Time, rows []provider.DailyTrend) error
	ReplaceLocationSummaries(ctx context.Context, rows []provider.LocationSummary) error
}

// Result reports what one rebuild wrote.
type Result struct {
	Cutoff       time.Time
	TrendRows    int
	LocationRows int
	Duration     time.Duration
}

// Rebuilder regenerates the rollups.
type Rebuilder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRebuilder creates a Rebuilder using the wall clock.
func NewRebuilder(s Store, logger *slog.Logger) *Rebuilder {
	return &Rebuilder{store: s, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to compute the trend cutoff.
func (r *Rebuilder) WithClock(now func() time.Time) *Rebuilder {
	r.now = now
	return r
}

// Rebuild regenerates daily trends for the last windowDays days and the full
// location summary. Each table is replaced in its own transaction.
func (r *Rebuilder) Rebuild(ctx context.Context, windowDays int) (Result, error) {
	if windowDays <= 0 {
		return Result{}, fmt.Errorf("rebuild window must be positive, got %d", windowDays)
	}
	start := time.Now()
	cutoff := provider.DateOf(r.now().UTC()).AddDate(0, 0, -windowDays)
	res := Result{Cutoff: cutoff}

	facts, err := r.store.TrendFacts(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("read trend facts: %w", err)
	}
	trends := DailyTrends(facts)
	if err := r.store.ReplaceDailyTrends(ctx, cutoff, trends); err != nil {
		return res, fmt.Errorf("replace daily trends: %w", err)
	}
	res.TrendRows = len(trends)
	r.logger.Info("Rebuilt daily trends",
		"cutoff", cutoff.Format(time.DateOnly), "incidents", len(facts), "rows", len(trends))

	facts, err = r.store.LocationFacts(ctx)
	if err != nil {
		return res, fmt.Errorf("read location facts: %w", err)
	}
	locations := LocationSummaries(facts)
	if err := r.store.ReplaceLocationSummaries(ctx, locations); err != nil {
		return res, fmt.Errorf("replace locations: %w", err)
	}
	res.LocationRows = len(locations)
	res.Duration = time.Since(start).Round(time.Millisecond)
	r.logger.Info("Rebuilt location summaries",
		"incidents", len(facts), "rows", len(locations), "duration", res.Duration)

	return res, nil
}

// --------------------------------------------------------------------------
// Grouping
// --------------------------------------------------------------------------

type trendKey struct {
	date                      time.Time
	country, state, city, typ string
}

type trendAcc struct {
	count       int
	severitySum int
}

// DailyTrends groups facts by (date, country, state, city, type), sorted by
// that key.
func DailyTrends(facts []store.Fact) []provider.DailyTrend {
	groups := make(map[trendKey]*trendAcc)
	for _, f := range facts {
		k := trendKey{date: provider.DateOf(f.Date), country: f.Country, state: f.StateProvince, city: f.City, typ: f.IncidentType}
		acc, ok := groups[k]
		if !ok {
			acc = &trendAcc{}
			groups[k] = acc
		}
		acc.count++
		acc.severitySum += f.Severity
	}

	out := make([]provider.DailyTrend, 0, len(groups))
	for k, acc := range groups {
		out = append(out, provider.DailyTrend{
			Date:          k.date,
			Country:       k.country,
			StateProvince: k.state,
			City:          k.city,
			IncidentType:  k.typ,
			Count:         acc.count,
			AvgSeverity:   float64(acc.severitySum) / float64(acc.count),
		})
	}
	slices.SortFunc(out, func(a, b provider.DailyTrend) int {
		return cmp.Or(
			a.Date.Compare(b.Date),
			cmp.Compare(a.Country, b.Country),
			cmp.Compare(a.StateProvince, b.StateProvince),
			cmp.Compare(a.City, b.City),
			cmp.Compare(a.IncidentType, b.IncidentType),
		)
	})
	return out
}

type locationKey struct {
	country, code, state, city string
}

type locationAcc struct {
	count           int
	latSum, lonSum  float64
	withCoordinates int
}

// LocationSummaries groups facts that carry a country by (country,
// country_code, state, city). Coordinates are averaged over the facts that
// have them.
func LocationSummaries(facts []store.Fact) []provider.LocationSummary {
	groups := make(map[locationKey]*locationAcc)
	for _, f := range facts {
		if f.Country == "" {
			continue
		}
		k := locationKey{country: f.Country, code: f.CountryCode, state: f.StateProvince, city: f.City}
		acc, ok := groups[k]
		if !ok {
			acc = &locationAcc{}
			groups[k] = acc
		}
		acc.count++
		if f.Latitude != nil && f.Longitude != nil {
			acc.latSum += *f.Latitude
			acc.lonSum += *f.Longitude
			acc.withCoordinates++
		}
	}

	out := make([]provider.LocationSummary, 0, len(groups))
	for k, acc := range groups {
		s := provider.LocationSummary{
			Country:       k.country,
			CountryCode:   k.code,
			StateProvince: k.state,
			City:          k.city,
			Count:         acc.count,
		}
		if acc.withCoordinates > 0 {
			lat := acc.latSum / float64(acc.withCoordinates)
			lon := acc.lonSum / float64(acc.withCoordinates)
			s.Latitude, s.Longitude = &lat, &lon
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b provider.LocationSummary) int {
		return cmp.Or(
			cmp.Compare(a.Country, b.Country),
			cmp.Compare(a.CountryCode, b.CountryCode),
			cmp.Compare(a.StateProvince, b.StateProvince),
			cmp.Compare(a.City, b.City),
		)
	})
	return out
}
