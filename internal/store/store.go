// Package store persists canonical incidents, source bookkeeping, and the
// derived rollup tables. Two backends implement the same contract:
// Postgres (pgx) for deployed environments and SQLite for local runs and
// tests.
//
// Inserts are conditional on source_id: a second write of the same id is a
// duplicate, never an update. Rollup replacement happens in one transaction
// per table so readers never see a half-cleared table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("not found")

// InsertResult counts the outcome of one batch insert.
type InsertResult struct {
	Inserted   int
	Duplicates int
}

// Fact is the slice of an incident the rollups aggregate over.
type Fact struct {
	Date          time.Time
	Country       string
	CountryCode   string
	StateProvince string
	City          string
	IncidentType  string
	Severity      int
	Latitude      *float64
	Longitude     *float64
}

// LegacyRow is an incident whose stored classification is missing or
// defaulted and is due for repair.
type LegacyRow struct {
	ID           int64
	IncidentType string
	Description  string
	Severity     int
}

// Reclassification is the corrected classification for one incident.
type Reclassification struct {
	ID           int64
	IncidentType string
	Severity     int
}

// Store is everything the ingest pipeline needs from persistence.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// InsertIncidents writes a batch in one transaction. Existing source_ids
	// are counted as duplicates. Any other failure rolls the batch back.
	InsertIncidents(ctx context.Context, incidents []provider.Incident) (InsertResult, error)
	RecordSourceStatus(ctx context.Context, name string, sourceType provider.SourceType, success bool, inserted int) error

	LegacyClassifications(ctx context.Context) ([]LegacyRow, error)
	UpdateClassifications(ctx context.Context, updates []Reclassification) (int, error)

	// TrendFacts returns incidents dated on or after since, ordered by id.
	TrendFacts(ctx context.Context, since time.Time) ([]Fact, error)
	// LocationFacts returns every incident with a country, ordered by id.
	LocationFacts(ctx context.Context) ([]Fact, error)

	// ReplaceDailyTrends deletes trend rows dated on or after since and
	// inserts rows, atomically.
	ReplaceDailyTrends(ctx context.Context, since time.Time, rows []provider.DailyTrend) error
	// ReplaceLocationSummaries truncates the locations rollup and inserts
	// rows, atomically.
	ReplaceLocationSummaries(ctx context.Context, rows []provider.LocationSummary) error

	DailyTrends(ctx context.Context) ([]provider.DailyTrend, error)
	LocationSummaries(ctx context.Context) ([]provider.LocationSummary, error)
	SourceStatuses(ctx context.Context) ([]provider.SourceStatus, error)
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// --------------------------------------------------------------------------
// Read-side shapes (query API)
// --------------------------------------------------------------------------

// StoredIncident is an incident row as served by the API.
type StoredIncident struct {
	ID int64 `json:"id"`
	provider.Incident
	ScrapedAt time.Time `json:"scraped_at"`
}

// IncidentFilter narrows an incident listing. Zero values mean "any".
type IncidentFilter struct {
	Country     string
	State       string
	City        string
	Type        string
	StartDate   *time.Time
	EndDate     *time.Time
	MinSeverity int
	Limit       int
	Offset      int
}

// TrendQuery selects trend rows. GroupBy is day, week, or month.
type TrendQuery struct {
	Days    int
	Country string
	State   string
	GroupBy string
}

// TrendPoint is one (period, type) bucket.
type TrendPoint struct {
	Period       string  `json:"period"`
	IncidentType string  `json:"incident_type"`
	Count        int     `json:"count"`
	AvgSeverity  float64 `json:"avg_severity"`
}

// MapIncident is the trimmed incident shape plotted on the map.
type MapIncident struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	IncidentType  string    `json:"incident_type"`
	Severity      int       `json:"severity"`
	City          string    `json:"city,omitempty"`
	StateProvince string    `json:"state_province,omitempty"`
	Country       string    `json:"country,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	IncidentDate  time.Time `json:"incident_date"`
	URL           string    `json:"url,omitempty"`
}

// Stats is the dashboard headline block.
type Stats struct {
	TotalIncidents int            `json:"total_incidents"`
	BySource       map[string]int `json:"by_source"`
	ByType         map[string]int `json:"by_type"`
	Last7Days      int            `json:"last_7_days"`
	Last30Days     int            `json:"last_30_days"`
}

// RetailerCount is how many incidents mention a retailer.
type RetailerCount struct {
	Retailer string `json:"retailer"`
	Count    int    `json:"count"`
}

// SeverityBucket is one cell of the severity x type distribution.
type SeverityBucket struct {
	Severity     int    `json:"severity"`
	IncidentType string `json:"incident_type"`
	Count        int    `json:"count"`
}

// --------------------------------------------------------------------------
// Helpers shared by both backends
// --------------------------------------------------------------------------

// nilEmpty returns nil for empty strings (maps to SQL NULL).
func nilEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// deref returns "" for a NULL text column.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nilFloat unwraps an optional coordinate for drivers that do not accept
// pointer arguments.
func nilFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func retailersJSON(names []string) []byte {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	return b
}

func rawJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// Open selects the backend from cfg: Postgres when DATABASE_URL is a
// postgres URL, otherwise SQLite at DBPath. The schema is ensured.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.UsePostgres() {
		return OpenPostgres(ctx, cfg)
	}
	s, err := OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)
