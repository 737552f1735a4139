package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/db"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// Postgres is the deployed store. Every query runs through a statement
// prepared on connect (see internal/db).
type Postgres struct {
	pool *db.Pool
}

// OpenPostgres migrates the schema and opens the pool.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := db.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying pool for health checks and the listener.
func (p *Postgres) Pool() *db.Pool { return p.pool }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// EnsureSchema re-applies the idempotent DDL.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.HealthCheck(ctx)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (p *Postgres) InsertIncidents(ctx context.Context, incidents []provider.Incident) (InsertResult, error) {
	var res InsertResult
	if len(incidents) == 0 {
		return res, nil
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for i := range incidents {
			inc := &incidents[i]
			tag, err := tx.Exec(ctx, "insert_incident", pgIncidentArgs(inc)...)
			if err != nil {
				return fmt.Errorf("insert %s: %w", inc.SourceID, err)
			}
			if tag.RowsAffected() == 0 {
				res.Duplicates++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return res, nil
}

func pgIncidentArgs(inc *provider.Incident) []any {
	return []any{
		inc.SourceID, string(inc.SourceType), nilEmpty(inc.SourceName),
		nilEmpty(inc.Title), nilEmpty(inc.Description),
		inc.IncidentType, inc.Severity,
		nilEmpty(inc.Country), nilEmpty(inc.CountryCode), nilEmpty(inc.StateProvince),
		nilEmpty(inc.City), nilEmpty(inc.Address),
		inc.Latitude, inc.Longitude,
		retailersJSON(inc.RetailerMentioned), inc.IsRetailRelated,
		inc.IncidentDate, inc.IncidentDatetime,
		rawJSON(inc.RawData), nilEmpty(inc.URL),
	}
}

func (p *Postgres) RecordSourceStatus(ctx context.Context, name string, sourceType provider.SourceType, success bool, inserted int) error {
	if _, err := p.pool.Exec(ctx, "upsert_source_status", name, string(sourceType), success, inserted); err != nil {
		return fmt.Errorf("record source status %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) LegacyClassifications(ctx context.Context) ([]LegacyRow, error) {
	rows, err := p.pool.Query(ctx, "legacy_classifications")
	if err != nil {
		return nil, fmt.Errorf("query legacy classifications: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LegacyRow, error) {
		var r LegacyRow
		err := row.Scan(&r.ID, &r.IncidentType, &r.Description, &r.Severity)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan legacy classifications: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateClassifications(ctx context.Context, updates []Reclassification) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	n := 0
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue("update_classification", u.IncidentType, u.Severity, u.ID)
		}
		br := tx.SendBatch(ctx, batch)
		for _, u := range updates {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("reclassify incident %d: %w", u.ID, err)
			}
			n++
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Rollups
// --------------------------------------------------------------------------

func (p *Postgres) TrendFacts(ctx context.Context, since time.Time) ([]Fact, error) {
	return p.facts(ctx, "trend_facts", since)
}

func (p *Postgres) LocationFacts(ctx context.Context) ([]Fact, error) {
	return p.facts(ctx, "location_facts")
}

func (p *Postgres) facts(ctx context.Context, stmt string, args ...any) ([]Fact, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Fact, error) {
		var f Fact
		err := row.Scan(&f.Date, &f.Country, &f.CountryCode, &f.StateProvince, &f.City,
			&f.IncidentType, &f.Severity, &f.Latitude, &f.Longitude)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", stmt, err)
	}
	return out, nil
}

var (
	trendCopyColumns    = []string{"date", "country", "state_province", "city", "incident_type", "incident_count", "avg_severity"}
	locationCopyColumns = []string{"country", "country_code", "state_province", "city", "latitude", "longitude", "incident_count"}
)

func (p *Postgres) ReplaceDailyTrends(ctx context.Context, since time.Time, rows []provider.DailyTrend) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "delete_trends_since", since); err != nil {
			return fmt.Errorf("clear trends: %w", err)
		}
		src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.Date, nilEmpty(r.Country), nilEmpty(r.StateProvince), nilEmpty(r.City),
				nilEmpty(r.IncidentType), r.Count, r.AvgSeverity}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{config.DailyTrendsTable}, trendCopyColumns, src); err != nil {
			return fmt.Errorf("copy trends: %w", err)
		}
		return nil
	})
}

func (p *Postgres) ReplaceLocationSummaries(ctx context.Context, rows []provider.LocationSummary) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "delete_locations"); err != nil {
			return fmt.Errorf("clear locations: %w", err)
		}
		src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{nilEmpty(r.Country), nilEmpty(r.CountryCode), nilEmpty(r.StateProvince),
				nilEmpty(r.City), r.Latitude, r.Longitude, r.Count}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{config.LocationsTable}, locationCopyColumns, src); err != nil {
			return fmt.Errorf("copy locations: %w", err)
		}
		return nil
	})
}

// NotifyRefreshed signals API instances that derived data changed.
func (p *Postgres) NotifyRefreshed(ctx context.Context, payload string) error {
	if _, err := p.pool.Exec(ctx, "notify_refreshed", config.RefreshChannel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", config.RefreshChannel, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (p *Postgres) DailyTrends(ctx context.Context) ([]provider.DailyTrend, error) {
	rows, err := p.pool.Query(ctx, "daily_trends")
	if err != nil {
		return nil, fmt.Errorf("query daily trends: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.DailyTrend, error) {
		var t provider.DailyTrend
		err := row.Scan(&t.Date, &t.Country, &t.StateProvince, &t.City, &t.IncidentType, &t.Count, &t.AvgSeverity)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan daily trends: %w", err)
	}
	return out, nil
}

func (p *Postgres) LocationSummaries(ctx context.Context) ([]provider.LocationSummary, error) {
	return p.locations(ctx, "location_summaries")
}

// LocationClusters returns the geolocated location summaries, busiest first.
func (p *Postgres) LocationClusters(ctx context.Context) ([]provider.LocationSummary, error) {
	return p.locations(ctx, "api_location_clusters")
}

func (p *Postgres) locations(ctx context.Context, stmt string) ([]provider.LocationSummary, error) {
	rows, err := p.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.LocationSummary, error) {
		var l provider.LocationSummary
		err := row.Scan(&l.Country, &l.CountryCode, &l.StateProvince, &l.City, &l.Latitude, &l.Longitude, &l.Count)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", stmt, err)
	}
	return out, nil
}

// LocationHierarchy nests the locations rollup as country, state, city.
func (p *Postgres) LocationHierarchy(ctx context.Context) ([]CountryNode, error) {
	rows, err := p.LocationSummaries(ctx)
	if err != nil {
		return nil, err
	}
	return BuildHierarchy(rows), nil
}

func (p *Postgres) SourceStatuses(ctx context.Context) ([]provider.SourceStatus, error) {
	rows, err := p.pool.Query(ctx, "source_statuses")
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.SourceStatus, error) {
		var (
			st  provider.SourceStatus
			typ string
		)
		err := row.Scan(&st.Name, &typ, &st.LastScraped, &st.LastSuccess, &st.TotalIncidents)
		st.SourceType = provider.SourceType(typ)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	return out, nil
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	st := Stats{BySource: map[string]int{}, ByType: map[string]int{}}
	today := provider.DateOf(time.Now().UTC())

	if err := p.pool.QueryRow(ctx, "stats_totals", today).Scan(&st.TotalIncidents, &st.Last7Days, &st.Last30Days); err != nil {
		return st, fmt.Errorf("query totals: %w", err)
	}
	for stmt, dst := range map[string]map[string]int{"stats_by_source": st.BySource, "stats_by_type": st.ByType} {
		counts, err := p.counts(ctx, stmt)
		if err != nil {
			return st, err
		}
		for _, c := range counts {
			dst[c.Key] = c.Count
		}
	}
	return st, nil
}

// IncidentTypes counts incidents per type, most frequent first.
func (p *Postgres) IncidentTypes(ctx context.Context) ([]KeyCount, error) {
	return p.counts(ctx, "api_incident_types")
}

func (p *Postgres) counts(ctx context.Context, stmt string, args ...any) ([]KeyCount, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (KeyCount, error) {
		var c KeyCount
		err := row.Scan(&c.Key, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", stmt, err)
	}
	return out, nil
}

// Incidents returns one page of filtered incidents and the total match count.
func (p *Postgres) Incidents(ctx context.Context, f IncidentFilter) ([]StoredIncident, int, error) {
	args := []any{
		nilEmpty(f.Country), nilEmpty(f.State), nilEmpty(f.City), nilEmpty(f.Type),
		f.StartDate, f.EndDate, f.MinSeverity,
	}

	var total int
	if err := p.pool.QueryRow(ctx, "api_incident_count", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}
	out, err := p.storedIncidents(ctx, "api_incidents", append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Incident returns one incident by id, or ErrNotFound.
func (p *Postgres) Incident(ctx context.Context, id int64) (StoredIncident, error) {
	out, err := p.storedIncidents(ctx, "api_incident_by_id", id)
	if err != nil {
		return StoredIncident{}, err
	}
	if len(out) == 0 {
		return StoredIncident{}, ErrNotFound
	}
	return out[0], nil
}

// Search matches q against title and description, case-insensitively.
func (p *Postgres) Search(ctx context.Context, q string, limit int) ([]StoredIncident, error) {
	return p.storedIncidents(ctx, "api_search", "%"+escapeLike(q)+"%", limit)
}

func (p *Postgres) storedIncidents(ctx context.Context, stmt string, args ...any) ([]StoredIncident, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	out, err := pgx.CollectRows(rows, scanStoredIncident)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", stmt, err)
	}
	return out, nil
}

func scanStoredIncident(row pgx.CollectableRow) (StoredIncident, error) {
	var (
		s   StoredIncident
		typ string
		raw []byte
	)
	err := row.Scan(&s.ID, &s.SourceID, &typ, &s.SourceName, &s.Title, &s.Description,
		&s.IncidentType, &s.Severity, &s.Country, &s.CountryCode, &s.StateProvince,
		&s.City, &s.Address, &s.Latitude, &s.Longitude, &s.RetailerMentioned,
		&s.IsRetailRelated, &s.IncidentDate, &s.IncidentDatetime, &s.URL, &raw, &s.ScrapedAt)
	s.SourceType = provider.SourceType(typ)
	s.RawData = raw
	return s, err
}

// Trends buckets the daily rollup by day, week or month.
func (p *Postgres) Trends(ctx context.Context, q TrendQuery) ([]TrendPoint, error) {
	since := provider.DateOf(time.Now().UTC()).AddDate(0, 0, -q.Days)
	rows, err := p.pool.Query(ctx, "api_trends", q.GroupBy, since, nilEmpty(q.Country), nilEmpty(q.State))
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrendPoint, error) {
		var t TrendPoint
		err := row.Scan(&t.Period, &t.IncidentType, &t.Count, &t.AvgSeverity)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan trends: %w", err)
	}
	return out, nil
}

// RecentGeolocated returns up to limit incidents with coordinates dated on
// or after since, newest first.
func (p *Postgres) RecentGeolocated(ctx context.Context, since time.Time, limit int) ([]MapIncident, error) {
	rows, err := p.pool.Query(ctx, "api_recent_geolocated", since, limit)
	if err != nil {
		return nil, fmt.Errorf("query map incidents: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MapIncident, error) {
		var m MapIncident
		err := row.Scan(&m.ID, &m.Title, &m.Description, &m.IncidentType, &m.Severity,
			&m.City, &m.StateProvince, &m.Country, &m.Latitude, &m.Longitude, &m.IncidentDate, &m.URL)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan map incidents: %w", err)
	}
	return out, nil
}

// Retailers counts mentions per retailer since the given date.
func (p *Postgres) Retailers(ctx context.Context, since time.Time, limit int) ([]RetailerCount, error) {
	counts, err := p.counts(ctx, "api_retailers", since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RetailerCount, len(counts))
	for i, c := range counts {
		out[i] = RetailerCount{Retailer: c.Key, Count: c.Count}
	}
	return out, nil
}

// SeverityDistribution counts incidents per (severity, type) since the
// given date.
func (p *Postgres) SeverityDistribution(ctx context.Context, since time.Time) ([]SeverityBucket, error) {
	rows, err := p.pool.Query(ctx, "api_severity_distribution", since)
	if err != nil {
		return nil, fmt.Errorf("query severity distribution: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SeverityBucket, error) {
		var b SeverityBucket
		err := row.Scan(&b.Severity, &b.IncidentType, &b.Count)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan severity distribution: %w", err)
	}
	return out, nil
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
