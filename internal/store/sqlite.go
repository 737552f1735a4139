package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/albapepper/retail-security-data/internal/provider"
)

const (
	sqliteDate     = "2006-01-02"
	sqliteDatetime = time.RFC3339Nano
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id TEXT NOT NULL UNIQUE,
	source_type TEXT NOT NULL,
	source_name TEXT,
	title TEXT,
	description TEXT,
	incident_type TEXT,
	severity INTEGER DEFAULT 1,
	country TEXT,
	country_code TEXT,
	state_province TEXT,
	city TEXT,
	address TEXT,
	latitude REAL,
	longitude REAL,
	retailer_mentioned TEXT NOT NULL DEFAULT '[]',
	is_retail_related INTEGER NOT NULL DEFAULT 0,
	incident_date TEXT NOT NULL,
	incident_datetime TEXT,
	scraped_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	raw_data TEXT,
	url TEXT
);

CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	last_scraped TEXT,
	last_success INTEGER,
	total_incidents INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS locations (
	country TEXT,
	country_code TEXT,
	state_province TEXT,
	city TEXT,
	latitude REAL,
	longitude REAL,
	incident_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE (country, country_code, state_province, city)
);

CREATE TABLE IF NOT EXISTS daily_trends (
	date TEXT NOT NULL,
	country TEXT,
	state_province TEXT,
	city TEXT,
	incident_type TEXT,
	incident_count INTEGER NOT NULL DEFAULT 0,
	avg_severity REAL,
	UNIQUE (date, country, state_province, city, incident_type)
);

CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(incident_date);
CREATE INDEX IF NOT EXISTS idx_incidents_location ON incidents(country, state_province, city);
CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(incident_type);
CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source_type, source_name);
CREATE INDEX IF NOT EXISTS idx_daily_trends_date ON daily_trends(date);
`

const incidentColumns = `source_id, source_type, source_name, title, description,
	incident_type, severity, country, country_code, state_province,
	city, address, latitude, longitude, retailer_mentioned,
	is_retail_related, incident_date, incident_datetime, raw_data, url`

// SQLite is the file-backed store used for local runs and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database on a single connection.
func OpenSQLite(path string) (*SQLite, error) {
	const pragmas = "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	memory := path == ":memory:"
	dsn := "file:" + path + "?" + pragmas
	if memory {
		dsn = "file::memory:?_pragma=busy_timeout(10000)"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureSchema creates tables and indexes if they do not exist.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// InsertIncidents writes a batch in one transaction, skipping existing ids.
func (s *SQLite) InsertIncidents(ctx context.Context, incidents []provider.Incident) (res InsertResult, err error) {
	if len(incidents) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (source_id) DO NOTHING`)
	if err != nil {
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range incidents {
		inc := &incidents[i]
		r, err := stmt.ExecContext(ctx, sqliteIncidentArgs(inc)...)
		if err != nil {
			return InsertResult{}, fmt.Errorf("insert %s: %w", inc.SourceID, err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return InsertResult{}, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			res.Duplicates++
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit insert: %w", err)
	}
	return res, nil
}

func sqliteIncidentArgs(inc *provider.Incident) []any {
	var datetime any
	if inc.IncidentDatetime != nil {
		datetime = inc.IncidentDatetime.UTC().Format(sqliteDatetime)
	}
	return []any{
		inc.SourceID, string(inc.SourceType), nilEmpty(inc.SourceName),
		nilEmpty(inc.Title), nilEmpty(inc.Description),
		inc.IncidentType, inc.Severity,
		nilEmpty(inc.Country), nilEmpty(inc.CountryCode), nilEmpty(inc.StateProvince),
		nilEmpty(inc.City), nilEmpty(inc.Address),
		nilFloat(inc.Latitude), nilFloat(inc.Longitude),
		string(retailersJSON(inc.RetailerMentioned)), inc.IsRetailRelated,
		inc.IncidentDate.Format(sqliteDate), datetime,
		string(rawJSON(inc.RawData)), nilEmpty(inc.URL),
	}
}

// RecordSourceStatus upserts the last-run status for a source and adds the
// inserted count to its running total.
func (s *SQLite) RecordSourceStatus(ctx context.Context, name string, sourceType provider.SourceType, success bool, inserted int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (name, source_type, last_scraped, last_success, total_incidents)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			source_type = excluded.source_type,
			last_scraped = excluded.last_scraped,
			last_success = excluded.last_success,
			total_incidents = sources.total_incidents + excluded.total_incidents`,
		name, string(sourceType), time.Now().UTC().Format(sqliteDatetime), success, inserted,
	)
	if err != nil {
		return fmt.Errorf("record source status %s: %w", name, err)
	}
	return nil
}

// LegacyClassifications returns rows whose type is missing or "other", or
// whose severity is missing or zero.
func (s *SQLite) LegacyClassifications(ctx context.Context) ([]LegacyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_type, description, severity
		FROM incidents
		WHERE incident_type IS NULL OR incident_type = '' OR incident_type = 'other'
		   OR severity IS NULL OR severity = 0
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query legacy classifications: %w", err)
	}
	defer rows.Close()

	var out []LegacyRow
	for rows.Next() {
		var (
			r         LegacyRow
			typ, desc *string
			severity  *int
		)
		if err := rows.Scan(&r.ID, &typ, &desc, &severity); err != nil {
			return nil, fmt.Errorf("scan legacy row: %w", err)
		}
		r.IncidentType, r.Description = deref(typ), deref(desc)
		if severity != nil {
			r.Severity = *severity
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateClassifications applies corrected classifications in one
// transaction and returns the number of rows written.
func (s *SQLite) UpdateClassifications(ctx context.Context, updates []Reclassification) (n int, err error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reclassify: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `UPDATE incidents SET incident_type = ?, severity = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare reclassify: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.IncidentType, u.Severity, u.ID); err != nil {
			return 0, fmt.Errorf("reclassify incident %d: %w", u.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reclassify: %w", err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Rollups
// --------------------------------------------------------------------------

const factColumns = `incident_date, country, country_code, state_province, city,
	incident_type, severity, latitude, longitude`

// TrendFacts returns incidents dated on or after since.
func (s *SQLite) TrendFacts(ctx context.Context, since time.Time) ([]Fact, error) {
	return s.facts(ctx, `SELECT `+factColumns+` FROM incidents
		WHERE incident_date >= ? ORDER BY id`, since.Format(sqliteDate))
}

// LocationFacts returns every incident with a country.
func (s *SQLite) LocationFacts(ctx context.Context) ([]Fact, error) {
	return s.facts(ctx, `SELECT `+factColumns+` FROM incidents
		WHERE country IS NOT NULL ORDER BY id`)
}

func (s *SQLite) facts(ctx context.Context, query string, args ...any) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			f                               Fact
			date                            string
			country, code, state, city, typ *string
			severity                        *int
		)
		if err := rows.Scan(&date, &country, &code, &state, &city, &typ, &severity, &f.Latitude, &f.Longitude); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if f.Date, err = time.Parse(sqliteDate, date); err != nil {
			return nil, fmt.Errorf("parse incident_date %q: %w", date, err)
		}
		f.Country, f.CountryCode = deref(country), deref(code)
		f.StateProvince, f.City, f.IncidentType = deref(state), deref(city), deref(typ)
		if severity != nil {
			f.Severity = *severity
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ReplaceDailyTrends swaps the trend rows inside the window atomically.
func (s *SQLite) ReplaceDailyTrends(ctx context.Context, since time.Time, rows []provider.DailyTrend) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trends: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_trends WHERE date >= ?`, since.Format(sqliteDate)); err != nil {
		return fmt.Errorf("clear trends: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_trends
		(date, country, state_province, city, incident_type, incident_count, avg_severity)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare trends: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Date.Format(sqliteDate), nilEmpty(r.Country),
			nilEmpty(r.StateProvince), nilEmpty(r.City), nilEmpty(r.IncidentType),
			r.Count, r.AvgSeverity); err != nil {
			return fmt.Errorf("insert trend: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trends: %w", err)
	}
	return nil
}

// ReplaceLocationSummaries rewrites the locations rollup atomically.
func (s *SQLite) ReplaceLocationSummaries(ctx context.Context, rows []provider.LocationSummary) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin locations: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO locations
		(country, country_code, state_province, city, latitude, longitude, incident_count)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare locations: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, nilEmpty(r.Country), nilEmpty(r.CountryCode),
			nilEmpty(r.StateProvince), nilEmpty(r.City), nilFloat(r.Latitude), nilFloat(r.Longitude), r.Count); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit locations: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Reads used by the CLI report and tests
// --------------------------------------------------------------------------

// DailyTrends returns the trend rollup in key order.
func (s *SQLite) DailyTrends(ctx context.Context) ([]provider.DailyTrend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, country, state_province, city, incident_type, incident_count, avg_severity
		FROM daily_trends
		ORDER BY date, country, state_province, city, incident_type`)
	if err != nil {
		return nil, fmt.Errorf("query daily trends: %w", err)
	}
	defer rows.Close()

	var out []provider.DailyTrend
	for rows.Next() {
		var (
			t                         provider.DailyTrend
			date                      string
			country, state, city, typ *string
		)
		if err := rows.Scan(&date, &country, &state, &city, &typ, &t.Count, &t.AvgSeverity); err != nil {
			return nil, fmt.Errorf("scan daily trend: %w", err)
		}
		if t.Date, err = time.Parse(sqliteDate, date); err != nil {
			return nil, fmt.Errorf("parse trend date %q: %w", date, err)
		}
		t.Country, t.StateProvince, t.City, t.IncidentType = deref(country), deref(state), deref(city), deref(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// LocationSummaries returns the locations rollup in key order.
func (s *SQLite) LocationSummaries(ctx context.Context) ([]provider.LocationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country, country_code, state_province, city, latitude, longitude, incident_count
		FROM locations
		ORDER BY country, country_code, state_province, city`)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []provider.LocationSummary
	for rows.Next() {
		var (
			l                          provider.LocationSummary
			country, code, state, city *string
		)
		if err := rows.Scan(&country, &code, &state, &city, &l.Latitude, &l.Longitude, &l.Count); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		l.Country, l.CountryCode, l.StateProvince, l.City = deref(country), deref(code), deref(state), deref(city)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SourceStatuses returns per-source bookkeeping, most recently run first.
func (s *SQLite) SourceStatuses(ctx context.Context) ([]provider.SourceStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, source_type, last_scraped, last_success, total_incidents
		FROM sources
		ORDER BY last_scraped DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []provider.SourceStatus
	for rows.Next() {
		var (
			st          provider.SourceStatus
			typ         string
			lastScraped *string
			success     *bool
		)
		if err := rows.Scan(&st.Name, &typ, &lastScraped, &success, &st.TotalIncidents); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		st.SourceType = provider.SourceType(typ)
		if lastScraped != nil {
			if t, err := time.Parse(sqliteDatetime, *lastScraped); err == nil {
				st.LastScraped = &t
			}
		}
		st.LastSuccess = success != nil && *success
		out = append(out, st)
	}
	return out, rows.Err()
}

// Stats computes the headline counts relative to today (UTC).
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{BySource: map[string]int{}, ByType: map[string]int{}}
	today := provider.DateOf(time.Now().UTC())

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN incident_date >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN incident_date >= ? THEN 1 ELSE 0 END), 0)
		FROM incidents`,
		today.AddDate(0, 0, -7).Format(sqliteDate),
		today.AddDate(0, 0, -30).Format(sqliteDate),
	).Scan(&st.TotalIncidents, &st.Last7Days, &st.Last30Days)
	if err != nil {
		return st, fmt.Errorf("query totals: %w", err)
	}

	if err := s.countInto(ctx, st.BySource, "by source", `SELECT source_type, COUNT(*) FROM incidents GROUP BY source_type`); err != nil {
		return st, err
	}
	if err := s.countInto(ctx, st.ByType, "by type", `SELECT incident_type, COUNT(*) AS n FROM incidents
		GROUP BY incident_type ORDER BY n DESC, incident_type LIMIT 10`); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLite) countInto(ctx context.Context, dst map[string]int, label, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query counts %s: %w", label, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key *string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		dst[deref(key)] = n
	}
	return rows.Err()
}
