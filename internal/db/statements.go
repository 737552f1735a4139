package db

const incidentColumns = `source_id, source_type, source_name, title, description,
	incident_type, severity, country, country_code, state_province,
	city, address, latitude, longitude, retailer_mentioned,
	is_retail_related, incident_date, incident_datetime, raw_data, url`

const factColumns = `incident_date, COALESCE(country, ''), COALESCE(country_code, ''),
	COALESCE(state_province, ''), COALESCE(city, ''), COALESCE(incident_type, ''),
	COALESCE(severity, 0), latitude, longitude`

// storedColumns is the full row as served by the API.
const storedColumns = `id, source_id, source_type, COALESCE(source_name, ''),
	COALESCE(title, ''), COALESCE(description, ''), COALESCE(incident_type, 'other'),
	COALESCE(severity, 1), COALESCE(country, ''), COALESCE(country_code, ''),
	COALESCE(state_province, ''), COALESCE(city, ''), COALESCE(address, ''),
	latitude, longitude, retailer_mentioned, is_retail_related,
	incident_date, incident_datetime, COALESCE(url, ''), raw_data, scraped_at`

// incidentFilter is shared by the listing and its count. Parameters:
// $1 country, $2 state, $3 city, $4 type, $5 start, $6 end, $7 min severity.
const incidentFilter = `
	WHERE ($1::text IS NULL OR country = $1)
	  AND ($2::text IS NULL OR state_province = $2)
	  AND ($3::text IS NULL OR city = $3)
	  AND ($4::text IS NULL OR incident_type = $4)
	  AND ($5::date IS NULL OR incident_date >= $5)
	  AND ($6::date IS NULL OR incident_date <= $6)
	  AND COALESCE(severity, 1) >= $7`

var statements = map[string]string{
	// Health
	"health_check": "SELECT 1",

	// Ingestion: writes
	"insert_incident": `INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (source_id) DO NOTHING`,
	"upsert_source_status": `INSERT INTO sources (name, source_type, last_scraped, last_success, total_incidents)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			last_scraped = EXCLUDED.last_scraped,
			last_success = EXCLUDED.last_success,
			total_incidents = sources.total_incidents + EXCLUDED.total_incidents`,

	// Ingestion: classification repair
	"legacy_classifications": `SELECT id, COALESCE(incident_type, ''), COALESCE(description, ''), COALESCE(severity, 0)
		FROM incidents
		WHERE incident_type IS NULL OR incident_type = '' OR incident_type = 'other'
		   OR severity IS NULL OR severity = 0
		ORDER BY id`,
	"update_classification": "UPDATE incidents SET incident_type = $1, severity = $2 WHERE id = $3",

	// Ingestion: rollups
	"trend_facts":         `SELECT ` + factColumns + ` FROM incidents WHERE incident_date >= $1 ORDER BY id`,
	"location_facts":      `SELECT ` + factColumns + ` FROM incidents WHERE country IS NOT NULL ORDER BY id`,
	"delete_trends_since": "DELETE FROM daily_trends WHERE date >= $1",
	"delete_locations":    "DELETE FROM locations",
	"daily_trends": `SELECT date, COALESCE(country, ''), COALESCE(state_province, ''), COALESCE(city, ''),
			COALESCE(incident_type, ''), incident_count, COALESCE(avg_severity, 0)
		FROM daily_trends
		ORDER BY date, country, state_province, city, incident_type`,
	"location_summaries": `SELECT COALESCE(country, ''), COALESCE(country_code, ''), COALESCE(state_province, ''),
			COALESCE(city, ''), latitude, longitude, incident_count
		FROM locations
		ORDER BY country, country_code, state_province, city`,
	"source_statuses": `SELECT name, source_type, last_scraped, COALESCE(last_success, false), total_incidents
		FROM sources
		ORDER BY last_scraped DESC NULLS LAST, name`,

	// API: stats
	"stats_totals": `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE incident_date >= $1::date - 7),
			COUNT(*) FILTER (WHERE incident_date >= $1::date - 30)
		FROM incidents`,
	"stats_by_source": "SELECT source_type, COUNT(*) FROM incidents GROUP BY source_type",
	"stats_by_type": `SELECT COALESCE(incident_type, 'other'), COUNT(*) AS n FROM incidents
		GROUP BY 1 ORDER BY n DESC, 1 LIMIT 10`,

	// API: incidents
	"api_incidents": `SELECT ` + storedColumns + ` FROM incidents` + incidentFilter + `
		ORDER BY incident_date DESC, id DESC
		LIMIT $8 OFFSET $9`,
	"api_incident_count": `SELECT COUNT(*) FROM incidents` + incidentFilter,
	"api_incident_by_id": `SELECT ` + storedColumns + ` FROM incidents WHERE id = $1`,
	"api_search": `SELECT ` + storedColumns + ` FROM incidents
		WHERE title ILIKE $1 OR description ILIKE $1
		ORDER BY incident_date DESC, id DESC
		LIMIT $2`,

	// API: trends. $1 is day, week or month.
	"api_trends": `SELECT to_char(date_trunc($1, date::timestamp), 'YYYY-MM-DD') AS period,
			COALESCE(incident_type, 'other'),
			SUM(incident_count)::int,
			COALESCE(ROUND((SUM(avg_severity * incident_count) / NULLIF(SUM(incident_count), 0))::numeric, 2), 0)::float8
		FROM daily_trends
		WHERE date >= $2
		  AND ($3::text IS NULL OR country = $3)
		  AND ($4::text IS NULL OR state_province = $4)
		GROUP BY 1, 2
		ORDER BY 1, 2`,

	// API: map and locations
	"api_location_clusters": `SELECT COALESCE(country, ''), COALESCE(country_code, ''), COALESCE(state_province, ''),
			COALESCE(city, ''), latitude, longitude, incident_count
		FROM locations
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY incident_count DESC, country, state_province, city`,
	"api_recent_geolocated": `SELECT id, COALESCE(title, ''), COALESCE(description, ''), COALESCE(incident_type, 'other'),
			COALESCE(severity, 1), COALESCE(city, ''), COALESCE(state_province, ''), COALESCE(country, ''),
			latitude, longitude, incident_date, COALESCE(url, '')
		FROM incidents
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND incident_date >= $1
		ORDER BY incident_date DESC, id DESC
		LIMIT $2`,

	// API: dimensions
	"api_incident_types": `SELECT COALESCE(incident_type, 'other'), COUNT(*) AS n FROM incidents
		GROUP BY 1 ORDER BY n DESC, 1`,
	"api_retailers": `SELECT r, COUNT(*) AS n
		FROM incidents, jsonb_array_elements_text(retailer_mentioned) AS r
		WHERE incident_date >= $1
		GROUP BY r ORDER BY n DESC, r
		LIMIT $2`,
	"api_severity_distribution": `SELECT COALESCE(severity, 1), COALESCE(incident_type, 'other'), COUNT(*)
		FROM incidents
		WHERE incident_date >= $1
		GROUP BY 1, 2 ORDER BY 1, 2`,

	// Cache invalidation
	"notify_refreshed": "SELECT pg_notify($1, $2)",
}
