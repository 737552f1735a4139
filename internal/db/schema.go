package db

// Schema is the Postgres DDL. Derived tables carry no surrogate key so a
// rebuild over unchanged incidents rewrites identical rows.
const Schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id BIGSERIAL PRIMARY KEY,
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
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	retailer_mentioned JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_retail_related BOOLEAN NOT NULL DEFAULT false,
	incident_date DATE NOT NULL,
	incident_datetime TIMESTAMPTZ,
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data JSONB,
	url TEXT
);

CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	last_scraped TIMESTAMPTZ,
	last_success BOOLEAN,
	total_incidents INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS locations (
	country TEXT,
	country_code TEXT,
	state_province TEXT,
	city TEXT,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	incident_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE (country, country_code, state_province, city)
);

CREATE TABLE IF NOT EXISTS daily_trends (
	date DATE NOT NULL,
	country TEXT,
	state_province TEXT,
	city TEXT,
	incident_type TEXT,
	incident_count INTEGER NOT NULL DEFAULT 0,
	avg_severity DOUBLE PRECISION,
	UNIQUE (date, country, state_province, city, incident_type)
);

CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(incident_date);
CREATE INDEX IF NOT EXISTS idx_incidents_location ON incidents(country, state_province, city);
CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(incident_type);
CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source_type, source_name);
CREATE INDEX IF NOT EXISTS idx_incidents_geo ON incidents(latitude, longitude) WHERE latitude IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_daily_trends_date ON daily_trends(date);
`
