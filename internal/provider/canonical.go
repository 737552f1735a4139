// Package provider defines the canonical data types every source normalizes
// into, plus the shared helpers for reading schema-variable raw records.
// These structs are the contract between source transforms and the store:
// sources output Incidents, the store writes them, and the rebuilder
// aggregates them.
//
// Adding a new source means writing a transform that returns these types.
// The store and the aggregation tables never change.
package provider

import (
	"encoding/json"
	"time"
)

// SourceType identifies the kind of feed an incident came from.
type SourceType string

const (
	SourcePoliceAPI SourceType = "police_api"
	SourceNews      SourceType = "news"
	SourceRSS       SourceType = "rss"
)

// Incident is the canonical, deduplicated retail-security event written to
// the incidents table. Empty strings mean "unknown" and map to SQL NULL.
type Incident struct {
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	SourceName string     `json:"source_name"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	IncidentType string `json:"incident_type"`
	Severity     int    `json:"severity"`

	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	StateProvince string `json:"state_province,omitempty"`
	City          string `json:"city,omitempty"`
	Address       string `json:"address,omitempty"`

	// Latitude and Longitude are either both set or both nil.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	RetailerMentioned []string `json:"retailer_mentioned"`
	IsRetailRelated   bool     `json:"is_retail_related"`

	IncidentDate     time.Time  `json:"incident_date"` // UTC midnight
	IncidentDatetime *time.Time `json:"incident_datetime,omitempty"`

	URL     string          `json:"url,omitempty"`
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// SetCoordinates stores a coordinate pair. Both values must be present for
// either to be kept.
func (i *Incident) SetCoordinates(lat, lon *float64) {
	if lat == nil || lon == nil {
		i.Latitude, i.Longitude = nil, nil
		return
	}
	i.Latitude, i.Longitude = lat, lon
}

// DailyTrend is one row of the daily_trends rollup.
type DailyTrend struct {
	Date          time.Time `json:"date"`
	Country       string    `json:"country,omitempty"`
	StateProvince string    `json:"state_province,omitempty"`
	City          string    `json:"city,omitempty"`
	IncidentType  string    `json:"incident_type"`
	Count         int       `json:"incident_count"`
	AvgSeverity   float64   `json:"avg_severity"`
}

// LocationSummary is one row of the locations rollup. Latitude/Longitude are
// the mean of the incidents that carried coordinates, nil when none did.
type LocationSummary struct {
	Country       string   `json:"country"`
	CountryCode   string   `json:"country_code,omitempty"`
	StateProvince string   `json:"state_province,omitempty"`
	City          string   `json:"city,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Count         int      `json:"incident_count"`
}

// SourceStatus is the last-run bookkeeping kept per feed.
type SourceStatus struct {
	Name           string     `json:"name"`
	SourceType     SourceType `json:"source_type"`
	LastScraped    *time.Time `json:"last_scraped,omitempty"`
	LastSuccess    bool       `json:"last_success"`
	TotalIncidents int        `json:"total_incidents"`
}

// Batch is the output of transforming one source's raw records.
type Batch struct {
	Source    string
	Incidents []Incident
	Fetched    int // raw records seen
	Skipped    int // records dropped for a missing/unparseable date or age
	Duplicates int // records repeating a source_id earlier in the same batch
}
