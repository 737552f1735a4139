package city

import (
	"encoding/json"
	"strings"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// StatusName is the sources-table key for a city feed.
func StatusName(src config.CitySource) string {
	return "city_" + src.Key
}

// Transform maps a decoded feed payload to canonical incidents. Location
// comes from the feed config, never from free text. Records without a
// parseable date are counted in Skipped. A payload that is not the
// configured shape returns provider.ErrUnexpectedShape.
func Transform(src config.CitySource, payload any, c *classify.Classifier) (provider.Batch, error) {
	batch := provider.Batch{Source: src.Key, Incidents: []provider.Incident{}}

	records, err := provider.AdapterFor(src.ResponsePath, src.AttributesKey).Records(payload)
	if err != nil {
		return batch, err
	}

	fm := src.FieldMap
	for _, raw := range records {
		batch.Fetched++
		rec, ok := raw.(provider.Record)
		if !ok {
			batch.Skipped++
			continue
		}

		dateVal, _ := provider.LookupField(rec, fm.Date)
		date, datetime, err := provider.ParseDate(dateVal)
		if err != nil {
			batch.Skipped++
			continue
		}

		rawType := field(rec, fm.Type)
		description := field(rec, fm.Description)
		text := description
		if rawType != description {
			text = strings.TrimSpace(rawType + " " + description)
		}

		typ := c.NormalizeReport(text)
		retailers := c.Retailers(text)

		inc := provider.Incident{
			SourceID:          provider.NaturalSourceID(src.Key, rec, fm.ID),
			SourceType:        provider.SourcePoliceAPI,
			SourceName:        src.Key,
			Description:       description,
			IncidentType:      string(typ),
			Severity:          c.Severity(typ, description),
			Country:           src.Country,
			CountryCode:       src.CountryCode,
			StateProvince:     src.State,
			City:              src.City,
			Address:           field(rec, fm.Address),
			RetailerMentioned: retailers,
			IsRetailRelated:   c.IsRetailRelated(text, retailers),
			IncidentDate:      date,
			IncidentDatetime:  datetime,
		}
		latVal, _ := provider.LookupField(rec, fm.Latitude)
		lonVal, _ := provider.LookupField(rec, fm.Longitude)
		inc.SetCoordinates(provider.ParseCoordinates(latVal, lonVal))

		if b, err := json.Marshal(rec); err == nil {
			inc.RawData = b
		}
		batch.Incidents = append(batch.Incidents, inc)
	}
	return batch, nil
}

func field(rec provider.Record, path string) string {
	if path == "" {
		return ""
	}
	v, ok := provider.LookupField(rec, path)
	if !ok {
		return ""
	}
	s, _ := provider.Text(v)
	return s
}
