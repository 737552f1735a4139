package news

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/location"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// FeedSource describes how items of one RSS feed become incidents.
type FeedSource struct {
	Prefix        string // source_id prefix, e.g. "gnews" or "rss_retail_dive"
	Name          string // source_name
	Type          provider.SourceType
	RetailFocused bool      // every item counts as retail related
	Limit         int       // items considered per fetch, 0 = all
	Since         time.Time // items published before this are dropped; zero = keep all
}

// TransformArticles turns NewsAPI results into incidents keyed by URL.
func TransformArticles(articles []Article, c *classify.Classifier) provider.Batch {
	batch := provider.Batch{Source: "newsapi", Incidents: []provider.Incident{}}
	for _, a := range articles {
		batch.Fetched++
		date, datetime, err := provider.ParseDate(a.PublishedAt)
		if err != nil {
			batch.Skipped++
			continue
		}

		inc := fromText(c, strings.Join([]string{a.Title, a.Description, a.Content}, " "))
		inc.SourceID = provider.URLSourceID("newsapi", a.URL, a)
		inc.SourceType = provider.SourceNews
		inc.SourceName = "newsapi"
		inc.Title = strings.TrimSpace(a.Title)
		inc.Description = strings.TrimSpace(a.Description)
		inc.URL = strings.TrimSpace(a.URL)
		inc.IncidentDate, inc.IncidentDatetime = date, datetime
		if b, err := json.Marshal(a); err == nil {
			inc.RawData = b
		}
		batch.Incidents = append(batch.Incidents, inc)
	}
	batch.Incidents, batch.Duplicates = dedupe(batch.Incidents)
	return batch
}

// TransformFeed turns RSS items into incidents keyed by link. Summaries are
// stripped of HTML. Items without a parseable publish date, or published
// before src.Since, are skipped.
func TransformFeed(items []FeedItem, src FeedSource, c *classify.Classifier) provider.Batch {
	batch := provider.Batch{Source: src.Name, Incidents: []provider.Incident{}}
	if src.Limit > 0 && len(items) > src.Limit {
		items = items[:src.Limit]
	}

	for _, it := range items {
		batch.Fetched++
		date, datetime, err := provider.ParseDate(it.Published)
		if err != nil || (!src.Since.IsZero() && date.Before(provider.DateOf(src.Since))) {
			batch.Skipped++
			continue
		}

		title := strings.TrimSpace(html2text.HTML2Text(it.Title))
		summary := strings.TrimSpace(html2text.HTML2Text(it.Summary))
		raw := FeedItem{Title: title, Summary: summary, Link: it.Link, Published: it.Published}

		inc := fromText(c, title+" "+summary)
		inc.SourceID = provider.URLSourceID(src.Prefix, it.Link, raw)
		inc.SourceType = src.Type
		inc.SourceName = src.Name
		inc.Title = title
		inc.Description = summary
		inc.URL = strings.TrimSpace(it.Link)
		inc.IncidentDate, inc.IncidentDatetime = date, datetime
		if src.RetailFocused {
			inc.IsRetailRelated = true
		}
		if b, err := json.Marshal(raw); err == nil {
			inc.RawData = b
		}
		batch.Incidents = append(batch.Incidents, inc)
	}
	batch.Incidents, batch.Duplicates = dedupe(batch.Incidents)
	return batch
}

// fromText fills the fields inferred from free text.
func fromText(c *classify.Classifier, text string) provider.Incident {
	typ := c.Normalize(text)
	retailers := c.Retailers(text)
	loc := location.Extract(text)
	return provider.Incident{
		IncidentType:      string(typ),
		Severity:          c.Severity(typ, text),
		Country:           loc.Country,
		CountryCode:       loc.CountryCode,
		StateProvince:     loc.StateProvince,
		City:              loc.City,
		RetailerMentioned: retailers,
		IsRetailRelated:   c.IsRetailRelated(text, retailers),
	}
}

// dedupe drops repeated source ids, keeping the first occurrence, and
// reports how many it dropped.
func dedupe(in []provider.Incident) ([]provider.Incident, int) {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, inc := range in {
		if seen[inc.SourceID] {
			continue
		}
		seen[inc.SourceID] = true
		out = append(out, inc)
	}
	return out, len(in) - len(out)
}
