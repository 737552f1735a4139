package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultCatalog []byte

// FieldMap names, per canonical field, the dot path of the source field.
// A comma-separated path ("year,month") joins several fields.
type FieldMap struct {
	ID          string `yaml:"id"`
	Date        string `yaml:"date"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Latitude    string `yaml:"latitude"`
	Longitude   string `yaml:"longitude"`
	Address     string `yaml:"address"`
}

// CitySource is one police open-data feed.
type CitySource struct {
	Key           string            `yaml:"key"` // short id, prefixes source_id
	Name          string            `yaml:"name"`
	Country       string            `yaml:"country"`
	CountryCode   string            `yaml:"country_code"`
	State         string            `yaml:"state"`
	City          string            `yaml:"city"`
	APIURL        string            `yaml:"api_url"`
	Params        map[string]string `yaml:"params"` // "{start_date}" is substituted
	FieldMap      FieldMap          `yaml:"field_map"`
	ResponsePath  string            `yaml:"response_path"`  // envelope path, e.g. result.records
	AttributesKey string            `yaml:"attributes_key"` // ArcGIS per-feature wrapper
}

// RSSFeed is an industry news feed.
type RSSFeed struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Category      string `yaml:"category"`
	RetailFocused bool   `yaml:"retail_focused"` // every item counts as retail related
	ItemLimit     int    `yaml:"item_limit"`
}

// NewsConfig configures NewsAPI and Google News searches.
type NewsConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Keywords          []string `yaml:"keywords"`
	MaxKeywords       int      `yaml:"max_keywords"` // queried per run, to stay under free-tier limits
	Language          string   `yaml:"language"`
	PageSize          int      `yaml:"page_size"`
	GoogleNewsURL     string   `yaml:"google_news_url"`
	GoogleNewsTerms   []string `yaml:"google_news_terms"`
	GoogleNewsPerTerm int      `yaml:"google_news_per_term"`
}

// Catalog is the full set of configured sources.
type Catalog struct {
	Cities   []CitySource `yaml:"cities"`
	RSSFeeds []RSSFeed    `yaml:"rss_feeds"`
	News     NewsConfig   `yaml:"news"`
}

// LoadCatalog reads the source catalog from path, or the built-in catalog
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, src := range c.Cities {
		switch {
		case src.Key == "":
			errs = append(errs, fmt.Errorf("cities[%d]: key is required", i))
		case seen[src.Key]:
			errs = append(errs, fmt.Errorf("cities[%d]: duplicate key %q", i, src.Key))
		}
		seen[src.Key] = true
		if src.APIURL == "" {
			errs = append(errs, fmt.Errorf("city %q: api_url is required", src.Key))
		}
		if src.FieldMap.Date == "" {
			errs = append(errs, fmt.Errorf("city %q: field_map.date is required", src.Key))
		}
		if src.AttributesKey != "" && src.ResponsePath == "" {
			errs = append(errs, fmt.Errorf("city %q: attributes_key needs response_path", src.Key))
		}
	}
	for i, f := range c.RSSFeeds {
		if f.Name == "" || f.URL == "" {
			errs = append(errs, fmt.Errorf("rss_feeds[%d]: name and url are required", i))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) applyDefaults() {
	if c.News.BaseURL == "" {
		c.News.BaseURL = "https://newsapi.org/v2"
	}
	if c.News.Language == "" {
		c.News.Language = "en"
	}
	if c.News.PageSize <= 0 {
		c.News.PageSize = 50
	}
	if c.News.MaxKeywords <= 0 || c.News.MaxKeywords > len(c.News.Keywords) {
		c.News.MaxKeywords = len(c.News.Keywords)
	}
	if c.News.GoogleNewsURL == "" {
		c.News.GoogleNewsURL = "https://news.google.com/rss/search"
	}
	if c.News.GoogleNewsPerTerm <= 0 {
		c.News.GoogleNewsPerTerm = 25
	}
	for i := range c.RSSFeeds {
		if c.RSSFeeds[i].ItemLimit <= 0 {
			c.RSSFeeds[i].ItemLimit = 20
		}
	}
}

// City looks up a city feed by key.
func (c *Catalog) City(key string) (CitySource, bool) {
	for _, src := range c.Cities {
		if src.Key == key {
			return src, true
		}
	}
	return CitySource{}, false
}

// CityKeys returns the configured city keys in catalog order.
func (c *Catalog) CityKeys() []string {
	keys := make([]string, 0, len(c.Cities))
	for _, src := range c.Cities {
		keys = append(keys, src.Key)
	}
	return keys
}
