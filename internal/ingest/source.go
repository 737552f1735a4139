package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
	"github.com/albapepper/retail-security-data/internal/provider/city"
	"github.com/albapepper/retail-security-data/internal/provider/news"
)

// Source is one feed the runner pulls. Fetch returns the transformed batch;
// an error means the whole source failed for this run.
type Source interface {
	Name() string
	Type() provider.SourceType
	Fetch(ctx context.Context) (provider.Batch, error)
}

// ---------------------------------------------------------------------------
// City feeds
// ---------------------------------------------------------------------------

type citySource struct {
	client     *city.Client
	src        config.CitySource
	daysBack   int
	classifier *classify.Classifier
}

// CitySource wraps one configured police feed.
func CitySource(client *city.Client, src config.CitySource, daysBack int, c *classify.Classifier) Source {
	return &citySource{client: client, src: src, daysBack: daysBack, classifier: c}
}

func (s *citySource) Name() string              { return city.StatusName(s.src) }
func (s *citySource) Type() provider.SourceType { return provider.SourcePoliceAPI }

func (s *citySource) Fetch(ctx context.Context) (provider.Batch, error) {
	payload, err := s.client.Fetch(ctx, s.src, s.daysBack)
	if err != nil {
		return provider.Batch{}, err
	}
	return city.Transform(s.src, payload, s.classifier)
}

// ---------------------------------------------------------------------------
// News
// ---------------------------------------------------------------------------

type newsAPISource struct {
	client     *news.Client
	cfg        config.NewsConfig
	daysBack   int
	classifier *classify.Classifier
}

// NewsAPISource searches NewsAPI for the configured keywords.
func NewsAPISource(client *news.Client, cfg config.NewsConfig, daysBack int, c *classify.Classifier) Source {
	return &newsAPISource{client: client, cfg: cfg, daysBack: daysBack, classifier: c}
}

func (s *newsAPISource) Name() string              { return "newsapi" }
func (s *newsAPISource) Type() provider.SourceType { return provider.SourceNews }

func (s *newsAPISource) Fetch(ctx context.Context) (provider.Batch, error) {
	articles, err := s.client.FetchArticles(ctx, s.cfg, s.daysBack)
	if err != nil {
		return provider.Batch{}, err
	}
	return news.TransformArticles(articles, s.classifier), nil
}

type googleNewsSource struct {
	client     *news.Client
	cfg        config.NewsConfig
	daysBack   int
	classifier *classify.Classifier
	now        func() time.Time
}

// GoogleNewsSource runs the configured Google News RSS searches and merges
// them into one batch.
func GoogleNewsSource(client *news.Client, cfg config.NewsConfig, daysBack int, c *classify.Classifier) Source {
	return &googleNewsSource{client: client, cfg: cfg, daysBack: daysBack, classifier: c, now: time.Now}
}

func (s *googleNewsSource) Name() string              { return "google_news" }
func (s *googleNewsSource) Type() provider.SourceType { return provider.SourceNews }

func (s *googleNewsSource) Fetch(ctx context.Context) (provider.Batch, error) {
	feed := news.FeedSource{
		Prefix: "gnews",
		Name:   s.Name(),
		Type:   provider.SourceNews,
		Limit:  s.cfg.GoogleNewsPerTerm,
		Since:  s.now().AddDate(0, 0, -s.daysBack),
	}

	var (
		items []news.FeedItem
		errs  []error
	)
	for _, term := range s.cfg.GoogleNewsTerms {
		got, err := s.client.FetchFeed(ctx, news.GoogleNewsURL(s.cfg, term))
		if err != nil {
			errs = append(errs, fmt.Errorf("term %q: %w", term, err))
			continue
		}
		if len(got) > feed.Limit {
			got = got[:feed.Limit]
		}
		items = append(items, got...)
	}
	if len(errs) == len(s.cfg.GoogleNewsTerms) && len(errs) > 0 {
		return provider.Batch{}, errors.Join(errs...)
	}

	// The per-term limit was applied above.
	feed.Limit = 0
	return news.TransformFeed(items, feed, s.classifier), nil
}

type feedSource struct {
	client     *news.Client
	feed       config.RSSFeed
	classifier *classify.Classifier
}

// IndustryFeedSource reads one industry RSS feed.
func IndustryFeedSource(client *news.Client, feed config.RSSFeed, c *classify.Classifier) Source {
	return &feedSource{client: client, feed: feed, classifier: c}
}

func (s *feedSource) Name() string              { return "rss_" + s.feed.Name }
func (s *feedSource) Type() provider.SourceType { return provider.SourceRSS }

func (s *feedSource) Fetch(ctx context.Context) (provider.Batch, error) {
	items, err := s.client.FetchFeed(ctx, s.feed.URL)
	if err != nil {
		return provider.Batch{}, err
	}
	return news.TransformFeed(items, news.FeedSource{
		Prefix:        "rss_" + s.feed.Name,
		Name:          s.feed.Name,
		Type:          provider.SourceRSS,
		RetailFocused: s.feed.RetailFocused,
		Limit:         s.feed.ItemLimit,
	}, s.classifier), nil
}

// ---------------------------------------------------------------------------
// Catalog wiring
// ---------------------------------------------------------------------------

// Selection picks which catalog sources a run pulls.
type Selection struct {
	Cities   bool
	News     bool
	CityKeys []string // empty = every configured city
}

// Clients bundles the fetch clients sources share.
type Clients struct {
	City *city.Client
	News *news.Client
}

// BuildSources turns the catalog and a selection into runnable sources, in
// catalog order: cities, NewsAPI, Google News, then industry feeds. NewsAPI
// is left out when no key is configured.
func BuildSources(cat *config.Catalog, cfg *config.Config, sel Selection, clients Clients, c *classify.Classifier) ([]Source, error) {
	var sources []Source

	if sel.Cities {
		keys := sel.CityKeys
		if len(keys) == 0 {
			keys = cat.CityKeys()
		}
		for _, key := range keys {
			src, ok := cat.City(key)
			if !ok {
				return nil, fmt.Errorf("unknown city %q (configured: %v)", key, cat.CityKeys())
			}
			sources = append(sources, CitySource(clients.City, src, cfg.IngestDaysBack, c))
		}
	}

	if sel.News {
		if clients.News.HasNewsAPI() {
			sources = append(sources, NewsAPISource(clients.News, cat.News, cfg.NewsDaysBack, c))
		}
		if len(cat.News.GoogleNewsTerms) > 0 {
			sources = append(sources, GoogleNewsSource(clients.News, cat.News, cfg.NewsDaysBack, c))
		}
		for _, feed := range cat.RSSFeeds {
			sources = append(sources, IndustryFeedSource(clients.News, feed, c))
		}
	}
	return sources, nil
}
