// Package news fetches retail-crime coverage from NewsAPI, Google News RSS
// searches and industry RSS feeds, and turns articles into canonical
// incidents. News has no structured location, so the location, type and
// retailer fields are all inferred from the article text.
package news

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/retail-security-data/internal/config"
)

const (
	newsAPITimeout = 15 * time.Second
	rssTimeout     = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// ErrUpgradeRequired is NewsAPI's 426 answer for queries outside the free
// plan. Callers skip the keyword.
var ErrUpgradeRequired = errors.New("newsapi: paid plan required")

// ---------------------------------------------------------------------------
// Wire shapes
// ---------------------------------------------------------------------------

// Article is one NewsAPI /everything result.
type Article struct {
	Source struct {
		ID   *string `json:"id"`
		Name string  `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

type everythingResponse struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []Article `json:"articles"`
}

// rssResponse is the minimal XML structure for RSS 2.0 feeds.
type rssResponse struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// FeedItem is a normalized RSS entry.
type FeedItem struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Link      string `json:"link"`
	Published string `json:"published,omitempty"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client talks to NewsAPI and RSS endpoints.
type Client struct {
	httpClient *http.Client
	apiKey     string // NewsAPI key (empty = not configured)
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a news client. apiKey may be empty.
func NewClient(apiKey, userAgent string, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: rssTimeout},
		apiKey:     apiKey,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		logger:     logger,
		now:        time.Now,
	}
}

// HasNewsAPI reports whether a NewsAPI key is configured.
func (c *Client) HasNewsAPI() bool { return c.apiKey != "" }

// FetchArticles runs one /everything search per configured keyword (up to
// MaxKeywords). Keywords NewsAPI refuses with 426 are skipped; other
// per-keyword failures are logged. An error is returned only when no
// keyword succeeded.
func (c *Client) FetchArticles(ctx context.Context, cfg config.NewsConfig, daysBack int) ([]Article, error) {
	if !c.HasNewsAPI() {
		return nil, errors.New("newsapi: no api key configured")
	}

	from := c.now().AddDate(0, 0, -daysBack).Format(time.DateOnly)
	keywords := cfg.Keywords
	if cfg.MaxKeywords < len(keywords) {
		keywords = keywords[:cfg.MaxKeywords]
	}

	var (
		articles  []Article
		errs      []error
		succeeded int
	)
	for _, kw := range keywords {
		batch, err := c.everything(ctx, cfg, kw, from)
		switch {
		case errors.Is(err, ErrUpgradeRequired):
			c.logger.Info("NewsAPI requires paid plan for this query", "keyword", kw)
			succeeded++
		case err != nil:
			c.logger.Warn("NewsAPI keyword failed", "keyword", kw, "error", err)
			errs = append(errs, err)
		default:
			articles = append(articles, batch...)
			succeeded++
		}
		if ctx.Err() != nil {
			return articles, ctx.Err()
		}
	}
	if succeeded == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return articles, nil
}

func (c *Client) everything(ctx context.Context, cfg config.NewsConfig, keyword, from string) ([]Article, error) {
	params := url.Values{}
	params.Set("q", keyword)
	params.Set("from", from)
	params.Set("language", cfg.Language)
	params.Set("pageSize", fmt.Sprint(cfg.PageSize))
	params.Set("sortBy", "publishedAt")

	ctx, cancel := context.WithTimeout(ctx, newsAPITimeout)
	defer cancel()

	status, body, err := c.get(ctx, cfg.BaseURL+"/everything?"+params.Encode(), "application/json", map[string]string{
		"X-Api-Key": c.apiKey,
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusUpgradeRequired {
		return nil, ErrUpgradeRequired
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("newsapi %q returned %d: %s", keyword, status, truncate(body, 200))
	}

	var resp everythingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode newsapi response: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("newsapi %q: %s: %s", keyword, resp.Code, resp.Message)
	}
	return resp.Articles, nil
}

// GoogleNewsURL builds the RSS search URL for one term.
func GoogleNewsURL(cfg config.NewsConfig, term string) string {
	params := url.Values{}
	params.Set("q", term)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")
	return cfg.GoogleNewsURL + "?" + params.Encode()
}

// FetchFeed downloads and parses an RSS feed.
func (c *Client) FetchFeed(ctx context.Context, feedURL string) ([]FeedItem, error) {
	status, body, err := c.get(ctx, feedURL, "application/rss+xml, application/xml, text/xml", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("RSS HTTP %d from %s", status, feedURL)
	}

	var rss rssResponse
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("RSS parse error: %w", err)
	}

	items := make([]FeedItem, 0, len(rss.Items))
	for _, it := range rss.Items {
		items = append(items, FeedItem{
			Title:     it.Title,
			Summary:   it.Description,
			Link:      it.Link,
			Published: it.PubDate,
		})
	}
	return items, nil
}

// get performs a rate-limited GET and returns the status and body.
func (c *Client) get(ctx context.Context, u, accept string, headers map[string]string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
