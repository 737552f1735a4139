// Package city fetches police open-data feeds (Socrata, CKAN, ArcGIS and
// plain JSON endpoints) and transforms their records into canonical
// incidents.
//
// Every feed is described by a config.CitySource: the endpoint, query
// parameters, where the record list sits in the response, and a field map
// from canonical fields to source paths. Requests are rate limited with a
// token bucket shared across feeds.
package city

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// maxBodyBytes caps a single response; the largest feeds return a few MB.
const maxBodyBytes = 64 << 20

// Client is the shared HTTP client for all city feeds.
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a city feed client with rate limiting.
func NewClient(userAgent string, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
		now:        time.Now,
	}
}

// Fetch downloads one feed and returns the decoded payload. Numbers are
// decoded as json.Number.
func (c *Client) Fetch(ctx context.Context, src config.CitySource, daysBack int) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := c.requestURL(src, daysBack)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", src.Key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", src.Key, resp.StatusCode, truncate(body, 200))
	}

	payload, err := provider.DecodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", src.Key, err)
	}
	c.logger.Debug("Fetched city feed", "source", src.Key, "bytes", len(body))
	return payload, nil
}

// requestURL merges the configured params into the endpoint URL,
// substituting {start_date} with the first day of the lookback window.
func (c *Client) requestURL(src config.CitySource, daysBack int) (string, error) {
	u, err := url.Parse(src.APIURL)
	if err != nil {
		return "", fmt.Errorf("parse api_url for %s: %w", src.Key, err)
	}
	if len(src.Params) == 0 {
		return u.String(), nil
	}

	start := c.now().AddDate(0, 0, -daysBack).Format(time.DateOnly)
	q := u.Query()
	for k, v := range src.Params {
		q.Set(k, strings.ReplaceAll(v, "{start_date}", start))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
