package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "ai-engine/0.1"

	maxBodyBytes = 64 << 20
)

// Client fetches Atom feeds from the arXiv export API
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMinInterval spaces consecutive requests at least d apart. Zero disables limiting.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewClient creates a new arXiv API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		userAgent:  DefaultUserAgent,
		limiter:    rate.NewLimiter(rate.Every(3*time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchParams represents search parameters for arXiv API
type SearchParams struct {
	Query      string
	Start      int
	MaxResults int
	DateFrom   *time.Time // inclusive
	DateTo     *time.Time // inclusive
}

// FetchResult is the raw body of one successful feed request
type FetchResult struct {
	URL        string
	Body       []byte
	StatusCode int
	Duration   time.Duration
	FetchedAt  time.Time
}

// Fetch performs one blocking GET for the feed page described by params.
// Any transport failure or non-2xx status is returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, params SearchParams) (*FetchResult, error) {
	queryURL, err := c.BuildQueryURL(params)
	if err != nil {
		return nil, &FetchError{URL: c.baseURL, Err: err}
	}

	started := time.Now()
	body, status, err := c.get(ctx, queryURL, "application/atom+xml")
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		URL:        queryURL,
		Body:       body,
		StatusCode: status,
		Duration:   time.Since(started),
		FetchedAt:  started.UTC(),
	}, nil
}

// Download fetches an arbitrary arXiv resource such as a PDF through the same
// rate limiter and headers as feed requests.
func (c *Client) Download(ctx context.Context, resourceURL string) ([]byte, error) {
	body, _, err := c.get(ctx, resourceURL, "*/*")
	return body, err
}

func (c *Client) get(ctx context.Context, target, accept string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &FetchError{URL: target, Err: fmt.Errorf("rate limit wait failed: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, &FetchError{URL: target, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &FetchError{URL: target, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

// BuildQueryURL renders {base}?search_query=..&start=..&max_results=.. keeping
// that parameter order.
func (c *Client) BuildQueryURL(params SearchParams) (string, error) {
	if _, err := url.Parse(c.baseURL); err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("invalid base URL: empty")
	}

	searchQuery := params.Query
	if dateQuery := buildDateQuery(params.DateFrom, params.DateTo); dateQuery != "" {
		if searchQuery != "" {
			searchQuery = fmt.Sprintf("(%s) AND %s", searchQuery, dateQuery)
		} else {
			searchQuery = dateQuery
		}
	}

	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(sep)
	b.WriteString("search_query=")
	b.WriteString(url.QueryEscape(searchQuery))
	b.WriteString("&start=")
	b.WriteString(strconv.Itoa(params.Start))
	b.WriteString("&max_results=")
	b.WriteString(strconv.Itoa(params.MaxResults))
	return b.String(), nil
}

// buildDateQuery constructs a submittedDate range clause; arXiv expects YYYYMMDDHHMM.
func buildDateQuery(dateFrom, dateTo *time.Time) string {
	switch {
	case dateFrom != nil && dateTo != nil:
		return fmt.Sprintf("submittedDate:[%s0000 TO %s2359]", dateFrom.Format("20060102"), dateTo.Format("20060102"))
	case dateFrom != nil:
		return fmt.Sprintf("submittedDate:[%s0000 TO *]", dateFrom.Format("20060102"))
	case dateTo != nil:
		return fmt.Sprintf("submittedDate:[* TO %s2359]", dateTo.Format("20060102"))
	}
	return ""
}
