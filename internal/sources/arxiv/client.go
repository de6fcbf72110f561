package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the default rate limit (3 requests per second).
	DefaultRateLimit = 3.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 45 * time.Second

	// DefaultMaxResults is the default maximum results per request.
	DefaultMaxResults = 100

	// sourceName labels external API errors from this client.
	sourceName = "arXiv"
)

// arxivIDRegex extracts the arXiv ID from the entry URL, dropping the
// version suffix. Matches "http://arxiv.org/abs/2301.12345v1" and old-style
// "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxResults caps records per fetch when the query does not set its own.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements the sources.Adapter interface for arXiv.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements Adapter.
var _ sources.Adapter = (*Client)(nil)

// New creates a new arXiv client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: sources.NewHTTPClient(sources.ClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		}),
	}
}

// NewWithHTTPClient creates a new arXiv client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Name returns the source identifier for records produced by this client.
func (c *Client) Name() domain.SourceName {
	return domain.SourceArXiv
}

// Enabled reports whether the source may be queried.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// Fetch queries the arXiv Atom API for papers submitted inside the query
// window. The all: field search is broad, so records are verified locally
// against the query keywords before they are returned.
func (c *Client) Fetch(ctx context.Context, query sources.Query) ([]*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("arxiv source is disabled")
	}

	searchURL, err := c.buildFetchURL(query)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]*domain.PaperRecord, 0, len(feed.Entries))
	for i := range feed.Entries {
		record := entryToRecord(&feed.Entries[i])
		if record == nil {
			continue
		}
		if !sources.MatchesKeywords(record.Title+" "+record.Abstract, query.Keywords) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// buildFetchURL constructs the arXiv search API URL.
func (c *Client) buildFetchURL(query sources.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	terms := make([]string, 0, len(query.Keywords))
	for _, kw := range query.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf("all:%q", kw))
	}

	from, to := query.Window(time.Now().UTC())
	searchQuery := fmt.Sprintf("(%s) AND submittedDate:[%s0000 TO %s2359]",
		strings.Join(terms, " OR "),
		from.Format("20060102"),
		to.Format("20060102"))

	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	baseURL.RawQuery = q.Encode()

	return baseURL.String(), nil
}

// entryToRecord converts an arXiv Atom entry to a domain record. Entries
// without a parseable ID or submission date are dropped.
func entryToRecord(entry *Entry) *domain.PaperRecord {
	arxivID := extractArXivID(entry.ID)
	if arxivID == "" {
		return nil
	}

	published, err := time.Parse(time.RFC3339, entry.Published)
	if err != nil {
		return nil
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	// arXiv wraps titles and abstracts across lines with extra whitespace.
	title := normalizeWhitespace(entry.Title)
	abstract := normalizeWhitespace(entry.Summary)

	record := &domain.PaperRecord{
		Title:           title,
		Abstract:        abstract,
		Authors:         authors,
		Journal:         "arXiv",
		PublicationDate: &published,
		DOI:             strings.TrimSpace(entry.DOI),
		Source:          domain.SourceArXiv,
		URL:             "https://arxiv.org/abs/" + arxivID,
		PaperType:       sources.DetectPaperType(title + " " + abstract),
	}
	record.ApplyID()
	return record
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// "http://arxiv.org/abs/2301.12345v1" yields "2301.12345".
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace trims and collapses runs of whitespace into single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
