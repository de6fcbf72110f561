// Package biorxiv provides a client for the bioRxiv details API. The same
// API serves both the bioRxiv and medRxiv preprint servers, so one client
// covers both sources; the server is selected through Config.Server.
//
// The details endpoint has no keyword search. Pages of everything posted in
// a date window are walked with a cursor and records are filtered locally
// against the query keywords.
package biorxiv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the bioRxiv details API.
	DefaultBaseURL = "https://api.biorxiv.org"

	// DefaultRateLimit is the default rate limit (5 requests per second).
	DefaultRateLimit = 5.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 45 * time.Second

	// DefaultMaxResults is the default maximum records per fetch.
	DefaultMaxResults = 100

	// ServerBioRxiv selects the bioRxiv preprint server.
	ServerBioRxiv = "biorxiv"

	// ServerMedRxiv selects the medRxiv preprint server.
	ServerMedRxiv = "medrxiv"

	// pageSize is the fixed page size of the details endpoint.
	pageSize = 100

	// maxPages bounds the cursor walk so a busy window cannot stall a fetch.
	maxPages = 5

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// Config holds configuration for the bioRxiv details client.
type Config struct {
	// BaseURL is the details API base URL.
	BaseURL string

	// Server selects the preprint server, ServerBioRxiv or ServerMedRxiv.
	// Defaults to ServerBioRxiv if empty.
	Server string

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
	if c.Server == "" {
		c.Server = ServerBioRxiv
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

// Client implements the sources.Adapter interface for bioRxiv and medRxiv.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements Adapter.
var _ sources.Adapter = (*Client)(nil)

// New creates a new details API client with the given configuration.
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

// NewWithHTTPClient creates a new details API client with a custom HTTP
// client. This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Name returns the source identifier for records produced by this client.
func (c *Client) Name() domain.SourceName {
	if c.config.Server == ServerMedRxiv {
		return domain.SourceMedRxiv
	}
	return domain.SourceBioRxiv
}

// Enabled reports whether the source may be queried.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// Fetch walks the details pages for the query window, keeping records whose
// title or abstract matches the query keywords. The walk stops at the last
// page reported by the API, at maxPages, or once enough records matched.
func (c *Client) Fetch(ctx context.Context, query sources.Query) ([]*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("%s source is disabled", c.config.Server)
	}

	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	from, to := query.Window(time.Now().UTC())

	var records []*domain.PaperRecord
	cursor := 0
	for page := 0; page < maxPages; page++ {
		resp, err := c.page(ctx, from, to, cursor)
		if err != nil {
			return nil, err
		}
		if len(resp.Collection) == 0 {
			break
		}

		for i := range resp.Collection {
			entry := &resp.Collection[i]
			if !sources.MatchesKeywords(entry.Title+" "+entry.Abstract, query.Keywords) {
				continue
			}
			records = append(records, c.entryToRecord(entry))
			if len(records) >= maxResults {
				return records, nil
			}
		}

		if !hasMore(resp.Messages, cursor) {
			break
		}
		cursor += pageSize
	}

	return records, nil
}

// page fetches one details page for the window starting at cursor.
func (c *Client) page(ctx context.Context, from, to time.Time, cursor int) (*DetailsResponse, error) {
	u := fmt.Sprintf("%s/details/%s/%s/%s/%d/json",
		strings.TrimRight(c.config.BaseURL, "/"),
		c.config.Server,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
		cursor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, domain.NewExternalAPIError(c.journal(), resp.StatusCode, string(body), nil)
	}

	var details DetailsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&details); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &details, nil
}

// hasMore reports whether another page exists after the one fetched at
// cursor, based on the count and total in the page's status message.
func hasMore(messages []Message, cursor int) bool {
	if len(messages) == 0 {
		return false
	}
	count, err := messages[0].Count.Int64()
	if err != nil {
		return false
	}
	total, err := messages[0].Total.Int64()
	if err != nil {
		return false
	}
	return count == pageSize && int64(cursor)+count < total
}

// entryToRecord converts a details row to a domain record.
func (c *Client) entryToRecord(entry *Entry) *domain.PaperRecord {
	record := &domain.PaperRecord{
		Title:           strings.TrimSpace(entry.Title),
		Abstract:        strings.TrimSpace(entry.Abstract),
		Authors:         splitAuthors(entry.Authors),
		Journal:         c.journal(),
		PublicationDate: parseDate(entry.Date),
		DOI:             strings.TrimSpace(entry.DOI),
		Source:          c.Name(),
		PaperType:       sources.DetectPaperType(entry.Title + " " + entry.Abstract),
	}
	if record.DOI != "" {
		record.URL = fmt.Sprintf("https://www.%s.org/content/%s", c.config.Server, record.DOI)
	}
	record.ApplyID()
	return record
}

// journal returns the display name of the configured preprint server.
func (c *Client) journal() string {
	if c.config.Server == ServerMedRxiv {
		return "medRxiv"
	}
	return "bioRxiv"
}

// splitAuthors splits the API's semicolon-separated author string.
func splitAuthors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}

// parseDate parses the API's date format, returning nil when absent or
// malformed.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
