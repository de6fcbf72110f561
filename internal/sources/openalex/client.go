package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// The polite pool (with email) sustains 10 req/sec comfortably.
	DefaultRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 45 * time.Second

	// DefaultMaxResults is the default maximum results per request.
	DefaultMaxResults = 100

	// perPageLimit is the maximum page size the works API accepts.
	perPageLimit = 200

	// doiPrefix is the URL prefix that OpenAlex uses for DOIs.
	doiPrefix = "https://doi.org/"

	// sourceName labels external API errors from this client.
	sourceName = "OpenAlex"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	// Defaults to https://api.openalex.org
	BaseURL string

	// Email is the contact email for the polite pool.
	// Providing an email grants access to higher rate limits.
	// See: https://docs.openalex.org/how-to-use-the-api/rate-limits-and-authentication
	Email string

	// APIKey is the OpenAlex premium API key. Optional.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxResults caps records per fetch when the query does not set its own.
	// The works API allows at most 200 per page.
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

// Client implements the sources.Adapter interface for OpenAlex.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements Adapter.
var _ sources.Adapter = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpCfg := sources.ClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	}
	if cfg.Email != "" {
		httpCfg.UserAgent = "scholarsift-retrieval/1.0 (mailto:" + cfg.Email + ")"
	}

	return &Client{
		config:     cfg,
		httpClient: sources.NewHTTPClient(httpCfg),
	}
}

// NewWithHTTPClient creates a new OpenAlex client with a custom HTTP client.
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
	return domain.SourceOpenAlex
}

// Enabled reports whether the source may be queried.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// Fetch queries the works API for papers published inside the query window.
// OpenAlex full-text search is relevance-ranked rather than strict, so
// records are verified locally against the query keywords.
func (c *Client) Fetch(ctx context.Context, query sources.Query) ([]*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("openalex source is disabled")
	}

	searchURL, err := c.buildFetchURL(query)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	var searchResp SearchResponse
	if err := c.getJSON(ctx, searchURL, &searchResp); err != nil {
		return nil, err
	}

	records := make([]*domain.PaperRecord, 0, len(searchResp.Results))
	for i := range searchResp.Results {
		record := workToRecord(&searchResp.Results[i])
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

// buildFetchURL constructs the works search URL with query parameters.
func (c *Client) buildFetchURL(query sources.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > perPageLimit {
		maxResults = perPageLimit
	}

	from, to := query.Window(time.Now().UTC())

	q := url.Values{}
	q.Set("search", strings.Join(query.Keywords, " "))
	q.Set("filter", fmt.Sprintf("from_publication_date:%s,to_publication_date:%s",
		from.Format("2006-01-02"), to.Format("2006-01-02")))
	q.Set("per_page", strconv.Itoa(maxResults))
	c.setPoliteParams(q)
	baseURL.RawQuery = q.Encode()

	return baseURL.String(), nil
}

// setPoliteParams adds the polite pool and premium credentials when present.
func (c *Client) setPoliteParams(q url.Values) {
	if c.config.Email != "" {
		q.Set("mailto", c.config.Email)
	}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
}

// getJSON executes a GET request and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// workToRecord converts an OpenAlex work to a domain record. Works with no
// usable identity (no DOI, PMID, or title) are dropped.
func workToRecord(work *Work) *domain.PaperRecord {
	doi := normalizeDOI(work.DOI)
	if doi == "" {
		doi = normalizeDOI(work.IDs.DOI)
	}
	pmid := normalizePMID(work.IDs.PMID)

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}
	title = strings.TrimSpace(title)

	if doi == "" && pmid == "" && title == "" {
		return nil
	}

	abstract := reconstructAbstract(work.AbstractInvertedIndex)

	authors := make([]string, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		if name := strings.TrimSpace(authorship.Author.DisplayName); name != "" {
			authors = append(authors, name)
		}
	}

	var journal string
	if work.PrimaryLocation != nil && work.PrimaryLocation.Source != nil {
		journal = work.PrimaryLocation.Source.DisplayName
	}

	var pubDate *time.Time
	if work.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", work.PublicationDate); err == nil {
			pubDate = &t
		}
	}

	record := &domain.PaperRecord{
		Title:           title,
		Abstract:        abstract,
		Authors:         authors,
		Journal:         journal,
		PublicationDate: pubDate,
		DOI:             doi,
		PMID:            pmid,
		Source:          domain.SourceOpenAlex,
		PaperType:       workPaperType(work.Type, title, abstract),
	}
	if doi != "" {
		record.URL = doiPrefix + doi
	} else {
		record.URL = work.ID
	}
	record.ApplyID()
	return record
}

// workPaperType prefers the typed classification OpenAlex assigns, falling
// back to text markers when the type is not a review.
func workPaperType(workType, title, abstract string) domain.PaperType {
	if strings.EqualFold(workType, "review") {
		return domain.PaperTypeReview
	}
	return sources.DetectPaperType(title + " " + abstract)
}

// normalizeDOI strips URL and scheme prefixes from DOIs. Case is preserved:
// DOIs are case-insensitive upstream but record identity hashes the DOI
// as-is, so rewriting case would split identities across sources.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.TrimSpace(doi)
}

// normalizePMID strips the PubMed URL prefix from PMIDs.
func normalizePMID(pmid string) string {
	if pmid == "" {
		return ""
	}
	pmid = strings.TrimPrefix(pmid, "https://pubmed.ncbi.nlm.nih.gov/")
	return strings.TrimSpace(strings.TrimSuffix(pmid, "/"))
}

// reconstructAbstract reconstructs the abstract text from OpenAlex's
// inverted index format, which maps words to their positions.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	// Guard against malformed payloads with excessive position entries.
	if totalPairs > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, totalPairs)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	// Pre-size for an average word length of 6 plus a separator.
	var builder strings.Builder
	builder.Grow(totalPairs * 7)
	for i, pair := range pairs {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(pair.word)
	}

	return builder.String()
}
