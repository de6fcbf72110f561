package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, NCBI allows up to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultTimeout is the default request timeout. E-utilities can be slow
	// when efetch returns many full records.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxResults is the default maximum records per fetch.
	DefaultMaxResults = 100

	// maxResultsLimit is the hard retmax cap accepted by esearch.
	maxResultsLimit = 10000

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 10 << 20

	// sourceName labels external API errors from this client.
	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	// Optional but recommended for production use.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// MaxResults caps records per fetch when the query does not set its own.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	// When false, Fetch returns an error.
	Enabled bool
}

// applyDefaults applies default values to the config.
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

// Client implements the sources.Adapter interface for PubMed.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements Adapter.
var _ sources.Adapter = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
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

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
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
	return domain.SourcePubMed
}

// Enabled reports whether the source may be queried.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// Fetch retrieves papers matching the query keywords published inside the
// query window. It performs a two-step retrieval:
//  1. esearch.fcgi - resolves the keyword query to PMIDs
//  2. efetch.fcgi - retrieves full article metadata for the PMIDs
//
// Keyword relevance is enforced server-side through [Title/Abstract] field
// tags, so no local keyword filter is applied.
func (c *Client) Fetch(ctx context.Context, query sources.Query) ([]*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	pmids, err := c.esearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	set, err := c.efetch(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	records := make([]*domain.PaperRecord, 0, len(set.Articles))
	for _, article := range set.Articles {
		records = append(records, articleToRecord(article))
	}
	return records, nil
}

// searchTerm builds the esearch term expression. Each keyword is restricted
// to title and abstract so matches stay on-topic.
func searchTerm(keywords []string) string {
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf("%q[Title/Abstract]", kw))
	}
	return strings.Join(terms, " OR ")
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, query sources.Query) ([]string, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > maxResultsLimit {
		maxResults = maxResultsLimit
	}

	from, to := query.Window(time.Now().UTC())

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", searchTerm(query.Keywords))
	q.Set("retmode", "xml")
	q.Set("usehistory", "n")
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("datetype", "pdat")
	q.Set("mindate", from.Format("2006/01/02"))
	q.Set("maxdate", to.Format("2006/01/02"))
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	var result ESearchResult
	if err := c.get(ctx, u.String(), &result); err != nil {
		return nil, err
	}

	// Phrases the index does not know yield zero results, not an error.
	if result.ErrorList != nil && len(result.ErrorList.PhraseNotFound) > 0 {
		return nil, nil
	}

	return result.IDList.IDs, nil
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	var result PubmedArticleSet
	if err := c.get(ctx, u.String(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// get executes a GET request and decodes the XML response into out.
func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse XML response: %w", err)
	}
	return nil
}

// articleToRecord converts a PubmedArticle to a domain.PaperRecord.
func articleToRecord(article PubmedArticle) *domain.PaperRecord {
	citation := article.MedlineCitation

	record := &domain.PaperRecord{
		Title:           citation.Article.ArticleTitle,
		Abstract:        extractAbstract(citation.Article.Abstract),
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         journalTitle(citation.Article.Journal),
		PublicationDate: extractPublicationDate(citation.Article),
		DOI:             extractDOI(citation.Article, article.PubmedData),
		PMID:            citation.PMID.Value,
		Source:          domain.SourcePubMed,
		PaperType:       paperType(citation.Article.PublicationTypeList),
	}
	if record.PMID != "" {
		record.URL = "https://pubmed.ncbi.nlm.nih.gov/" + record.PMID + "/"
	}
	record.ApplyID()
	return record
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}

	return ""
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors flattens the author list to display names, skipping entries
// NCBI has marked invalid. Group authorship keeps the collective name.
func extractAuthors(authorList *AuthorList) []string {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		name := a.CollectiveName
		if name == "" {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}
		if name == "" {
			continue
		}

		authors = append(authors, name)
	}

	return authors
}

// journalTitle prefers the full journal title, falling back to the NLM
// ISO abbreviation.
func journalTitle(journal Journal) string {
	if journal.Title != "" {
		return journal.Title
	}
	return journal.ISOAbbreviation
}

// paperType classifies the article from its publication types. The first
// type naming a review or research category wins.
func paperType(list *PublicationTypeList) domain.PaperType {
	if list == nil {
		return domain.PaperTypeResearch
	}
	for _, pt := range list.PublicationTypes {
		v := strings.ToLower(pt.Value)
		if strings.Contains(v, "review") {
			return domain.PaperTypeReview
		}
		if strings.Contains(v, "research") {
			return domain.PaperTypeResearch
		}
	}
	return domain.PaperTypeResearch
}

// extractPublicationDate extracts the publication date from the article.
// ArticleDate (electronic publication) is preferred, then the journal
// issue's PubDate, including the MedlineDate fallback format.
func extractPublicationDate(article Article) *time.Time {
	for _, ad := range article.ArticleDate {
		if ad.DateType == "epublish" || ad.DateType == "Electronic" || ad.DateType == "" {
			if t := parseDate(ad.Year, ad.Month, ad.Day); t != nil {
				return t
			}
		}
	}

	pubDate := article.Journal.JournalIssue.PubDate

	// MedlineDate holds irregular ranges like "2020 Jan-Feb" or "2020-2021".
	if pubDate.MedlineDate != "" {
		if year := yearFromMedlineDate(pubDate.MedlineDate); year > 0 {
			t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t
		}
	}

	if pubDate.Year != "" {
		if t := parseDate(pubDate.Year, pubDate.Month, pubDate.Day); t != nil {
			return t
		}
	}

	return nil
}

// parseDate parses year, month, day strings into a time.Time.
func parseDate(year, month, day string) *time.Time {
	if year == "" {
		return nil
	}

	y, err := strconv.Atoi(year)
	if err != nil {
		return nil
	}

	m := parseMonth(month)
	d := 1
	if day != "" {
		if parsed, err := strconv.Atoi(day); err == nil {
			d = parsed
		}
	}

	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// monthNames maps lowercase month name strings (abbreviation and full) to
// time.Month. Package-level to avoid re-allocating on every parseMonth call.
var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonth parses a month string (numeric or name) into time.Month.
func parseMonth(month string) time.Month {
	if month == "" {
		return time.January
	}

	if m, err := strconv.Atoi(month); err == nil && m >= 1 && m <= 12 {
		return time.Month(m)
	}

	if m, ok := monthNames[strings.ToLower(month)]; ok {
		return m
	}

	return time.January
}

// yearFromMedlineDate extracts the year from a MedlineDate string.
func yearFromMedlineDate(medlineDate string) int {
	parts := strings.Fields(medlineDate)
	if len(parts) > 0 {
		yearStr := strings.Split(parts[0], "-")[0]
		if year, err := strconv.Atoi(yearStr); err == nil {
			return year
		}
	}
	return 0
}
