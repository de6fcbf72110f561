package openalex

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// journalImpactFactors is the static venue table consulted before any remote
// lookup. Keys are normalized journal names. Preprint servers are pinned to
// zero so they are never looked up.
var journalImpactFactors = map[string]float64{
	"nature":                      64.8,
	"cell":                        64.5,
	"science":                     56.9,
	"nature medicine":             82.9,
	"nature biotechnology":        33.1,
	"nature methods":              36.1,
	"nature communications":       16.6,
	"nature genetics":             31.7,
	"science advances":            13.6,
	"science translational medicine": 17.1,
	"cell reports":                8.8,
	"advanced science":            15.1,
	"acs nano":                    17.1,
	"nucleic acids research":      16.6,
	"genome biology":              12.3,
	"elife":                       6.4,
	"embo journal":                9.4,
	"pnas":                        9.4,
	"proceedings of the national academy of sciences": 9.4,
	"npj precision oncology": 7.9,
	"bmc cancer":             4.4,
	"bmc genomics":           3.9,
	"plos one":               3.7,
	"plos biology":           9.8,
	"scientific reports":     4.6,
	"frontiers in immunology": 7.3,
	"journal of clinical oncology": 45.3,
	"lancet":   168.9,
	"the lancet": 168.9,
	"new england journal of medicine": 158.5,
	"jama":     120.7,
	"biorxiv":  0.0,
	"medrxiv":  0.0,
	"arxiv":    0.0,
}

// ImpactEnricher assigns venue-level impact proxies to records. Known venues
// resolve from the static table; unknown ones are looked up once through the
// OpenAlex sources API (2-year mean citedness) and memoized for the life of
// the enricher.
type ImpactEnricher struct {
	client *Client
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]float64
}

// NewImpactEnricher creates an enricher that shares the given client's HTTP
// plumbing and polite-pool identity.
func NewImpactEnricher(client *Client, logger zerolog.Logger) *ImpactEnricher {
	return &ImpactEnricher{
		client: client,
		logger: logger.With().Str("component", "impact_enricher").Logger(),
		cache:  make(map[string]float64),
	}
}

// Enrich fills ImpactFactor on every record that names a journal and has no
// impact value yet. Records are mutated in place.
func (e *ImpactEnricher) Enrich(ctx context.Context, records []*domain.PaperRecord) error {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if record.Journal == "" || record.ImpactFactor != 0 {
			continue
		}
		record.ImpactFactor = e.ImpactFactor(ctx, record.Journal)
	}
	return nil
}

// ImpactFactor resolves the impact proxy for a journal name. Unknown venues
// that cannot be resolved remotely yield zero.
func (e *ImpactEnricher) ImpactFactor(ctx context.Context, journal string) float64 {
	name := normalizeJournal(journal)
	if name == "" {
		return 0
	}

	if v, ok := journalImpactFactors[name]; ok {
		return v
	}

	e.mu.Lock()
	v, ok := e.cache[name]
	e.mu.Unlock()
	if ok {
		return v
	}

	v, err := e.lookup(ctx, name)
	if err != nil {
		// Not memoized: a transient failure should not pin the venue to zero.
		e.logger.Warn().Err(err).Str("journal", name).Msg("venue lookup failed")
		return 0
	}

	e.mu.Lock()
	e.cache[name] = v
	e.mu.Unlock()
	return v
}

// lookup queries the sources API for the venue's 2-year mean citedness.
// A venue OpenAlex does not know resolves to zero without error.
func (e *ImpactEnricher) lookup(ctx context.Context, name string) (float64, error) {
	baseURL, err := url.Parse(e.client.config.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/sources"

	q := url.Values{}
	q.Set("search", name)
	q.Set("per_page", "1")
	e.client.setPoliteParams(q)
	baseURL.RawQuery = q.Encode()

	var venues VenueSearchResponse
	if err := e.client.getJSON(ctx, baseURL.String(), &venues); err != nil {
		return 0, err
	}

	if len(venues.Results) == 0 || venues.Results[0].SummaryStats == nil {
		return 0, nil
	}
	return venues.Results[0].SummaryStats.TwoYearMeanCitedness, nil
}

// normalizeJournal lowercases a journal name and cuts any parenthetical
// suffix. Metadata feeds truncate long names mid-parenthesis, so the cut
// does not require a closing paren.
func normalizeJournal(journal string) string {
	name := strings.ToLower(strings.TrimSpace(journal))
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}
