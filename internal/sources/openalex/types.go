// Package openalex provides a client for the OpenAlex works API and a
// venue-level impact enricher backed by the sources API.
//
// OpenAlex returns abstracts as inverted indices (word to positions), which
// this package reconstructs into plain text. Registering a contact email
// routes requests through the polite pool with higher rate limits.
//
// API documentation: https://docs.openalex.org/
package openalex

// SearchResponse is the envelope for /works search results.
type SearchResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta carries result counts and paging info.
type Meta struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Work represents a single OpenAlex work.
type Work struct {
	ID                    string           `json:"id"` // "https://openalex.org/W2741809807"
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	PublicationYear       int              `json:"publication_year"`
	PublicationDate       string           `json:"publication_date"` // "2023-01-15"
	Type                  string           `json:"type"`
	IDs                   IDs              `json:"ids"`
	Authorships           []Authorship     `json:"authorships"`
	PrimaryLocation       *Location        `json:"primary_location"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// IDs contains external identifiers for a work.
type IDs struct {
	OpenAlex string `json:"openalex"`
	DOI      string `json:"doi"`
	PMID     string `json:"pmid"` // "https://pubmed.ncbi.nlm.nih.gov/12345678"
}

// Authorship links a work to one author.
type Authorship struct {
	Author AuthorInfo `json:"author"`
}

// AuthorInfo carries the author display name.
type AuthorInfo struct {
	DisplayName string `json:"display_name"`
}

// Location is where a work is hosted.
type Location struct {
	Source *Source `json:"source"`
}

// Source is the hosting venue (journal, repository, conference).
type Source struct {
	DisplayName string `json:"display_name"`
}

// VenueSearchResponse is the envelope for /sources search results.
type VenueSearchResponse struct {
	Results []Venue `json:"results"`
}

// Venue represents one source record with its citation statistics.
type Venue struct {
	DisplayName  string        `json:"display_name"`
	SummaryStats *SummaryStats `json:"summary_stats"`
}

// SummaryStats carries venue-level citation metrics.
type SummaryStats struct {
	TwoYearMeanCitedness float64 `json:"2yr_mean_citedness"`
	HIndex               int     `json:"h_index"`
}
