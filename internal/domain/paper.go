// Package domain provides domain models and business logic for the retrieval service.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SourceName identifies the upstream literature source that produced a record.
// These values must match the source identifiers accepted by the fetcher config.
type SourceName string

const (
	SourcePubMed   SourceName = "pubmed"
	SourceArXiv    SourceName = "arxiv"
	SourceBioRxiv  SourceName = "biorxiv"
	SourceMedRxiv  SourceName = "medrxiv"
	SourceOpenAlex SourceName = "openalex"
)

// IsValidSourceName returns true if the given source name is a known source.
func IsValidSourceName(s SourceName) bool {
	switch s {
	case SourcePubMed, SourceArXiv, SourceBioRxiv, SourceMedRxiv, SourceOpenAlex:
		return true
	default:
		return false
	}
}

// PaperType classifies a record as primary research or a review article.
type PaperType string

const (
	PaperTypeResearch PaperType = "research"
	PaperTypeReview   PaperType = "review"
)

// PaperRecord represents one retrieved paper.
//
// Identity is deterministic: records carrying the same DOI (or, absent a DOI,
// the same PMID, or absent both, the same normalized title) share an ID no
// matter which source produced them.
type PaperRecord struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Authors         []string   `json:"authors,omitempty"`
	Journal         string     `json:"journal,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	DOI             string     `json:"doi,omitempty"`
	PMID            string     `json:"pmid,omitempty"`
	Source          SourceName `json:"source"`
	URL             string     `json:"url,omitempty"`
	PaperType       PaperType  `json:"paper_type,omitempty"`

	// ImpactFactor is a venue-level citation proxy; zero means unknown.
	ImpactFactor float64 `json:"impact_factor,omitempty"`

	// Score is assigned by the relevance scorer and is zero until scored.
	Score float64 `json:"score,omitempty"`

	// Analysis fields remain empty until an analysis task completes.
	MainFindings       string `json:"main_findings,omitempty"`
	Innovations        string `json:"innovations,omitempty"`
	Limitations        string `json:"limitations,omitempty"`
	FutureDirections   string `json:"future_directions,omitempty"`
	TranslatedAbstract string `json:"translated_abstract,omitempty"`
	IsAnalyzed         bool   `json:"is_analyzed"`

	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// RecordID computes the deterministic identity for a paper.
// Priority order: DOI, then PMID, then the normalized lower-cased title.
func RecordID(doi, pmid, title string) string {
	if d := strings.TrimSpace(doi); d != "" {
		return HashKey("doi:" + d)
	}
	if p := strings.TrimSpace(pmid); p != "" {
		return HashKey("pmid:" + p)
	}
	return HashKey("title:" + strings.ToLower(strings.TrimSpace(title)))
}

// SearchKey computes the cache key for a search request. The key is
// independent of keyword order and casing.
func SearchKey(keywords []string, daysBack int) string {
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(kw)))
	}
	sort.Strings(normalized)
	return HashKey(strings.Join(normalized, ",") + ":" + strconv.Itoa(daysBack))
}

// AnalysisKey computes the cache key for an analysis result from the
// normalized title and the first 500 characters of the normalized abstract.
// Analysis is keyed on content, not record identity, so it is reusable
// across records that carry the same text.
func AnalysisKey(title, abstract string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	a := strings.ToLower(strings.TrimSpace(abstract))
	if len(a) > 500 {
		a = a[:500]
	}
	return HashKey(t + ":" + a)
}

// HashKey returns the hex MD5 digest used for record and cache identities.
// MD5 is an identity function here, not a security boundary.
func HashKey(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ApplyID recomputes and assigns the record's deterministic ID from its
// current identifier fields.
func (p *PaperRecord) ApplyID() {
	p.ID = RecordID(p.DOI, p.PMID, p.Title)
}

// AgeDays returns the whole days elapsed since publication, or -1 when the
// publication date is unknown.
func (p *PaperRecord) AgeDays(now time.Time) int {
	if p.PublicationDate == nil {
		return -1
	}
	age := now.Sub(*p.PublicationDate)
	if age < 0 {
		return 0
	}
	return int(age.Hours() / 24)
}
