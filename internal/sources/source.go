// Package sources provides clients for upstream scholarly literature APIs.
//
// Each upstream database (PubMed, arXiv, the bioRxiv/medRxiv preprint
// servers, OpenAlex) implements the Adapter interface, so the fetcher can
// query any mix of sources concurrently through one contract. Adapters own
// their request formatting, rate limiting, retry policy and response
// parsing; everything past the adapter boundary works with
// domain.PaperRecord only.
//
// Example usage:
//
//	adapter := pubmed.New(pubmed.Config{Enabled: true})
//	records, err := adapter.Fetch(ctx, sources.Query{
//		Keywords: []string{"CRISPR", "gene therapy"},
//		DaysBack: 7,
//	})
package sources

import (
	"context"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// Query describes one retrieval request against a literature source.
type Query struct {
	// Keywords are the search terms. Adapters whose upstream API cannot
	// search server-side (the preprint details API) filter fetched
	// records against these locally.
	Keywords []string

	// DaysBack bounds the publication window to the last N days.
	DaysBack int

	// MaxResults caps the records returned by one Fetch. Zero uses the
	// adapter's configured default.
	MaxResults int
}

// Window returns the publication date range [from, to] covered by the
// query, ending at now.
func (q Query) Window(now time.Time) (from, to time.Time) {
	days := q.DaysBack
	if days < 0 {
		days = 0
	}
	return now.AddDate(0, 0, -days), now
}

// Adapter is the contract every literature source client implements.
type Adapter interface {
	// Fetch retrieves records published inside the query window that
	// match the query keywords. Implementations respect ctx cancellation,
	// rate-limit their requests, retry transient upstream failures and
	// normalize responses into PaperRecords with deterministic IDs.
	Fetch(ctx context.Context, query Query) ([]*domain.PaperRecord, error)

	// Name returns the source identifier that records from this adapter
	// carry.
	Name() domain.SourceName

	// Enabled reports whether the adapter may be queried. Disabled
	// adapters are skipped by the fetcher.
	Enabled() bool
}
