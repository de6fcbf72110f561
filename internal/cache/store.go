package cache

import (
	"context"
	"time"
)

// Namespace identifies one logical cache partition. Each namespace carries
// its own TTL and memory-tier capacity.
type Namespace string

const (
	// NamespacePaper holds individual paper records keyed by record ID.
	NamespacePaper Namespace = "paper"
	// NamespaceSearch holds search-result ID lists keyed by search key.
	NamespaceSearch Namespace = "search"
	// NamespaceAnalysis holds analysis results keyed by analysis key.
	NamespaceAnalysis Namespace = "analysis"
)

// AllNamespaces returns every cache namespace in a stable order.
func AllNamespaces() []Namespace {
	return []Namespace{NamespacePaper, NamespaceSearch, NamespaceAnalysis}
}

// KeywordHit is a single keyword-to-paper index match. Weight reflects the
// match tier: exact 10, prefix 5, substring 3.
type KeywordHit struct {
	PaperID string
	Keyword string
	Weight  int
}

// Keyword match tier weights.
const (
	WeightExactMatch     = 10
	WeightPrefixMatch    = 5
	WeightSubstringMatch = 3

	// MultiKeywordBonus is added per additional distinct keyword a paper
	// matches beyond the first.
	MultiKeywordBonus = 5
)

// DurableStore is the persistent tier behind the in-memory cache. All
// implementations must be safe for concurrent use.
//
// Get returns domain.ErrCacheMiss when no entry exists; TTL enforcement is
// the caller's responsibility using the returned creation time.
type DurableStore interface {
	// Get returns the stored value and its creation time.
	Get(ctx context.Context, ns Namespace, key string) (value []byte, createdAt time.Time, err error)

	// Set stores a value, replacing any existing entry and restarting its TTL.
	Set(ctx context.Context, ns Namespace, key string, value []byte) error

	// Delete removes an entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// DeleteExpired removes all entries in a namespace created before cutoff
	// and returns the number of rows removed.
	DeleteExpired(ctx context.Context, ns Namespace, cutoff time.Time) (int64, error)

	// IndexKeywords replaces the keyword index rows for a paper.
	IndexKeywords(ctx context.Context, paperID string, keywords []string) error

	// SearchKeywords returns every keyword-to-paper match for the given
	// keywords with per-match tier weights. Ranking happens in the caller.
	SearchKeywords(ctx context.Context, keywords []string) ([]KeywordHit, error)
}
