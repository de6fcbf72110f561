// Package cache implements the two-tier cache for retrieved papers, search
// results and analysis results.
//
// The hot tier is an in-process LRU with per-entry TTL; the durable tier is
// PostgreSQL. Reads check memory first and promote durable hits; writes go
// through both tiers synchronously so the memory tier never holds an entry
// the durable tier lacks. Each namespace (paper, search, analysis) carries
// its own TTL and memory capacity.
//
// The package also owns the keyword-to-paper index used to serve degraded
// results from cache when upstream sources are unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/config"
	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/observability"
)

// NamespaceStats reports cache effectiveness counters for one namespace.
type NamespaceStats struct {
	MemoryHits    int64 `json:"memory_hits"`
	DurableHits   int64 `json:"durable_hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	MemoryEntries int   `json:"memory_entries"`
}

// Stats is a point-in-time snapshot of per-namespace cache counters.
type Stats map[Namespace]NamespaceStats

type tierCounters struct {
	memoryHits  atomic.Int64
	durableHits atomic.Int64
	misses      atomic.Int64
}

// TwoTierCache coordinates the memory and durable tiers. Safe for concurrent
// use.
type TwoTierCache struct {
	memory   *MemoryTier
	durable  DurableStore
	ttls     map[Namespace]time.Duration
	counters map[Namespace]*tierCounters
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewTwoTierCache creates the cache over the given durable store. The memory
// tier is built from the per-namespace config.
func NewTwoTierCache(
	durable DurableStore,
	cfg config.CacheConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *TwoTierCache {
	c := &TwoTierCache{
		durable: durable,
		ttls: map[Namespace]time.Duration{
			NamespacePaper:    cfg.Paper.TTL,
			NamespaceSearch:   cfg.Search.TTL,
			NamespaceAnalysis: cfg.Analysis.TTL,
		},
		counters: map[Namespace]*tierCounters{
			NamespacePaper:    {},
			NamespaceSearch:   {},
			NamespaceAnalysis: {},
		},
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: metrics,
	}

	c.memory = NewMemoryTier(cfg, func(ns Namespace) {
		metrics.RecordCacheEvictions(string(ns), 1)
	})

	return c
}

// Get returns the cached value for key, or false when absent or expired.
// Memory is checked first; a live durable hit is promoted into memory.
// Durable read failures are logged and reported as misses.
func (c *TwoTierCache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	ctr := c.counters[ns]

	if value, ok := c.memory.Get(ns, key); ok {
		ctr.memoryHits.Add(1)
		c.metrics.RecordCacheHit(string(ns), "memory")
		return value, true
	}

	value, createdAt, err := c.durable.Get(ctx, ns, key)
	switch {
	case errors.Is(err, domain.ErrCacheMiss):
		// Fall through to the miss path.
	case err != nil:
		c.logger.Warn().Err(err).
			Str("cache_namespace", string(ns)).
			Str("key", key).
			Msg("durable cache read failed, treating as miss")
	case c.expired(ns, createdAt):
		if delErr := c.durable.Delete(ctx, ns, key); delErr != nil {
			c.logger.Warn().Err(delErr).
				Str("cache_namespace", string(ns)).
				Str("key", key).
				Msg("failed to delete expired cache entry")
		}
	default:
		c.memory.Set(ns, key, value)
		ctr.durableHits.Add(1)
		c.metrics.RecordCacheHit(string(ns), "durable")
		return value, true
	}

	ctr.misses.Add(1)
	c.metrics.RecordCacheMiss(string(ns))
	return nil, false
}

// Set writes a value through both tiers. The durable write is synchronous
// and happens first, so the memory tier only ever holds values the durable
// tier has accepted and a memory hit is always a safe shortcut.
func (c *TwoTierCache) Set(ctx context.Context, ns Namespace, key string, value []byte) error {
	if key == "" {
		return domain.NewValidationError("key", "cache key is required")
	}
	if len(value) == 0 {
		return domain.NewValidationError("value", "cache value cannot be empty")
	}

	if err := c.durable.Set(ctx, ns, key, value); err != nil {
		c.metrics.RecordCacheWriteFailed(string(ns))
		return fmt.Errorf("durable cache write failed: %w", err)
	}
	c.memory.Set(ns, key, value)

	c.metrics.RecordCacheWrite(string(ns))
	return nil
}

// Delete removes an entry from both tiers.
func (c *TwoTierCache) Delete(ctx context.Context, ns Namespace, key string) error {
	c.memory.Delete(ns, key)
	return c.durable.Delete(ctx, ns, key)
}

// GetPaper returns a cached paper record by its deterministic ID.
func (c *TwoTierCache) GetPaper(ctx context.Context, paperID string) (*domain.PaperRecord, bool) {
	raw, ok := c.Get(ctx, NamespacePaper, paperID)
	if !ok {
		return nil, false
	}

	var paper domain.PaperRecord
	if err := json.Unmarshal(raw, &paper); err != nil {
		c.logger.Warn().Err(err).
			Str("paper_id", paperID).
			Msg("corrupt paper cache entry, treating as miss")
		return nil, false
	}
	return &paper, true
}

// SetPaper caches a paper record under its deterministic ID.
func (c *TwoTierCache) SetPaper(ctx context.Context, paper *domain.PaperRecord) error {
	if paper == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}
	if paper.ID == "" {
		return domain.NewValidationError("id", "paper ID is required")
	}

	raw, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("failed to marshal paper: %w", err)
	}
	return c.Set(ctx, NamespacePaper, paper.ID, raw)
}

// GetSearch returns the cached ordered paper-ID list for a search key.
func (c *TwoTierCache) GetSearch(ctx context.Context, searchKey string) ([]string, bool) {
	raw, ok := c.Get(ctx, NamespaceSearch, searchKey)
	if !ok {
		return nil, false
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		c.logger.Warn().Err(err).
			Str("search_key", searchKey).
			Msg("corrupt search cache entry, treating as miss")
		return nil, false
	}
	return ids, true
}

// SetSearch caches the ordered paper-ID list for a search key. Empty result
// lists are cached too, so repeated no-hit searches stay cheap.
func (c *TwoTierCache) SetSearch(ctx context.Context, searchKey string, paperIDs []string) error {
	if paperIDs == nil {
		paperIDs = []string{}
	}

	raw, err := json.Marshal(paperIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal search result: %w", err)
	}
	return c.Set(ctx, NamespaceSearch, searchKey, raw)
}

// GetAnalysis returns a cached analysis result by its analysis key.
func (c *TwoTierCache) GetAnalysis(ctx context.Context, analysisKey string) (*domain.AnalysisResult, bool) {
	raw, ok := c.Get(ctx, NamespaceAnalysis, analysisKey)
	if !ok {
		return nil, false
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn().Err(err).
			Str("analysis_key", analysisKey).
			Msg("corrupt analysis cache entry, treating as miss")
		return nil, false
	}
	return &result, true
}

// SetAnalysis caches an analysis result under its analysis key.
func (c *TwoTierCache) SetAnalysis(ctx context.Context, analysisKey string, result *domain.AnalysisResult) error {
	if result == nil {
		return domain.NewValidationError("result", "analysis result cannot be nil")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	return c.Set(ctx, NamespaceAnalysis, analysisKey, raw)
}

// FindByKeywords ranks indexed papers against the given keywords and returns
// their IDs best-first. Per keyword a paper earns the weight of the best
// match tier it reached (exact > prefix > substring); papers matching more
// than one distinct keyword earn MultiKeywordBonus per extra keyword. Ties
// break on paper ID for deterministic output.
//
// This ranking serves cache-degraded responses and is deliberately distinct
// from the presentation-time relevance scorer.
func (c *TwoTierCache) FindByKeywords(ctx context.Context, keywords []string) ([]string, error) {
	terms := normalizeKeywords(keywords)
	if len(terms) == 0 {
		return nil, nil
	}

	hits, err := c.durable.SearchKeywords(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	// Each hit is one distinct (paper, keyword) pair, so counting hits per
	// paper counts distinct matched keywords.
	scores := make(map[string]int, len(hits))
	matched := make(map[string]int, len(hits))
	for _, hit := range hits {
		scores[hit.PaperID] += hit.Weight
		matched[hit.PaperID]++
	}

	ranked := make([]string, 0, len(scores))
	for id := range scores {
		scores[id] += (matched[id] - 1) * MultiKeywordBonus
		ranked = append(ranked, id)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	return ranked, nil
}

// IndexPaperKeywords records which search keywords produced a paper, feeding
// the index FindByKeywords queries. Keywords are normalized before storage.
func (c *TwoTierCache) IndexPaperKeywords(ctx context.Context, paperID string, keywords []string) error {
	if paperID == "" {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}
	return c.durable.IndexKeywords(ctx, paperID, normalizeKeywords(keywords))
}

// CleanupExpired removes durable entries past their namespace TTL and returns
// per-namespace delete counts. Every namespace is attempted even when one
// fails; failures are joined into the returned error.
func (c *TwoTierCache) CleanupExpired(ctx context.Context) (map[Namespace]int64, error) {
	now := time.Now().UTC()
	removed := make(map[Namespace]int64, 3)

	var errs []error
	for _, ns := range AllNamespaces() {
		cutoff := now.Add(-c.ttls[ns])
		n, err := c.durable.DeleteExpired(ctx, ns, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("namespace %s: %w", ns, err))
			continue
		}
		removed[ns] = n
		if n > 0 {
			c.logger.Info().
				Str("cache_namespace", string(ns)).
				Int64("removed", n).
				Msg("removed expired cache entries")
		}
	}

	return removed, errors.Join(errs...)
}

// Stats returns a snapshot of per-namespace cache counters.
func (c *TwoTierCache) Stats() Stats {
	out := make(Stats, 3)
	for _, ns := range AllNamespaces() {
		ctr := c.counters[ns]
		out[ns] = NamespaceStats{
			MemoryHits:    ctr.memoryHits.Load(),
			DurableHits:   ctr.durableHits.Load(),
			Misses:        ctr.misses.Load(),
			Evictions:     c.memory.Evictions(ns),
			MemoryEntries: c.memory.Len(ns),
		}
	}
	return out
}

// expired reports whether a durable entry created at createdAt is past the
// namespace TTL.
func (c *TwoTierCache) expired(ns Namespace, createdAt time.Time) bool {
	ttl, ok := c.ttls[ns]
	if !ok || ttl <= 0 {
		return false
	}
	return time.Since(createdAt) > ttl
}

// normalizeKeywords lowercases, trims and dedupes keywords, dropping empties.
// Order is preserved for the survivors.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
