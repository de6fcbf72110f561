// Package fetch coordinates concurrent retrieval across literature sources.
//
// The MultiSourceFetcher dispatches one fetch per requested source through a
// bounded worker pool, isolates each source behind its own timeout, and
// merges the survivors into a deduplicated record list. Source failures are
// contained: a hanging or broken upstream costs only its own contribution.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/observability"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

// DefaultTimeout bounds one source fetch when no per-source deadline is
// configured.
const DefaultTimeout = 45 * time.Second

// Outcome classifies how a source's fetch ended.
type Outcome string

const (
	// OutcomeSuccess means the source returned within its deadline.
	OutcomeSuccess Outcome = "success"
	// OutcomeTimeout means the source exceeded its fetch deadline.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeError means the source failed before its deadline.
	OutcomeError Outcome = "error"
)

// SourceStatus reports one source's contribution to a FetchAll call.
type SourceStatus struct {
	// Outcome classifies the fetch result.
	Outcome Outcome `json:"outcome"`

	// Count is the number of records the source contributed before
	// deduplication. Zero for timed-out and failed sources.
	Count int `json:"count"`

	// Duration is how long the source fetch took.
	Duration time.Duration `json:"duration"`

	// Error holds the failure message. Empty on success.
	Error string `json:"error,omitempty"`
}

// Config tunes the fetcher.
type Config struct {
	// MaxWorkers caps concurrent source fetches. Zero selects
	// min(number of sources, max(2, NumCPU)).
	MaxWorkers int

	// Timeouts holds per-source fetch deadlines. Sources without an
	// entry use DefaultTimeout.
	Timeouts map[domain.SourceName]time.Duration
}

// MultiSourceFetcher queries sources concurrently and merges their records.
type MultiSourceFetcher struct {
	registry *Registry
	config   Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewMultiSourceFetcher creates a fetcher over the given adapter registry.
func NewMultiSourceFetcher(
	registry *Registry,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *MultiSourceFetcher {
	return &MultiSourceFetcher{
		registry: registry,
		config:   cfg,
		logger:   logger.With().Str("component", "fetcher").Logger(),
		metrics:  metrics,
	}
}

// fetchResult carries one source's outcome from its worker goroutine to the
// collector. The index pins the source's slot in the output ordering.
type fetchResult struct {
	index   int
	source  domain.SourceName
	records []*domain.PaperRecord
	status  SourceStatus
}

// FetchAll queries the requested sources concurrently and returns the merged,
// deduplicated records together with a per-source status map. When requested
// is empty, every enabled registered source is queried.
//
// Source errors and timeouts never propagate: they are logged, recorded in
// the status map, and contribute zero records. Per-source discovery order is
// preserved and sources are concatenated in request order (registration
// order for the default source set), so output is stable for fixed inputs.
func (f *MultiSourceFetcher) FetchAll(
	ctx context.Context,
	keywords []string,
	daysBack int,
	requested []domain.SourceName,
) ([]*domain.PaperRecord, map[domain.SourceName]SourceStatus) {
	adapters := f.resolve(requested)
	statuses := make(map[domain.SourceName]SourceStatus, len(adapters))
	if len(adapters) == 0 {
		f.logger.Warn().Msg("no sources available for fetch")
		return nil, statuses
	}

	query := sources.Query{Keywords: keywords, DaysBack: daysBack}
	workers := f.workerBound(len(adapters))

	f.logger.Debug().
		Int("sources", len(adapters)).
		Int("workers", workers).
		Strs("keywords", keywords).
		Int("days_back", daysBack).
		Msg("dispatching source fetches")

	results := make(chan fetchResult, len(adapters))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, adapter := range adapters {
		wg.Add(1)
		go func(index int, adapter sources.Adapter) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- fetchResult{
					index:  index,
					source: adapter.Name(),
					status: SourceStatus{Outcome: OutcomeError, Error: ctx.Err().Error()},
				}
				return
			}
			defer func() { <-sem }()

			records, status := f.fetchOne(ctx, adapter, query)
			results <- fetchResult{
				index:   index,
				source:  adapter.Name(),
				records: records,
				status:  status,
			}
		}(i, adapter)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	perSource := make([][]*domain.PaperRecord, len(adapters))
	total := 0
	for result := range results {
		perSource[result.index] = result.records
		statuses[result.source] = result.status
		total += len(result.records)
	}

	merged := make([]*domain.PaperRecord, 0, total)
	for _, records := range perSource {
		merged = append(merged, records...)
	}

	deduped := deduplicate(merged)
	if dropped := len(merged) - len(deduped); dropped > 0 {
		f.metrics.RecordPapersDeduplicated(dropped)
		f.logger.Debug().Int("dropped", dropped).Msg("cross-source duplicates removed")
	}

	f.logger.Info().
		Int("sources", len(adapters)).
		Int("fetched", total).
		Int("papers", len(deduped)).
		Msg("fetch completed")

	return deduped, statuses
}

// resolve maps the requested source names to adapters. An empty request
// selects every enabled registered adapter. Unknown names are logged and
// skipped; repeated names are fetched once.
func (f *MultiSourceFetcher) resolve(requested []domain.SourceName) []sources.Adapter {
	if len(requested) == 0 {
		return f.registry.Enabled()
	}

	seen := make(map[domain.SourceName]struct{}, len(requested))
	adapters := make([]sources.Adapter, 0, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		adapter := f.registry.Get(name)
		if adapter == nil {
			f.logger.Warn().Str("source", string(name)).Msg("requested source is not registered")
			continue
		}
		adapters = append(adapters, adapter)
	}
	return adapters
}

// workerBound computes the fetch concurrency for n sources.
func (f *MultiSourceFetcher) workerBound(n int) int {
	workers := f.config.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}
	if workers > n {
		workers = n
	}
	return workers
}

// timeoutFor returns the fetch deadline for a source.
func (f *MultiSourceFetcher) timeoutFor(name domain.SourceName) time.Duration {
	if timeout, ok := f.config.Timeouts[name]; ok && timeout > 0 {
		return timeout
	}
	return DefaultTimeout
}

// fetchOne runs a single source fetch under its own deadline and classifies
// the outcome. Errors are consumed here; callers only see the status.
func (f *MultiSourceFetcher) fetchOne(
	ctx context.Context,
	adapter sources.Adapter,
	query sources.Query,
) ([]*domain.PaperRecord, SourceStatus) {
	name := adapter.Name()
	logger := observability.WithSourceContext(f.logger, string(name), query.Keywords)
	timeout := f.timeoutFor(name)

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f.metrics.RecordSourceFetchStarted(string(name))

	start := time.Now()
	records, err := adapter.Fetch(fetchCtx, query)
	duration := time.Since(start)

	status := SourceStatus{Duration: duration}
	switch {
	case err == nil:
		status.Outcome = OutcomeSuccess
		status.Count = len(records)
		f.metrics.RecordSourceFetchCompleted(string(name), len(records), duration.Seconds())
		logger.Debug().
			Int("count", len(records)).
			Dur("duration", duration).
			Msg("source fetch completed")
	case errors.Is(err, context.DeadlineExceeded):
		status.Outcome = OutcomeTimeout
		status.Error = fmt.Sprintf("timed out after %s", timeout)
		records = nil
		f.metrics.RecordSourceFetchFailed(string(name), string(OutcomeTimeout), duration.Seconds())
		logger.Warn().
			Dur("timeout", timeout).
			Msg("source fetch timed out")
	default:
		status.Outcome = OutcomeError
		status.Error = err.Error()
		records = nil
		f.metrics.RecordSourceFetchFailed(string(name), string(OutcomeError), duration.Seconds())
		logger.Warn().
			Err(err).
			Dur("duration", duration).
			Msg("source fetch failed")
	}
	return records, status
}

// dedupKey identifies a paper across sources. Records collide only when both
// the normalized title and the DOI agree, so an empty DOI never merges
// distinct titles.
type dedupKey struct {
	title string
	doi   string
}

// deduplicate removes cross-source duplicates, keeping the first occurrence.
func deduplicate(records []*domain.PaperRecord) []*domain.PaperRecord {
	seen := make(map[dedupKey]struct{}, len(records))
	deduped := make([]*domain.PaperRecord, 0, len(records))
	for _, record := range records {
		key := dedupKey{
			title: strings.ToLower(strings.TrimSpace(record.Title)),
			doi:   record.DOI,
		}
		if key.title == "" && key.doi == "" {
			// The record ID still separates PMID-only records.
			key.title = record.ID
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, record)
	}
	return deduped
}
