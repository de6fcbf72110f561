// Package chaos provides fault injection tests for the retrieval engine.
//
// These tests wire the real orchestrator, fetcher, scorer, two-tier cache,
// task queue and analyzer against deliberately broken edges: source adapters
// that fail or hang, an analysis provider that errors or panics, a saturated
// task queue, and a durable store that rejects every operation. They verify
// the engine's degradation contracts end to end with no external services
// required.
package chaos

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarsift/retrieval-service/internal/analysis"
	"github.com/scholarsift/retrieval-service/internal/cache"
	"github.com/scholarsift/retrieval-service/internal/config"
	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/fetch"
	"github.com/scholarsift/retrieval-service/internal/observability"
	"github.com/scholarsift/retrieval-service/internal/retrieval"
	"github.com/scholarsift/retrieval-service/internal/scoring"
	"github.com/scholarsift/retrieval-service/internal/sources"
	"github.com/scholarsift/retrieval-service/internal/taskqueue"
)

// ----------------------------------------------------------------------------
// Faulty edges

type storedEntry struct {
	value     []byte
	createdAt time.Time
}

// memoryStore is a map-backed cache.DurableStore standing in for Postgres.
// Chaos scenarios never query the keyword index, so that part is a no-op.
type memoryStore struct {
	mu      sync.Mutex
	entries map[cache.Namespace]map[string]storedEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[cache.Namespace]map[string]storedEntry)}
}

func (s *memoryStore) Get(_ context.Context, ns cache.Namespace, key string) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ns][key]
	if !ok {
		return nil, time.Time{}, domain.ErrCacheMiss
	}
	return entry.value, entry.createdAt, nil
}

func (s *memoryStore) Set(_ context.Context, ns cache.Namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[ns] == nil {
		s.entries[ns] = make(map[string]storedEntry)
	}
	s.entries[ns][key] = storedEntry{value: value, createdAt: time.Now().UTC()}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, ns cache.Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[ns], key)
	return nil
}

func (s *memoryStore) DeleteExpired(_ context.Context, ns cache.Namespace, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.entries[ns] {
		if entry.createdAt.Before(cutoff) {
			delete(s.entries[ns], key)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) IndexKeywords(context.Context, string, []string) error { return nil }

func (s *memoryStore) SearchKeywords(context.Context, []string) ([]cache.KeywordHit, error) {
	return nil, nil
}

// brokenStore is a cache.DurableStore whose every operation fails, standing
// in for a database outage.
type brokenStore struct {
	err error
}

func (s *brokenStore) Get(context.Context, cache.Namespace, string) ([]byte, time.Time, error) {
	return nil, time.Time{}, s.err
}

func (s *brokenStore) Set(context.Context, cache.Namespace, string, []byte) error { return s.err }

func (s *brokenStore) Delete(context.Context, cache.Namespace, string) error { return s.err }

func (s *brokenStore) DeleteExpired(context.Context, cache.Namespace, time.Time) (int64, error) {
	return 0, s.err
}

func (s *brokenStore) IndexKeywords(context.Context, string, []string) error { return s.err }

func (s *brokenStore) SearchKeywords(context.Context, []string) ([]cache.KeywordHit, error) {
	return nil, s.err
}

// scriptedAdapter is a sources.Adapter with switchable failure modes: a
// canned error, or a hang that honors context cancellation the way a real
// HTTP client does. Fetch hands out fresh copies so downstream mutation
// never leaks between runs.
type scriptedAdapter struct {
	name    domain.SourceName
	records []*domain.PaperRecord
	err     error
	hang    time.Duration

	calls atomic.Int64
}

func (a *scriptedAdapter) Fetch(ctx context.Context, _ sources.Query) ([]*domain.PaperRecord, error) {
	a.calls.Add(1)
	if a.hang > 0 {
		select {
		case <-time.After(a.hang):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	out := make([]*domain.PaperRecord, len(a.records))
	for i, record := range a.records {
		copied := *record
		out[i] = &copied
	}
	return out, nil
}

func (a *scriptedAdapter) Name() domain.SourceName { return a.name }
func (a *scriptedAdapter) Enabled() bool           { return true }

// faultyProvider is an analysis.Provider whose Analyze behavior is supplied
// per test: fail then recover, panic, or block until released. Calls are
// counted before the hook runs, so the hook can key decisions off the
// current call number.
type faultyProvider struct {
	analyze func(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error)

	calls atomic.Int64
}

func (p *faultyProvider) Analyze(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
	p.calls.Add(1)
	return p.analyze(ctx, title, abstract)
}

func (p *faultyProvider) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}

func (p *faultyProvider) Name() string  { return "chaos" }
func (p *faultyProvider) Model() string { return "chaos-1" }

// healthyAnalysis is the default provider hook.
func healthyAnalysis(_ context.Context, title, _ string) (*domain.AnalysisResult, error) {
	return &domain.AnalysisResult{
		MainFindings:     "Key findings of " + title,
		Innovations:      "A reusable assay design.",
		Limitations:      "Single-site data.",
		FutureDirections: "Replication in larger cohorts.",
	}, nil
}

// failingEnricher simulates the impact enrichment dependency going hard down.
type failingEnricher struct {
	err error
}

func (e *failingEnricher) Enrich(context.Context, []*domain.PaperRecord) error { return e.err }

// ----------------------------------------------------------------------------
// Harness

// stack bundles the real components one chaos scenario runs against.
type stack struct {
	cache *cache.TwoTierCache
	queue *taskqueue.Queue
	orch  *retrieval.Orchestrator
}

// stackOptions selects the faulty edge under test; zero fields get healthy
// defaults.
type stackOptions struct {
	store    cache.DurableStore
	queue    taskqueue.Config
	fetch    fetch.Config
	run      retrieval.Config
	provider *faultyProvider
	enricher retrieval.Enricher
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Paper:           config.CacheNamespaceConfig{TTL: time.Hour, MemoryCapacity: 100},
		Search:          config.CacheNamespaceConfig{TTL: time.Hour, MemoryCapacity: 100},
		Analysis:        config.CacheNamespaceConfig{TTL: time.Hour, MemoryCapacity: 100},
		CleanupInterval: time.Hour,
	}
}

// newStack wires a full retrieval stack over the given adapters. Each call
// needs its own metrics namespace: Prometheus collectors register globally
// and duplicate names panic.
func newStack(t *testing.T, metricsNamespace string, opts stackOptions, adapters ...sources.Adapter) *stack {
	t.Helper()

	logger := zerolog.Nop()
	metrics := observability.NewMetrics(metricsNamespace)

	if opts.store == nil {
		opts.store = newMemoryStore()
	}
	if opts.fetch.MaxWorkers == 0 {
		opts.fetch.MaxWorkers = 2
	}
	if opts.queue.Depth == 0 {
		opts.queue = taskqueue.Config{Depth: 32, Workers: 2, Retention: time.Minute}
	}
	if opts.provider == nil {
		opts.provider = &faultyProvider{analyze: healthyAnalysis}
	}

	twoTier := cache.NewTwoTierCache(opts.store, cacheConfig(), logger, metrics)

	registry := fetch.NewRegistry()
	for _, adapter := range adapters {
		registry.Register(adapter)
	}
	fetcher := fetch.NewMultiSourceFetcher(registry, opts.fetch, logger, metrics)

	queue := taskqueue.New(opts.queue, logger, metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})

	deps := retrieval.Deps{
		Cache:    twoTier,
		Fetcher:  fetcher,
		Scorer:   scoring.NewScorer(),
		Analyzer: analysis.NewAnalyzer(opts.provider, twoTier, logger, metrics),
		Queue:    queue,
	}
	if opts.enricher != nil {
		deps.Enricher = opts.enricher
	}

	return &stack{
		cache: twoTier,
		queue: queue,
		orch:  retrieval.NewOrchestrator(deps, opts.run, logger, metrics),
	}
}

// waitForTask polls the queue until the task reaches a terminal state.
func waitForTask(t *testing.T, queue *taskqueue.Queue, taskID string) domain.Task {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := queue.Status(taskID)
		require.NoError(t, err)
		if task.State.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state", taskID)
	return domain.Task{}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func paperFixture(title, doi string, source domain.SourceName) *domain.PaperRecord {
	published := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	record := &domain.PaperRecord{
		Title: title,
		Abstract: "We profiled " + title + " across twelve cell lines and report a reproducible " +
			"effect size along with the full protocol required to replicate the screen.",
		Authors:         []string{"Chen L", "Okafor A"},
		Journal:         "Journal of Integrative Biology",
		PublicationDate: &published,
		DOI:             doi,
		Source:          source,
	}
	record.ApplyID()
	return record
}

// ----------------------------------------------------------------------------
// Scenarios

// TestChaos_SourceFailureDoesNotFailRun verifies that one dead source
// shrinks the result instead of failing the run. The failing source is
// reported with outcome "error" and its message, the healthy source's papers
// come back ranked, and the partial result is cached like any other, so the
// rerun is served from cache without retrying the dead source.
func TestChaos_SourceFailureDoesNotFailRun(t *testing.T) {
	ctx := context.Background()

	down := &scriptedAdapter{name: domain.SourcePubMed, err: errors.New("upstream returned 500")}
	healthy := &scriptedAdapter{name: domain.SourceArXiv, records: []*domain.PaperRecord{
		paperFixture("CRISPR base editors in hematopoietic stem cells", "10.1000/chaos.1", domain.SourceArXiv),
		paperFixture("Off-target landscape of CRISPR prime editors", "10.1000/chaos.2", domain.SourceArXiv),
	}}

	s := newStack(t, "chaos_source_error", stackOptions{run: retrieval.Config{MaxAutoAnalyze: 0}}, down, healthy)
	req := retrieval.Request{Keywords: []string{"CRISPR"}, DaysBack: 7}

	result, err := s.orch.Run(ctx, req)
	require.NoError(t, err)

	require.Len(t, result.Papers, 2)
	for _, paper := range result.Papers {
		assert.Equal(t, domain.SourceArXiv, paper.Source)
	}
	assert.Equal(t, fetch.OutcomeError, result.Statuses[domain.SourcePubMed].Outcome)
	assert.Equal(t, "upstream returned 500", result.Statuses[domain.SourcePubMed].Error)
	assert.Zero(t, result.Statuses[domain.SourcePubMed].Count)
	assert.Equal(t, fetch.OutcomeSuccess, result.Statuses[domain.SourceArXiv].Outcome)
	assert.Equal(t, 2, result.Statuses[domain.SourceArXiv].Count)

	second, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Len(t, second.Papers, 2)
	assert.Equal(t, int64(1), down.calls.Load(), "cached rerun must not retry the dead source")
}

// TestChaos_TotalSourceOutageLeavesCacheClean verifies that a run in which
// every source fails completes with zero papers and, critically, caches
// nothing: an empty result must never become a search-cache hit, or the
// outage would keep serving emptiness for a full TTL after the sources
// recover. The rerun goes back to the sources.
func TestChaos_TotalSourceOutageLeavesCacheClean(t *testing.T) {
	ctx := context.Background()

	pubmed := &scriptedAdapter{name: domain.SourcePubMed, err: errors.New("503 service unavailable")}
	arxiv := &scriptedAdapter{name: domain.SourceArXiv, err: errors.New("connect: connection refused")}

	s := newStack(t, "chaos_total_outage", stackOptions{run: retrieval.Config{MaxAutoAnalyze: 0}}, pubmed, arxiv)
	req := retrieval.Request{Keywords: []string{"connectomics"}}

	first, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, first.Papers)
	assert.False(t, first.FromCache)
	for _, name := range []domain.SourceName{domain.SourcePubMed, domain.SourceArXiv} {
		assert.Equal(t, fetch.OutcomeError, first.Statuses[name].Outcome)
		assert.NotEmpty(t, first.Statuses[name].Error)
	}

	second, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.FromCache, "an empty result must not be cached as a search hit")
	assert.Empty(t, second.Papers)
	assert.Equal(t, int64(2), pubmed.calls.Load())
	assert.Equal(t, int64(2), arxiv.calls.Load())
}

// TestChaos_HangingSourceIsTimedOut verifies the per-source fetch deadline.
// One adapter hangs far past its configured timeout while another answers
// promptly; the run must return on the healthy source's schedule, reporting
// the hung source with outcome "timeout" and contributing no records from it.
func TestChaos_HangingSourceIsTimedOut(t *testing.T) {
	ctx := context.Background()

	hung := &scriptedAdapter{
		name: domain.SourceArXiv,
		hang: 30 * time.Second,
		records: []*domain.PaperRecord{
			paperFixture("Nanopore sequencing of structural variants", "10.1000/chaos.10", domain.SourceArXiv),
		},
	}
	healthy := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Nanopore basecalling error profiles", "10.1000/chaos.11", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_timeout", stackOptions{
		fetch: fetch.Config{
			MaxWorkers: 2,
			Timeouts:   map[domain.SourceName]time.Duration{domain.SourceArXiv: 100 * time.Millisecond},
		},
		run: retrieval.Config{MaxAutoAnalyze: 0},
	}, hung, healthy)

	start := time.Now()
	result, err := s.orch.Run(ctx, retrieval.Request{Keywords: []string{"nanopore"}})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 10*time.Second, "the run must not wait out the hang")

	status := result.Statuses[domain.SourceArXiv]
	assert.Equal(t, fetch.OutcomeTimeout, status.Outcome)
	assert.Contains(t, status.Error, "timed out after")
	assert.Zero(t, status.Count)

	assert.Equal(t, fetch.OutcomeSuccess, result.Statuses[domain.SourcePubMed].Outcome)
	require.Len(t, result.Papers, 1)
	assert.Equal(t, domain.SourcePubMed, result.Papers[0].Source)
}

// TestChaos_ProviderFailsThenRecovers verifies that a failed analysis leaves
// no residue and stays retryable. The first task fails and records the
// provider's error; nothing lands in the analysis cache and the cached paper
// stays unanalyzed. The cached rerun resubmits under the same task ID, which
// the queue accepts because the previous record is terminal, and the
// recovered provider completes the analysis.
func TestChaos_ProviderFailsThenRecovers(t *testing.T) {
	ctx := context.Background()

	provider := &faultyProvider{}
	provider.analyze = func(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
		if provider.calls.Load() == 1 {
			return nil, errors.New("model overloaded")
		}
		return healthyAnalysis(ctx, title, abstract)
	}

	adapter := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Spatial transcriptomics of cortical development", "10.1000/chaos.20", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_provider_retry", stackOptions{
		provider: provider,
		run:      retrieval.Config{MaxAutoAnalyze: 10},
	}, adapter)
	req := retrieval.Request{Keywords: []string{"transcriptomics"}}

	first, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.QueuedTaskIDs, 1)
	taskID := first.QueuedTaskIDs[0]

	failed := waitForTask(t, s.queue, taskID)
	assert.Equal(t, domain.TaskStateFailed, failed.State)
	assert.Contains(t, failed.Error, "model overloaded")

	paper := first.Papers[0]
	_, ok := s.cache.GetAnalysis(ctx, domain.AnalysisKey(paper.Title, paper.Abstract))
	assert.False(t, ok, "a failed analysis must not be cached")
	cached, ok := s.cache.GetPaper(ctx, paper.ID)
	require.True(t, ok)
	assert.False(t, cached.IsAnalyzed)

	second, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, second.AnalysisQueued)
	require.Len(t, second.QueuedTaskIDs, 1)
	assert.Equal(t, taskID, second.QueuedTaskIDs[0], "the retry reuses the deterministic task ID")

	recovered := waitForTask(t, s.queue, taskID)
	assert.Equal(t, domain.TaskStateCompleted, recovered.State, "task error: %s", recovered.Error)

	_, ok = s.cache.GetAnalysis(ctx, domain.AnalysisKey(paper.Title, paper.Abstract))
	assert.True(t, ok)
	cached, ok = s.cache.GetPaper(ctx, paper.ID)
	require.True(t, ok)
	assert.True(t, cached.IsAnalyzed)

	stats := s.queue.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(2), provider.calls.Load())
}

// TestChaos_ProviderPanicIsContained verifies that a panicking provider
// cannot take down the worker pool. With a single worker, one task panics
// and the next completes on the same worker; the panicked task is recorded
// as failed with the recovered message, and the queue keeps accepting and
// running new work afterwards.
func TestChaos_ProviderPanicIsContained(t *testing.T) {
	ctx := context.Background()

	provider := &faultyProvider{}
	provider.analyze = func(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
		if strings.Contains(title, "Prion") {
			panic("synthetic provider crash")
		}
		return healthyAnalysis(ctx, title, abstract)
	}

	adapter := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Prion aggregation dynamics in yeast models", "10.1000/chaos.30", domain.SourcePubMed),
		paperFixture("Tau aggregation imaging in live neurons", "10.1000/chaos.31", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_panic", stackOptions{
		provider: provider,
		queue:    taskqueue.Config{Depth: 8, Workers: 1, Retention: time.Minute},
		run:      retrieval.Config{MaxAutoAnalyze: 10},
	}, adapter)

	result, err := s.orch.Run(ctx, retrieval.Request{Keywords: []string{"aggregation"}})
	require.NoError(t, err)
	require.Len(t, result.QueuedTaskIDs, 2)

	var failed, completed int
	for _, taskID := range result.QueuedTaskIDs {
		task := waitForTask(t, s.queue, taskID)
		switch task.State {
		case domain.TaskStateFailed:
			failed++
			assert.Contains(t, task.Error, "task panicked")
			assert.Contains(t, task.Error, "synthetic provider crash")
		case domain.TaskStateCompleted:
			completed++
		default:
			t.Fatalf("unexpected terminal state %s", task.State)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, completed)

	res := s.queue.Submit("post-panic", func(context.Context) (any, error) { return "ok", nil }, taskqueue.PriorityHigh)
	require.True(t, res.Accepted)
	task := waitForTask(t, s.queue, res.TaskID)
	assert.Equal(t, domain.TaskStateCompleted, task.State, "the worker pool must survive the panic")
}

// TestChaos_SaturatedQueueShedsAnalysis verifies load shedding under a full
// queue. With one worker blocked and a depth of one, a run producing four
// papers cannot enqueue an analysis for all of them: the first queue-full
// rejection stops further submissions, so the queue counts exactly one
// rejection. Retrieval itself is unaffected, and the accepted tasks drain
// once the provider unblocks.
func TestChaos_SaturatedQueueShedsAnalysis(t *testing.T) {
	ctx := context.Background()

	release := make(chan struct{})
	provider := &faultyProvider{}
	provider.analyze = func(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return healthyAnalysis(ctx, title, abstract)
	}

	adapter := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Organoid models of pancreatic cancer", "10.1000/chaos.40", domain.SourcePubMed),
		paperFixture("Organoid models of gastric cancer", "10.1000/chaos.41", domain.SourcePubMed),
		paperFixture("Organoid models of colorectal cancer", "10.1000/chaos.42", domain.SourcePubMed),
		paperFixture("Organoid models of hepatic cancer", "10.1000/chaos.43", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_saturation", stackOptions{
		provider: provider,
		queue:    taskqueue.Config{Depth: 1, Workers: 1, Retention: time.Minute},
		run:      retrieval.Config{MaxAutoAnalyze: 10},
	}, adapter)

	result, err := s.orch.Run(ctx, retrieval.Request{Keywords: []string{"organoid"}})
	require.NoError(t, err)

	require.Len(t, result.Papers, 4, "shedding affects analysis, not retrieval")
	assert.GreaterOrEqual(t, result.AnalysisQueued, 1)
	assert.Less(t, result.AnalysisQueued, 4, "a depth-1 queue cannot absorb every submission")
	assert.Len(t, result.QueuedTaskIDs, result.AnalysisQueued)
	assert.Equal(t, int64(1), s.queue.Stats().Rejected, "the first full rejection stops further submissions")

	close(release)
	for _, taskID := range result.QueuedTaskIDs {
		task := waitForTask(t, s.queue, taskID)
		assert.Equal(t, domain.TaskStateCompleted, task.State, "task error: %s", task.Error)
	}
}

// TestChaos_DurableStoreOutageDegradesToFetch verifies that losing the
// durable store costs repeat fetches, never correctness. The durable write
// runs before the memory insert, so a flapping store cannot leave memory
// serving entries the store never accepted; reads treat store errors as
// misses. Both runs return full results and both go to the sources.
func TestChaos_DurableStoreOutageDegradesToFetch(t *testing.T) {
	ctx := context.Background()

	adapter := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Lipidomics of neuronal membranes", "10.1000/chaos.50", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_store_down", stackOptions{
		store: &brokenStore{err: errors.New("pq: connection refused")},
		run:   retrieval.Config{MaxAutoAnalyze: 0},
	}, adapter)
	req := retrieval.Request{Keywords: []string{"lipidomics"}}

	first, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Papers, 1)
	assert.False(t, first.FromCache)

	second, err := s.orch.Run(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Papers, 1)
	assert.False(t, second.FromCache, "a failed write-through must not leave a cache hit behind")
	assert.Equal(t, first.Papers[0].ID, second.Papers[0].ID)
	assert.Equal(t, int64(2), adapter.calls.Load())
}

// TestChaos_EnrichmentFailureAbortsRun verifies the one hard dependency in
// the fetch path. Ranking reads the impact fields enrichment fills, so a
// failed enrichment aborts the run before anything is ranked or cached
// rather than caching misranked records. The error wraps the enricher's
// cause, and the retry fetches from the sources again.
func TestChaos_EnrichmentFailureAbortsRun(t *testing.T) {
	ctx := context.Background()

	cause := errors.New("openalex: dial tcp: connection refused")
	adapter := &scriptedAdapter{name: domain.SourcePubMed, records: []*domain.PaperRecord{
		paperFixture("Epigenetic clocks in ageing cohorts", "10.1000/chaos.60", domain.SourcePubMed),
	}}

	s := newStack(t, "chaos_enricher", stackOptions{
		enricher: &failingEnricher{err: cause},
		run:      retrieval.Config{MaxAutoAnalyze: 0},
	}, adapter)
	req := retrieval.Request{Keywords: []string{"epigenetic"}}

	_, err := s.orch.Run(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "enrich records")

	_, err = s.orch.Run(ctx, req)
	require.Error(t, err, "nothing from the aborted run may satisfy the retry")
	assert.Equal(t, int64(2), adapter.calls.Load())
}

// TestChaos_ShutdownCancelsPendingDrainsRunning verifies the queue's
// shutdown contract with a single worker pinned by a blocking task: the
// task still in the pending heap is cancelled immediately with "queue shut
// down", the running task and the one already handed to the dispatcher
// drain to completion, and intake stays closed afterwards.
func TestChaos_ShutdownCancelsPendingDrainsRunning(t *testing.T) {
	logger := zerolog.Nop()
	metrics := observability.NewMetrics("chaos_shutdown")
	queue := taskqueue.New(taskqueue.Config{Depth: 8, Workers: 1, Retention: time.Minute}, logger, metrics)

	release := make(chan struct{})
	blocking := func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, taskID := range []string{"drain-1", "drain-2", "drain-3"} {
		res := queue.Submit(taskID, blocking, taskqueue.PriorityNormal)
		require.True(t, res.Accepted)
	}

	// Tasks dispatch in submission order: drain-1 runs, drain-2 sits with
	// the dispatcher waiting for the worker, drain-3 stays in the heap.
	waitFor(t, func() bool {
		st := queue.Stats()
		return st.Running == 1 && st.Pending == 1
	})

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done <- queue.Shutdown(ctx)
	}()

	// The heap-resident task is cancelled before any worker frees up.
	waitFor(t, func() bool {
		task, err := queue.Status("drain-3")
		return err == nil && task.State == domain.TaskStateCancelled
	})
	cancelled, err := queue.Status("drain-3")
	require.NoError(t, err)
	assert.Equal(t, "queue shut down", cancelled.Error)

	close(release)
	require.NoError(t, <-done)

	for _, taskID := range []string{"drain-1", "drain-2"} {
		task, err := queue.Status(taskID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCompleted, task.State, "task %s must drain, not be dropped", taskID)
	}

	late := queue.Submit("drain-4", blocking, taskqueue.PriorityNormal)
	assert.False(t, late.Accepted)
	assert.ErrorIs(t, late.Reason, domain.ErrQueueClosed)

	stats := queue.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(1), stats.Rejected)
}
