// Package retrieval sequences the full paper-retrieval flow: search-cache
// lookup, multi-source fetch, impact enrichment, relevance ranking,
// write-through caching and asynchronous analysis dispatch.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/events"
	"github.com/scholarsift/retrieval-service/internal/fetch"
	"github.com/scholarsift/retrieval-service/internal/observability"
	"github.com/scholarsift/retrieval-service/internal/scoring"
	"github.com/scholarsift/retrieval-service/internal/taskqueue"
)

const (
	// DefaultDaysBack is the recency window applied when neither the
	// request nor the configuration sets one.
	DefaultDaysBack = 7

	// DefaultBatchParallelism bounds concurrent batch runs when the
	// configuration leaves it unset.
	DefaultBatchParallelism = 4

	// analysisTaskType tags analysis submissions in queue logs and metrics.
	analysisTaskType = "analysis"
)

// Cache is the slice of the two-tier cache the orchestrator uses.
// *cache.TwoTierCache implements it.
type Cache interface {
	GetSearch(ctx context.Context, searchKey string) ([]string, bool)
	SetSearch(ctx context.Context, searchKey string, paperIDs []string) error
	GetPaper(ctx context.Context, paperID string) (*domain.PaperRecord, bool)
	SetPaper(ctx context.Context, paper *domain.PaperRecord) error
	GetAnalysis(ctx context.Context, analysisKey string) (*domain.AnalysisResult, bool)
	IndexPaperKeywords(ctx context.Context, paperID string, keywords []string) error
}

// Fetcher supplies merged multi-source fetch results.
// *fetch.MultiSourceFetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, keywords []string, daysBack int, sources []domain.SourceName) ([]*domain.PaperRecord, map[domain.SourceName]fetch.SourceStatus)
}

// Enricher fills venue-level impact data onto fetched records.
// *openalex.ImpactEnricher implements it.
type Enricher interface {
	Enrich(ctx context.Context, records []*domain.PaperRecord) error
}

// Analyzer produces paper analyses. *analysis.Analyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error)
	ProviderName() string
}

// TaskQueue accepts asynchronous work. *taskqueue.Queue implements it.
type TaskQueue interface {
	Submit(taskID string, callable taskqueue.Callable, priority int, opts ...taskqueue.SubmitOption) taskqueue.SubmitResult
}

// Config tunes the orchestrator.
type Config struct {
	// DefaultDaysBack is the recency window applied when a request
	// leaves DaysBack unset.
	DefaultDaysBack int

	// MaxAutoAnalyze caps new analysis submissions per run. Zero
	// disables automatic analysis; cached analyses still apply.
	MaxAutoAnalyze int

	// BatchParallelism bounds concurrent runs in RunBatch.
	BatchParallelism int
}

func (c *Config) applyDefaults() {
	if c.DefaultDaysBack <= 0 {
		c.DefaultDaysBack = DefaultDaysBack
	}
	if c.MaxAutoAnalyze < 0 {
		c.MaxAutoAnalyze = 0
	}
	if c.BatchParallelism <= 0 {
		c.BatchParallelism = DefaultBatchParallelism
	}
}

// Deps collects the orchestrator's collaborators. Cache, Fetcher and
// Scorer are required; the rest degrade gracefully when nil: no Enricher
// skips impact enrichment, no Analyzer or Queue disables analysis
// dispatch, no Publisher selects the no-op publisher.
type Deps struct {
	Cache     Cache
	Fetcher   Fetcher
	Scorer    *scoring.Scorer
	Enricher  Enricher
	Analyzer  Analyzer
	Queue     TaskQueue
	Publisher events.Publisher
}

// Request describes one retrieval run.
type Request struct {
	// Keywords drive both source queries and relevance scoring.
	Keywords []string `json:"keywords"`

	// DaysBack restricts sources to papers published within the window.
	// Zero selects the configured default.
	DaysBack int `json:"days_back,omitempty"`

	// Sources names the sources to query. Empty queries every enabled
	// source.
	Sources []domain.SourceName `json:"sources,omitempty"`

	// MatchMode selects the scoring mode. Empty selects MatchAny.
	MatchMode scoring.MatchMode `json:"match_mode,omitempty"`
}

// normalize trims keywords and fills defaulted fields in place.
func (r *Request) normalize(cfg Config) error {
	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return domain.NewValidationError("keywords", "at least one keyword is required")
	}
	r.Keywords = keywords

	if r.DaysBack <= 0 {
		r.DaysBack = cfg.DefaultDaysBack
	}

	switch r.MatchMode {
	case "":
		r.MatchMode = scoring.MatchAny
	case scoring.MatchAny, scoring.MatchAll:
	default:
		return domain.NewValidationError("match_mode", fmt.Sprintf("unknown mode %q", r.MatchMode))
	}

	for _, source := range r.Sources {
		if !domain.IsValidSourceName(source) {
			return domain.NewValidationError("sources", fmt.Sprintf("unknown source %q", source))
		}
	}
	return nil
}

// Result is the outcome of one retrieval run.
type Result struct {
	// SearchKey identifies the search-cache entry serving this request.
	SearchKey string `json:"search_key"`

	// Papers are the ranked records, best first.
	Papers []*domain.PaperRecord `json:"papers"`

	// FromCache reports whether the run was served from the search cache.
	FromCache bool `json:"from_cache"`

	// Statuses describes each queried source. Nil on cache hits.
	Statuses map[domain.SourceName]fetch.SourceStatus `json:"statuses,omitempty"`

	// AnalysisHits counts papers whose analysis was applied from cache.
	AnalysisHits int `json:"analysis_hits"`

	// AnalysisQueued counts analysis tasks accepted by the queue.
	AnalysisQueued int `json:"analysis_queued"`

	// QueuedTaskIDs identify the accepted analysis tasks, in paper order.
	QueuedTaskIDs []string `json:"queued_task_ids,omitempty"`

	// Duration is the end-to-end run time.
	Duration time.Duration `json:"duration"`
}

// Orchestrator runs the retrieval flow end to end.
type Orchestrator struct {
	cache     Cache
	fetcher   Fetcher
	scorer    *scoring.Scorer
	enricher  Enricher
	analyzer  Analyzer
	queue     TaskQueue
	publisher events.Publisher
	cfg       Config
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewOrchestrator wires the retrieval flow.
func NewOrchestrator(deps Deps, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	cfg.applyDefaults()
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}

	return &Orchestrator{
		cache:     deps.Cache,
		fetcher:   deps.Fetcher,
		scorer:    deps.Scorer,
		enricher:  deps.Enricher,
		analyzer:  deps.Analyzer,
		queue:     deps.Queue,
		publisher: deps.Publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		metrics:   metrics,
	}
}

// Run executes one retrieval. Source failures and cache-write failures
// degrade the result instead of failing it; Run returns an error only for
// invalid requests and context cancellation.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := req.normalize(o.cfg); err != nil {
		return nil, err
	}

	searchKey := domain.SearchKey(req.Keywords, req.DaysBack)
	logger := observability.WithRetrievalContext(o.logger, observability.RequestIDFromContext(ctx), searchKey)
	o.metrics.RecordRetrievalStarted()

	if papers, ok := o.cachedSearch(ctx, searchKey, logger); ok {
		result := &Result{SearchKey: searchKey, Papers: papers, FromCache: true}
		o.applyAnalyses(ctx, result, logger)
		result.Duration = time.Since(start)

		o.metrics.RecordRetrievalCompleted("cached", len(papers), result.Duration.Seconds())
		logger.Info().
			Int("papers", len(papers)).
			Int("analysis_queued", result.AnalysisQueued).
			Dur("duration", result.Duration).
			Msg("retrieval served from cache")
		o.publishDigest(ctx, req, result, logger)
		return result, nil
	}

	papers, statuses := o.fetcher.FetchAll(ctx, req.Keywords, req.DaysBack, req.Sources)
	if err := ctx.Err(); err != nil {
		o.metrics.RecordRetrievalFailed(time.Since(start).Seconds())
		return nil, err
	}

	if o.enricher != nil {
		if err := o.enricher.Enrich(ctx, papers); err != nil {
			o.metrics.RecordRetrievalFailed(time.Since(start).Seconds())
			return nil, fmt.Errorf("enrich records: %w", err)
		}
	}

	ranked := o.scorer.Rank(papers, req.Keywords, req.MatchMode)
	o.writeThrough(ctx, searchKey, ranked, req, logger)

	result := &Result{SearchKey: searchKey, Papers: ranked, Statuses: statuses}
	o.applyAnalyses(ctx, result, logger)
	result.Duration = time.Since(start)

	o.metrics.RecordRetrievalCompleted("fetched", len(ranked), result.Duration.Seconds())
	logger.Info().
		Int("fetched", len(papers)).
		Int("ranked", len(ranked)).
		Int("analysis_hits", result.AnalysisHits).
		Int("analysis_queued", result.AnalysisQueued).
		Dur("duration", result.Duration).
		Msg("retrieval completed")
	o.publishDigest(ctx, req, result, logger)
	return result, nil
}

// BatchItem is the outcome of one request within a batch. Exactly one of
// Result and Err is set.
type BatchItem struct {
	Result *Result
	Err    error
}

// RunBatch executes several retrievals with bounded parallelism. Each
// request succeeds or fails independently: items keep request order, with
// the failed slots carrying the per-request error.
func (o *Orchestrator) RunBatch(ctx context.Context, requests []Request) []BatchItem {
	items := make([]BatchItem, len(requests))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BatchParallelism)
	for i, req := range requests {
		g.Go(func() error {
			result, err := o.Run(ctx, req)
			if err != nil {
				// A failed request must not cancel its siblings, so
				// the error is captured instead of returned.
				items[i] = BatchItem{Err: fmt.Errorf("keywords %v: %w", req.Keywords, err)}
				return nil
			}
			items[i] = BatchItem{Result: result}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// cachedSearch resolves a cached search entry into live paper records. A
// hit whose papers have all expired counts as a miss so the caller
// refetches.
func (o *Orchestrator) cachedSearch(ctx context.Context, searchKey string, logger zerolog.Logger) ([]*domain.PaperRecord, bool) {
	ids, ok := o.cache.GetSearch(ctx, searchKey)
	if !ok {
		return nil, false
	}

	papers := make([]*domain.PaperRecord, 0, len(ids))
	for _, id := range ids {
		if paper, ok := o.cache.GetPaper(ctx, id); ok {
			papers = append(papers, paper)
		}
	}
	if len(papers) == 0 {
		logger.Debug().Int("ids", len(ids)).Msg("cached search resolved no live papers")
		return nil, false
	}
	if missing := len(ids) - len(papers); missing > 0 {
		logger.Debug().Int("missing", missing).Msg("cached search partially expired")
	}
	return papers, true
}

// writeThrough persists ranked papers, their keyword-index entries and the
// search entry. Write failures are logged and shrink cache coverage; the
// in-memory result is already complete.
func (o *Orchestrator) writeThrough(ctx context.Context, searchKey string, ranked []*domain.PaperRecord, req Request, logger zerolog.Logger) {
	ids := make([]string, 0, len(ranked))
	for _, paper := range ranked {
		ids = append(ids, paper.ID)

		if err := o.cache.SetPaper(ctx, paper); err != nil {
			logger.Warn().Err(err).Str("paper_id", paper.ID).Msg("paper cache write failed")
			continue
		}
		matched := o.scorer.Score(paper, req.Keywords, req.MatchMode).MatchedKeywords
		if len(matched) == 0 {
			continue
		}
		if err := o.cache.IndexPaperKeywords(ctx, paper.ID, matched); err != nil {
			logger.Warn().Err(err).Str("paper_id", paper.ID).Msg("keyword index write failed")
		}
	}

	if len(ids) == 0 {
		return
	}
	if err := o.cache.SetSearch(ctx, searchKey, ids); err != nil {
		logger.Warn().Err(err).Msg("search cache write failed")
	}
}

// applyAnalyses fills analysis fields from the analysis cache and submits
// analysis tasks for uncovered papers, up to the auto-analyze cap. Papers
// already carrying an analysis are left untouched.
func (o *Orchestrator) applyAnalyses(ctx context.Context, result *Result, logger zerolog.Logger) {
	submitted := 0
	queueSaturated := false

	for _, paper := range result.Papers {
		if paper.IsAnalyzed {
			continue
		}

		key := domain.AnalysisKey(paper.Title, paper.Abstract)
		if cached, ok := o.cache.GetAnalysis(ctx, key); ok {
			cached.ApplyTo(paper)
			result.AnalysisHits++
			continue
		}

		if o.analyzer == nil || o.queue == nil || queueSaturated || submitted >= o.cfg.MaxAutoAnalyze {
			continue
		}
		submitted++

		sub := o.queue.Submit(analysisTaskID(paper.ID), o.analysisTask(paper), taskqueue.PriorityNormal, taskqueue.WithType(analysisTaskType))
		switch {
		case sub.Accepted:
			result.AnalysisQueued++
			result.QueuedTaskIDs = append(result.QueuedTaskIDs, sub.TaskID)
		case errors.Is(sub.Reason, domain.ErrDuplicateTask):
			logger.Debug().Str("task_id", sub.TaskID).Msg("analysis already in flight")
		case errors.Is(sub.Reason, domain.ErrQueueFull):
			logger.Warn().Err(sub.Reason).Msg("analysis queue full, skipping remaining submissions")
			queueSaturated = true
		default:
			logger.Warn().Err(sub.Reason).Str("task_id", sub.TaskID).Msg("analysis submission rejected")
		}
	}
}

// analysisTask builds the queue callable for one paper. The callable
// re-reads the paper from cache on completion so it never mutates records
// already handed to callers.
func (o *Orchestrator) analysisTask(paper *domain.PaperRecord) taskqueue.Callable {
	paperID, title, abstract := paper.ID, paper.Title, paper.Abstract

	return func(taskCtx context.Context) (any, error) {
		started := time.Now()
		result, err := o.analyzer.Analyze(taskCtx, title, abstract)
		if err != nil {
			return nil, err
		}

		if cached, ok := o.cache.GetPaper(taskCtx, paperID); ok {
			result.ApplyTo(cached)
			if err := o.cache.SetPaper(taskCtx, cached); err != nil {
				o.logger.Warn().Err(err).Str("paper_id", paperID).Msg("analyzed paper write failed")
			}
		}

		event := events.AnalysisCompleted{
			PaperID:     paperID,
			AnalysisKey: domain.AnalysisKey(title, abstract),
			Provider:    o.analyzer.ProviderName(),
			DurationMS:  time.Since(started).Milliseconds(),
			CompletedAt: time.Now().UTC(),
		}
		if err := o.publisher.PublishAnalysisCompleted(taskCtx, event); err != nil {
			o.logger.Warn().Err(err).Str("paper_id", paperID).Msg("analysis event publish failed")
		}
		return result, nil
	}
}

// publishDigest emits the retrieval digest. Publish failures are logged
// and never fail the run.
func (o *Orchestrator) publishDigest(ctx context.Context, req Request, result *Result, logger zerolog.Logger) {
	var counts map[string]int
	if len(result.Statuses) > 0 {
		counts = make(map[string]int, len(result.Statuses))
		for source, status := range result.Statuses {
			counts[string(source)] = status.Count
		}
	}

	digest := events.RetrievalDigest{
		SearchKey:      result.SearchKey,
		Keywords:       req.Keywords,
		DaysBack:       req.DaysBack,
		FromCache:      result.FromCache,
		PaperCount:     len(result.Papers),
		SourceCounts:   counts,
		AnalysisHits:   result.AnalysisHits,
		AnalysisQueued: result.AnalysisQueued,
		DurationMS:     result.Duration.Milliseconds(),
		CompletedAt:    time.Now().UTC(),
	}
	if err := o.publisher.PublishRetrievalDigest(ctx, digest); err != nil {
		logger.Warn().Err(err).Msg("retrieval digest publish failed")
	}
}

// analysisTaskID derives the deterministic task ID for a paper so queue
// deduplication collapses repeated submissions across runs.
func analysisTaskID(paperID string) string {
	return "analyze:" + paperID
}
