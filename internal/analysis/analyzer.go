package analysis

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/observability"
)

// minAnalyzableAbstractLen is the abstract length below which the analyzer
// answers deterministically instead of calling the provider. Abstracts
// that short carry too little signal to be worth an API call.
const minAnalyzableAbstractLen = 50

// ResultCache is the slice of the cache the analyzer uses: analysis
// results keyed by domain.AnalysisKey.
type ResultCache interface {
	GetAnalysis(ctx context.Context, analysisKey string) (*domain.AnalysisResult, bool)
	SetAnalysis(ctx context.Context, analysisKey string, result *domain.AnalysisResult) error
}

// Analyzer combines an analysis provider with the analysis cache
// namespace. Repeated papers are served from cache, short abstracts are
// answered without an API call, and every provider response leaves this
// package as a typed domain.AnalysisResult.
type Analyzer struct {
	provider Provider
	cache    ResultCache
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewAnalyzer creates an Analyzer on top of the given provider and cache.
func NewAnalyzer(provider Provider, cache ResultCache, logger zerolog.Logger, metrics *observability.Metrics) *Analyzer {
	return &Analyzer{
		provider: provider,
		cache:    cache,
		logger:   logger.With().Str("component", "analyzer").Logger(),
		metrics:  metrics,
	}
}

// ProviderName returns the id of the underlying provider.
func (a *Analyzer) ProviderName() string {
	return a.provider.Name()
}

// Analyze returns the analysis for a paper, consulting the cache first.
// On a miss the provider produces the structured analysis and the
// abstract translation; the combined result is written back to the
// cache. A translation failure degrades to an untranslated result
// rather than failing the analysis.
func (a *Analyzer) Analyze(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
	key := domain.AnalysisKey(title, abstract)

	if cached, ok := a.cache.GetAnalysis(ctx, key); ok {
		a.logger.Debug().
			Str("analysis_key", key).
			Msg("analysis served from cache")
		return cached, nil
	}

	if len(strings.TrimSpace(abstract)) < minAnalyzableAbstractLen {
		a.logger.Debug().
			Str("title", truncate(title, 80)).
			Msg("abstract too short, returning deterministic analysis")
		return shortAbstractResult(title), nil
	}

	start := time.Now()

	result, err := a.provider.Analyze(ctx, title, abstract)
	if err != nil {
		a.metrics.RecordAnalysisRequestFailed(a.provider.Name(), a.provider.Model(), errorType(err))
		a.logger.Error().Err(err).
			Str("provider", a.provider.Name()).
			Str("title", truncate(title, 80)).
			Msg("analysis failed")
		return nil, err
	}

	if translated, terr := a.provider.Translate(ctx, abstract); terr != nil {
		a.metrics.RecordAnalysisRequestFailed(a.provider.Name(), a.provider.Model(), errorType(terr))
		a.logger.Warn().Err(terr).
			Str("provider", a.provider.Name()).
			Str("title", truncate(title, 80)).
			Msg("abstract translation failed, keeping untranslated result")
	} else {
		result.TranslatedAbstract = translated
	}

	a.metrics.RecordAnalysisRequest(a.provider.Name(), a.provider.Model(), time.Since(start).Seconds())

	if err := a.cache.SetAnalysis(ctx, key, result); err != nil {
		a.logger.Warn().Err(err).
			Str("analysis_key", key).
			Msg("failed to cache analysis result")
	}

	a.logger.Info().
		Str("provider", a.provider.Name()).
		Str("title", truncate(title, 80)).
		Dur("duration", time.Since(start)).
		Msg("analysis completed")

	return result, nil
}

// shortAbstractResult is the deterministic analysis for papers whose
// abstract is too short to analyze. It is not cached: recomputing it is
// cheaper than a cache entry.
func shortAbstractResult(title string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		MainFindings:     "Abstract too short for a detailed analysis. Title: " + truncate(title, 100),
		Innovations:      "Insufficient abstract content.",
		Limitations:      "Insufficient abstract content.",
		FutureDirections: "Consult the full text for more information.",
	}
}

// errorType classifies an error for the failure metric label.
func errorType(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 0:
			return "network_error"
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case apiErr.StatusCode >= 500:
			return "server_error"
		default:
			return "api_error"
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}
