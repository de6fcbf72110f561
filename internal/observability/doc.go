// Package observability provides logging and metrics support for the
// retrieval service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for retrievals, caches, sources, tasks, and analysis
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("request_id", reqID).Msg("retrieval started")
//
// Add retrieval context to a logger:
//
//	logger = observability.WithRetrievalContext(logger, requestID, searchKey)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("retrieval_service")
//
// Record metrics:
//
//	metrics.RecordRetrievalStarted()
//	metrics.RecordCacheHit("paper", "memory")
//	metrics.RecordSourceFetchCompleted("pubmed", 42, 1.3)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithSearchKey(ctx, searchKey)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	searchKey := observability.SearchKeyFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: Retrieval request identifier
//   - search_key: Deterministic cache key for the keyword set
//   - source: Paper source (pubmed, arxiv, biorxiv, medrxiv, openalex)
//   - keywords: Search keywords
//   - paper_id: Paper identifier
//   - task_id: Async task identifier
//   - provider: Analysis provider (anthropic, openai, deepseek)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
