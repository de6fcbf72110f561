// Package events publishes retrieval-service events to Kafka.
//
// Publication is optional and best-effort: when Kafka is disabled the
// service wires the no-op publisher, and publish failures never fail the
// operation that produced the event.
package events

import (
	"context"
	"time"
)

// Event types carried in the envelope's type field.
const (
	TypeRetrievalDigest   = "retrieval.digest"
	TypeAnalysisCompleted = "analysis.completed"
)

// RetrievalDigest summarizes one completed retrieval run.
type RetrievalDigest struct {
	SearchKey      string         `json:"search_key"`
	Keywords       []string       `json:"keywords"`
	DaysBack       int            `json:"days_back"`
	FromCache      bool           `json:"from_cache"`
	PaperCount     int            `json:"paper_count"`
	SourceCounts   map[string]int `json:"source_counts,omitempty"`
	AnalysisHits   int            `json:"analysis_hits"`
	AnalysisQueued int            `json:"analysis_queued"`
	DurationMS     int64          `json:"duration_ms"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// AnalysisCompleted reports one finished paper analysis.
type AnalysisCompleted struct {
	PaperID     string    `json:"paper_id"`
	AnalysisKey string    `json:"analysis_key"`
	Provider    string    `json:"provider"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher emits service events. Implementations must be safe for
// concurrent use; analysis completions are published from queue workers.
type Publisher interface {
	PublishRetrievalDigest(ctx context.Context, digest RetrievalDigest) error
	PublishAnalysisCompleted(ctx context.Context, event AnalysisCompleted) error
	Close() error
}

// NoopPublisher discards every event. It stands in for Kafka when
// publishing is disabled.
type NoopPublisher struct{}

// PublishRetrievalDigest implements Publisher.
func (NoopPublisher) PublishRetrievalDigest(context.Context, RetrievalDigest) error { return nil }

// PublishAnalysisCompleted implements Publisher.
func (NoopPublisher) PublishAnalysisCompleted(context.Context, AnalysisCompleted) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
