package httpserver

import (
	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/fetch"
	"github.com/scholarsift/retrieval-service/internal/retrieval"
)

// Retrieval response types for JSON serialization. Paper records, task
// snapshots and counter structs already carry their wire shape, so only
// types needing conversion (durations, source-keyed maps) get dedicated
// response structs.

type retrievalResponse struct {
	SearchKey      string                          `json:"search_key"`
	FromCache      bool                            `json:"from_cache"`
	PaperCount     int                             `json:"paper_count"`
	Papers         []*domain.PaperRecord           `json:"papers"`
	Sources        map[string]sourceStatusResponse `json:"sources,omitempty"`
	AnalysisHits   int                             `json:"analysis_hits"`
	AnalysisQueued int                             `json:"analysis_queued"`
	QueuedTaskIDs  []string                        `json:"queued_task_ids,omitempty"`
	Duration       string                          `json:"duration"`
}

type sourceStatusResponse struct {
	Outcome  string `json:"outcome"`
	Count    int    `json:"count"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type batchResponse struct {
	Items     []batchItemResponse `json:"items"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// batchItemResponse reports one batch slot; exactly one of result and
// error is set.
type batchItemResponse struct {
	Result *retrievalResponse `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type paperSearchResponse struct {
	Keywords []string              `json:"keywords"`
	Count    int                   `json:"count"`
	Papers   []*domain.PaperRecord `json:"papers"`
}

type cancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// Converter functions

func retrievalResultToResponse(res *retrieval.Result) retrievalResponse {
	resp := retrievalResponse{
		SearchKey:      res.SearchKey,
		FromCache:      res.FromCache,
		PaperCount:     len(res.Papers),
		Papers:         res.Papers,
		AnalysisHits:   res.AnalysisHits,
		AnalysisQueued: res.AnalysisQueued,
		QueuedTaskIDs:  res.QueuedTaskIDs,
		Duration:       res.Duration.String(),
	}
	if res.Papers == nil {
		resp.Papers = []*domain.PaperRecord{}
	}
	if len(res.Statuses) > 0 {
		resp.Sources = make(map[string]sourceStatusResponse, len(res.Statuses))
		for name, status := range res.Statuses {
			resp.Sources[string(name)] = sourceStatusToResponse(status)
		}
	}
	return resp
}

func sourceStatusToResponse(status fetch.SourceStatus) sourceStatusResponse {
	return sourceStatusResponse{
		Outcome:  string(status.Outcome),
		Count:    status.Count,
		Duration: status.Duration.String(),
		Error:    status.Error,
	}
}

func batchItemsToResponse(items []retrieval.BatchItem) batchResponse {
	resp := batchResponse{Items: make([]batchItemResponse, len(items))}
	for i, item := range items {
		if item.Err != nil {
			resp.Items[i] = batchItemResponse{Error: item.Err.Error()}
			resp.Failed++
			continue
		}
		result := retrievalResultToResponse(item.Result)
		resp.Items[i] = batchItemResponse{Result: &result}
		resp.Succeeded++
	}
	return resp
}
