package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/retrieval"
	"github.com/scholarsift/retrieval-service/internal/scoring"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// retrievalRequest is the JSON request body for running a retrieval.
// Structural limits live in the validate tags; semantic checks (source
// names, match modes against the live registry) belong to the orchestrator.
type retrievalRequest struct {
	Keywords  []string `json:"keywords" validate:"required,min=1,max=20,dive,max=200"`
	DaysBack  int      `json:"days_back" validate:"omitempty,min=1,max=3650"`
	Sources   []string `json:"sources" validate:"omitempty,max=10"`
	MatchMode string   `json:"match_mode" validate:"omitempty,oneof=any all"`
}

// batchRetrievalRequest is the JSON request body for a batch run.
type batchRetrievalRequest struct {
	Requests []retrievalRequest `json:"requests" validate:"required,min=1,max=25,dive"`
}

func (r retrievalRequest) toRequest() retrieval.Request {
	req := retrieval.Request{
		Keywords:  r.Keywords,
		DaysBack:  r.DaysBack,
		MatchMode: scoring.MatchMode(r.MatchMode),
	}
	if len(r.Sources) > 0 {
		req.Sources = make([]domain.SourceName, len(r.Sources))
		for i, s := range r.Sources {
			req.Sources[i] = domain.SourceName(s)
		}
	}
	return req
}

// runRetrieval handles POST /retrievals. It executes the full
// cache-fetch-score flow and returns the ranked papers.
func (s *Server) runRetrieval(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req retrievalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	result, err := s.orchestrator.Run(r.Context(), req.toRequest())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, retrievalResultToResponse(result))
}

// runRetrievalBatch handles POST /retrievals/batch. Each request in the
// batch succeeds or fails independently; the response reports per-slot
// outcomes alongside aggregate counts.
func (s *Server) runRetrievalBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req batchRetrievalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	requests := make([]retrieval.Request, len(req.Requests))
	for i, item := range req.Requests {
		requests[i] = item.toRequest()
	}

	items := s.orchestrator.RunBatch(r.Context(), requests)
	writeJSON(w, http.StatusOK, batchItemsToResponse(items))
}

// getTaskStatus handles GET /tasks/{taskID}. It returns the queue's
// snapshot of an analysis task, including its result once finished.
func (s *Server) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.queue.Status(taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// cancelTask handles DELETE /tasks/{taskID}. Only pending tasks can be
// cancelled; running and finished tasks report a conflict.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := s.queue.Cancel(taskID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelTaskResponse{TaskID: taskID, Cancelled: true})
}

// getQueueStats handles GET /queue/stats.
func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

// getPaper handles GET /papers/{paperID}. It serves the cached record;
// papers evicted or expired from both tiers report not found.
func (s *Server) getPaper(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	paper, ok := s.cache.GetPaper(r.Context(), paperID)
	if !ok {
		writeDomainError(w, domain.NewNotFoundError("paper", paperID))
		return
	}

	writeJSON(w, http.StatusOK, paper)
}

// searchPapers handles GET /papers?keyword=... It resolves the keyword
// index against cached papers, so results reflect cache coverage rather
// than a live source fetch.
func (s *Server) searchPapers(w http.ResponseWriter, r *http.Request) {
	keywords := r.URL.Query()["keyword"]
	if len(keywords) == 0 {
		writeError(w, http.StatusBadRequest, "at least one keyword query parameter is required")
		return
	}

	ids, err := s.cache.FindByKeywords(r.Context(), keywords)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	papers := make([]*domain.PaperRecord, 0, len(ids))
	for _, id := range ids {
		if paper, ok := s.cache.GetPaper(r.Context(), id); ok {
			papers = append(papers, paper)
		}
	}

	writeJSON(w, http.StatusOK, paperSearchResponse{
		Keywords: keywords,
		Count:    len(papers),
		Papers:   papers,
	})
}

// getCacheStats handles GET /cache/stats.
func (s *Server) getCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not leaked
// to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrDuplicateTask):
		writeError(w, http.StatusConflict, "task already submitted")
	case errors.Is(err, domain.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "task queue is full")
	case errors.Is(err, domain.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "task queue is shutting down")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "task cannot be cancelled in its current state")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// newValidator builds the request validator, reporting JSON field names
// instead of Go struct field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens a validator error into a client-facing
// message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		parts[i] = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return strings.Join(parts, "; ")
}
