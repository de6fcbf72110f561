package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	searchKeyKey contextKey = "search_key"
	taskIDKey    contextKey = "task_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSearchKey adds a search cache key to the context.
func WithSearchKey(ctx context.Context, searchKey string) context.Context {
	return context.WithValue(ctx, searchKeyKey, searchKey)
}

// SearchKeyFromContext retrieves the search cache key from context.
// Returns empty string if not present.
func SearchKeyFromContext(ctx context.Context) string {
	if v := ctx.Value(searchKeyKey); v != nil {
		if key, ok := v.(string); ok {
			return key
		}
	}
	return ""
}

// WithTaskID adds an async task ID to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromContext retrieves the async task ID from context.
// Returns empty string if not present.
func TaskIDFromContext(ctx context.Context) string {
	if v := ctx.Value(taskIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RetrievalContext contains all the context data for a retrieval request.
type RetrievalContext struct {
	RequestID string
	SearchKey string
	TaskID    string
}

// WithRetrievalContextFull adds all retrieval context to the context.
func WithRetrievalContextFull(ctx context.Context, rc RetrievalContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.SearchKey != "" {
		ctx = WithSearchKey(ctx, rc.SearchKey)
	}
	if rc.TaskID != "" {
		ctx = WithTaskID(ctx, rc.TaskID)
	}
	return ctx
}

// RetrievalContextFromContext extracts all retrieval context from the context.
func RetrievalContextFromContext(ctx context.Context) RetrievalContext {
	return RetrievalContext{
		RequestID: RequestIDFromContext(ctx),
		SearchKey: SearchKeyFromContext(ctx),
		TaskID:    TaskIDFromContext(ctx),
	}
}
