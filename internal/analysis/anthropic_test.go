package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check.
var _ Provider = (*AnthropicProvider)(nil)

// newProviderTestServer creates an httptest server that responds with the
// given handler.
func newProviderTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// newAnthropicTestProvider creates an AnthropicProvider pointing at the given
// test server URL, with fast retries.
func newAnthropicTestProvider(baseURL string) *AnthropicProvider {
	return NewAnthropicProvider(Config{
		APIKey:         "test-api-key",
		Model:          "claude-sonnet-4-5",
		BaseURL:        baseURL,
		TargetLanguage: "zh",
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	})
}

// anthropicTextResponse builds a Messages API response carrying a single
// text content block.
func anthropicTextResponse(text string) messagesResponse {
	return messagesResponse{
		ID:   "msg_test123",
		Type: "message",
		Role: "assistant",
		Content: []contentBlock{
			{Type: "text", Text: text},
		},
		Model:      "claude-sonnet-4-5",
		StopReason: "end_turn",
		Usage:      anthropicUsage{InputTokens: 150, OutputTokens: 45},
	}
}

func TestAnthropicProvider_Analyze(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		defer r.Body.Close()

		var reqBody messagesRequest
		require.NoError(t, json.Unmarshal(body, &reqBody))

		assert.Equal(t, "claude-sonnet-4-5", reqBody.Model)
		assert.Equal(t, anthropicMaxTokens, reqBody.MaxTokens)
		assert.Equal(t, analysisSystemPrompt, reqBody.System)
		require.Len(t, reqBody.Messages, 1)
		assert.Equal(t, "user", reqBody.Messages[0].Role)
		assert.Contains(t, reqBody.Messages[0].Content, "CRISPR base editing in DMD mice")
		assert.Contains(t, reqBody.Messages[0].Content, "Respond in Chinese")
		assert.InDelta(t, anthropicTemperature, reqBody.Temperature, 0.001)

		resp := anthropicTextResponse(`{"main_findings": "Dystrophin restored in 40% of fibers", "innovations": "Single-dose systemic AAV9 delivery", "limitations": "Mouse model only", "future_directions": "Large-animal dose escalation"}`)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newAnthropicTestProvider(srv.URL)

	result, err := provider.Analyze(context.Background(),
		"CRISPR base editing in DMD mice",
		"We applied adenine base editing to correct a nonsense mutation in the dystrophin gene of mdx mice.")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "Dystrophin restored in 40% of fibers", result.MainFindings)
	assert.Equal(t, "Single-dose systemic AAV9 delivery", result.Innovations)
	assert.Equal(t, "Mouse model only", result.Limitations)
	assert.Equal(t, "Large-animal dose escalation", result.FutureDirections)
	assert.Empty(t, result.TranslatedAbstract)
}

func TestAnthropicProvider_Analyze_FencedJSON(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicTextResponse("```json\n{\"main_findings\": \"F\", \"innovations\": \"I\", \"limitations\": \"L\", \"future_directions\": \"D\"}\n```")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newAnthropicTestProvider(srv.URL)

	result, err := provider.Analyze(context.Background(), "Title", "A sufficiently long abstract for the provider call.")
	require.NoError(t, err)

	assert.Equal(t, "F", result.MainFindings)
	assert.Equal(t, "I", result.Innovations)
}

func TestAnthropicProvider_Analyze_APIError(t *testing.T) {
	t.Parallel()

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
		}

		srv := newProviderTestServer(t, handler)
		provider := newAnthropicTestProvider(srv.URL)

		_, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "anthropic", apiErr.Provider)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "authentication_error", apiErr.Type)
		assert.Equal(t, "invalid x-api-key", apiErr.Message)
		assert.Equal(t, int32(1), requests.Load(), "permanent error must not be retried")
	})

	t.Run("transient error retried then succeeds", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`))
				return
			}
			resp := anthropicTextResponse(`{"main_findings": "F", "innovations": "I", "limitations": "L", "future_directions": "D"}`)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}

		srv := newProviderTestServer(t, handler)
		provider := newAnthropicTestProvider(srv.URL)

		result, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.NoError(t, err)
		assert.Equal(t, "F", result.MainFindings)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"type": "error", "error": {"type": "api_error", "message": "boom"}}`))
		}

		srv := newProviderTestServer(t, handler)
		provider := newAnthropicTestProvider(srv.URL)

		_, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.Error(t, err)

		assert.Contains(t, err.Error(), "exhausted 2 retries")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		// Initial attempt plus two retries.
		assert.Equal(t, int32(3), requests.Load())
	})
}

func TestAnthropicProvider_Analyze_NoTextContent(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		resp := messagesResponse{
			ID:      "msg_1",
			Content: []contentBlock{{Type: "tool_use"}},
			Model:   "claude-sonnet-4-5",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newAnthropicTestProvider(srv.URL)

	_, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content blocks")
}

func TestAnthropicProvider_Translate(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		defer r.Body.Close()

		var reqBody messagesRequest
		require.NoError(t, json.Unmarshal(body, &reqBody))
		require.Len(t, reqBody.Messages, 1)
		assert.Contains(t, reqBody.Messages[0].Content, "into Chinese")
		assert.Contains(t, reqBody.Messages[0].Content, "Return only the translation")

		resp := anthropicTextResponse("  基因编辑恢复了肌营养不良蛋白的表达。\n")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newAnthropicTestProvider(srv.URL)

	got, err := provider.Translate(context.Background(), "Gene editing restored dystrophin expression.")
	require.NoError(t, err)
	assert.Equal(t, "基因编辑恢复了肌营养不良蛋白的表达。", got, "translation should be trimmed")
}

func TestAnthropicProvider_ContextCancelledDuringRetry(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	srv := newProviderTestServer(t, handler)
	provider := NewAnthropicProvider(Config{
		APIKey:     "test-api-key",
		BaseURL:    srv.URL,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Analyze(ctx, "T", "An abstract long enough to reach the API call path.")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewAnthropicProvider_Defaults(t *testing.T) {
	t.Parallel()

	p := NewAnthropicProvider(Config{APIKey: "k"})

	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, defaultAnthropicModel, p.Model())
	assert.Equal(t, defaultAnthropicBaseURL, p.baseURL)
	assert.Equal(t, defaultTargetLanguage, p.targetLanguage)
	assert.Equal(t, defaultRetryDelay, p.retryDelay)
}
