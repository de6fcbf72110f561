package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check.
var _ Provider = (*OpenAIProvider)(nil)

// newOpenAITestProvider creates an OpenAIProvider pointing at the given test
// server URL, with fast retries.
func newOpenAITestProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(Config{
		APIKey:         "sk-test-key",
		Model:          "gpt-4o",
		BaseURL:        baseURL,
		TargetLanguage: "zh",
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	})
}

// chatContentResponse builds a Chat Completions response carrying a single
// choice with the given content.
func chatContentResponse(content string) chatResponse {
	return chatResponse{
		ID: "chatcmpl-test123",
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{PromptTokens: 210, CompletionTokens: 80, TotalTokens: 290},
	}
}

func TestOpenAIProvider_Analyze(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		defer r.Body.Close()

		var reqBody chatRequest
		require.NoError(t, json.Unmarshal(body, &reqBody))

		assert.Equal(t, "gpt-4o", reqBody.Model)
		assert.Equal(t, chatMaxTokens, reqBody.MaxTokens)
		assert.InDelta(t, chatTemperature, reqBody.Temperature, 0.001)
		require.Len(t, reqBody.Messages, 2)
		assert.Equal(t, "system", reqBody.Messages[0].Role)
		assert.Equal(t, analysisSystemPrompt, reqBody.Messages[0].Content)
		assert.Equal(t, "user", reqBody.Messages[1].Role)
		assert.Contains(t, reqBody.Messages[1].Content, "Tumor microenvironment remodeling")
		require.NotNil(t, reqBody.ResponseFormat, "analysis requests pin the response format")
		assert.Equal(t, "json_object", reqBody.ResponseFormat.Type)

		resp := chatContentResponse(`{"main_findings": "TAM repolarization slows tumor growth", "innovations": "Nanoparticle-mediated CSF1R silencing", "limitations": "Subcutaneous models only", "future_directions": "Orthotopic and combination studies"}`)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newOpenAITestProvider(srv.URL)

	result, err := provider.Analyze(context.Background(),
		"Tumor microenvironment remodeling via CSF1R silencing",
		"We delivered siRNA against CSF1R to tumor-associated macrophages using lipid nanoparticles.")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "TAM repolarization slows tumor growth", result.MainFindings)
	assert.Equal(t, "Nanoparticle-mediated CSF1R silencing", result.Innovations)
	assert.Equal(t, "Subcutaneous models only", result.Limitations)
	assert.Equal(t, "Orthotopic and combination studies", result.FutureDirections)
}

func TestOpenAIProvider_Translate_PlainTextResponse(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		defer r.Body.Close()

		var reqBody chatRequest
		require.NoError(t, json.Unmarshal(body, &reqBody))
		assert.Nil(t, reqBody.ResponseFormat, "translations must not force a JSON response")
		require.Len(t, reqBody.Messages, 2)
		assert.Contains(t, reqBody.Messages[1].Content, "into Chinese")

		resp := chatContentResponse("脂质纳米颗粒递送siRNA以重塑肿瘤微环境。")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}

	srv := newProviderTestServer(t, handler)
	provider := newOpenAITestProvider(srv.URL)

	got, err := provider.Translate(context.Background(), "Lipid nanoparticles deliver siRNA to remodel the tumor microenvironment.")
	require.NoError(t, err)
	assert.Equal(t, "脂质纳米颗粒递送siRNA以重塑肿瘤微环境。", got)
}

func TestOpenAIProvider_APIError(t *testing.T) {
	t.Parallel()

	t.Run("error payload is parsed", func(t *testing.T) {
		t.Parallel()

		handler := func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "you must provide a model parameter", "type": "invalid_request_error", "code": "missing_model"}}`))
		}

		srv := newProviderTestServer(t, handler)
		provider := newOpenAITestProvider(srv.URL)

		_, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "openai", apiErr.Provider)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "you must provide a model parameter", apiErr.Message)
		assert.Equal(t, "invalid_request_error", apiErr.Type)
		assert.Equal(t, "missing_model", apiErr.Code)
	})

	t.Run("rate limit is retried", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": {"message": "rate limit", "type": "rate_limit_error"}}`))
				return
			}
			resp := chatContentResponse(`{"main_findings": "F", "innovations": "I", "limitations": "L", "future_directions": "D"}`)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}

		srv := newProviderTestServer(t, handler)
		provider := newOpenAITestProvider(srv.URL)

		result, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.NoError(t, err)
		assert.Equal(t, "F", result.MainFindings)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("empty choices", func(t *testing.T) {
		t.Parallel()

		handler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatResponse{ID: "chatcmpl-empty"})
		}

		srv := newProviderTestServer(t, handler)
		provider := newOpenAITestProvider(srv.URL)

		_, err := provider.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty choices")
	})
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	t.Parallel()

	p := NewOpenAIProvider(Config{APIKey: "k"})

	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, defaultOpenAIModel, p.Model())
	assert.Equal(t, defaultOpenAIBaseURL, p.baseURL)
}

func TestNewDeepSeekProvider(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		p := NewDeepSeekProvider(Config{APIKey: "k"})

		assert.Equal(t, "deepseek", p.Name())
		assert.Equal(t, defaultDeepSeekModel, p.Model())
		assert.Equal(t, defaultDeepSeekBaseURL, p.baseURL)
	})

	t.Run("errors carry the deepseek provider name", func(t *testing.T) {
		t.Parallel()

		handler := func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer ds-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"error": {"message": "insufficient balance", "type": "invalid_request_error"}}`))
		}

		srv := newProviderTestServer(t, handler)
		p := NewDeepSeekProvider(Config{
			APIKey:     "ds-key",
			BaseURL:    srv.URL,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		})

		_, err := p.Analyze(context.Background(), "T", "An abstract long enough to reach the API call path.")
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "deepseek", apiErr.Provider)
		assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
		assert.Equal(t, "insufficient balance", apiErr.Message)
	})
}
