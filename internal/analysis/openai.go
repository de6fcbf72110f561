package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// Default values for the OpenAI provider.
const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"

	chatMaxTokens   = 1500
	chatTemperature = 0.5
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat specifies the output format for the API response.
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents the OpenAI Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatErrorResponse represents an error response from a chat completions API.
type chatErrorResponse struct {
	Error chatErrorDetail `json:"error"`
}

// chatErrorDetail contains error details from a chat completions API.
type chatErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIProvider analyzes papers through the OpenAI Chat Completions API.
// The same client serves any OpenAI-compatible endpoint; NewDeepSeekProvider
// builds one pointed at DeepSeek.
type OpenAIProvider struct {
	httpClient     *http.Client
	name           string
	apiKey         string
	model          string
	baseURL        string
	targetLanguage string
	maxRetries     int
	retryDelay     time.Duration
}

// NewOpenAIProvider creates a new OpenAI analysis provider. Zero-valued
// Config fields fall back to package defaults.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	cfg = cfg.applyDefaults()

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &OpenAIProvider{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		name:           "openai",
		apiKey:         cfg.APIKey,
		model:          model,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		targetLanguage: cfg.TargetLanguage,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
	}
}

// Analyze produces a structured analysis of a paper via the Chat
// Completions API. The request pins the response format to JSON and the
// completion is normalized into a domain.AnalysisResult. Transient API
// errors (429, 5xx, network) are retried with exponential backoff.
func (p *OpenAIProvider) Analyze(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error) {
	system, user := buildAnalysisPrompt(title, abstract, p.targetLanguage)

	content, err := p.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}

	return parseAnalysisContent(content), nil
}

// Translate translates text into the configured target language.
func (p *OpenAIProvider) Translate(ctx context.Context, text string) (string, error) {
	system, user := buildTranslationPrompt(text, p.targetLanguage)

	content, err := p.complete(ctx, system, user, false)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}

// Name returns the provider id.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the model identifier being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// complete sends one prompt through the Chat Completions API, retrying
// transient failures, and returns the completion content. jsonResponse
// requests a JSON-object response format; translations need plain text.
func (p *OpenAIProvider) complete(ctx context.Context, system, user string, jsonResponse bool) (string, error) {
	chatReq := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}
	if jsonResponse {
		chatReq.ResponseFormat = &responseFormat{
			Type: "json_object",
		}
	}

	var content string
	err := callWithRetry(ctx, p.name, p.maxRetries, p.retryDelay, func() error {
		var sendErr error
		content, sendErr = p.doRequest(ctx, chatReq)
		return sendErr
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

// doRequest performs a single API request to the Chat Completions endpoint.
func (p *OpenAIProvider) doRequest(ctx context.Context, chatReq chatRequest) (string, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal request: %w", p.name, err)
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: failed to create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are considered transient and eligible for retry.
		return "", &APIError{
			Provider:   p.name,
			StatusCode: 0,
			Message:    fmt.Sprintf("request failed: %v", err),
			Type:       "network_error",
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &APIError{
			Provider:   p.name,
			StatusCode: 0,
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Type:       "network_error",
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseChatAPIError(p.name, resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%s: failed to unmarshal response: %w", p.name, err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices in response", p.name)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// parseChatAPIError parses a chat completions API error from the response
// status code and body.
func parseChatAPIError(provider string, statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp chatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
