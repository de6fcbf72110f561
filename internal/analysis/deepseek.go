package analysis

// DeepSeek default endpoints. DeepSeek exposes an OpenAI-compatible Chat
// Completions API, so the provider is the OpenAI client with DeepSeek
// defaults and its own provider name.
const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultDeepSeekModel   = "deepseek-chat"
)

// NewDeepSeekProvider creates an analysis provider backed by the DeepSeek
// chat API.
func NewDeepSeekProvider(cfg Config) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepSeekBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepSeekModel
	}

	p := NewOpenAIProvider(cfg)
	p.name = "deepseek"
	return p
}
