// Package analysis provides AI-backed paper analysis for the retrieval
// service.
//
// A Provider turns a paper's title and abstract into a structured
// AnalysisResult (main findings, innovations, limitations, future
// directions) and translates abstracts into the configured target
// language. Providers are resolved through a Registry keyed by provider
// id, so adding a provider means registering a factory rather than
// growing a dispatch chain. The Analyzer sits on top of a Provider and
// the analysis cache namespace: it serves repeated papers from cache,
// answers short abstracts deterministically without an API call, and
// normalizes every provider response into the typed domain shape.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// Default values applied by factories when the Config leaves them zero.
const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second

	// defaultTargetLanguage is the language abstracts are translated into
	// and analysis fields are written in.
	defaultTargetLanguage = "zh"
)

// Provider defines the interface for AI-backed paper analysis.
//
// Implementations own their provider-specific API calls, authentication,
// retry policy and response parsing. Every response is normalized into
// the typed domain.AnalysisResult before it leaves the provider.
type Provider interface {
	// Analyze produces a structured analysis of a paper from its title
	// and abstract. The context should be used for cancellation and
	// deadline propagation.
	Analyze(ctx context.Context, title, abstract string) (*domain.AnalysisResult, error)

	// Translate translates the given text into the provider's configured
	// target language and returns the bare translation.
	Translate(ctx context.Context, text string) (string, error)

	// Name returns the provider id (e.g., "anthropic", "openai", "deepseek").
	Name() string

	// Model returns the model identifier being used.
	Model() string
}

// Config holds the parameters a factory needs to construct a Provider.
// It is defined in the analysis package to avoid importing the config
// package, keeping providers free of infrastructure dependencies.
type Config struct {
	// APIKey is the provider API key.
	APIKey string
	// Model is the model identifier (empty means the provider default).
	Model string
	// BaseURL is the API base URL (empty means the provider default).
	BaseURL string
	// TargetLanguage is the translation target (empty means "zh").
	TargetLanguage string
	// Timeout is the HTTP client timeout for API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for transient errors.
	MaxRetries int
	// RetryDelay is the base delay between retries, doubled per attempt.
	RetryDelay time.Duration
}

// applyDefaults fills zero values with package defaults.
func (c Config) applyDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = defaultTargetLanguage
	}
	return c
}

// Factory constructs a Provider from a Config.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider ids to factories. It replaces a hard-coded
// provider switch: resolving a provider is a map lookup, and adding one
// is a Register call.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given provider id, replacing any
// factory previously registered under the same id.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// New constructs a Provider for the given id. It returns an error
// wrapping ErrUnknownProvider when no factory is registered for the id.
func (r *Registry) New(id string, cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProvider, id, r.IDs())
	}
	return factory(cfg)
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultRegistry returns a registry with the built-in providers
// (anthropic, openai, deepseek) registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("anthropic", func(cfg Config) (Provider, error) {
		return NewAnthropicProvider(cfg), nil
	})
	r.Register("openai", func(cfg Config) (Provider, error) {
		return NewOpenAIProvider(cfg), nil
	})
	r.Register("deepseek", func(cfg Config) (Provider, error) {
		return NewDeepSeekProvider(cfg), nil
	})
	return r
}
