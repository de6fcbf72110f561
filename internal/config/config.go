// Package config provides configuration management for the retrieval service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the retrieval service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Cache contains two-tier cache settings per namespace.
	Cache CacheConfig `mapstructure:"cache"`
	// Fetcher contains multi-source fetch settings.
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	// Sources contains paper source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Queue contains async task queue settings.
	Queue QueueConfig `mapstructure:"queue"`
	// Retrieval contains retrieval orchestrator settings.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	// Analysis contains analysis provider settings.
	Analysis AnalysisConfig `mapstructure:"analysis"`
	// Kafka contains Kafka publisher settings for retrieval events.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// CacheConfig holds two-tier cache configuration.
type CacheConfig struct {
	// Paper contains settings for the paper record namespace.
	Paper CacheNamespaceConfig `mapstructure:"paper"`
	// Search contains settings for the search result namespace.
	Search CacheNamespaceConfig `mapstructure:"search"`
	// Analysis contains settings for the analysis result namespace.
	Analysis CacheNamespaceConfig `mapstructure:"analysis"`
	// CleanupInterval is how often expired durable entries are swept.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CacheNamespaceConfig holds per-namespace cache settings.
type CacheNamespaceConfig struct {
	// TTL is how long entries stay valid in both tiers.
	TTL time.Duration `mapstructure:"ttl"`
	// MemoryCapacity is the maximum number of entries in the memory tier.
	MemoryCapacity int `mapstructure:"memory_capacity"`
}

// FetcherConfig holds multi-source fetch settings.
type FetcherConfig struct {
	// MaxWorkers caps concurrent source fetches. Zero selects
	// min(number of sources, max(2, NumCPU)).
	MaxWorkers int `mapstructure:"max_workers"`
}

// SourcesConfig holds configuration for all paper source APIs.
type SourcesConfig struct {
	// PubMed contains NCBI E-utilities API settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// ArXiv contains arXiv API settings.
	ArXiv SourceConfig `mapstructure:"arxiv"`
	// BioRxiv contains bioRxiv details API settings.
	BioRxiv SourceConfig `mapstructure:"biorxiv"`
	// MedRxiv contains medRxiv details API settings.
	MedRxiv SourceConfig `mapstructure:"medrxiv"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex SourceConfig `mapstructure:"openalex"`
}

// SourceConfig holds configuration for a single paper source API.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. SCHOLARSIFT_SOURCES_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// Email is the contact address sent to APIs with a polite pool (OpenAlex).
	Email string `mapstructure:"email"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-source fetch deadline.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// QueueConfig holds async task queue settings.
type QueueConfig struct {
	// Depth is the maximum number of queued tasks (default: 100).
	Depth int `mapstructure:"depth"`
	// Workers is the number of concurrent task workers (default: 2, at most 4).
	Workers int `mapstructure:"workers"`
	// Retention is how long terminal tasks stay queryable (default: 1h).
	Retention time.Duration `mapstructure:"retention"`
	// SweepInterval is how often terminal tasks past retention are removed.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetrievalConfig holds retrieval orchestrator settings.
type RetrievalConfig struct {
	// DefaultDaysBack is the recency window applied when a request does
	// not set one (default: 7).
	DefaultDaysBack int `mapstructure:"default_days_back"`
	// MaxAutoAnalyze caps the number of analysis tasks queued per
	// retrieval; papers beyond the cap stay unanalyzed until requested
	// again (default: 20).
	MaxAutoAnalyze int `mapstructure:"max_auto_analyze"`
	// BatchParallelism bounds concurrent retrievals in batch mode
	// (default: 4).
	BatchParallelism int `mapstructure:"batch_parallelism"`
}

// AnalysisConfig holds analysis provider settings.
type AnalysisConfig struct {
	// Enabled controls whether paper analysis runs at all.
	Enabled bool `mapstructure:"enabled"`
	// Provider is the analysis provider (anthropic, openai, deepseek).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for provider API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries (doubled per attempt).
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// TargetLanguage is the language abstracts are translated into.
	TargetLanguage string `mapstructure:"target_language"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// DeepSeek contains DeepSeek-specific settings.
	DeepSeek ProviderConfig `mapstructure:"deepseek"`
}

// ProviderConfig holds settings for a single analysis provider.
type ProviderConfig struct {
	// APIKey is the provider API key (loaded from environment variable,
	// e.g. SCHOLARSIFT_ANALYSIS_ANTHROPIC_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// KafkaConfig holds Kafka publisher settings for retrieval events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish retrieval events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("SCHOLARSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/retrieval-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	// Analysis provider API keys.
	cfg.Analysis.Anthropic.APIKey = os.Getenv("SCHOLARSIFT_ANALYSIS_ANTHROPIC_API_KEY")
	cfg.Analysis.OpenAI.APIKey = os.Getenv("SCHOLARSIFT_ANALYSIS_OPENAI_API_KEY")
	cfg.Analysis.DeepSeek.APIKey = os.Getenv("SCHOLARSIFT_ANALYSIS_DEEPSEEK_API_KEY")

	// Paper source API keys. arXiv, bioRxiv, and medRxiv are keyless.
	cfg.Sources.PubMed.APIKey = os.Getenv("SCHOLARSIFT_SOURCES_PUBMED_API_KEY")
	cfg.Sources.OpenAlex.APIKey = os.Getenv("SCHOLARSIFT_SOURCES_OPENALEX_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "scholarsift")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "retrieval_service")
	// Default to "require" for production security. Use SCHOLARSIFT_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Cache defaults. TTLs follow the retention windows of the upstream
	// literature APIs: paper metadata rarely changes (30d), search result
	// sets go stale quickly (48h), analysis output is stable (90d).
	v.SetDefault("cache.paper.ttl", "720h")
	v.SetDefault("cache.paper.memory_capacity", 3000)
	v.SetDefault("cache.search.ttl", "48h")
	v.SetDefault("cache.search.memory_capacity", 500)
	v.SetDefault("cache.analysis.ttl", "2160h")
	v.SetDefault("cache.analysis.memory_capacity", 1000)
	v.SetDefault("cache.cleanup_interval", "6h")

	// Fetcher defaults
	v.SetDefault("fetcher.max_workers", 0)

	// Paper sources defaults - PubMed
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "60s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("sources.pubmed.max_results", 100)

	// Paper sources defaults - arXiv
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "45s")
	v.SetDefault("sources.arxiv.rate_limit", 3.0) // arXiv recommends max 3 req/sec
	v.SetDefault("sources.arxiv.max_results", 100)

	// Paper sources defaults - bioRxiv
	v.SetDefault("sources.biorxiv.enabled", true)
	v.SetDefault("sources.biorxiv.base_url", "https://api.biorxiv.org")
	v.SetDefault("sources.biorxiv.timeout", "45s")
	v.SetDefault("sources.biorxiv.rate_limit", 5.0)
	v.SetDefault("sources.biorxiv.max_results", 100)

	// Paper sources defaults - medRxiv (served by the bioRxiv details API)
	v.SetDefault("sources.medrxiv.enabled", true)
	v.SetDefault("sources.medrxiv.base_url", "https://api.biorxiv.org")
	v.SetDefault("sources.medrxiv.timeout", "45s")
	v.SetDefault("sources.medrxiv.rate_limit", 5.0)
	v.SetDefault("sources.medrxiv.max_results", 100)

	// Paper sources defaults - OpenAlex
	v.SetDefault("sources.openalex.enabled", true)
	v.SetDefault("sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("sources.openalex.timeout", "45s")
	v.SetDefault("sources.openalex.rate_limit", 10.0)
	v.SetDefault("sources.openalex.max_results", 100)

	// Queue defaults
	v.SetDefault("queue.depth", 100)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.retention", "1h")
	v.SetDefault("queue.sweep_interval", "1h")

	// Retrieval defaults
	v.SetDefault("retrieval.default_days_back", 7)
	v.SetDefault("retrieval.max_auto_analyze", 20)
	v.SetDefault("retrieval.batch_parallelism", 4)

	// Analysis defaults
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.provider", "anthropic")
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.max_retries", 3)
	v.SetDefault("analysis.retry_delay", "2s")
	v.SetDefault("analysis.target_language", "zh")
	v.SetDefault("analysis.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("analysis.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("analysis.openai.model", "gpt-4o")
	v.SetDefault("analysis.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.deepseek.model", "deepseek-chat")
	v.SetDefault("analysis.deepseek.base_url", "https://api.deepseek.com/v1")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.retrieval_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate cache config
	for _, ns := range []struct {
		name string
		cfg  CacheNamespaceConfig
	}{
		{"paper", c.Cache.Paper},
		{"search", c.Cache.Search},
		{"analysis", c.Cache.Analysis},
	} {
		if ns.cfg.TTL <= 0 {
			return fmt.Errorf("cache %s TTL must be positive", ns.name)
		}
		if ns.cfg.MemoryCapacity <= 0 {
			return fmt.Errorf("cache %s memory capacity must be positive", ns.name)
		}
	}

	// Validate fetcher config
	if c.Fetcher.MaxWorkers < 0 {
		return fmt.Errorf("fetcher max_workers must not be negative")
	}

	// Validate enabled sources
	for _, src := range []struct {
		name string
		cfg  SourceConfig
	}{
		{"pubmed", c.Sources.PubMed},
		{"arxiv", c.Sources.ArXiv},
		{"biorxiv", c.Sources.BioRxiv},
		{"medrxiv", c.Sources.MedRxiv},
		{"openalex", c.Sources.OpenAlex},
	} {
		if !src.cfg.Enabled {
			continue
		}
		if src.cfg.BaseURL == "" {
			return fmt.Errorf("source %s base_url is required", src.name)
		}
		if src.cfg.Timeout <= 0 {
			return fmt.Errorf("source %s timeout must be positive", src.name)
		}
		if src.cfg.RateLimit <= 0 {
			return fmt.Errorf("source %s rate_limit must be positive", src.name)
		}
		if src.cfg.MaxResults <= 0 {
			return fmt.Errorf("source %s max_results must be positive", src.name)
		}
	}

	// Validate queue config
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue depth must be positive")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	if c.Queue.Workers > 4 {
		return fmt.Errorf("queue workers must not exceed 4")
	}
	if c.Queue.Retention <= 0 {
		return fmt.Errorf("queue retention must be positive")
	}

	// Validate retrieval config
	if c.Retrieval.DefaultDaysBack <= 0 {
		return fmt.Errorf("retrieval default_days_back must be positive")
	}
	if c.Retrieval.MaxAutoAnalyze < 0 {
		return fmt.Errorf("retrieval max_auto_analyze must not be negative")
	}
	if c.Retrieval.BatchParallelism <= 0 {
		return fmt.Errorf("retrieval batch_parallelism must be positive")
	}

	// Validate that the configured analysis provider has its required API key set.
	if c.Analysis.Enabled {
		switch strings.ToLower(c.Analysis.Provider) {
		case "anthropic":
			if c.Analysis.Anthropic.APIKey == "" {
				return fmt.Errorf("analysis provider %q requires SCHOLARSIFT_ANALYSIS_ANTHROPIC_API_KEY to be set", c.Analysis.Provider)
			}
		case "openai":
			if c.Analysis.OpenAI.APIKey == "" {
				return fmt.Errorf("analysis provider %q requires SCHOLARSIFT_ANALYSIS_OPENAI_API_KEY to be set", c.Analysis.Provider)
			}
		case "deepseek":
			if c.Analysis.DeepSeek.APIKey == "" {
				return fmt.Errorf("analysis provider %q requires SCHOLARSIFT_ANALYSIS_DEEPSEEK_API_KEY to be set", c.Analysis.Provider)
			}
		default:
			return fmt.Errorf("unknown analysis provider: %s", c.Analysis.Provider)
		}
	}

	return nil
}
