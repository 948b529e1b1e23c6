package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for flashpipe.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"  yaml:"database"`
	Run       RunConfig       `mapstructure:"run"       yaml:"run"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Extract   ExtractConfig   `mapstructure:"extract"   yaml:"extract"`
	Enrich    EnrichConfig    `mapstructure:"enrich"    yaml:"enrich"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"    yaml:"dedupe"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Cluster   ClusterConfig   `mapstructure:"cluster"   yaml:"cluster"`
	Summarize SummarizeConfig `mapstructure:"summarize" yaml:"summarize"`
	Oracle    OracleConfig    `mapstructure:"oracle"    yaml:"oracle"`
	Score     ScoreConfig     `mapstructure:"score"     yaml:"score"`
	Alert     AlertConfig     `mapstructure:"alert"     yaml:"alert"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// DatabaseConfig controls the Postgres connection.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               yaml:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Codec           string        `mapstructure:"codec"             yaml:"codec"` // gzip, none
}

// RunConfig controls the run controller.
type RunConfig struct {
	Tier           string        `mapstructure:"tier"            yaml:"tier"`
	SelectionLimit int           `mapstructure:"selection_limit" yaml:"selection_limit"`
	StaleAfter     time.Duration `mapstructure:"stale_after"     yaml:"stale_after"`
	ProcessWorkers int           `mapstructure:"process_workers" yaml:"process_workers"`
}

// FetcherConfig controls fetching and admission.
type FetcherConfig struct {
	MaxConcurrentFetches int     `mapstructure:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`
	PerDomainConcurrency int     `mapstructure:"per_domain_concurrency" yaml:"per_domain_concurrency"`
	FetchTimeoutSeconds  int     `mapstructure:"fetch_timeout_seconds"  yaml:"fetch_timeout_seconds"`
	RequestDelaySeconds  float64 `mapstructure:"request_delay_seconds"  yaml:"request_delay_seconds"`
	MaxBodySize          int64   `mapstructure:"max_body_size"          yaml:"max_body_size"`
	MaxRedirects         int     `mapstructure:"max_redirects"          yaml:"max_redirects"`
	UserAgent            string  `mapstructure:"user_agent"             yaml:"user_agent"`
	AcceptLanguage       string  `mapstructure:"accept_language"        yaml:"accept_language"`

	// Circuit breaker.
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`

	// Retry policy.
	MaxAttempts   int           `mapstructure:"max_attempts"    yaml:"max_attempts"`
	RetryBaseWait time.Duration `mapstructure:"retry_base_wait" yaml:"retry_base_wait"`

	// Headless browser fallback for js_required pages.
	BrowserEnabled bool          `mapstructure:"browser_enabled" yaml:"browser_enabled"`
	BrowserTimeout time.Duration `mapstructure:"browser_timeout" yaml:"browser_timeout"`
}

// FetchTimeout returns the per-request timeout as a duration.
func (f FetcherConfig) FetchTimeout() time.Duration {
	return time.Duration(f.FetchTimeoutSeconds) * time.Second
}

// RequestDelay returns the polite post-fetch delay as a duration.
func (f FetcherConfig) RequestDelay() time.Duration {
	return time.Duration(f.RequestDelaySeconds * float64(time.Second))
}

// ExtractConfig controls the extraction cascade.
type ExtractConfig struct {
	MinContentLength int `mapstructure:"min_content_length" yaml:"min_content_length"`
	MaxImages        int `mapstructure:"max_images"         yaml:"max_images"`
}

// EnrichConfig controls the enrichment chain.
type EnrichConfig struct {
	NEREndpoint        string `mapstructure:"ner_endpoint"        yaml:"ner_endpoint"`
	NERModel           string `mapstructure:"ner_model"           yaml:"ner_model"`
	TranslatorEndpoint string `mapstructure:"translator_endpoint" yaml:"translator_endpoint"`
	TopicsEnabled      bool   `mapstructure:"topics_enabled"      yaml:"topics_enabled"`
}

// DedupeConfig controls exact + near duplicate detection.
type DedupeConfig struct {
	NumPerm     int     `mapstructure:"minhash_num_perm"  yaml:"minhash_num_perm"`
	Threshold   float64 `mapstructure:"minhash_threshold" yaml:"minhash_threshold"`
	ShingleSize int     `mapstructure:"shingle_size"      yaml:"shingle_size"`
}

// EmbeddingConfig controls the embedder.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"   yaml:"provider"` // local, http
	Model     string `mapstructure:"model"      yaml:"model"`
	Dimension int    `mapstructure:"dimension"  yaml:"dimension"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint"`
	APIKey    string `mapstructure:"api_key"    yaml:"api_key"`
}

// ClusterConfig controls per-flashpoint clustering.
type ClusterConfig struct {
	KNNK            int     `mapstructure:"knn_k"            yaml:"knn_k"`
	CosineThreshold float64 `mapstructure:"cosine_threshold" yaml:"cosine_threshold"`
}

// SummarizeConfig controls the local extractive stage.
type SummarizeConfig struct {
	LocalWorkers  int `mapstructure:"local_workers"   yaml:"local_workers"`
	MaxStubTokens int `mapstructure:"max_stub_tokens" yaml:"max_stub_tokens"`
}

// OracleConfig controls the LLM summarization service.
type OracleConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key"  yaml:"api_key"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Model    string `mapstructure:"model"    yaml:"model"`
	RPMLimit int    `mapstructure:"rpm_limit" yaml:"rpm_limit"`

	FallbackProvider string `mapstructure:"fallback_provider" yaml:"fallback_provider"`
	FallbackAPIKey   string `mapstructure:"fallback_api_key"  yaml:"fallback_api_key"`
	FallbackBaseURL  string `mapstructure:"fallback_base_url" yaml:"fallback_base_url"`
	FallbackModel    string `mapstructure:"fallback_model"    yaml:"fallback_model"`

	PremiumTopPct float64 `mapstructure:"premium_top_pct" yaml:"premium_top_pct"`
	PremiumModel  string  `mapstructure:"premium_model"   yaml:"premium_model"`
}

// ScoreConfig controls hotspot scoring weights.
type ScoreConfig struct {
	WeightMemberCount       float64 `mapstructure:"weight_member_count"        yaml:"weight_member_count"`
	WeightDomainDiversity   float64 `mapstructure:"weight_domain_diversity"    yaml:"weight_domain_diversity"`
	WeightLanguageDiversity float64 `mapstructure:"weight_language_diversity"  yaml:"weight_language_diversity"`
	WeightBurstiness        float64 `mapstructure:"weight_burstiness"          yaml:"weight_burstiness"`
}

// AlertConfig controls hotspot alert dispatch.
type AlertConfig struct {
	Mode       string `mapstructure:"mode"        yaml:"mode"` // none, webhook, slack
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	TopK       int    `mapstructure:"top_k"       yaml:"top_k"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json, console
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			Codec:           "gzip",
		},
		Run: RunConfig{
			Tier:           "A",
			SelectionLimit: 10000,
			StaleAfter:     2 * time.Hour,
			ProcessWorkers: 16,
		},
		Fetcher: FetcherConfig{
			MaxConcurrentFetches: 50,
			PerDomainConcurrency: 3,
			FetchTimeoutSeconds:  30,
			RequestDelaySeconds:  0.25,
			MaxBodySize:          10 * 1024 * 1024, // 10MB
			MaxRedirects:         10,
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage:       "en-US,en;q=0.9",
			BreakerFailures:      5,
			BreakerCooldown:      5 * time.Minute,
			MaxAttempts:          4,
			RetryBaseWait:        500 * time.Millisecond,
			BrowserEnabled:       false,
			BrowserTimeout:       45 * time.Second,
		},
		Extract: ExtractConfig{
			MinContentLength: 250,
			MaxImages:        5,
		},
		Enrich: EnrichConfig{
			NERModel:      "heuristic-v1",
			TopicsEnabled: false,
		},
		Dedupe: DedupeConfig{
			NumPerm:     128,
			Threshold:   0.8,
			ShingleSize: 5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "all-MiniLM-L6-v2",
			Dimension: 384,
			BatchSize: 64,
		},
		Cluster: ClusterConfig{
			KNNK:            10,
			CosineThreshold: 0.65,
		},
		Summarize: SummarizeConfig{
			LocalWorkers:  8,
			MaxStubTokens: 80,
		},
		Oracle: OracleConfig{
			Provider:         "together",
			BaseURL:          "https://api.together.xyz/v1",
			Model:            "meta-llama/Llama-3.2-3B-Instruct-Turbo",
			RPMLimit:         600,
			FallbackProvider: "mistral",
			FallbackBaseURL:  "https://api.mistral.ai/v1",
			FallbackModel:    "mistral-small-latest",
			PremiumTopPct:    0.10,
		},
		Score: ScoreConfig{
			WeightMemberCount:       0.40,
			WeightDomainDiversity:   0.25,
			WeightLanguageDiversity: 0.15,
			WeightBurstiness:        0.20,
		},
		Alert: AlertConfig{
			Mode: "none",
			TopK: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}
