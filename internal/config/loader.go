package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the bare environment variable names the
// pipeline recognizes. These are bound explicitly so deployments keep using
// the documented names without any prefix.
var envBindings = map[string]string{
	"database.url":                   "DATABASE_URL",
	"run.tier":                       "PIPELINE_TIER",
	"fetcher.max_concurrent_fetches": "MAX_CONCURRENT_FETCHES",
	"fetcher.per_domain_concurrency": "PER_DOMAIN_CONCURRENCY",
	"fetcher.fetch_timeout_seconds":  "FETCH_TIMEOUT_SECONDS",
	"fetcher.request_delay_seconds":  "REQUEST_DELAY_SECONDS",
	"fetcher.browser_enabled":        "PLAYWRIGHT_ENABLED",
	"extract.min_content_length":     "MIN_CONTENT_LENGTH",
	"dedupe.minhash_threshold":       "MINHASH_THRESHOLD",
	"dedupe.minhash_num_perm":        "MINHASH_NUM_PERM",
	"cluster.cosine_threshold":       "CLUSTER_COSINE_THRESHOLD",
	"cluster.knn_k":                  "CLUSTER_KNN_K",
	"embedding.batch_size":           "EMBEDDING_BATCH_SIZE",
	"embedding.model":                "EMBEDDING_MODEL",
	"summarize.local_workers":        "LOCAL_SUMMARIZER_WORKERS",
	"oracle.provider":                "LLM_PROVIDER",
	"oracle.api_key":                 "LLM_API_KEY",
	"oracle.base_url":                "LLM_BASE_URL",
	"oracle.model":                   "LLM_MODEL",
	"oracle.rpm_limit":               "LLM_RPM_LIMIT",
	"oracle.fallback_provider":       "LLM_PROVIDER_FALLBACK",
	"oracle.fallback_api_key":        "LLM_FALLBACK_API_KEY",
	"oracle.fallback_base_url":       "LLM_FALLBACK_BASE_URL",
	"oracle.fallback_model":          "LLM_FALLBACK_MODEL",
	"oracle.premium_top_pct":         "PREMIUM_LLM_TOP_PCT",
	"alert.top_k":                    "ALERT_TOP_K",
	"alert.webhook_url":              "ALERT_WEBHOOK_URL",
	"logging.level":                  "LOG_LEVEL",
	"logging.format":                 "LOG_FORMAT",
	"metrics.addr":                   "METRICS_ADDR",
}

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support: documented bare names first, then the
	// FLASHPIPE_* prefix for everything else.
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	v.SetEnvPrefix("FLASHPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("flashpipe")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".flashpipe"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.codec", cfg.Database.Codec)

	v.SetDefault("run.tier", cfg.Run.Tier)
	v.SetDefault("run.selection_limit", cfg.Run.SelectionLimit)
	v.SetDefault("run.stale_after", cfg.Run.StaleAfter)
	v.SetDefault("run.process_workers", cfg.Run.ProcessWorkers)

	v.SetDefault("fetcher.max_concurrent_fetches", cfg.Fetcher.MaxConcurrentFetches)
	v.SetDefault("fetcher.per_domain_concurrency", cfg.Fetcher.PerDomainConcurrency)
	v.SetDefault("fetcher.fetch_timeout_seconds", cfg.Fetcher.FetchTimeoutSeconds)
	v.SetDefault("fetcher.request_delay_seconds", cfg.Fetcher.RequestDelaySeconds)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.user_agent", cfg.Fetcher.UserAgent)
	v.SetDefault("fetcher.accept_language", cfg.Fetcher.AcceptLanguage)
	v.SetDefault("fetcher.breaker_failures", cfg.Fetcher.BreakerFailures)
	v.SetDefault("fetcher.breaker_cooldown", cfg.Fetcher.BreakerCooldown)
	v.SetDefault("fetcher.max_attempts", cfg.Fetcher.MaxAttempts)
	v.SetDefault("fetcher.retry_base_wait", cfg.Fetcher.RetryBaseWait)
	v.SetDefault("fetcher.browser_enabled", cfg.Fetcher.BrowserEnabled)
	v.SetDefault("fetcher.browser_timeout", cfg.Fetcher.BrowserTimeout)

	v.SetDefault("extract.min_content_length", cfg.Extract.MinContentLength)
	v.SetDefault("extract.max_images", cfg.Extract.MaxImages)

	v.SetDefault("enrich.ner_endpoint", cfg.Enrich.NEREndpoint)
	v.SetDefault("enrich.ner_model", cfg.Enrich.NERModel)
	v.SetDefault("enrich.translator_endpoint", cfg.Enrich.TranslatorEndpoint)
	v.SetDefault("enrich.topics_enabled", cfg.Enrich.TopicsEnabled)

	v.SetDefault("dedupe.minhash_num_perm", cfg.Dedupe.NumPerm)
	v.SetDefault("dedupe.minhash_threshold", cfg.Dedupe.Threshold)
	v.SetDefault("dedupe.shingle_size", cfg.Dedupe.ShingleSize)

	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.dimension", cfg.Embedding.Dimension)
	v.SetDefault("embedding.batch_size", cfg.Embedding.BatchSize)
	v.SetDefault("embedding.endpoint", cfg.Embedding.Endpoint)

	v.SetDefault("cluster.knn_k", cfg.Cluster.KNNK)
	v.SetDefault("cluster.cosine_threshold", cfg.Cluster.CosineThreshold)

	v.SetDefault("summarize.local_workers", cfg.Summarize.LocalWorkers)
	v.SetDefault("summarize.max_stub_tokens", cfg.Summarize.MaxStubTokens)

	v.SetDefault("oracle.provider", cfg.Oracle.Provider)
	v.SetDefault("oracle.base_url", cfg.Oracle.BaseURL)
	v.SetDefault("oracle.model", cfg.Oracle.Model)
	v.SetDefault("oracle.rpm_limit", cfg.Oracle.RPMLimit)
	v.SetDefault("oracle.fallback_provider", cfg.Oracle.FallbackProvider)
	v.SetDefault("oracle.fallback_base_url", cfg.Oracle.FallbackBaseURL)
	v.SetDefault("oracle.fallback_model", cfg.Oracle.FallbackModel)
	v.SetDefault("oracle.premium_top_pct", cfg.Oracle.PremiumTopPct)
	v.SetDefault("oracle.premium_model", cfg.Oracle.PremiumModel)

	v.SetDefault("score.weight_member_count", cfg.Score.WeightMemberCount)
	v.SetDefault("score.weight_domain_diversity", cfg.Score.WeightDomainDiversity)
	v.SetDefault("score.weight_language_diversity", cfg.Score.WeightLanguageDiversity)
	v.SetDefault("score.weight_burstiness", cfg.Score.WeightBurstiness)

	v.SetDefault("alert.mode", cfg.Alert.Mode)
	v.SetDefault("alert.top_k", cfg.Alert.TopK)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
