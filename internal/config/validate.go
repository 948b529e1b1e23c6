package config

import (
	"fmt"
	"math"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (DATABASE_URL)")
	}
	if cfg.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be >= 1, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.Codec != "gzip" && cfg.Database.Codec != "none" {
		return fmt.Errorf("database.codec must be 'gzip' or 'none', got %q", cfg.Database.Codec)
	}

	switch cfg.Run.Tier {
	case "A", "B", "C", "a", "b", "c":
	default:
		return fmt.Errorf("run.tier must be A, B or C, got %q", cfg.Run.Tier)
	}
	if cfg.Run.SelectionLimit < 1 {
		return fmt.Errorf("run.selection_limit must be >= 1, got %d", cfg.Run.SelectionLimit)
	}
	if cfg.Run.StaleAfter <= 0 {
		return fmt.Errorf("run.stale_after must be > 0")
	}
	if cfg.Run.ProcessWorkers < 1 {
		return fmt.Errorf("run.process_workers must be >= 1, got %d", cfg.Run.ProcessWorkers)
	}

	if cfg.Fetcher.MaxConcurrentFetches < 1 {
		return fmt.Errorf("fetcher.max_concurrent_fetches must be >= 1, got %d", cfg.Fetcher.MaxConcurrentFetches)
	}
	if cfg.Fetcher.PerDomainConcurrency < 1 {
		return fmt.Errorf("fetcher.per_domain_concurrency must be >= 1, got %d", cfg.Fetcher.PerDomainConcurrency)
	}
	if cfg.Fetcher.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.fetch_timeout_seconds must be > 0")
	}
	if cfg.Fetcher.RequestDelaySeconds < 0 {
		return fmt.Errorf("fetcher.request_delay_seconds must be >= 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("fetcher.max_attempts must be >= 1, got %d", cfg.Fetcher.MaxAttempts)
	}
	if cfg.Fetcher.BreakerFailures < 1 {
		return fmt.Errorf("fetcher.breaker_failures must be >= 1, got %d", cfg.Fetcher.BreakerFailures)
	}

	if cfg.Extract.MinContentLength < 1 {
		return fmt.Errorf("extract.min_content_length must be >= 1, got %d", cfg.Extract.MinContentLength)
	}

	if cfg.Dedupe.NumPerm < 8 {
		return fmt.Errorf("dedupe.minhash_num_perm must be >= 8, got %d", cfg.Dedupe.NumPerm)
	}
	if cfg.Dedupe.Threshold <= 0 || cfg.Dedupe.Threshold > 1 {
		return fmt.Errorf("dedupe.minhash_threshold must be in (0,1], got %v", cfg.Dedupe.Threshold)
	}
	if cfg.Dedupe.ShingleSize < 1 {
		return fmt.Errorf("dedupe.shingle_size must be >= 1, got %d", cfg.Dedupe.ShingleSize)
	}

	if cfg.Embedding.Provider != "local" && cfg.Embedding.Provider != "http" {
		return fmt.Errorf("embedding.provider must be 'local' or 'http', got %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Provider == "http" && cfg.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required when embedding.provider is 'http'")
	}
	if cfg.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be >= 1, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size must be >= 1, got %d", cfg.Embedding.BatchSize)
	}

	if cfg.Cluster.KNNK < 1 {
		return fmt.Errorf("cluster.knn_k must be >= 1, got %d", cfg.Cluster.KNNK)
	}
	if cfg.Cluster.CosineThreshold <= 0 || cfg.Cluster.CosineThreshold > 1 {
		return fmt.Errorf("cluster.cosine_threshold must be in (0,1], got %v", cfg.Cluster.CosineThreshold)
	}

	if cfg.Summarize.LocalWorkers < 1 {
		return fmt.Errorf("summarize.local_workers must be >= 1, got %d", cfg.Summarize.LocalWorkers)
	}

	if cfg.Oracle.RPMLimit < 1 {
		return fmt.Errorf("oracle.rpm_limit must be >= 1, got %d", cfg.Oracle.RPMLimit)
	}
	if cfg.Oracle.PremiumTopPct < 0 || cfg.Oracle.PremiumTopPct > 1 {
		return fmt.Errorf("oracle.premium_top_pct must be in [0,1], got %v", cfg.Oracle.PremiumTopPct)
	}

	weights := cfg.Score.WeightMemberCount + cfg.Score.WeightDomainDiversity +
		cfg.Score.WeightLanguageDiversity + cfg.Score.WeightBurstiness
	if math.Abs(weights-1.0) > 0.001 {
		return fmt.Errorf("score weights must sum to 1.0, got %v", weights)
	}
	for _, w := range []float64{
		cfg.Score.WeightMemberCount, cfg.Score.WeightDomainDiversity,
		cfg.Score.WeightLanguageDiversity, cfg.Score.WeightBurstiness,
	} {
		if w < 0 {
			return fmt.Errorf("score weights must be >= 0, got %v", w)
		}
	}

	switch cfg.Alert.Mode {
	case "none", "webhook", "slack":
	default:
		return fmt.Errorf("alert.mode must be none/webhook/slack, got %q", cfg.Alert.Mode)
	}
	if cfg.Alert.Mode != "none" {
		if cfg.Alert.WebhookURL == "" {
			return fmt.Errorf("alert.webhook_url is required when alert.mode is %q", cfg.Alert.Mode)
		}
		if _, err := url.Parse(cfg.Alert.WebhookURL); err != nil {
			return fmt.Errorf("invalid alert.webhook_url: %w", err)
		}
	}
	if cfg.Alert.TopK < 0 {
		return fmt.Errorf("alert.top_k must be >= 0, got %d", cfg.Alert.TopK)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
