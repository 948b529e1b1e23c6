package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/runner"
	"github.com/masx-gsgi/flashpipe/internal/store"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

var (
	cfgFile string
	verbose bool
	runDate string
	runTier string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flashpipe",
		Short: "flashpipe — flashpoint news enrichment pipeline",
		Long: `flashpipe runs the daily batch pipeline over date-partitioned news tables:

  • fetch + extract article text for every unprocessed feed entry
  • enrich: language, English title, hostname, entities, geo, topics
  • deduplicate (exact hash + MinHash near-duplicates)
  • embed + cluster per flashpoint (tiers B/C)
  • summarize clusters (local extractive, or LLM on tier C)
  • score hotspots and dispatch alerts for the top clusters`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run",
		Long:  "Execute one batch run over the dated input tables: ingest, dedupe, cluster, summarize, score.",
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}

	cmd.Flags().StringVar(&runDate, "date", "", "target date YYYY-MM-DD (default: newest dated feed table)")
	cmd.Flags().StringVar(&runTier, "tier", "", "pipeline tier A, B or C (default: from config)")

	return cmd
}

// runPipeline executes the run command.
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tierValue := runTier
	if tierValue == "" {
		tierValue = cfg.Run.Tier
	}
	tier, err := types.ParseTier(tierValue)
	if err != nil {
		return err
	}

	var targetDate time.Time
	if runDate != "" {
		targetDate, err = time.Parse("2006-01-02", runDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", runDate)
		}
	}

	logger.Info("starting pipeline",
		"tier", tier,
		"date", runDate,
		"selection_limit", cfg.Run.SelectionLimit,
		"process_workers", cfg.Run.ProcessWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	st, err := store.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	r, err := runner.New(cfg, st, metrics, logger)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	defer r.Close()

	start := time.Now()
	run, err := r.Run(ctx, targetDate, tier)
	elapsed := time.Since(start)
	if err != nil {
		if run != nil {
			fmt.Printf("\n❌ Run %s failed after %s: %v\n", run.RunID, elapsed.Round(time.Millisecond), err)
		}
		return err
	}

	fmt.Printf("\n✅ Run %s complete in %s\n", run.RunID, elapsed.Round(time.Millisecond))
	fmt.Printf("   Target:    %s (tier %s)\n", run.TargetDate, run.Tier)
	fmt.Printf("   Entries:   %d selected, %d processed, %d failed\n",
		run.TotalEntries, run.ProcessedEntries, run.FailedEntries)
	fmt.Printf("   Dedupe:    %d skipped as duplicates\n", run.DedupeSkipped)
	fmt.Printf("   Clusters:  %d created\n", run.ClustersCreated)

	if run.TotalEntries == 0 {
		fmt.Println("\n💡 No unprocessed entries were found for the target date.")
		fmt.Println("   Entries qualify when flashpoint_id is set and content is still NULL.")
	}

	return nil
}

// sweepCmd creates the "sweep" subcommand.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail abandoned runs",
		Long:  "Mark RUNNING rows in processing_runs as FAILED when they exceeded the stale threshold.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := setupLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			st, err := store.Open(ctx, &cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			swept, err := st.SweepStaleRuns(ctx, cfg.Run.StaleAfter)
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d stale run(s) older than %s\n", swept, cfg.Run.StaleAfter)
			return nil
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Database:\n")
			fmt.Printf("  URL:                %s\n", redactDSN(cfg.Database.URL))
			fmt.Printf("  Max Open Conns:     %d\n", cfg.Database.MaxOpenConns)
			fmt.Printf("  Content Codec:      %s\n", cfg.Database.Codec)
			fmt.Printf("\nRun:\n")
			fmt.Printf("  Tier:               %s\n", cfg.Run.Tier)
			fmt.Printf("  Selection Limit:    %d\n", cfg.Run.SelectionLimit)
			fmt.Printf("  Stale After:        %s\n", cfg.Run.StaleAfter)
			fmt.Printf("  Process Workers:    %d\n", cfg.Run.ProcessWorkers)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Max Concurrent:     %d\n", cfg.Fetcher.MaxConcurrentFetches)
			fmt.Printf("  Per-Domain:         %d\n", cfg.Fetcher.PerDomainConcurrency)
			fmt.Printf("  Timeout:            %s\n", cfg.Fetcher.FetchTimeout())
			fmt.Printf("  Request Delay:      %s\n", cfg.Fetcher.RequestDelay())
			fmt.Printf("  Max Attempts:       %d\n", cfg.Fetcher.MaxAttempts)
			fmt.Printf("  Browser Fallback:   %v\n", cfg.Fetcher.BrowserEnabled)
			fmt.Printf("\nExtract:\n")
			fmt.Printf("  Min Content Length: %d\n", cfg.Extract.MinContentLength)
			fmt.Printf("  Max Images:         %d\n", cfg.Extract.MaxImages)
			fmt.Printf("\nDedupe:\n")
			fmt.Printf("  MinHash Perms:      %d\n", cfg.Dedupe.NumPerm)
			fmt.Printf("  Threshold:          %.2f\n", cfg.Dedupe.Threshold)
			fmt.Printf("  Shingle Size:       %d\n", cfg.Dedupe.ShingleSize)
			fmt.Printf("\nEmbedding:\n")
			fmt.Printf("  Provider:           %s\n", cfg.Embedding.Provider)
			fmt.Printf("  Model:              %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimension:          %d\n", cfg.Embedding.Dimension)
			fmt.Printf("  Batch Size:         %d\n", cfg.Embedding.BatchSize)
			fmt.Printf("\nCluster:\n")
			fmt.Printf("  kNN K:              %d\n", cfg.Cluster.KNNK)
			fmt.Printf("  Cosine Threshold:   %.2f\n", cfg.Cluster.CosineThreshold)
			fmt.Printf("\nOracle:\n")
			fmt.Printf("  Provider:           %s\n", cfg.Oracle.Provider)
			fmt.Printf("  Model:              %s\n", cfg.Oracle.Model)
			fmt.Printf("  API Key:            %s\n", setOrNot(cfg.Oracle.APIKey))
			fmt.Printf("  RPM Limit:          %d\n", cfg.Oracle.RPMLimit)
			fmt.Printf("  Fallback Provider:  %s\n", cfg.Oracle.FallbackProvider)
			fmt.Printf("  Premium Top %%:      %.0f%%\n", cfg.Oracle.PremiumTopPct*100)
			fmt.Printf("\nAlert:\n")
			fmt.Printf("  Mode:               %s\n", cfg.Alert.Mode)
			fmt.Printf("  Top K:              %d\n", cfg.Alert.TopK)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Addr:               %s\n", cfg.Metrics.Addr)
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flashpipe %s\n", config.Version)
		},
	}
}

// setupLogger creates the structured logger from config; --verbose forces
// debug level.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(os.Stderr, level, cfg.Logging.Format)
}

// redactDSN hides the password of a connection URL for display.
func redactDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "(set)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func setOrNot(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
