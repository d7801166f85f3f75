package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/docket-sync/pkg/client"
	"github.com/Sternrassler/docket-sync/pkg/config"
	"github.com/Sternrassler/docket-sync/pkg/crawl"
	"github.com/Sternrassler/docket-sync/pkg/logging"
	"github.com/Sternrassler/docket-sync/pkg/metrics"
	"github.com/Sternrassler/docket-sync/pkg/ratelimit"
	"github.com/Sternrassler/docket-sync/pkg/report"
	"github.com/Sternrassler/docket-sync/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand(config.NewViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "docket-sync",
		Short:        "Incrementally mirror a regulations.gov docket into a local store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("api-key", "", "Provider API key (overrides env)")
	flags.String("base-url", v.GetString("api.base_url"), "Provider API root")
	flags.String("docket-id", "", "Docket to synchronize")
	flags.String("database-path", v.GetString("database.path"), "SQLite database path")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Bool("log-pretty", v.GetBool("log.pretty"), "Human-readable console logs")

	bindFlag(v, flags.Lookup("api-key"), "api.key")
	bindFlag(v, flags.Lookup("base-url"), "api.base_url")
	bindFlag(v, flags.Lookup("docket-id"), "docket.id")
	bindFlag(v, flags.Lookup("database-path"), "database.path")
	bindFlag(v, flags.Lookup("log-level"), "log.level")
	bindFlag(v, flags.Lookup("log-pretty"), "log.pretty")

	rootCmd.AddCommand(newSyncCommand(v), newPublishCommand(v))
	return rootCmd
}

func newSyncCommand(v *viper.Viper) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Crawl the docket until a listing page comes back empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.RequireAPI(); err != nil {
				return err
			}
			_, err = runSync(cmd.Context(), cfg, full)
			return err
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Ignore the saved watermark and crawl from the beginning")
	cmd.Flags().Int("max-passes", v.GetInt("crawl.max_passes"), "Stop after this many completed passes (0 = until empty page)")
	cmd.Flags().String("redis-addr", v.GetString("redis.addr"), "Redis address for a quota shared across processes")
	cmd.Flags().String("metrics-address", v.GetString("metrics.address"), "Serve /metrics on this address during the run")

	bindFlag(v, cmd.Flags().Lookup("max-passes"), "crawl.max_passes")
	bindFlag(v, cmd.Flags().Lookup("redis-addr"), "redis.addr")
	bindFlag(v, cmd.Flags().Lookup("metrics-address"), "metrics.address")
	return cmd
}

func newPublishCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Render all stored records as an HTML report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runPublish(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("output", v.GetString("report.output"), "Report file path")
	bindFlag(v, cmd.Flags().Lookup("output"), "report.output")
	return cmd
}

func bindFlag(v *viper.Viper, flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config.AppConfig, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.AppConfig{}, err
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		return config.AppConfig{}, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.LogLevel)
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	return cfg, nil
}

func runSync(ctx context.Context, cfg config.AppConfig, full bool) (crawl.Stats, error) {
	logger := logging.NewLogger("cli")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return crawl.Stats{}, err
	}
	defer st.Close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return crawl.Stats{}, err
	}
	defer closeLimiter()

	clientCfg := client.DefaultConfig(cfg.BaseURL, cfg.APIKey, limiter)
	clientCfg.MaxQuotaWait = cfg.MaxQuotaWait
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.Retry.InitialBackoff = cfg.InitialBackoff
	clientCfg.Retry.BackoffMultiplier = cfg.BackoffMultiplier
	clientCfg.Retry.MaxElapsed = cfg.RetryBudget

	fetcher, err := client.New(clientCfg)
	if err != nil {
		return crawl.Stats{}, fmt.Errorf("create client: %w", err)
	}
	defer fetcher.Close()

	loc, err := cfg.Location()
	if err != nil {
		return crawl.Stats{}, err
	}

	crawlCfg := crawl.DefaultConfig(cfg.BaseURL, cfg.DocketID)
	crawlCfg.Resource = cfg.Resource
	crawlCfg.PageSize = cfg.PageSize
	crawlCfg.Sort = cfg.Sort
	crawlCfg.Include = cfg.Include
	// an explicitly empty crawl.include turns the parameter off
	crawlCfg.NoInclude = cfg.Include == ""
	crawlCfg.Location = loc
	crawlCfg.Full = full
	crawlCfg.MaxPasses = cfg.MaxPasses

	crawler, err := crawl.New(fetcher, st, st, crawlCfg)
	if err != nil {
		return crawl.Stats{}, fmt.Errorf("create crawler: %w", err)
	}

	if cfg.MetricsAddress != "" {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddress); err != nil {
				logger.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	stats, err := crawler.Run(ctx)
	if err != nil {
		logger.Error().Err(err).
			Int("pages", stats.Pages).
			Int("records", stats.Records()).
			Msg("Crawl aborted")
		return stats, err
	}

	logger.Info().
		Int("pages", stats.Pages).
		Int("passes", stats.Passes).
		Int("created", stats.Created).
		Int("changed", stats.Changed).
		Int("unchanged", stats.Unchanged).
		Str("watermark", stats.Watermark).
		Msg("Crawl finished")
	return stats, nil
}

// newLimiter returns the Redis-backed quota when redis.addr is set and the
// in-process one otherwise.
func newLimiter(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (ratelimit.Limiter, func(), error) {
	quota := ratelimit.Quota{Limit: cfg.QuotaLimit, Window: cfg.QuotaWindow}

	if cfg.RedisAddr == "" {
		limiter, err := ratelimit.NewMemoryLimiter(quota)
		if err != nil {
			return nil, nil, err
		}
		return limiter, func() {}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis, quota shared across processes")

	limiter, err := ratelimit.NewRedisLimiter(redisClient, quotaName(cfg.APIKey), quota,
		log.With().Str("component", "quota").Logger())
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}
	return limiter, func() { redisClient.Close() }, nil
}

// quotaName identifies the quota of an API key without storing the key.
func quotaName(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key-" + hex.EncodeToString(sum[:8])
}

func runPublish(ctx context.Context, cfg config.AppConfig) error {
	if _, err := os.Stat(cfg.DatabasePath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("database %s does not exist; run sync first", cfg.DatabasePath)
	}

	st, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	title := "docket-sync report"
	if cfg.DocketID != "" {
		title = "Docket " + cfg.DocketID
	}

	_, err = report.Publish(ctx, st, cfg.ReportOutput, title)
	return err
}
