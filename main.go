package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-trading-engine/config"
	"crypto-trading-engine/internal/ai"
	"crypto-trading-engine/internal/api"
	"crypto-trading-engine/internal/autopilot"
	"crypto-trading-engine/internal/cache"
	"crypto-trading-engine/internal/confluence"
	"crypto-trading-engine/internal/execution"
	"crypto-trading-engine/internal/logging"
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/marketdata"
	"crypto-trading-engine/internal/ml"
	"crypto-trading-engine/internal/screener"
	"crypto-trading-engine/internal/store"
	"crypto-trading-engine/internal/stream"
	"crypto-trading-engine/internal/vault"
	"crypto-trading-engine/internal/venue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Output:  cfg.Logging.Output,
	})
	logger.Info().Msg("Starting crypto trading engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credentials: Vault when enabled, config values otherwise
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
		TLSEnabled: cfg.Vault.TLSEnabled,
		CACert:     cfg.Vault.CACert,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create vault client")
	}
	apiKey, secretKey := cfg.Binance.APIKey, cfg.Binance.SecretKey
	if cfg.Vault.Enabled {
		if creds, err := vaultClient.GetCredentials(ctx, "system", "binance", cfg.Binance.TestNet); err == nil {
			apiKey, secretKey = creds.APIKey, creds.SecretKey
		} else {
			logger.Warn().Err(err).Msg("Vault credentials unavailable, using config values")
		}
	}

	// Venue chain: Binance primary, OKX secondary, synthetic last resort
	binanceClient := venue.NewBinanceClient(apiKey, secretKey, cfg.Binance.TestNet)
	venues := []venue.Client{binanceClient}
	if cfg.OKX.Enabled {
		venues = append(venues, venue.NewOKXClient())
	}
	synthetic := venue.NewSyntheticClient()

	// Stream tier
	var streams *stream.Manager
	if cfg.Stream.Enabled {
		streams = stream.NewManager(cfg.Stream.URL, logger)
		defer streams.Close()
	}

	// Persisted cache tier
	var persisted *cache.RedisStore
	if cfg.Redis.Enabled {
		persisted, err = cache.NewRedisStore(cache.RedisConfig{
			Enabled:  true,
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTLSec:   cfg.Redis.TTLSec,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, running without persisted cache")
			persisted = nil
		}
	}

	mdConfig := marketdata.DefaultConfig()
	mdConfig.LocalTTL = config.DurationSec(cfg.Market.LocalTTLSec, mdConfig.LocalTTL)
	mdConfig.BackoffWindow = config.DurationSec(cfg.Market.BackoffWindowSec, mdConfig.BackoffWindow)
	mdConfig.FetchTimeout = config.DurationSec(cfg.Market.FetchTimeoutSec, mdConfig.FetchTimeout)
	mdConfig.LogInterval = config.DurationSec(cfg.Market.LogIntervalSec, mdConfig.LogInterval)
	if cfg.Market.LocalMaxEntries > 0 {
		mdConfig.LocalMaxEntries = cfg.Market.LocalMaxEntries
	}
	if cfg.Market.MaxPerSecond > 0 {
		mdConfig.MaxPerSecond = cfg.Market.MaxPerSecond
	}
	aggregator := marketdata.New(mdConfig, venues, synthetic, streams, persisted, logger)

	// Settings store: PostgreSQL when configured, in-memory otherwise
	var settings store.SettingsStore
	if cfg.Database.Enabled {
		pg, err := store.NewPostgresStore(ctx, store.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Database unavailable, using in-memory settings")
			settings = store.NewMemoryStore()
		} else {
			settings = pg
		}
	} else {
		settings = store.NewMemoryStore()
	}
	defer settings.Close()

	// Candidate screener
	var scr screener.Screener
	if cfg.Screener.Dynamic {
		scr = screener.NewVolumeScreener(binanceClient.Futures(), cfg.Screener.MinQuoteVolume, logger)
	} else {
		scr = screener.NewStaticScreener(cfg.Screener.Symbols)
	}

	// External AI review, disabled unless providers are configured
	var evaluator ai.Evaluator = ai.NewDisabledEvaluator()
	if len(cfg.AI.Providers) > 0 {
		providers := make([]ai.Provider, 0, len(cfg.AI.Providers))
		for _, p := range cfg.AI.Providers {
			providers = append(providers, ai.Provider{Name: p.Name, URL: p.URL, APIKey: p.APIKey})
		}
		evaluator = ai.NewHTTPEvaluator(&ai.HTTPEvaluatorConfig{
			Providers: providers,
			MinScore:  cfg.AI.MinScore,
			Timeout:   config.DurationSec(cfg.AI.TimeoutSec, 20*time.Second),
		}, logger)
	}

	executor := execution.NewDryRunExecutor(logger)
	model := ml.NewModel(nil)
	engine := confluence.NewEngine()
	analyzer := autopilot.NewAnalyzer(aggregator, engine, logger)

	schedConfig := autopilot.DefaultSchedulerConfig()
	schedConfig.CycleInterval = config.DurationSec(cfg.Scheduler.CycleIntervalSec, schedConfig.CycleInterval)
	schedConfig.SymbolTimeout = config.DurationSec(cfg.Scheduler.SymbolTimeoutSec, schedConfig.SymbolTimeout)
	schedConfig.AnalysisCacheTTL = config.DurationSec(cfg.Scheduler.AnalysisCacheTTLSec, schedConfig.AnalysisCacheTTL)
	schedConfig.StaleLockTimeout = config.DurationSec(cfg.Scheduler.StaleLockTimeoutSec, schedConfig.StaleLockTimeout)
	schedConfig.CycleSoftDeadline = config.DurationSec(cfg.Scheduler.CycleSoftDeadlineSec, schedConfig.CycleSoftDeadline)
	if cfg.Scheduler.MaxConcurrentAnalyses > 0 {
		schedConfig.MaxConcurrentAnalyses = cfg.Scheduler.MaxConcurrentAnalyses
	}
	scheduler := autopilot.NewScheduler(schedConfig, aggregator, analyzer, model, evaluator, executor, scr, settings, logger)

	// Pre-subscribe streams for the restored runs
	if streams != nil {
		for _, run := range scheduler.ActiveRuns() {
			for _, symbol := range run.Symbols {
				streams.SubscribeSymbol(symbol, market.AllTimeframes)
			}
		}
	}

	// The decision loop: restored runs resume cycling immediately, new runs
	// picked up each interval
	scheduler.Start(ctx)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProductionMode: cfg.Server.ProductionMode,
		AllowOrigins:   cfg.Server.AllowOrigins,
	}, scheduler, aggregator, streams, logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown failed")
	}
	logger.Info().Msg("Engine stopped")
}
