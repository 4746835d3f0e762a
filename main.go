package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"binary-options-bot/config"
	"binary-options-bot/internal/adaptive"
	"binary-options-bot/internal/advisor"
	"binary-options-bot/internal/api"
	"binary-options-bot/internal/broker"
	"binary-options-bot/internal/cache"
	"binary-options-bot/internal/database"
	"binary-options-bot/internal/events"
	"binary-options-bot/internal/learning"
	"binary-options-bot/internal/logging"
	"binary-options-bot/internal/orchestrator"
	"binary-options-bot/internal/risk"
	"binary-options-bot/internal/signal"
	"binary-options-bot/internal/validator"
	"binary-options-bot/internal/vault"
	"binary-options-bot/internal/workers"
)

func main() {
	genConfig := flag.String("generate-config", "", "write a sample config file and exit")
	flag.Parse()

	if *genConfig != "" {
		if err := config.GenerateSampleConfig(*genConfig); err != nil {
			log.Fatalf("Failed to generate config: %v", err)
		}
		fmt.Printf("Sample config written to %s\n", *genConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus
	bus := events.NewBus()

	// Database (optional)
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logging.WithComponent("database"))
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		repo = database.NewRepository(db)
		logger.Info("Database connected", "host", cfg.DatabaseConfig.Host, "database", cfg.DatabaseConfig.Database)
	} else {
		logger.Info("Database disabled, running memory-only")
	}

	// Redis performance cache (optional, degrades gracefully)
	var perfCache *cache.PerfCache
	if cfg.RedisConfig.Enabled {
		cacheService, err := cache.NewCacheService(cfg.RedisConfig, logging.WithComponent("cache"))
		if err != nil {
			logger.Warn("Cache unavailable", "error", err)
		} else {
			defer cacheService.Close()
			perfCache = cache.NewPerfCache(cacheService)
		}
	}

	// Broker gateway
	gateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build broker gateway: %v", err)
	}

	// Performance windows and adaptive thresholds
	var sink adaptive.WindowSink
	if perfCache != nil {
		sink = perfCache
	}
	adaptiveMgr := adaptive.NewManager(&adaptive.Config{
		AssetWinRateFloor: cfg.AdaptiveConfig.WinRateFloor,
		HourWinRateFloor:  cfg.AdaptiveConfig.WinRateFloor,
		MinAssetSamples:   cfg.AdaptiveConfig.MinAssetSamples,
		MinHourSamples:    cfg.AdaptiveConfig.MinHourSamples,
		MaxLossesPerHour:  cfg.AdaptiveConfig.MaxLossesPerHour,
		BaseThreshold:     cfg.AdaptiveConfig.BaseThreshold,
		DrawdownBump:      0.10,
		ProfitRelief:      0.05,
		DailyProfitTarget: 20,
	}, sink, logging.WithComponent("adaptive"))

	// Warm the rolling windows from the cache so a restart does not forget
	// the day's performance
	if perfCache != nil {
		warmCtx, warmCancel := context.WithTimeout(ctx, 5*time.Second)
		adaptiveMgr.SeedWindows("hour", perfCache.LoadWindows(warmCtx, "hour"))
		adaptiveMgr.SeedWindows("asset", perfCache.LoadWindows(warmCtx, "asset"))
		warmCancel()
	}

	// Risk manager and loss analyzer
	riskMgr := risk.NewManager(&risk.Config{
		BaseStake:            cfg.RiskConfig.BaseStake,
		MartingaleMultiplier: cfg.RiskConfig.MartingaleMultiplier,
		MaxMartingaleSteps:   cfg.RiskConfig.MaxMartingaleSteps,
		StopLossPercent:      cfg.RiskConfig.StopLossPercent,
		TakeProfitPercent:    cfg.RiskConfig.TakeProfitPercent,
	}, logging.WithComponent("risk"))
	analyzer := risk.NewAnalyzer()

	// Model, learned rules, learner
	predictor := signal.NewPredictor(nil)
	rules := &validator.LearnedRules{}
	buffer := learning.NewBuffer(cfg.LearnerConfig.BufferCapacity)

	// Reload stored experiences so the learner does not start cold
	if repo != nil {
		loadCtx, loadCancel := context.WithTimeout(ctx, 10*time.Second)
		stored, err := repo.RecentExperiences(loadCtx, cfg.LearnerConfig.BufferCapacity)
		loadCancel()
		if err != nil {
			logger.Warn("Could not reload stored experiences", "error", err)
		} else {
			for _, rec := range stored {
				buffer.Append(learning.Experience{
					Asset:     rec.Asset,
					State:     rec.State,
					Action:    rec.Action,
					Reward:    rec.Reward,
					NextState: rec.NextState,
					Done:      true,
					Shadow:    rec.Shadow,
					Timestamp: rec.CreatedAt,
					Metadata:  rec.Metadata,
				})
			}
			if len(stored) > 0 {
				logger.Info("Experience buffer warmed from store", "count", len(stored))
			}
		}
	}

	learnerCfg := learning.DefaultConfig()
	learnerCfg.EvalCadence = cfg.LearnerConfig.EvalCadence
	learnerCfg.RetrainCadence = cfg.LearnerConfig.RetrainCadence
	learnerCfg.RetrainCooldown = time.Duration(cfg.LearnerConfig.RetrainCooldownMin) * time.Minute
	learnerCfg.PauseStreakCap = cfg.LearnerConfig.PauseStreakCap
	learner := learning.NewLearner(learnerCfg, buffer, predictor, rules, logging.WithComponent("learner"))
	learner.SetRetrainStartCallback(func(severity learning.Severity) {
		bus.Publish(events.Event{
			Type:      events.EventRetrainStarted,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"severity": string(severity)},
		})
	})
	learner.SetRetrainCallback(func(success bool) {
		bus.Publish(events.Event{
			Type:      events.EventRetrainFinished,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"success": success},
		})
	})

	// Signal sources
	confluence := signal.NewConfluenceScorer(nil)
	structure := signal.NewStructureAnalyzer(nil)
	sources := []signal.Source{confluence, structure, predictor}

	if cfg.AdvisorConfig.Enabled && cfg.AdvisorConfig.APIKey != "" {
		clientCfg := advisor.DefaultClientConfig()
		clientCfg.Provider = advisor.Provider(cfg.AdvisorConfig.Provider)
		clientCfg.APIKey = cfg.AdvisorConfig.APIKey
		if cfg.AdvisorConfig.Model != "" {
			clientCfg.Model = cfg.AdvisorConfig.Model
		}
		if cfg.AdvisorConfig.MaxTokens > 0 {
			clientCfg.MaxTokens = cfg.AdvisorConfig.MaxTokens
		}
		clientCfg.Temperature = cfg.AdvisorConfig.Temperature
		clientCfg.Timeout = time.Duration(cfg.AdvisorConfig.TimeoutSec) * time.Second

		adv := advisor.NewAdvisor(advisor.NewClient(clientCfg), logging.WithComponent("advisor"))
		sources = append(sources, signal.NewAdvisorySource(adv, structure, learner, nil))
		logger.Info("Advisory source enabled", "provider", cfg.AdvisorConfig.Provider)
	}

	// Validation pipeline
	filters := validator.NewProfitabilityFilters(nil)
	pipeline := validator.New(nil, filters, rules, adaptiveMgr, logging.WithComponent("validator"))

	// Worker pool for fire-and-forget persistence
	pool := workers.NewPool(4, 256, logging.WithComponent("workers"))
	defer pool.Stop()

	// Orchestrator
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Assets = cfg.OrchestratorConfig.Assets
	orchCfg.TimeframeSec = cfg.OrchestratorConfig.TimeframeSec
	orchCfg.CandleCount = cfg.OrchestratorConfig.CandleCount
	orchCfg.ExpirationMinutes = cfg.OrchestratorConfig.ExpirationMinutes
	orchCfg.ScanInterval = time.Duration(cfg.OrchestratorConfig.ScanIntervalSec) * time.Second
	orchCfg.CooldownBase = time.Duration(cfg.OrchestratorConfig.CooldownSec) * time.Second
	orchCfg.MinTimeBetweenTrades = time.Duration(cfg.OrchestratorConfig.MinTimeBetweenTradesSec) * time.Second
	orchCfg.HourlyTradeCap = cfg.OrchestratorConfig.HourlyTradeCap
	orchCfg.ObservationFloor = cfg.OrchestratorConfig.ObservationFloor
	orchCfg.Payout = cfg.OrchestratorConfig.Payout

	var store orchestrator.TradeStore
	if repo != nil {
		store = repo
	}

	controller := orchestrator.NewController(orchCfg, orchestrator.Deps{
		Gateway:   gateway,
		Sources:   sources,
		Validator: pipeline,
		Risk:      riskMgr,
		Analyzer:  analyzer,
		Adaptive:  adaptiveMgr,
		Learner:   learner,
		Buffer:    buffer,
		Bus:       bus,
		Pool:      pool,
		Store:     store,
		Logger:    logging.WithComponent("orchestrator"),
	})

	// Mirror balance updates into the cache for the dashboard
	if perfCache != nil {
		bus.Subscribe(events.EventBalanceUpdate, func(e events.Event) {
			if balance, ok := e.Data["balance"].(float64); ok {
				cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cacheCancel()
				perfCache.SaveBalance(cacheCtx, balance)
			}
		})
	}

	if err := controller.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Live quote stream, mirrored onto the event bus for dashboards
	if cfg.BrokerConfig.Mode == "live" && cfg.BrokerConfig.QuoteFeedURL != "" {
		feedCfg := broker.DefaultFeedConfig()
		feedCfg.URL = cfg.BrokerConfig.QuoteFeedURL
		feedCfg.Assets = cfg.OrchestratorConfig.Assets
		feed := broker.NewQuoteFeed(feedCfg)
		feed.SetQuoteCallback(func(q broker.Quote) {
			bus.PublishPriceTick(q.Asset, q.Price, q.Timestamp)
		})
		feed.SetStatusCallback(func(connected bool) {
			logger.Info("Quote feed status changed", "connected", connected)
		})
		feed.Start()
		defer feed.Stop()
		logger.Info("Quote feed started", "url", feedCfg.URL)
	}

	// API server
	if cfg.ServerConfig.Enabled {
		var engine api.Engine = controller
		if perfCache != nil {
			engine = &statusWithBalance{Engine: controller, cache: perfCache}
		}
		server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, api.Deps{
			Engine:    engine,
			RiskState: func() interface{} { return riskMgr.GetState() },
			Learner:   learner,
			Adaptive:  adaptiveMgr,
			Trades:    tradeReader(repo),
			Health:    healthProbe(repo),
			Logger:    logging.WithComponent("api"),
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("API server failed", "error", err)
			}
		}()
	}

	logger.Info("Engine running", "assets", cfg.OrchestratorConfig.Assets, "broker_mode", cfg.BrokerConfig.Mode)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	controller.Stop()
	cancel()
}

// buildGateway constructs the configured broker gateway, pulling live
// credentials from Vault when it is enabled.
func buildGateway(ctx context.Context, cfg *config.Config, logger *logging.Logger) (broker.Gateway, error) {
	if cfg.BrokerConfig.Mode == "simulator" {
		simCfg := broker.DefaultSimulatorConfig()
		simCfg.InitialBalance = cfg.BrokerConfig.SimBalance
		simCfg.Payout = cfg.OrchestratorConfig.Payout
		simCfg.Seed = cfg.BrokerConfig.SimSeed
		logger.Info("Using simulated broker", "balance", simCfg.InitialBalance)
		return broker.NewSimulator(simCfg), nil
	}

	ssid := cfg.BrokerConfig.SSID
	email := cfg.BrokerConfig.Email
	password := cfg.BrokerConfig.Password
	demo := cfg.BrokerConfig.Demo

	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("vault client: %w", err)
		}
		if err := vaultClient.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("vault health check: %w", err)
		}
		creds, err := vaultClient.GetBrokerCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("vault credentials: %w", err)
		}
		ssid = creds.SSID
		email = creds.Email
		password = creds.Password
		demo = creds.Demo
		logger.Info("Broker credentials loaded from Vault")
	}

	liveCfg := broker.DefaultLiveConfig()
	liveCfg.Endpoint = cfg.BrokerConfig.WSEndpoint
	liveCfg.SSID = ssid
	liveCfg.Email = email
	liveCfg.Password = password
	liveCfg.Demo = demo
	logger.Info("Using live broker", "endpoint", liveCfg.Endpoint, "demo", demo)
	return broker.NewLiveGateway(liveCfg), nil
}

// statusWithBalance folds the cached broker balance into the status map
type statusWithBalance struct {
	api.Engine
	cache *cache.PerfCache
}

func (s *statusWithBalance) GetStatus() map[string]interface{} {
	status := s.Engine.GetStatus()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if balance, ok := s.cache.LastBalance(ctx); ok {
		status["cached_balance"] = balance
	}
	return status
}

// healthProbe returns a dependency check for the health endpoint
func healthProbe(repo *database.Repository) func(ctx context.Context) error {
	if repo == nil {
		return nil
	}
	return repo.HealthCheck
}

// tradeReader adapts a possibly-nil repository to the API's reader
func tradeReader(repo *database.Repository) api.TradeReader {
	if repo == nil {
		return nil
	}
	return repo
}
