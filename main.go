package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tradegate/config"
	"tradegate/internal/api"
	"tradegate/internal/autoentry"
	"tradegate/internal/broker"
	"tradegate/internal/database"
	"tradegate/internal/logging"
	"tradegate/internal/stops"
	"tradegate/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LoggingConfig.Level,
		Pretty: cfg.LoggingConfig.Pretty,
	})
	logger := logging.Component("main")
	logger.Info().Msg("Logging initialized")

	ctx := context.Background()

	// Initialize Redis (guardrail state, entry counters, run locks)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info().Str("addr", cfg.RedisConfig.Address).Msg("Redis connected")

	guardrail := database.NewRedisGuardrailStore(redisClient)
	runLock := database.NewRunLock(redisClient)

	// Initialize PostgreSQL trade store; fall back to in-memory when disabled
	var (
		db    *database.DB
		store database.TradeStore
	)
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		store = database.NewPostgresTradeStore(db)
		logger.Info().Msg("PostgreSQL trade store initialized")
	} else {
		store = database.NewMemoryTradeStore()
		logger.Warn().Msg("Database disabled, using in-memory trade store")
	}

	// Initialize broker client
	var brokerClient broker.Client
	if cfg.BrokerConfig.MockMode {
		brokerClient = broker.NewMockClient()
		logger.Warn().Msg("Broker mock mode enabled, no real orders will be placed")
	} else {
		brokerClient = broker.NewRESTClient(
			cfg.BrokerConfig.APIKey,
			cfg.BrokerConfig.APISecret,
			cfg.BrokerConfig.BaseURL,
			cfg.BrokerConfig.DataURL,
		)
	}

	// Telemetry sink for run events
	sink := telemetry.NewAsyncSink(logging.Component("telemetry"), db)
	defer sink.Close()

	// Admission orchestrator
	orchestrator := autoentry.NewOrchestrator(
		brokerClient,
		store,
		guardrail,
		guardrail,
		sink,
		autoentry.Config{
			Enabled:          cfg.AutoEntryConfig.Enabled,
			DryRun:           cfg.AutoEntryConfig.DryRun,
			MaxOpenPositions: cfg.AutoEntryConfig.MaxOpenPositions,
			MaxEntriesPerDay: cfg.AutoEntryConfig.MaxEntriesPerDay,
			MaxFailures:      cfg.AutoEntryConfig.MaxFailures,
			RescoreAfter:     cfg.AutoEntryConfig.RescoreAfter,
			StaleAfter:       cfg.AutoEntryConfig.StaleAfter,
			BlockCarryover:   cfg.AutoEntryConfig.BlockCarryover,
			RunDeadline:      cfg.AutoEntryConfig.RunDeadline,
			DefaultQty:       cfg.AutoEntryConfig.DefaultQty,
		},
		logging.Component("autoentry"),
	)

	// Stop lifecycle manager
	stopManager := stops.NewManager(
		brokerClient,
		store,
		sink,
		stops.Config{TickSize: cfg.StopsConfig.TickSize},
		logging.Component("stops"),
	)

	// HTTP API
	server := api.NewServer(
		api.ServerConfig{
			Host:           cfg.ServerConfig.Host,
			Port:           cfg.ServerConfig.Port,
			ProductionMode: cfg.ServerConfig.ProductionMode,
			RunToken:       cfg.ServerConfig.RunToken,
			LockTTL:        time.Duration(cfg.ServerConfig.RunLockTTLSecs) * time.Second,
		},
		orchestrator,
		stopManager,
		guardrail,
		runLock,
		logging.Component("api"),
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server stopped")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
