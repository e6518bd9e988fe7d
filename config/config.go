package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	BrokerConfig    BrokerConfig    `json:"broker"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	AutoEntryConfig AutoEntryConfig `json:"auto_entry"`
	StopsConfig     StopsConfig     `json:"stops"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	RunToken        string `json:"run_token"`         // Shared secret for automated callers
	RunLockTTLSecs  int    `json:"run_lock_ttl_secs"` // TTL on the cross-run mutex
	ShutdownTimeout int    `json:"shutdown_timeout"`  // Seconds
}

// BrokerConfig holds brokerage API configuration
type BrokerConfig struct {
	BaseURL   string `json:"base_url"`
	DataURL   string `json:"data_url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	MockMode  bool   `json:"mock_mode"` // Use simulated broker when the API is unavailable
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for guardrail state and run locks
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console output instead of JSON
}

// AutoEntryConfig holds admission-pass configuration
type AutoEntryConfig struct {
	Enabled          bool          `json:"enabled"`
	DryRun           bool          `json:"dry_run"` // Evaluate everything, place nothing
	MaxOpenPositions int           `json:"max_open_positions"`
	MaxEntriesPerDay int           `json:"max_entries_per_day"`
	MaxFailures      int           `json:"max_failures"` // Consecutive execution failures before disable
	RescoreAfter     time.Duration `json:"rescore_after"`
	StaleAfter       time.Duration `json:"stale_after"`
	BlockCarryover   bool          `json:"block_carryover"` // Reject candidates scored on a prior session date
	RunDeadline      time.Duration `json:"run_deadline"`
	DefaultQty       float64       `json:"default_qty"`
}

// StopsConfig holds stop-lifecycle configuration
type StopsConfig struct {
	TickSize float64 `json:"tick_size"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"
	cfg.ServerConfig.RunToken = getEnvOrDefault("RUN_TOKEN", cfg.ServerConfig.RunToken)
	cfg.ServerConfig.RunLockTTLSecs = getEnvIntOrDefault("RUN_LOCK_TTL_SECS", 120)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Broker config
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	if cfg.BrokerConfig.BaseURL == "" {
		cfg.BrokerConfig.BaseURL = "https://paper-api.alpaca.markets"
	}
	cfg.BrokerConfig.DataURL = getEnvOrDefault("BROKER_DATA_URL", cfg.BrokerConfig.DataURL)
	if cfg.BrokerConfig.DataURL == "" {
		cfg.BrokerConfig.DataURL = "https://data.alpaca.markets"
	}
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.APISecret = getEnvOrDefault("BROKER_API_SECRET", cfg.BrokerConfig.APISecret)
	cfg.BrokerConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", "true") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "tradegate")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "tradegate")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", "false") == "true"

	// Auto-entry config
	cfg.AutoEntryConfig.Enabled = getEnvOrDefault("AUTO_ENTRY_ENABLED", "true") == "true"
	cfg.AutoEntryConfig.DryRun = getEnvOrDefault("AUTO_ENTRY_DRY_RUN", "false") == "true"
	cfg.AutoEntryConfig.MaxOpenPositions = getEnvIntOrDefault("AUTO_ENTRY_MAX_OPEN_POSITIONS", 3)
	cfg.AutoEntryConfig.MaxEntriesPerDay = getEnvIntOrDefault("AUTO_ENTRY_MAX_ENTRIES_PER_DAY", 5)
	cfg.AutoEntryConfig.MaxFailures = getEnvIntOrDefault("AUTO_ENTRY_MAX_FAILURES", 3)
	cfg.AutoEntryConfig.RescoreAfter = getEnvDurationOrDefault("AUTO_ENTRY_RESCORE_AFTER", 10*time.Minute)
	cfg.AutoEntryConfig.StaleAfter = getEnvDurationOrDefault("AUTO_ENTRY_STALE_AFTER", 15*time.Minute)
	cfg.AutoEntryConfig.BlockCarryover = getEnvOrDefault("AUTO_ENTRY_BLOCK_CARRYOVER", "true") == "true"
	cfg.AutoEntryConfig.RunDeadline = getEnvDurationOrDefault("AUTO_ENTRY_RUN_DEADLINE", 45*time.Second)
	cfg.AutoEntryConfig.DefaultQty = getEnvFloatOrDefault("AUTO_ENTRY_DEFAULT_QTY", 1)

	// Stops config
	cfg.StopsConfig.TickSize = getEnvFloatOrDefault("STOPS_TICK_SIZE", 0.01)
}

// Validate checks that required settings are present and coherent.
func (c *Config) Validate() error {
	if c.ServerConfig.Port < 1 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerConfig.Port)
	}
	if c.ServerConfig.RunToken == "" {
		return fmt.Errorf("RUN_TOKEN must be set")
	}
	if !c.BrokerConfig.MockMode && (c.BrokerConfig.APIKey == "" || c.BrokerConfig.APISecret == "") {
		return fmt.Errorf("broker credentials required unless MOCK_MODE=true")
	}
	if c.AutoEntryConfig.RescoreAfter > c.AutoEntryConfig.StaleAfter {
		return fmt.Errorf("rescore_after (%s) must not exceed stale_after (%s)",
			c.AutoEntryConfig.RescoreAfter, c.AutoEntryConfig.StaleAfter)
	}
	if c.StopsConfig.TickSize <= 0 {
		return fmt.Errorf("tick_size must be positive: %f", c.StopsConfig.TickSize)
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			RunToken:        "change_me",
			RunLockTTLSecs:  120,
			ShutdownTimeout: 10,
		},
		BrokerConfig: BrokerConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			DataURL:   "https://data.alpaca.markets",
			APIKey:    "your_api_key_here",
			APISecret: "your_api_secret_here",
			MockMode:  true,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "tradegate",
			Database: "tradegate",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		AutoEntryConfig: AutoEntryConfig{
			Enabled:          true,
			DryRun:           true,
			MaxOpenPositions: 3,
			MaxEntriesPerDay: 5,
			MaxFailures:      3,
			RescoreAfter:     10 * time.Minute,
			StaleAfter:       15 * time.Minute,
			BlockCarryover:   true,
			RunDeadline:      45 * time.Second,
			DefaultQty:       1,
		},
		StopsConfig: StopsConfig{
			TickSize: 0.01,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
