// Package config loads engine configuration from config.json with
// environment-variable overrides. A .env file, when present, is loaded first
// so local development needs no exported shell state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`
	Binance   BinanceConfig   `json:"binance"`
	OKX       OKXConfig       `json:"okx"`
	Stream    StreamConfig    `json:"stream"`
	Market    MarketConfig    `json:"market"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Vault     VaultConfig     `json:"vault"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Screener  ScreenerConfig  `json:"screener"`
	AI        AIConfig        `json:"ai"`
	Trading   TradingConfig   `json:"trading"`
}

type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // human-readable console output
	Output  string `json:"output"`  // stdout, stderr, or file path
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowOrigins   []string `json:"allow_origins"`
}

type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`
}

type OKXConfig struct {
	Enabled bool `json:"enabled"`
}

type StreamConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"` // empty = exchange default
}

type MarketConfig struct {
	LocalTTLSec      int `json:"local_ttl_seconds"`
	LocalMaxEntries  int `json:"local_max_entries"`
	BackoffWindowSec int `json:"backoff_window_seconds"`
	FetchTimeoutSec  int `json:"fetch_timeout_seconds"`
	MaxPerSecond     int `json:"max_per_second"`
	LogIntervalSec   int `json:"log_interval_seconds"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTLSec   int    `json:"ttl_seconds"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type SchedulerConfig struct {
	CycleIntervalSec      int `json:"cycle_interval_seconds"`
	MaxConcurrentAnalyses int `json:"max_concurrent_analyses"`
	SymbolTimeoutSec      int `json:"symbol_timeout_seconds"`
	AnalysisCacheTTLSec   int `json:"analysis_cache_ttl_seconds"`
	StaleLockTimeoutSec   int `json:"stale_lock_timeout_seconds"`
	CycleSoftDeadlineSec  int `json:"cycle_soft_deadline_seconds"`
}

type ScreenerConfig struct {
	Dynamic        bool     `json:"dynamic"` // rank by volume instead of the static list
	MinQuoteVolume float64  `json:"min_quote_volume"`
	Symbols        []string `json:"symbols"` // static universe override
}

type AIProviderConfig struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type AIConfig struct {
	Providers  []AIProviderConfig `json:"providers"`
	MinScore   float64            `json:"min_score"`
	TimeoutSec int                `json:"timeout_seconds"`
}

type TradingConfig struct {
	DryRun bool `json:"dry_run"`
}

// Load reads config.json (optional) and applies environment overrides
func Load() (*Config, error) {
	// .env is optional; missing files are fine
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		cfg.Logging.Console = v == "true"
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	if v := os.Getenv("PRODUCTION_MODE"); v != "" {
		cfg.Server.ProductionMode = v == "true"
	}

	cfg.Binance.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Binance.APIKey)
	cfg.Binance.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Binance.SecretKey)
	if v := os.Getenv("BINANCE_TESTNET"); v != "" {
		cfg.Binance.TestNet = v == "true"
	}

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.Database.Enabled = v == "true"
	}
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Vault.Enabled = v == "true"
	}
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	if v := os.Getenv("TRADING_DRY_RUN"); v != "" {
		cfg.Trading.DryRun = v == "true"
	}
	if v := os.Getenv("STREAM_ENABLED"); v != "" {
		cfg.Stream.Enabled = v == "true"
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.SecretPath == "" {
		cfg.Vault.SecretPath = "trading-engine"
	}
	if cfg.AI.MinScore == 0 {
		cfg.AI.MinScore = 0.60
	}
	if cfg.Screener.MinQuoteVolume == 0 {
		cfg.Screener.MinQuoteVolume = 10_000_000
	}
	if !cfg.Database.Enabled && !cfg.Trading.DryRun {
		// Without a database there is no audit trail for live orders
		cfg.Trading.DryRun = true
	}
}

// DurationSec converts a seconds field to a duration, with fallback
func DurationSec(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
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
