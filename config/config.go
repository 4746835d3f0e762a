package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BrokerConfig       BrokerConfig       `json:"broker"`
	OrchestratorConfig OrchestratorConfig `json:"orchestrator"`
	RiskConfig         RiskConfig         `json:"risk"`
	AdaptiveConfig     AdaptiveConfig     `json:"adaptive"`
	LearnerConfig      LearnerConfig      `json:"learner"`
	AdvisorConfig      AdvisorConfig      `json:"advisor"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	RedisConfig        RedisConfig        `json:"redis"`
}

// BrokerConfig selects and configures the broker gateway
type BrokerConfig struct {
	Mode         string  `json:"mode"` // simulator or live
	WSEndpoint   string  `json:"ws_endpoint"`
	QuoteFeedURL string  `json:"quote_feed_url"`
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	SSID         string  `json:"ssid"`
	Demo         bool    `json:"demo"`
	SimBalance   float64 `json:"sim_balance"`
	SimSeed      int64   `json:"sim_seed"`
}

// OrchestratorConfig tunes the trade lifecycle loop
type OrchestratorConfig struct {
	Assets                  []string `json:"assets"`
	TimeframeSec            int      `json:"timeframe_sec"`
	CandleCount             int      `json:"candle_count"`
	ExpirationMinutes       int      `json:"expiration_minutes"`
	ScanIntervalSec         int      `json:"scan_interval_sec"`
	CooldownSec             int      `json:"cooldown_sec"`
	MinTimeBetweenTradesSec int      `json:"min_time_between_trades_sec"`
	HourlyTradeCap          int      `json:"hourly_trade_cap"`
	ObservationFloor        float64  `json:"observation_floor"`
	Payout                  float64  `json:"payout"`
}

// RiskConfig tunes stake sizing and loss limits
type RiskConfig struct {
	BaseStake            float64 `json:"base_stake"`
	MartingaleMultiplier float64 `json:"martingale_multiplier"`
	MaxMartingaleSteps   int     `json:"max_martingale_steps"`
	StopLossPercent      float64 `json:"stop_loss_percent"`
	TakeProfitPercent    float64 `json:"take_profit_percent"`
}

// AdaptiveConfig tunes the performance-driven threshold
type AdaptiveConfig struct {
	BaseThreshold    float64 `json:"base_threshold"`
	WinRateFloor     float64 `json:"win_rate_floor"`
	MinAssetSamples  int     `json:"min_asset_samples"`
	MinHourSamples   int     `json:"min_hour_samples"`
	MaxLossesPerHour int     `json:"max_losses_per_hour"`
}

// LearnerConfig tunes the learning supervisor
type LearnerConfig struct {
	BufferCapacity     int `json:"buffer_capacity"`
	EvalCadence        int `json:"eval_cadence"`
	RetrainCadence     int `json:"retrain_cadence"`
	RetrainCooldownMin int `json:"retrain_cooldown_min"`
	PauseStreakCap     int `json:"pause_streak_cap"`
}

// AdvisorConfig configures the LLM advisory source
type AdvisorConfig struct {
	Enabled     bool    `json:"enabled"`
	Provider    string  `json:"provider"` // claude, openai, deepseek
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSec  int     `json:"timeout_sec"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds dashboard authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	Username            string        `json:"username"`
	PasswordHash        string        `json:"password_hash"` // bcrypt
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for broker credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for the performance cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
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
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Broker config
	cfg.BrokerConfig.Mode = getEnvOrDefault("BROKER_MODE", cfg.BrokerConfig.Mode)
	cfg.BrokerConfig.WSEndpoint = getEnvOrDefault("BROKER_WS_ENDPOINT", cfg.BrokerConfig.WSEndpoint)
	cfg.BrokerConfig.QuoteFeedURL = getEnvOrDefault("BROKER_QUOTE_FEED_URL", cfg.BrokerConfig.QuoteFeedURL)
	cfg.BrokerConfig.Email = getEnvOrDefault("BROKER_EMAIL", cfg.BrokerConfig.Email)
	cfg.BrokerConfig.Password = getEnvOrDefault("BROKER_PASSWORD", cfg.BrokerConfig.Password)
	cfg.BrokerConfig.SSID = getEnvOrDefault("BROKER_SSID", cfg.BrokerConfig.SSID)
	if v := os.Getenv("BROKER_DEMO"); v != "" {
		cfg.BrokerConfig.Demo = v == "true"
	}

	// Orchestrator config
	if v := os.Getenv("BOT_ASSETS"); v != "" {
		cfg.OrchestratorConfig.Assets = strings.Split(v, ",")
	}
	cfg.OrchestratorConfig.ScanIntervalSec = getEnvIntOrDefault("BOT_SCAN_INTERVAL_SEC", cfg.OrchestratorConfig.ScanIntervalSec)
	cfg.OrchestratorConfig.ExpirationMinutes = getEnvIntOrDefault("BOT_EXPIRATION_MINUTES", cfg.OrchestratorConfig.ExpirationMinutes)

	// Risk config
	cfg.RiskConfig.BaseStake = getEnvFloatOrDefault("RISK_BASE_STAKE", cfg.RiskConfig.BaseStake)
	cfg.RiskConfig.StopLossPercent = getEnvFloatOrDefault("RISK_STOP_LOSS_PERCENT", cfg.RiskConfig.StopLossPercent)

	// Advisor config
	if v := os.Getenv("ADVISOR_ENABLED"); v != "" {
		cfg.AdvisorConfig.Enabled = v == "true"
	}
	cfg.AdvisorConfig.Provider = getEnvOrDefault("ADVISOR_PROVIDER", cfg.AdvisorConfig.Provider)
	cfg.AdvisorConfig.APIKey = getEnvOrDefault("ADVISOR_API_KEY", cfg.AdvisorConfig.APIKey)
	cfg.AdvisorConfig.Model = getEnvOrDefault("ADVISOR_MODEL", cfg.AdvisorConfig.Model)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}

	// Database config
	if v := os.Getenv("DB_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.Username = getEnvOrDefault("AUTH_USERNAME", cfg.AuthConfig.Username)
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)

	// Vault config
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	// Redis config
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
}

// applyDefaults fills any unset field with a working default
func applyDefaults(cfg *Config) {
	if cfg.BrokerConfig.Mode == "" {
		cfg.BrokerConfig.Mode = "simulator"
	}
	if cfg.BrokerConfig.SimBalance == 0 {
		cfg.BrokerConfig.SimBalance = 10000
	}

	if len(cfg.OrchestratorConfig.Assets) == 0 {
		cfg.OrchestratorConfig.Assets = []string{"EURUSD", "GBPUSD", "USDJPY"}
	}
	if cfg.OrchestratorConfig.TimeframeSec == 0 {
		cfg.OrchestratorConfig.TimeframeSec = 60
	}
	if cfg.OrchestratorConfig.CandleCount == 0 {
		cfg.OrchestratorConfig.CandleCount = 100
	}
	if cfg.OrchestratorConfig.ExpirationMinutes == 0 {
		cfg.OrchestratorConfig.ExpirationMinutes = 1
	}
	if cfg.OrchestratorConfig.ScanIntervalSec == 0 {
		cfg.OrchestratorConfig.ScanIntervalSec = 30
	}
	if cfg.OrchestratorConfig.CooldownSec == 0 {
		cfg.OrchestratorConfig.CooldownSec = 60
	}
	if cfg.OrchestratorConfig.MinTimeBetweenTradesSec == 0 {
		cfg.OrchestratorConfig.MinTimeBetweenTradesSec = 45
	}
	if cfg.OrchestratorConfig.HourlyTradeCap == 0 {
		cfg.OrchestratorConfig.HourlyTradeCap = 6
	}
	if cfg.OrchestratorConfig.ObservationFloor == 0 {
		cfg.OrchestratorConfig.ObservationFloor = 0.50
	}
	if cfg.OrchestratorConfig.Payout == 0 {
		cfg.OrchestratorConfig.Payout = 0.85
	}

	if cfg.RiskConfig.BaseStake == 0 {
		cfg.RiskConfig.BaseStake = 2.0
	}
	if cfg.RiskConfig.MartingaleMultiplier == 0 {
		cfg.RiskConfig.MartingaleMultiplier = 2.2
	}
	if cfg.RiskConfig.MaxMartingaleSteps == 0 {
		cfg.RiskConfig.MaxMartingaleSteps = 3
	}
	if cfg.RiskConfig.StopLossPercent == 0 {
		cfg.RiskConfig.StopLossPercent = 10.0
	}
	if cfg.RiskConfig.TakeProfitPercent == 0 {
		cfg.RiskConfig.TakeProfitPercent = 5.0
	}

	if cfg.AdaptiveConfig.BaseThreshold == 0 {
		cfg.AdaptiveConfig.BaseThreshold = 0.60
	}
	if cfg.AdaptiveConfig.WinRateFloor == 0 {
		cfg.AdaptiveConfig.WinRateFloor = 0.49
	}
	if cfg.AdaptiveConfig.MinAssetSamples == 0 {
		cfg.AdaptiveConfig.MinAssetSamples = 15
	}
	if cfg.AdaptiveConfig.MinHourSamples == 0 {
		cfg.AdaptiveConfig.MinHourSamples = 10
	}
	if cfg.AdaptiveConfig.MaxLossesPerHour == 0 {
		cfg.AdaptiveConfig.MaxLossesPerHour = 3
	}

	if cfg.LearnerConfig.BufferCapacity == 0 {
		cfg.LearnerConfig.BufferCapacity = 10000
	}
	if cfg.LearnerConfig.EvalCadence == 0 {
		cfg.LearnerConfig.EvalCadence = 10
	}
	if cfg.LearnerConfig.RetrainCadence == 0 {
		cfg.LearnerConfig.RetrainCadence = 20
	}
	if cfg.LearnerConfig.RetrainCooldownMin == 0 {
		cfg.LearnerConfig.RetrainCooldownMin = 10
	}
	if cfg.LearnerConfig.PauseStreakCap == 0 {
		cfg.LearnerConfig.PauseStreakCap = 6
	}

	if cfg.AdvisorConfig.Provider == "" {
		cfg.AdvisorConfig.Provider = "claude"
	}
	if cfg.AdvisorConfig.MaxTokens == 0 {
		cfg.AdvisorConfig.MaxTokens = 1024
	}
	if cfg.AdvisorConfig.TimeoutSec == 0 {
		cfg.AdvisorConfig.TimeoutSec = 15
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 15
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 15
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 24 * time.Hour
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}
}

// Validate rejects configurations that would misbehave at runtime
func (c *Config) Validate() error {
	if c.BrokerConfig.Mode != "simulator" && c.BrokerConfig.Mode != "live" {
		return fmt.Errorf("broker.mode must be simulator or live, got %q", c.BrokerConfig.Mode)
	}
	if c.RiskConfig.MartingaleMultiplier < 1.0 {
		return fmt.Errorf("risk.martingale_multiplier must be >= 1.0, got %v", c.RiskConfig.MartingaleMultiplier)
	}
	if c.OrchestratorConfig.Payout <= 0 || c.OrchestratorConfig.Payout > 1 {
		return fmt.Errorf("orchestrator.payout must be in (0, 1], got %v", c.OrchestratorConfig.Payout)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
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

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := &Config{
		BrokerConfig: BrokerConfig{
			Mode:       "simulator",
			Demo:       true,
			SimBalance: 10000,
		},
		AdvisorConfig: AdvisorConfig{
			Enabled:  false,
			Provider: "claude",
			APIKey:   "your_api_key_here",
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "bot",
			Password: "change_me",
			Database: "binary_options",
			SSLMode:  "disable",
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Port:    8080,
			Host:    "0.0.0.0",
		},
	}
	applyDefaults(config)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0600)
}
