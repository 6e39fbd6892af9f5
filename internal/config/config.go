// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Disclosure    DisclosureConfig   `mapstructure:"disclosure"`
	Analysis      AnalysisConfig     `mapstructure:"analysis"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode                string        `mapstructure:"mode"` // "live", "mock"
	MinScore            int           `mapstructure:"min_score"`
	TargetProfitRate    float64       `mapstructure:"target_profit_rate"`
	EarlyExitDiscount   float64       `mapstructure:"early_exit_discount"`
	CommissionRate      float64       `mapstructure:"commission_rate"`
	MinOrderBalance     float64       `mapstructure:"min_order_balance"`
	MaxHoldingDays      int           `mapstructure:"max_holding_days"`
	EarlyExitDays       int           `mapstructure:"early_exit_days"`
	BuyConfirmAttempts  int           `mapstructure:"buy_confirm_attempts"`
	BuyConfirmInterval  time.Duration `mapstructure:"buy_confirm_interval"`
	SellConfirmAttempts int           `mapstructure:"sell_confirm_attempts"`
	SellConfirmInterval time.Duration `mapstructure:"sell_confirm_interval"`
}

// DisclosureConfig holds disclosure polling configuration.
type DisclosureConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

// AnalysisConfig holds the operator's standing assessment of the fundamental
// scoring signals. The engine derives the intraday candle signal from a live
// quote; the slower signals below come from here and are re-read on restart.
// With all of them false the score cannot reach the buy minimum, so an
// unconfigured install never trades on disclosures alone.
type AnalysisConfig struct {
	IndexAboveMA200     bool `mapstructure:"index_above_ma200"`
	MarketCapInRange    bool `mapstructure:"market_cap_in_range"`
	ContractRatioOver20 bool `mapstructure:"contract_ratio_over_20"`
	VolumeSurge         bool `mapstructure:"volume_surge"`
}

// RateLimitConfig holds broker API rate limiting configuration.
type RateLimitConfig struct {
	MaxPerSecond int `mapstructure:"max_per_second"`
	MaxPerDay    int `mapstructure:"max_per_day"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Slack    SlackConfig    `mapstructure:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// SlackConfig holds Slack webhook notification configuration.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kiwoom KiwoomCredentials `mapstructure:"kiwoom"`
	Dart   DartCredentials   `mapstructure:"dart"`
}

// KiwoomCredentials holds Kiwoom REST API credentials.
type KiwoomCredentials struct {
	AppKey        string `mapstructure:"app_key"`
	AppSecret     string `mapstructure:"app_secret"`
	AccountNumber string `mapstructure:"account_number"`
}

// DartCredentials holds the DART open-data API key.
type DartCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/dart-trader"
	}
	return filepath.Join(home, ".config", "dart-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Kiwoom credentials
	if v := os.Getenv("KIWOOM_APP_KEY"); v != "" {
		cfg.Credentials.Kiwoom.AppKey = v
	}
	if v := os.Getenv("KIWOOM_APP_SECRET"); v != "" {
		cfg.Credentials.Kiwoom.AppSecret = v
	}
	if v := os.Getenv("KIWOOM_ACCOUNT_NUMBER"); v != "" {
		cfg.Credentials.Kiwoom.AccountNumber = v
	}

	// DART open-data API key
	if v := os.Getenv("DART_API_KEY"); v != "" {
		cfg.Credentials.Dart.APIKey = v
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	// Notification channels
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Slack.WebhookURL = v
		cfg.Notifications.Slack.Enabled = true
		cfg.Notifications.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "mock"
	}
	if cfg.Trading.MinScore == 0 {
		cfg.Trading.MinScore = 8
	}
	if cfg.Trading.TargetProfitRate == 0 {
		cfg.Trading.TargetProfitRate = 0.03
	}
	if cfg.Trading.EarlyExitDiscount == 0 {
		cfg.Trading.EarlyExitDiscount = 0.01
	}
	if cfg.Trading.CommissionRate == 0 {
		cfg.Trading.CommissionRate = 0.00018
	}
	if cfg.Trading.MinOrderBalance == 0 {
		cfg.Trading.MinOrderBalance = 10000
	}
	if cfg.Trading.MaxHoldingDays == 0 {
		cfg.Trading.MaxHoldingDays = 10
	}
	if cfg.Trading.EarlyExitDays == 0 {
		cfg.Trading.EarlyExitDays = 5
	}
	if cfg.Trading.BuyConfirmAttempts == 0 {
		cfg.Trading.BuyConfirmAttempts = 5
	}
	if cfg.Trading.BuyConfirmInterval == 0 {
		cfg.Trading.BuyConfirmInterval = 2 * time.Second
	}
	if cfg.Trading.SellConfirmAttempts == 0 {
		cfg.Trading.SellConfirmAttempts = 1
	}
	if cfg.Trading.SellConfirmInterval == 0 {
		cfg.Trading.SellConfirmInterval = 2 * time.Second
	}
	if cfg.Disclosure.PollInterval == 0 {
		cfg.Disclosure.PollInterval = time.Minute
	}
	if cfg.Disclosure.LookbackDays == 0 {
		cfg.Disclosure.LookbackDays = 1
	}
	if cfg.RateLimit.MaxPerSecond == 0 {
		cfg.RateLimit.MaxPerSecond = 5
	}
	if cfg.RateLimit.MaxPerDay == 0 {
		cfg.RateLimit.MaxPerDay = 10000
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "mock" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'mock')", c.Trading.Mode)
	}
	if c.Trading.MinScore < 0 || c.Trading.MinScore > 10 {
		return fmt.Errorf("min_score must be between 0 and 10")
	}
	if c.Trading.TargetProfitRate <= 0 || c.Trading.TargetProfitRate >= 1 {
		return fmt.Errorf("target_profit_rate must be between 0 and 1")
	}
	if c.Trading.EarlyExitDiscount <= 0 || c.Trading.EarlyExitDiscount >= 1 {
		return fmt.Errorf("early_exit_discount must be between 0 and 1")
	}
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be between 0 and 1")
	}
	if c.Trading.EarlyExitDays >= c.Trading.MaxHoldingDays {
		return fmt.Errorf("early_exit_days must be less than max_holding_days")
	}
	if c.Disclosure.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval must be at least 1m")
	}
	if c.RateLimit.MaxPerSecond <= 0 || c.RateLimit.MaxPerDay <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// IsMockMode returns true if the mock trading endpoint is in use.
func (c *Config) IsMockMode() bool {
	return c.Trading.Mode == "mock"
}
