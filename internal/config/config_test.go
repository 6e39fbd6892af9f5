package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if err == nil {
		t.Fatal("want template-created error on first load")
	}
	if !strings.Contains(err.Error(), "created template") {
		t.Fatalf("err = %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "config.toml")); statErr != nil {
		t.Fatalf("config template not written: %v", statErr)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFiles(t, dir, "[trading]\nmode = \"mock\"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Trading.MinScore != 8 {
		t.Errorf("min score = %d, want 8", cfg.Trading.MinScore)
	}
	if cfg.Trading.TargetProfitRate != 0.03 {
		t.Errorf("target profit rate = %v", cfg.Trading.TargetProfitRate)
	}
	if cfg.Trading.CommissionRate != 0.00018 {
		t.Errorf("commission rate = %v", cfg.Trading.CommissionRate)
	}
	if cfg.Trading.BuyConfirmAttempts != 5 || cfg.Trading.BuyConfirmInterval != 2*time.Second {
		t.Errorf("buy confirm = %d x %s", cfg.Trading.BuyConfirmAttempts, cfg.Trading.BuyConfirmInterval)
	}
	if cfg.Trading.SellConfirmAttempts != 1 {
		t.Errorf("sell confirm attempts = %d", cfg.Trading.SellConfirmAttempts)
	}
	if cfg.Disclosure.PollInterval != time.Minute {
		t.Errorf("poll interval = %s", cfg.Disclosure.PollInterval)
	}
	if cfg.RateLimit.MaxPerSecond != 5 || cfg.RateLimit.MaxPerDay != 10000 {
		t.Errorf("rate limits = %d/s %d/day", cfg.RateLimit.MaxPerSecond, cfg.RateLimit.MaxPerDay)
	}
	if !cfg.IsMockMode() {
		t.Error("mode should default to mock")
	}
}

func TestLoadParsesValues(t *testing.T) {
	dir := t.TempDir()
	writeConfigFiles(t, dir, `[trading]
mode = "live"
min_score = 9
max_holding_days = 15
buy_confirm_interval = "3s"

[disclosure]
poll_interval = "5m"
lookback_days = 2

[analysis]
index_above_ma200 = true
market_cap_in_range = true
contract_ratio_over_20 = true
volume_surge = false
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Mode != "live" || cfg.IsMockMode() {
		t.Errorf("mode = %s", cfg.Trading.Mode)
	}
	if cfg.Trading.MinScore != 9 {
		t.Errorf("min score = %d", cfg.Trading.MinScore)
	}
	if cfg.Trading.MaxHoldingDays != 15 {
		t.Errorf("max holding days = %d", cfg.Trading.MaxHoldingDays)
	}
	if cfg.Trading.BuyConfirmInterval != 3*time.Second {
		t.Errorf("buy confirm interval = %s", cfg.Trading.BuyConfirmInterval)
	}
	if cfg.Disclosure.PollInterval != 5*time.Minute {
		t.Errorf("poll interval = %s", cfg.Disclosure.PollInterval)
	}
	if !cfg.Analysis.IndexAboveMA200 || !cfg.Analysis.MarketCapInRange ||
		!cfg.Analysis.ContractRatioOver20 || cfg.Analysis.VolumeSurge {
		t.Errorf("analysis baseline = %+v", cfg.Analysis)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFiles(t, dir, "[trading]\nmode = \"mock\"\n")

	t.Setenv("KIWOOM_APP_KEY", "env-app-key")
	t.Setenv("DART_API_KEY", "env-dart-key")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/T000")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.Kiwoom.AppKey != "env-app-key" {
		t.Errorf("app key = %q", cfg.Credentials.Kiwoom.AppKey)
	}
	if cfg.Credentials.Dart.APIKey != "env-dart-key" {
		t.Errorf("dart key = %q", cfg.Credentials.Dart.APIKey)
	}
	if !cfg.Notifications.Slack.Enabled || !cfg.Notifications.Enabled {
		t.Error("a slack webhook in the environment should enable notifications")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Trading.Mode = "paper" }},
		{"score out of range", func(c *Config) { c.Trading.MinScore = 11 }},
		{"zero profit rate", func(c *Config) { c.Trading.TargetProfitRate = 0 }},
		{"early exit after forced exit", func(c *Config) { c.Trading.EarlyExitDays = 12 }},
		{"poll too fast", func(c *Config) { c.Disclosure.PollInterval = 10 * time.Second }},
		{"zero rate limit", func(c *Config) { c.RateLimit.MaxPerSecond = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func writeConfigFiles(t *testing.T, dir, config string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte("[kiwoom]\napp_key = \"\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}
