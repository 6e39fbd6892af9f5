package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const configTemplate = `# DART Trader Configuration

[trading]
# Trading mode: "live" or "mock"
mode = "mock"
# Minimum disclosure score required to buy (0-10)
min_score = 8
# Profit target for the bootstrap limit sell (fraction of avg buy price)
target_profit_rate = 0.03
# Discount applied to the early-exit limit sell
early_exit_discount = 0.01
# Broker commission rate used when sizing buys
commission_rate = 0.00018
# Minimum deposit (KRW) required to attempt a buy
min_order_balance = 10000.0
# Force a market sell after this many holding days
max_holding_days = 10
# Consider an early exit after this many holding days
early_exit_days = 5
# Execution confirmation polling after a buy order
buy_confirm_attempts = 5
buy_confirm_interval = "2s"
# Execution confirmation polling after a market sell order
sell_confirm_attempts = 1
sell_confirm_interval = "2s"

[disclosure]
# How often to poll DART for new disclosures (minimum "1m")
poll_interval = "1m"
# How many days back to scan on startup
lookback_days = 1

[analysis]
# Standing assessment of the fundamental scoring signals. The intraday candle
# signal is derived live; these are the operator's judgement and must be
# maintained for the score to reach the buy minimum.
# Market index trades above its 200-day moving average
index_above_ma200 = false
# Issuer market cap between 50B and 500B KRW
market_cap_in_range = false
# Contract amount exceeds 20% of the issuer's recent annual sales
contract_ratio_over_20 = false
# Today's volume at least twice the 20-day average
volume_surge = false

[rate_limit]
# Broker API call ceilings
max_per_second = 5
max_per_day = 10000

[notifications]
# Enable notifications
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"

[notifications.slack]
enabled = false
webhook_url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# DART Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kiwoom]
app_key = ""
app_secret = ""
account_number = ""

[dart]
api_key = ""
`

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
