// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dart-trader/internal/broker"
	"dart-trader/internal/config"
	"dart-trader/internal/logging"
	"dart-trader/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-08-28"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Broker broker.Broker
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// and dependencies are wired in PersistentPreRunE, after cobra has parsed the
// --config flag.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "dart-trader",
		Short: "DART Trader - disclosure-driven Korean equity trading",
		Long: `DART Trader watches the DART disclosure feed for supply-contract
filings, scores each candidate, and trades a single position on the
Kiwoom REST API.

Use 'dart-trader run' to start the autonomous loop, or the inspection
commands (status, balance, position, trades) to look at the account
and trade journal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			// version works before any config file exists.
			if cmd.Name() == "version" {
				return nil
			}
			configDir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.initDependencies()
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/dart-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addRunCommand(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)

	return rootCmd
}

// initDependencies builds the broker and store from the loaded configuration.
// Either may be left nil; commands that need them check and report.
func (app *App) initDependencies() {
	cfg := app.Config

	if cfg.Credentials.Kiwoom.AppKey != "" {
		baseURL := broker.BaseURLLive
		if cfg.IsMockMode() {
			baseURL = broker.BaseURLMock
		}
		kiwoom, err := broker.NewKiwoomClient(broker.Config{
			AppKey:        cfg.Credentials.Kiwoom.AppKey,
			AppSecret:     cfg.Credentials.Kiwoom.AppSecret,
			AccountNumber: cfg.Credentials.Kiwoom.AccountNumber,
			BaseURL:       baseURL,
			MaxPerSecond:  cfg.RateLimit.MaxPerSecond,
			MaxPerDay:     cfg.RateLimit.MaxPerDay,
		}, app.Logger)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to initialize Kiwoom client")
		} else {
			app.Broker = kiwoom
			app.Logger.Debug().Str("mode", cfg.Trading.Mode).Msg("Kiwoom broker initialized")
		}
	}

	dbPath := config.DefaultConfigDir() + "/trader.db"
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		app.Logger.Debug().Msg("SQLite store initialized")
	}
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("DART Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				// Credentials never leave the credentials file.
				return output.JSON(map[string]interface{}{
					"trading":    app.Config.Trading,
					"disclosure": app.Config.Disclosure,
					"rate_limit": app.Config.RateLimit,
					"notifications": map[string]interface{}{
						"enabled":  app.Config.Notifications.Enabled,
						"level":    app.Config.Notifications.Level,
						"slack":    app.Config.Notifications.Slack.Enabled,
						"telegram": app.Config.Notifications.Telegram.Enabled,
					},
				})
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  mode:                %s\n", cfg.Trading.Mode)
	output.Printf("  min score:           %d\n", cfg.Trading.MinScore)
	output.Printf("  target profit rate:  %.4f\n", cfg.Trading.TargetProfitRate)
	output.Printf("  commission rate:     %.5f\n", cfg.Trading.CommissionRate)
	output.Printf("  max holding days:    %d\n", cfg.Trading.MaxHoldingDays)
	output.Printf("  early exit days:     %d\n", cfg.Trading.EarlyExitDays)
	output.Bold("Disclosure")
	output.Printf("  poll interval:       %s\n", cfg.Disclosure.PollInterval)
	output.Printf("  lookback days:       %d\n", cfg.Disclosure.LookbackDays)
	output.Bold("Rate limit")
	output.Printf("  max per second:      %d\n", cfg.RateLimit.MaxPerSecond)
	output.Printf("  max per day:         %d\n", cfg.RateLimit.MaxPerDay)
	output.Bold("Notifications")
	output.Printf("  enabled:             %v\n", cfg.Notifications.Enabled)
	output.Printf("  level:               %s\n", cfg.Notifications.Level)
	output.Printf("  slack:               %v\n", cfg.Notifications.Slack.Enabled)
	output.Printf("  telegram:            %v\n", cfg.Notifications.Telegram.Enabled)
}
