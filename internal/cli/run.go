package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dart-trader/internal/analysis"
	"dart-trader/internal/config"
	"dart-trader/internal/disclosure"
	"dart-trader/internal/notify"
	"dart-trader/internal/trading"
)

// addRunCommand adds the autonomous trading loop command.
func addRunCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autonomous trading loop",
		Long: `Run the autonomous trading loop.

Each poll cycle fetches fresh supply-contract disclosures from DART,
scores them, buys when every gate passes, and manages the held
position against its holding-period sell rules.

Only one instance may run at a time; a lock file under the config
directory enforces this.`,
		Example: `  dart-trader run
  dart-trader run --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			return runLoop(cmd, app, once)
		},
	}
	cmd.Flags().Bool("once", false, "run a single poll cycle and exit")

	rootCmd.AddCommand(cmd)
}

func runLoop(cmd *cobra.Command, app *App, once bool) error {
	output := NewOutput(cmd)

	if app.Broker == nil {
		return fmt.Errorf("kiwoom credentials not configured, run 'dart-trader config path' and edit credentials.toml")
	}
	if app.Store == nil {
		return fmt.Errorf("trade journal unavailable")
	}
	if app.Config.Credentials.Dart.APIKey == "" {
		return fmt.Errorf("dart api key not configured")
	}

	lock := trading.NewRunLock(filepath.Join(config.DefaultConfigDir(), "trader.lock"))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	dartClient, err := disclosure.NewClient(app.Config.Credentials.Dart.APIKey, app.Logger)
	if err != nil {
		return err
	}

	scorer := analysis.NewRuleScorer(
		analysis.NewQuoteSignalProvider(app.Broker, analysis.BaselineFromConfig(app.Config.Analysis)),
		app.Logger,
	)

	notifier := notify.NewMultiNotifier(&app.Config.Notifications)

	system := trading.NewSystem(
		app.Config,
		app.Broker,
		scorer,
		app.Store,
		notifier,
		dartClient,
		app.Logger,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := system.Start(ctx); err != nil {
		return fmt.Errorf("starting trading system: %w", err)
	}

	if app.Config.IsMockMode() {
		output.Warning("Running in mock mode, orders go to the simulation endpoint")
	} else {
		output.Warning("Running in LIVE mode, real orders will be placed")
	}
	output.Info("Polling disclosures every %s", app.Config.Disclosure.PollInterval)

	if err := system.RunOnce(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Poll cycle failed")
	}
	if once {
		return nil
	}

	ticker := time.NewTicker(app.Config.Disclosure.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			output.Println()
			output.Info("Shutting down")
			return shutdownErr(ctx)
		case <-ticker.C:
			if err := system.RunOnce(ctx); err != nil {
				app.Logger.Error().Err(err).Msg("Poll cycle failed")
			}
		}
	}
}

// shutdownErr maps a signal-driven cancellation to a clean exit.
func shutdownErr(ctx context.Context) error {
	if ctx.Err() == context.Canceled {
		return nil
	}
	return ctx.Err()
}
