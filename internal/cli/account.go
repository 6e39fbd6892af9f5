package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dart-trader/internal/market"
)

// addAccountCommands adds broker account inspection commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newBalanceCmd(app))
	rootCmd.AddCommand(newPositionCmd(app))
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show market and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now()

			authenticated := app.Broker != nil && app.Broker.IsAuthenticated()
			status := market.CurrentStatus(now)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"market":        string(status),
					"trading_day":   market.IsTradingDay(now),
					"buy_window":    market.InBuyWindow(now),
					"sell_window":   market.InSellWindow(now),
					"authenticated": authenticated,
					"mode":          app.Config.Trading.Mode,
				})
			}

			output.Bold("Market")
			output.Printf("  status:       %s\n", status)
			output.Printf("  trading day:  %v\n", market.IsTradingDay(now))
			output.Printf("  buy window:   %v\n", market.InBuyWindow(now))
			output.Printf("  sell window:  %v\n", market.InSellWindow(now))
			output.Bold("Session")
			output.Printf("  mode:         %s\n", app.Config.Trading.Mode)
			if authenticated {
				output.Printf("  broker:       %s\n", output.Green("authenticated"))
			} else {
				output.Printf("  broker:       %s\n", output.Yellow("not authenticated"))
			}
			return nil
		},
	}
}

func newBalanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				return fmt.Errorf("kiwoom credentials not configured")
			}

			ctx := cmd.Context()
			if err := app.Broker.Authenticate(ctx); err != nil {
				return fmt.Errorf("broker authentication failed: %w", err)
			}

			balance, err := app.Broker.GetBalance(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{
					"deposit":          balance.Deposit.String(),
					"total_buy_amount": balance.TotalBuyAmount.String(),
					"total_valuation":  balance.TotalEvalAmount.String(),
					"available":        balance.AvailableAmount.String(),
				})
			}

			output.Bold("Account balance")
			output.Printf("  deposit:     %s KRW\n", balance.Deposit.StringFixed(0))
			output.Printf("  invested:    %s KRW\n", balance.TotalBuyAmount.StringFixed(0))
			output.Printf("  valuation:   %s KRW\n", balance.TotalEvalAmount.StringFixed(0))
			output.Printf("  available:   %s KRW\n", balance.AvailableAmount.StringFixed(0))
			return nil
		},
	}
}

func newPositionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "position",
		Short: "Show held positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				return fmt.Errorf("kiwoom credentials not configured")
			}

			ctx := cmd.Context()
			if err := app.Broker.Authenticate(ctx); err != nil {
				return fmt.Errorf("broker authentication failed: %w", err)
			}

			positions, err := app.Broker.GetPositions(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Info("No positions held")
				return nil
			}
			if len(positions) > 1 {
				output.Warning("Holding %d positions, the engine manages one at a time", len(positions))
			}

			for _, p := range positions {
				output.Bold("%s (%s)", p.StockName, p.StockCode)
				output.Printf("  quantity:   %d\n", p.Quantity)
				output.Printf("  avg price:  %s KRW\n", p.AvgPrice.StringFixed(0))
				output.Printf("  current:    %s KRW\n", p.CurrentPrice.StringFixed(0))
				output.Printf("  valuation:  %s KRW\n", p.EvalAmount.StringFixed(0))
				output.Printf("  profit:     %s\n", output.SignedRate(p.ProfitRate.StringFixed(2)+"%", p.ProfitRate.IsNegative()))
			}
			return nil
		},
	}
}
