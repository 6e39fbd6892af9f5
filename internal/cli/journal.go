package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dart-trader/internal/models"
)

var hundred = decimal.NewFromInt(100)

// addJournalCommands adds trade journal inspection commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the trade journal",
		Long:  "Display recent trades recorded by the autonomous loop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("trade journal unavailable")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			openOnly, _ := cmd.Flags().GetBool("open")

			var (
				trades []models.TradeRecord
				err    error
			)
			if openOnly {
				trades, err = app.Store.OpenTrades(cmd.Context())
			} else {
				trades, err = app.Store.RecentTrades(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}

			if len(trades) == 0 {
				output.Info("No trades recorded")
				return nil
			}
			for _, t := range trades {
				printTrade(output, t)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of trades to show")
	cmd.Flags().Bool("open", false, "show only open trades")

	rootCmd.AddCommand(cmd)
}

func printTrade(output *Output, t models.TradeRecord) {
	state := output.Yellow("open")
	if t.Closed {
		state = output.DimText("closed")
	}
	output.Bold("%s (%s) %s", t.StockName, t.StockCode, state)
	output.Printf("  bought:  %d @ %s KRW on %s\n",
		t.Quantity, t.ExecutedPrice.StringFixed(0), t.BuyTime.Format("2006-01-02 15:04"))
	if t.Closed {
		ratePercent := t.ProfitRate.Mul(hundred).StringFixed(2) + "%"
		output.Printf("  sold:    %s KRW on %s (%s)\n",
			t.SellPrice.StringFixed(0), t.SellTime.Format("2006-01-02 15:04"),
			output.SignedRate(ratePercent, t.ProfitRate.IsNegative()))
		if t.SellReason != "" {
			output.Dim("  reason:  %s", t.SellReason)
		}
	}
}
