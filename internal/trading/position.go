package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dart-trader/internal/broker"
	"dart-trader/internal/config"
	"dart-trader/internal/models"
)

// PositionManager inspects the account's single position and decides when it
// should be sold.
type PositionManager struct {
	broker broker.Broker
	cfg    config.TradingConfig
	log    zerolog.Logger
}

// NewPositionManager creates a position manager.
func NewPositionManager(b broker.Broker, cfg config.TradingConfig, log zerolog.Logger) *PositionManager {
	return &PositionManager{broker: b, cfg: cfg, log: log}
}

// CurrentPosition returns the held position, or nil when the account is
// flat. The strategy holds one stock at a time; if more are found, the first
// is managed and the rest are reported.
func (pm *PositionManager) CurrentPosition(ctx context.Context) (*models.Position, error) {
	positions, err := pm.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, nil
	}
	if len(positions) > 1 {
		pm.log.Warn().
			Int("count", len(positions)).
			Str("managing", positions[0].StockCode).
			Msg("Multiple positions held, managing the first only")
	}

	p := positions[0]
	pm.log.Info().
		Str("stock_code", p.StockCode).
		Str("stock_name", p.StockName).
		Int64("quantity", p.Quantity).
		Str("avg_price", p.AvgPrice.String()).
		Str("profit_rate", p.ProfitRate.String()).
		Msg("Current position")
	return &p, nil
}

// HoldingDays returns whole calendar days elapsed since the buy.
func HoldingDays(buyTime, now time.Time) int {
	return int(now.Sub(buyTime).Hours() / 24)
}

// DecideByHoldingPeriod applies the holding-period exit rules:
//
//	>= max days           -> unconditional market sell
//	>= early days, gain in [0%, target) -> market sell
//	>= early days, loss   -> limit sell at buy price minus the discount
//	otherwise             -> hold
func (pm *PositionManager) DecideByHoldingPeriod(buyTime time.Time, currentPrice, avgPrice decimal.Decimal, now time.Time) models.SellStrategy {
	days := HoldingDays(buyTime, now)
	ratio := currentPrice.Sub(avgPrice).Div(avgPrice)

	pm.log.Info().
		Int("holding_days", days).
		Str("current_price", currentPrice.String()).
		Str("avg_price", avgPrice.String()).
		Str("price_ratio", ratio.String()).
		Msg("Holding period analysis")

	if days >= pm.cfg.MaxHoldingDays {
		return models.SellStrategy{
			Action: models.SellActionMarket,
			Reason: fmt.Sprintf("max holding period reached (%d days)", days),
		}
	}

	if days >= pm.cfg.EarlyExitDays {
		target := decimal.NewFromFloat(pm.cfg.TargetProfitRate)
		switch {
		case !ratio.IsNegative() && ratio.LessThan(target):
			return models.SellStrategy{
				Action: models.SellActionMarket,
				Reason: fmt.Sprintf("%d days held, gain %s%% below target", days,
					ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			}
		case ratio.IsNegative():
			discount := decimal.NewFromFloat(pm.cfg.EarlyExitDiscount)
			return models.SellStrategy{
				Action:      models.SellActionLimit,
				TargetPrice: avgPrice.Mul(decimal.NewFromInt(1).Sub(discount)),
				ProfitRate:  discount.Neg(),
				Reason:      fmt.Sprintf("%d days held at a loss, stop set below buy price", days),
			}
		}
	}

	return models.SellStrategy{Action: models.SellActionHold, Reason: "holding"}
}

// SellStrategyFor decides what to do with the position. A nil result means
// no action is needed. A position with no resting sell order always gets the
// bootstrap profit-target limit first.
func (pm *PositionManager) SellStrategyFor(position *models.Position, buyTime time.Time, hasSellOrder bool, now time.Time) *models.SellStrategy {
	if !hasSellOrder {
		target := decimal.NewFromFloat(pm.cfg.TargetProfitRate)
		pm.log.Info().
			Str("stock_code", position.StockCode).
			Msg("No resting sell order, placing profit target")
		return &models.SellStrategy{
			Action:      models.SellActionLimit,
			TargetPrice: position.AvgPrice.Mul(decimal.NewFromInt(1).Add(target)),
			ProfitRate:  target,
			Reason:      "profit target set above buy price",
		}
	}

	strategy := pm.DecideByHoldingPeriod(buyTime, position.CurrentPrice, position.AvgPrice, now)
	if strategy.Action == models.SellActionHold {
		return nil
	}
	return &strategy
}
