package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dart-trader/internal/config"
	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/market"
	"dart-trader/internal/models"
)

// Strategy combines the buy gates, buy execution, and position management.
type Strategy struct {
	orders    *OrderManager
	positions *PositionManager
	cfg       config.TradingConfig
	log       zerolog.Logger
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewStrategy creates a trading strategy.
func NewStrategy(orders *OrderManager, positions *PositionManager, cfg config.TradingConfig, log zerolog.Logger) *Strategy {
	return &Strategy{
		orders:    orders,
		positions: positions,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// ShouldBuy evaluates the buy gates in order: trading day, buy window,
// same-day disclosure, minimum score, flat account. The first failing gate
// decides the outcome.
func (s *Strategy) ShouldBuy(ctx context.Context, ev *models.ContractEvent, score int) models.BuyDecision {
	now := s.now()

	if !market.IsTradingDay(now) {
		return models.BuyDecision{Reason: "market closed today", Score: score}
	}
	if !market.InBuyWindow(now) {
		return models.BuyDecision{Reason: "outside buy window (09:00-15:20 KST)", Score: score}
	}
	if ev.ReceiptDate != market.Today(now) {
		return models.BuyDecision{
			Reason: fmt.Sprintf("disclosure not filed today (filed %s)", ev.ReceiptDate),
			Score:  score,
		}
	}
	if score < s.cfg.MinScore {
		return models.BuyDecision{
			Reason: fmt.Sprintf("score %d below minimum %d", score, s.cfg.MinScore),
			Score:  score,
		}
	}

	position, err := s.positions.CurrentPosition(ctx)
	if err != nil {
		return models.BuyDecision{Reason: fmt.Sprintf("position check failed: %v", err), Score: score}
	}
	if position != nil {
		return models.BuyDecision{
			Reason: fmt.Sprintf("already holding %s", position.StockName),
			Score:  score,
		}
	}

	s.log.Info().
		Str("stock_code", ev.StockCode).
		Int("score", score).
		Msg("All buy gates passed")
	return models.BuyDecision{ShouldBuy: true, Reason: "all buy conditions met", Score: score}
}

// ExecuteBuy places a full-deposit market buy, waits for the fill, and sets
// the bootstrap profit-target sell. The sell is best effort: a failure there
// is logged and left for position management, the buy still stands.
func (s *Strategy) ExecuteBuy(ctx context.Context, stockCode, stockName string) (*models.TradeRecord, error) {
	order, err := s.orders.PlaceMarketBuyOrder(ctx, stockCode, stockName)
	if err != nil {
		return nil, err
	}

	execution, err := s.orders.WaitForExecution(ctx, order.OrderNumber, stockCode,
		s.cfg.BuyConfirmAttempts, s.cfg.BuyConfirmInterval)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		// The order is live but unconfirmed. Position management will find
		// the position on the next cycle and set its sell order.
		return nil, &apperrors.TradeError{
			Step:    "buy_confirmation",
			Kind:    apperrors.KindRemoteTransient,
			Message: fmt.Sprintf("buy order %s not confirmed within %d attempts", order.OrderNumber, s.cfg.BuyConfirmAttempts),
			Causes: []string{
				"thin order book delaying the fill",
				"execution report lagging the fill",
			},
			Resolution: "position management will pick up the position and set its sell order",
		}
	}

	if _, sellPrice, sellErr := s.orders.PlaceLimitSellOrder(ctx, stockCode,
		execution.ExecutedQuantity, execution.ExecutedPrice,
		decimal.NewFromFloat(s.cfg.TargetProfitRate)); sellErr != nil {
		s.log.Warn().
			Err(sellErr).
			Str("stock_code", stockCode).
			Msg("Profit target sell failed, will be retried by position management")
	} else {
		s.log.Info().
			Str("sell_price", sellPrice.String()).
			Msg("Profit target sell placed")
	}

	return &models.TradeRecord{
		StockCode:     stockCode,
		StockName:     stockName,
		Quantity:      execution.ExecutedQuantity,
		BuyOrderNo:    order.OrderNumber,
		ExecutedPrice: execution.ExecutedPrice,
		BuyAmount:     execution.ExecutedAmount,
		BuyTime:       s.now(),
	}, nil
}

// SellOutcome describes the result of one position management pass.
type SellOutcome struct {
	Action        SellOutcomeAction
	StockCode     string
	StockName     string
	Quantity      int64
	ExecutedPrice decimal.Decimal
	SellPrice     decimal.Decimal
	ProfitRate    decimal.Decimal
	Reason        string
}

// SellOutcomeAction distinguishes a confirmed fill from a resting order.
type SellOutcomeAction string

const (
	SellExecuted    SellOutcomeAction = "sell_executed"
	SellOrderPlaced SellOutcomeAction = "order_placed"
)

// ManagePosition runs one management pass over the held position. A nil
// outcome with nil error means nothing needed doing.
func (s *Strategy) ManagePosition(ctx context.Context, position *models.Position, buyTime time.Time) (*SellOutcome, error) {
	hasSellOrder, err := s.orders.HasPendingOrders(ctx, position.StockCode)
	if err != nil {
		return nil, fmt.Errorf("checking pending orders for %s: %w", position.StockCode, err)
	}

	strategy := s.positions.SellStrategyFor(position, buyTime, hasSellOrder, s.now())
	if strategy == nil {
		return nil, nil
	}

	s.log.Info().
		Str("stock_code", position.StockCode).
		Str("action", strategy.Action.String()).
		Str("reason", strategy.Reason).
		Msg("Sell strategy decided")

	switch strategy.Action {
	case models.SellActionMarket:
		return s.executeMarketSell(ctx, position, strategy)
	case models.SellActionLimit:
		rate := strategy.TargetPrice.Sub(position.AvgPrice).Div(position.AvgPrice)
		_, sellPrice, err := s.orders.PlaceLimitSellOrder(ctx, position.StockCode,
			position.Quantity, position.AvgPrice, rate)
		if err != nil {
			return nil, err
		}
		return &SellOutcome{
			Action:    SellOrderPlaced,
			StockCode: position.StockCode,
			StockName: position.StockName,
			Quantity:  position.Quantity,
			SellPrice: sellPrice,
			Reason:    strategy.Reason,
		}, nil
	default:
		return nil, nil
	}
}

// executeMarketSell places a market sell and polls once for its fill. An
// unconfirmed fill leaves the order resting and reports it as placed.
func (s *Strategy) executeMarketSell(ctx context.Context, position *models.Position, strategy *models.SellStrategy) (*SellOutcome, error) {
	handle, err := s.orders.PlaceMarketSellOrder(ctx, position.StockCode, position.Quantity)
	if err != nil {
		return nil, err
	}

	execution, err := s.orders.WaitForExecution(ctx, handle.OrderNumber, position.StockCode,
		s.cfg.SellConfirmAttempts, s.cfg.SellConfirmInterval)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		s.log.Warn().
			Str("order_number", handle.OrderNumber).
			Msg("Market sell placed but not yet confirmed")
		return &SellOutcome{
			Action:    SellOrderPlaced,
			StockCode: position.StockCode,
			StockName: position.StockName,
			Quantity:  position.Quantity,
			Reason:    strategy.Reason,
		}, nil
	}

	profitRate := execution.ExecutedPrice.Sub(position.AvgPrice).Div(position.AvgPrice)
	s.log.Info().
		Str("executed_price", execution.ExecutedPrice.String()).
		Str("profit_rate", profitRate.String()).
		Msg("Market sell executed")
	return &SellOutcome{
		Action:        SellExecuted,
		StockCode:     position.StockCode,
		StockName:     position.StockName,
		Quantity:      position.Quantity,
		ExecutedPrice: execution.ExecutedPrice,
		ProfitRate:    profitRate,
		Reason:        strategy.Reason,
	}, nil
}
