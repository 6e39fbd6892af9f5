// Package trading implements the disclosure-driven buy and sell strategy.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dart-trader/internal/broker"
	"dart-trader/internal/config"
	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/models"
)

// OrderManager sizes and places orders through the broker.
type OrderManager struct {
	broker broker.Broker
	cfg    config.TradingConfig
	log    zerolog.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewOrderManager creates an order manager.
func NewOrderManager(b broker.Broker, cfg config.TradingConfig, log zerolog.Logger) *OrderManager {
	return &OrderManager{
		broker: b,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// BuyOrder describes a placed market buy.
type BuyOrder struct {
	OrderNumber string
	StockCode   string
	StockName   string
	Quantity    int64
	OrderTime   time.Time
}

// CalculateBuyQuantity returns the largest share count whose cost plus
// commission fits in the available amount:
//
//	total = order_amount * (1 + commission)
//	order_amount = total / (1 + commission)
//	quantity = floor(order_amount / price)
func (om *OrderManager) CalculateBuyQuantity(available, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	commission := decimal.NewFromFloat(om.cfg.CommissionRate)
	orderAmount := available.Div(decimal.NewFromInt(1).Add(commission))
	quantity := orderAmount.Div(price).Floor().IntPart()

	om.log.Debug().
		Str("available", available.String()).
		Str("price", price.String()).
		Int64("quantity", quantity).
		Msg("Buy quantity calculated")
	return quantity
}

// TickSize returns the KRX price tick for a given price level.
func TickSize(price decimal.Decimal) int64 {
	switch {
	case price.LessThan(decimal.NewFromInt(1000)):
		return 1
	case price.LessThan(decimal.NewFromInt(5000)):
		return 5
	case price.LessThan(decimal.NewFromInt(10000)):
		return 10
	case price.LessThan(decimal.NewFromInt(50000)):
		return 50
	case price.LessThan(decimal.NewFromInt(100000)):
		return 100
	case price.LessThan(decimal.NewFromInt(500000)):
		return 500
	default:
		return 1000
	}
}

// CalculateSellPrice applies a profit rate to the buy price and floors the
// result to the KRX tick grid. Negative rates produce stop prices below the
// buy price.
func (om *OrderManager) CalculateSellPrice(buyPrice, profitRate decimal.Decimal) decimal.Decimal {
	target := buyPrice.Mul(decimal.NewFromInt(1).Add(profitRate))
	tick := decimal.NewFromInt(TickSize(target))
	adjusted := target.Div(tick).Floor().Mul(tick)

	om.log.Debug().
		Str("buy_price", buyPrice.String()).
		Str("profit_rate", profitRate.String()).
		Str("sell_price", adjusted.String()).
		Msg("Sell price calculated")
	return adjusted
}

// PlaceMarketBuyOrder runs the full buy pipeline: balance check, price
// lookup, sizing, order. Failures carry the step that failed plus enough
// context to diagnose them from the notification alone.
func (om *OrderManager) PlaceMarketBuyOrder(ctx context.Context, stockCode, stockName string) (*BuyOrder, error) {
	om.log.Info().
		Str("stock_code", stockCode).
		Str("stock_name", stockName).
		Msg("Market buy pipeline started")

	balance, err := om.broker.GetBalance(ctx)
	if err != nil {
		return nil, &apperrors.TradeError{
			Step:    "balance_inquiry",
			Kind:    apperrors.KindOf(err),
			Message: "account balance inquiry failed",
			Causes: []string{
				"expired broker session token",
				"wrong account number",
				"temporary broker outage",
				"network failure",
			},
			Resolution: "check broker authentication state and retry",
			Err:        err,
		}
	}

	available := balance.AvailableAmount
	minBalance := decimal.NewFromFloat(om.cfg.MinOrderBalance)
	if available.LessThan(minBalance) {
		return nil, &apperrors.TradeError{
			Step:    "balance_validation",
			Kind:    apperrors.KindInvalidArgument,
			Message: fmt.Sprintf("available amount %s below minimum %s", available.StringFixed(0), minBalance.StringFixed(0)),
			Causes: []string{
				"deposit too small",
				"funds reserved by pending orders",
				"same-day settlement hold",
			},
			Resolution: "deposit funds or cancel pending orders",
			Err:        apperrors.ErrInsufficientFunds,
		}
	}

	quote, err := om.broker.GetCurrentPrice(ctx, stockCode)
	if err != nil {
		return nil, &apperrors.TradeError{
			Step:    "price_inquiry",
			Kind:    apperrors.KindOf(err),
			Message: fmt.Sprintf("current price inquiry for %s failed", stockCode),
			Causes: []string{
				"malformed stock code",
				"trading halted or delisted stock",
				"temporary broker outage",
			},
			Resolution: "verify the stock code and retry during trading hours",
			Err:        err,
		}
	}

	quantity := om.CalculateBuyQuantity(available, quote.CurrentPrice)
	if quantity <= 0 {
		return nil, &apperrors.TradeError{
			Step:    "quantity_calculation",
			Kind:    apperrors.KindInvalidArgument,
			Message: "calculated buy quantity is zero",
			Causes: []string{
				"share price exceeds available funds",
				"commission leaves too little for one share",
			},
			Resolution: fmt.Sprintf("at least %s is needed for one share",
				quote.CurrentPrice.Mul(decimal.NewFromFloat(1+om.cfg.CommissionRate)).StringFixed(0)),
			Err: apperrors.ErrInsufficientFunds,
		}
	}

	handle, err := om.broker.PlaceOrder(ctx, broker.OrderRequest{
		StockCode: stockCode,
		Side:      models.OrderSideBuy,
		Style:     models.OrderStyleMarket,
		Quantity:  quantity,
	})
	if err != nil {
		return nil, &apperrors.TradeError{
			Step:    "order_placement",
			Kind:    apperrors.KindOf(err),
			Message: fmt.Sprintf("market buy order for %s rejected", stockCode),
			Causes: []string{
				"expired broker session token",
				"order outside trading hours",
				"per-stock order limit exceeded",
			},
			Resolution: "review the broker return code in the API log",
			Err:        err,
		}
	}

	om.log.Info().
		Str("order_number", handle.OrderNumber).
		Int64("quantity", quantity).
		Msg("Market buy order placed")
	return &BuyOrder{
		OrderNumber: handle.OrderNumber,
		StockCode:   stockCode,
		StockName:   stockName,
		Quantity:    quantity,
		OrderTime:   om.now(),
	}, nil
}

// PlaceLimitSellOrder places a limit sell at buyPrice adjusted by profitRate.
// It returns the order handle and the tick-adjusted limit price.
func (om *OrderManager) PlaceLimitSellOrder(ctx context.Context, stockCode string, quantity int64, buyPrice, profitRate decimal.Decimal) (*models.OrderHandle, decimal.Decimal, error) {
	sellPrice := om.CalculateSellPrice(buyPrice, profitRate)

	handle, err := om.broker.PlaceOrder(ctx, broker.OrderRequest{
		StockCode: stockCode,
		Side:      models.OrderSideSell,
		Style:     models.OrderStyleLimit,
		Quantity:  quantity,
		Price:     sellPrice,
	})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("placing limit sell for %s: %w", stockCode, err)
	}

	om.log.Info().
		Str("order_number", handle.OrderNumber).
		Str("sell_price", sellPrice.String()).
		Int64("quantity", quantity).
		Msg("Limit sell order placed")
	return handle, sellPrice, nil
}

// PlaceMarketSellOrder places a market sell for the full quantity.
func (om *OrderManager) PlaceMarketSellOrder(ctx context.Context, stockCode string, quantity int64) (*models.OrderHandle, error) {
	handle, err := om.broker.PlaceOrder(ctx, broker.OrderRequest{
		StockCode: stockCode,
		Side:      models.OrderSideSell,
		Style:     models.OrderStyleMarket,
		Quantity:  quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("placing market sell for %s: %w", stockCode, err)
	}

	om.log.Info().
		Str("order_number", handle.OrderNumber).
		Int64("quantity", quantity).
		Msg("Market sell order placed")
	return handle, nil
}

// CheckOrderExecution queries the execution report once. A nil result with a
// nil error means the order has not appeared as executed yet.
func (om *OrderManager) CheckOrderExecution(ctx context.Context, orderNumber, stockCode string) (*models.ExecutionResult, error) {
	statuses, err := om.broker.GetOrderStatus(ctx, stockCode, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("checking execution of %s: %w", orderNumber, err)
	}
	if len(statuses) == 0 {
		return nil, nil
	}

	status := statuses[0]
	if status.ExecutedQuantity <= 0 {
		return nil, nil
	}

	result := &models.ExecutionResult{
		Executed:         status.ExecutedQuantity == status.OrderQuantity,
		ExecutedQuantity: status.ExecutedQuantity,
		ExecutedPrice:    status.ExecutedPrice,
		ExecutedAmount:   status.ExecutedPrice.Mul(decimal.NewFromInt(status.ExecutedQuantity)),
	}
	if result.Executed {
		om.log.Info().
			Str("order_number", orderNumber).
			Int64("quantity", result.ExecutedQuantity).
			Str("price", result.ExecutedPrice.String()).
			Msg("Order fully executed")
	} else {
		om.log.Info().
			Str("order_number", orderNumber).
			Int64("executed", status.ExecutedQuantity).
			Int64("ordered", status.OrderQuantity).
			Msg("Order partially executed")
	}
	return result, nil
}

// WaitForExecution polls the execution report until a full fill or the
// attempt budget runs out. Each attempt waits the interval first, matching
// the broker's report latency. A nil result with nil error means the fill
// was never confirmed.
func (om *OrderManager) WaitForExecution(ctx context.Context, orderNumber, stockCode string, attempts int, interval time.Duration) (*models.ExecutionResult, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		om.sleep(interval)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := om.CheckOrderExecution(ctx, orderNumber, stockCode)
		if err != nil {
			om.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Execution check failed")
			continue
		}
		if result != nil && result.Executed {
			return result, nil
		}
		om.log.Debug().
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("order_number", orderNumber).
			Msg("Awaiting execution")
	}
	return nil, nil
}

// HasPendingOrders reports whether the stock has any unfilled order.
func (om *OrderManager) HasPendingOrders(ctx context.Context, stockCode string) (bool, error) {
	return om.broker.HasPendingOrders(ctx, stockCode)
}
