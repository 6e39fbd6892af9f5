package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dart-trader/internal/broker"
	"dart-trader/internal/config"
	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/models"
)

// stubBroker is a scripted Broker for strategy tests.
type stubBroker struct {
	balance   *models.Balance
	positions []models.Position
	quote     *models.Quote
	pending   bool

	placed      []broker.OrderRequest
	nextOrderNo int
	// fill controls what GetOrderStatus reports per order number.
	fills map[string]models.OrderStatus

	balanceErr error
	orderErr   error
}

func newStubBroker() *stubBroker {
	return &stubBroker{fills: make(map[string]models.OrderStatus)}
}

func (b *stubBroker) Authenticate(context.Context) error { return nil }
func (b *stubBroker) IsAuthenticated() bool              { return true }

func (b *stubBroker) GetBalance(context.Context) (*models.Balance, error) {
	if b.balanceErr != nil {
		return nil, b.balanceErr
	}
	return b.balance, nil
}

func (b *stubBroker) GetPositions(context.Context) ([]models.Position, error) {
	return b.positions, nil
}

func (b *stubBroker) GetCurrentPrice(_ context.Context, stockCode string) (*models.Quote, error) {
	if b.quote == nil {
		return nil, apperrors.NewBrokerError(apperrors.KindRemoteTerminal, "get_current_price", "", "no quote", nil)
	}
	return b.quote, nil
}

func (b *stubBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (*models.OrderHandle, error) {
	if b.orderErr != nil {
		return nil, b.orderErr
	}
	b.placed = append(b.placed, req)
	b.nextOrderNo++
	return &models.OrderHandle{
		OrderNumber: fmt.Sprintf("ORD%04d", b.nextOrderNo),
		Exchange:    "KRX",
	}, nil
}

func (b *stubBroker) GetOrderStatus(_ context.Context, stockCode, orderNumber string) ([]models.OrderStatus, error) {
	status, ok := b.fills[orderNumber]
	if !ok {
		return nil, nil
	}
	return []models.OrderStatus{status}, nil
}

func (b *stubBroker) HasPendingOrders(context.Context, string) (bool, error) {
	return b.pending, nil
}

var _ broker.Broker = (*stubBroker)(nil)

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Mode:                "mock",
		MinScore:            8,
		TargetProfitRate:    0.03,
		EarlyExitDiscount:   0.01,
		CommissionRate:      0.00018,
		MinOrderBalance:     10000,
		MaxHoldingDays:      10,
		EarlyExitDays:       5,
		BuyConfirmAttempts:  5,
		BuyConfirmInterval:  time.Millisecond,
		SellConfirmAttempts: 1,
		SellConfirmInterval: time.Millisecond,
	}
}

func newTestStrategy(b *stubBroker, fixedNow time.Time) *Strategy {
	cfg := testTradingConfig()
	log := zerolog.Nop()
	orders := NewOrderManager(b, cfg, log)
	orders.sleep = func(time.Duration) {}
	orders.now = func() time.Time { return fixedNow }
	positions := NewPositionManager(b, cfg, log)
	s := NewStrategy(orders, positions, cfg, log)
	s.sleep = func(time.Duration) {}
	s.now = func() time.Time { return fixedNow }
	return s
}

// A Thursday during the buy window, KST.
var tradingNow = time.Date(2025, 8, 28, 10, 0, 0, 0, time.FixedZone("KST", 9*3600))

func TestShouldBuyGates(t *testing.T) {
	ctx := context.Background()
	todayEvent := &models.ContractEvent{
		StockCode:   "005930",
		StockName:   "Alpha Corp",
		ReceiptNo:   "20250828000001",
		ReceiptDate: "20250828",
	}

	t.Run("stale disclosure rejected", func(t *testing.T) {
		s := newTestStrategy(newStubBroker(), tradingNow)
		stale := *todayEvent
		stale.ReceiptDate = "20250827"
		d := s.ShouldBuy(ctx, &stale, 10)
		if d.ShouldBuy {
			t.Fatal("yesterday's disclosure must not buy")
		}
	})

	t.Run("low score rejected", func(t *testing.T) {
		s := newTestStrategy(newStubBroker(), tradingNow)
		d := s.ShouldBuy(ctx, todayEvent, 7)
		if d.ShouldBuy {
			t.Fatal("score 7 must not pass an 8-point minimum")
		}
	})

	t.Run("outside buy window rejected", func(t *testing.T) {
		lateNow := time.Date(2025, 8, 28, 15, 25, 0, 0, time.FixedZone("KST", 9*3600))
		s := newTestStrategy(newStubBroker(), lateNow)
		d := s.ShouldBuy(ctx, todayEvent, 10)
		if d.ShouldBuy {
			t.Fatal("15:25 is after the buy cutoff")
		}
	})

	t.Run("held position rejected", func(t *testing.T) {
		b := newStubBroker()
		b.positions = []models.Position{{StockCode: "000660", StockName: "Beta Corp", Quantity: 5}}
		s := newTestStrategy(b, tradingNow)
		d := s.ShouldBuy(ctx, todayEvent, 10)
		if d.ShouldBuy {
			t.Fatal("an existing position must block a new buy")
		}
	})

	t.Run("all gates pass", func(t *testing.T) {
		s := newTestStrategy(newStubBroker(), tradingNow)
		d := s.ShouldBuy(ctx, todayEvent, 9)
		if !d.ShouldBuy {
			t.Fatalf("want buy, got rejection: %s", d.Reason)
		}
		if d.Score != 9 {
			t.Fatalf("score = %d", d.Score)
		}
	})
}

func TestExecuteBuyFullFlow(t *testing.T) {
	b := newStubBroker()
	b.balance = &models.Balance{
		Deposit:         decimal.NewFromInt(500000),
		AvailableAmount: decimal.NewFromInt(500000),
	}
	b.quote = &models.Quote{StockCode: "005930", CurrentPrice: decimal.NewFromInt(48200)}
	// The market buy will be ORD0001; report it fully filled.
	b.fills["ORD0001"] = models.OrderStatus{
		OrderNumber:      "ORD0001",
		StockCode:        "005930",
		Side:             models.OrderSideBuy,
		OrderQuantity:    10,
		ExecutedQuantity: 10,
		ExecutedPrice:    decimal.NewFromInt(48200),
	}

	s := newTestStrategy(b, tradingNow)
	trade, err := s.ExecuteBuy(context.Background(), "005930", "Alpha Corp")
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}

	// 500,000 won at 48,200/share with commission budgets exactly 10 shares.
	if trade.Quantity != 10 {
		t.Fatalf("quantity = %d, want 10", trade.Quantity)
	}
	if !trade.ExecutedPrice.Equal(decimal.NewFromInt(48200)) {
		t.Fatalf("executed price = %s", trade.ExecutedPrice)
	}
	if !trade.BuyAmount.Equal(decimal.NewFromInt(482000)) {
		t.Fatalf("buy amount = %s", trade.BuyAmount)
	}

	if len(b.placed) != 2 {
		t.Fatalf("placed %d orders, want market buy plus profit target sell", len(b.placed))
	}
	buy, sell := b.placed[0], b.placed[1]
	if buy.Side != models.OrderSideBuy || buy.Style != models.OrderStyleMarket || buy.Quantity != 10 {
		t.Fatalf("buy order = %+v", buy)
	}
	if sell.Side != models.OrderSideSell || sell.Style != models.OrderStyleLimit || sell.Quantity != 10 {
		t.Fatalf("sell order = %+v", sell)
	}
	// 48,200 * 1.03 = 49,646, floored to the 50-won tick.
	if !sell.Price.Equal(decimal.NewFromInt(49600)) {
		t.Fatalf("sell price = %s, want 49600", sell.Price)
	}
}

func TestExecuteBuyUnconfirmedFill(t *testing.T) {
	b := newStubBroker()
	b.balance = &models.Balance{AvailableAmount: decimal.NewFromInt(500000)}
	b.quote = &models.Quote{StockCode: "005930", CurrentPrice: decimal.NewFromInt(48200)}
	// No fill ever reported.

	s := newTestStrategy(b, tradingNow)
	_, err := s.ExecuteBuy(context.Background(), "005930", "Alpha Corp")
	if err == nil {
		t.Fatal("want error for unconfirmed buy")
	}

	var tradeErr *apperrors.TradeError
	if !errors.As(err, &tradeErr) {
		t.Fatalf("err = %T, want *TradeError", err)
	}
	if tradeErr.Step != "buy_confirmation" {
		t.Fatalf("step = %q", tradeErr.Step)
	}
	// Only the market buy went out; no sell without a confirmed fill.
	if len(b.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(b.placed))
	}
}

func TestExecuteBuyInsufficientBalance(t *testing.T) {
	b := newStubBroker()
	b.balance = &models.Balance{AvailableAmount: decimal.NewFromInt(5000)}

	s := newTestStrategy(b, tradingNow)
	_, err := s.ExecuteBuy(context.Background(), "005930", "Alpha Corp")
	if !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	var tradeErr *apperrors.TradeError
	if !errors.As(err, &tradeErr) || tradeErr.Step != "balance_validation" {
		t.Fatalf("err = %v, want balance_validation step", err)
	}
	if len(b.placed) != 0 {
		t.Fatal("no order may go out on a failed balance check")
	}
}

func TestManagePositionMaxHoldingMarketSell(t *testing.T) {
	b := newStubBroker()
	position := models.Position{
		StockCode:    "005930",
		StockName:    "Alpha Corp",
		Quantity:     10,
		AvgPrice:     decimal.NewFromInt(48200),
		CurrentPrice: decimal.NewFromInt(47000),
	}
	b.positions = []models.Position{position}
	b.pending = true // the bootstrap sell is already resting
	b.fills["ORD0001"] = models.OrderStatus{
		OrderNumber:      "ORD0001",
		StockCode:        "005930",
		Side:             models.OrderSideSell,
		OrderQuantity:    10,
		ExecutedQuantity: 10,
		ExecutedPrice:    decimal.NewFromInt(47000),
	}

	s := newTestStrategy(b, tradingNow)
	buyTime := tradingNow.AddDate(0, 0, -10)

	outcome, err := s.ManagePosition(context.Background(), &position, buyTime)
	if err != nil {
		t.Fatalf("ManagePosition: %v", err)
	}
	if outcome == nil || outcome.Action != SellExecuted {
		t.Fatalf("outcome = %+v, want executed market sell", outcome)
	}
	if !outcome.ExecutedPrice.Equal(decimal.NewFromInt(47000)) {
		t.Fatalf("executed price = %s", outcome.ExecutedPrice)
	}
	// (47000 - 48200) / 48200
	wantRate := decimal.NewFromInt(-1200).Div(decimal.NewFromInt(48200))
	if !outcome.ProfitRate.Equal(wantRate) {
		t.Fatalf("profit rate = %s, want %s", outcome.ProfitRate, wantRate)
	}

	if len(b.placed) != 1 || b.placed[0].Style != models.OrderStyleMarket || b.placed[0].Side != models.OrderSideSell {
		t.Fatalf("placed = %+v", b.placed)
	}
}

func TestManagePositionBootstrapSell(t *testing.T) {
	b := newStubBroker()
	position := models.Position{
		StockCode:    "005930",
		StockName:    "Alpha Corp",
		Quantity:     10,
		AvgPrice:     decimal.NewFromInt(48200),
		CurrentPrice: decimal.NewFromInt(48500),
	}
	b.positions = []models.Position{position}
	b.pending = false // no resting sell order

	s := newTestStrategy(b, tradingNow)
	outcome, err := s.ManagePosition(context.Background(), &position, tradingNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ManagePosition: %v", err)
	}
	if outcome == nil || outcome.Action != SellOrderPlaced {
		t.Fatalf("outcome = %+v, want resting limit order", outcome)
	}
	if len(b.placed) != 1 || b.placed[0].Style != models.OrderStyleLimit {
		t.Fatalf("placed = %+v", b.placed)
	}
	if !b.placed[0].Price.Equal(decimal.NewFromInt(49600)) {
		t.Fatalf("limit price = %s, want 49600", b.placed[0].Price)
	}
}

func TestCurrentPositionIdempotent(t *testing.T) {
	b := newStubBroker()
	b.positions = []models.Position{{
		StockCode: "005930",
		StockName: "Alpha Corp",
		Quantity:  10,
		AvgPrice:  decimal.NewFromInt(48200),
	}}
	s := newTestStrategy(b, tradingNow)

	first, err := s.positions.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	second, err := s.positions.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if first.StockCode != second.StockCode || first.Quantity != second.Quantity ||
		!first.AvgPrice.Equal(second.AvgPrice) {
		t.Fatalf("repeated reads differ: %+v vs %+v", first, second)
	}
}

func TestManagePositionHoldDoesNothing(t *testing.T) {
	b := newStubBroker()
	position := models.Position{
		StockCode:    "005930",
		StockName:    "Alpha Corp",
		Quantity:     10,
		AvgPrice:     decimal.NewFromInt(48200),
		CurrentPrice: decimal.NewFromInt(49000),
	}
	b.positions = []models.Position{position}
	b.pending = true

	s := newTestStrategy(b, tradingNow)
	outcome, err := s.ManagePosition(context.Background(), &position, tradingNow.AddDate(0, 0, -2))
	if err != nil {
		t.Fatalf("ManagePosition: %v", err)
	}
	if outcome != nil {
		t.Fatalf("outcome = %+v, want nil for a young position", outcome)
	}
	if len(b.placed) != 0 {
		t.Fatalf("placed = %+v, want none", b.placed)
	}
}
