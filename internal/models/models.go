// Package models provides domain models for the trading application.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStyle represents the pricing style of an order.
type OrderStyle string

const (
	OrderStyleMarket OrderStyle = "MARKET"
	OrderStyleLimit  OrderStyle = "LIMIT"
)

// Balance represents the cash available for trading. Snapshots are re-fetched
// on demand, never cached across calls.
type Balance struct {
	Deposit         decimal.Decimal
	TotalBuyAmount  decimal.Decimal
	TotalEvalAmount decimal.Decimal
	EstimatedAsset  decimal.Decimal
	AvailableAmount decimal.Decimal
}

// Position represents a held instrument with nonzero quantity. The broker is
// the canonical owner of "does a position exist"; the engine holds at most one.
type Position struct {
	StockCode    string
	StockName    string
	Quantity     int64
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	EvalAmount   decimal.Decimal
	ProfitLoss   decimal.Decimal
	ProfitRate   decimal.Decimal // percent
}

// Quote represents a current-price snapshot for one instrument.
type Quote struct {
	StockCode    string
	CurrentPrice decimal.Decimal
	OpenPrice    decimal.Decimal
	HighPrice    decimal.Decimal
	LowPrice     decimal.Decimal
	Volume       int64
}

// OrderHandle is the broker-assigned identity of an accepted order. Only the
// order number is retained by callers to poll execution.
type OrderHandle struct {
	OrderNumber string
	Exchange    string
}

// OrderStatus is one row of the broker's daily order/execution report.
type OrderStatus struct {
	OrderNumber      string
	StockCode        string
	Side             OrderSide
	OrderQuantity    int64
	ExecutedQuantity int64
	ExecutedPrice    decimal.Decimal
	Status           string
}

// ExecutionResult is the outcome of execution-confirmation polling.
// Executed=false with nonzero ExecutedQuantity denotes a partial fill; both
// are valid outcomes, not errors.
type ExecutionResult struct {
	Executed         bool
	ExecutedQuantity int64
	ExecutedPrice    decimal.Decimal
	ExecutedAmount   decimal.Decimal
}

// ContractEvent is a supply-contract disclosure that may trigger a buy.
type ContractEvent struct {
	ReceiptNo    string
	StockCode    string
	StockName    string
	CorpCode     string
	ReportName   string
	ReceiptDate  string // YYYYMMDD, exchange-local
	ContractTerm string
}

// TradeRecord is the persisted shape of one buy (and, once closed, its sell).
type TradeRecord struct {
	ID            int64
	StockCode     string
	StockName     string
	Quantity      int64
	BuyOrderNo    string
	ExecutedPrice decimal.Decimal
	BuyAmount     decimal.Decimal
	BuyTime       time.Time
	SellPrice     decimal.Decimal
	SellTime      time.Time
	SellReason    string
	ProfitRate    decimal.Decimal
	Closed        bool
}

// SellFill carries the fields written back to a trade record when the
// position is closed or a closing order is placed.
type SellFill struct {
	SellTime      time.Time
	ExecutedPrice decimal.Decimal
	Quantity      int64
	ProfitRate    decimal.Decimal
	Reason        string
}

// SellAction is the action a sell strategy calls for.
type SellAction int

const (
	// SellActionHold keeps the position untouched.
	SellActionHold SellAction = iota
	// SellActionMarket liquidates immediately at market.
	SellActionMarket
	// SellActionLimit places a limit sell at TargetPrice.
	SellActionLimit
)

func (a SellAction) String() string {
	switch a {
	case SellActionMarket:
		return "market_sell"
	case SellActionLimit:
		return "limit_sell"
	default:
		return "hold"
	}
}

// SellStrategy is a derived value computed fresh each invocation from the
// position, the buy date, and the pending-sell-order flag. Never stored.
type SellStrategy struct {
	Action      SellAction
	TargetPrice decimal.Decimal // set for limit sells
	ProfitRate  decimal.Decimal // target rate relative to avg price
	Reason      string
}

// BuyDecision is the outcome of the ordered buy-eligibility gates.
type BuyDecision struct {
	ShouldBuy bool
	Reason    string
	Score     int
}
