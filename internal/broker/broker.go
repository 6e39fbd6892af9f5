// Package broker provides the brokerage REST API integration.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"dart-trader/internal/models"
)

// Broker defines the interface for brokerage operations. Every call is
// rate-limited and authenticates lazily; callers never manage tokens.
type Broker interface {
	// Authentication
	Authenticate(ctx context.Context) error
	IsAuthenticated() bool

	// Account
	GetBalance(ctx context.Context) (*models.Balance, error)
	GetPositions(ctx context.Context) ([]models.Position, error)

	// Market data
	GetCurrentPrice(ctx context.Context, stockCode string) (*models.Quote, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*models.OrderHandle, error)
	GetOrderStatus(ctx context.Context, stockCode, orderNumber string) ([]models.OrderStatus, error)
	HasPendingOrders(ctx context.Context, stockCode string) (bool, error)
}

// OrderRequest carries the parameters of one order placement. Price is
// required iff Style is limit.
type OrderRequest struct {
	StockCode string
	Side      models.OrderSide
	Style     models.OrderStyle
	Quantity  int64
	Price     decimal.Decimal
}
