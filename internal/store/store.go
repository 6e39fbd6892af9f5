// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"dart-trader/internal/models"
)

// DataStore defines the interface for trade and disclosure persistence.
type DataStore interface {
	// Trades
	SaveBuyTransaction(ctx context.Context, trade *models.TradeRecord) (int64, error)
	UpdateSellTransaction(ctx context.Context, stockCode string, fill models.SellFill) error
	LatestBuyTransaction(ctx context.Context, stockCode string) (*models.TradeRecord, error)
	OpenTrades(ctx context.Context) ([]models.TradeRecord, error)
	RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error)

	// Disclosure dedup
	MarkDisclosureSeen(ctx context.Context, receiptNo string, seenAt time.Time) error
	IsDisclosureSeen(ctx context.Context, receiptNo string) (bool, error)

	// Error journal
	LogError(ctx context.Context, step, message string) error

	// Lifecycle
	Close() error
}
