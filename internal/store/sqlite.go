// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"dart-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite. Monetary columns are stored
// as decimal strings so round-tripping never loses precision.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trades table: one row per buy, updated in place when the sell fills
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_code TEXT NOT NULL,
		stock_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		buy_order_no TEXT NOT NULL,
		executed_price TEXT NOT NULL,
		buy_amount TEXT NOT NULL,
		buy_time DATETIME NOT NULL,
		sell_price TEXT,
		sell_time DATETIME,
		sell_reason TEXT,
		profit_rate TEXT,
		closed INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Disclosures already acted on or skipped, keyed by DART receipt number
	CREATE TABLE IF NOT EXISTS disclosures (
		receipt_no TEXT PRIMARY KEY,
		seen_at DATETIME NOT NULL
	);

	-- Error journal for post-mortem review
	CREATE TABLE IF NOT EXISTS error_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		step TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_stock_code ON trades(stock_code);
	CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed);
	CREATE INDEX IF NOT EXISTS idx_trades_buy_time ON trades(buy_time);
	CREATE INDEX IF NOT EXISTS idx_error_log_timestamp ON error_log(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBuyTransaction records a filled buy and returns the trade row ID.
func (s *SQLiteStore) SaveBuyTransaction(ctx context.Context, trade *models.TradeRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (stock_code, stock_name, quantity, buy_order_no, executed_price, buy_amount, buy_time, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, trade.StockCode, trade.StockName, trade.Quantity, trade.BuyOrderNo,
		trade.ExecutedPrice.String(), trade.BuyAmount.String(), trade.BuyTime)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	return id, nil
}

// UpdateSellTransaction closes the most recent open trade for a stock with
// the sell fill details.
func (s *SQLiteStore) UpdateSellTransaction(ctx context.Context, stockCode string, fill models.SellFill) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET sell_price = ?, sell_time = ?, sell_reason = ?, profit_rate = ?, closed = 1
		WHERE id = (
			SELECT id FROM trades WHERE stock_code = ? AND closed = 0 ORDER BY buy_time DESC LIMIT 1
		)
	`, fill.ExecutedPrice.String(), fill.SellTime, fill.Reason, fill.ProfitRate.String(), stockCode)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no open trade for %s: %w", stockCode, sql.ErrNoRows)
	}
	return nil
}

// LatestBuyTransaction returns the most recent open trade for a stock, or
// sql.ErrNoRows when none exists.
func (s *SQLiteStore) LatestBuyTransaction(ctx context.Context, stockCode string) (*models.TradeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stock_code, stock_name, quantity, buy_order_no, executed_price, buy_amount, buy_time,
		       COALESCE(sell_price, ''), sell_time, COALESCE(sell_reason, ''), COALESCE(profit_rate, ''), closed
		FROM trades
		WHERE stock_code = ? AND closed = 0
		ORDER BY buy_time DESC
		LIMIT 1
	`, stockCode)
	return scanTrade(row)
}

// OpenTrades returns every trade whose sell has not yet been recorded.
func (s *SQLiteStore) OpenTrades(ctx context.Context) ([]models.TradeRecord, error) {
	return s.queryTrades(ctx, `
		SELECT id, stock_code, stock_name, quantity, buy_order_no, executed_price, buy_amount, buy_time,
		       COALESCE(sell_price, ''), sell_time, COALESCE(sell_reason, ''), COALESCE(profit_rate, ''), closed
		FROM trades
		WHERE closed = 0
		ORDER BY buy_time ASC
	`)
}

// RecentTrades returns the most recent trades, open or closed.
func (s *SQLiteStore) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryTrades(ctx, `
		SELECT id, stock_code, stock_name, quantity, buy_order_no, executed_price, buy_amount, buy_time,
		       COALESCE(sell_price, ''), sell_time, COALESCE(sell_reason, ''), COALESCE(profit_rate, ''), closed
		FROM trades
		ORDER BY buy_time DESC
		LIMIT ?
	`, limit)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.TradeRecord, error) {
	var (
		t          models.TradeRecord
		execPrice  string
		buyAmount  string
		sellPrice  string
		profitRate string
		sellTime   sql.NullTime
		closed     int
	)
	err := row.Scan(&t.ID, &t.StockCode, &t.StockName, &t.Quantity, &t.BuyOrderNo,
		&execPrice, &buyAmount, &t.BuyTime, &sellPrice, &sellTime, &t.SellReason, &profitRate, &closed)
	if err != nil {
		return nil, err
	}

	t.ExecutedPrice, err = decimal.NewFromString(execPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt executed_price %q: %w", execPrice, err)
	}
	t.BuyAmount, err = decimal.NewFromString(buyAmount)
	if err != nil {
		return nil, fmt.Errorf("corrupt buy_amount %q: %w", buyAmount, err)
	}
	if sellPrice != "" {
		t.SellPrice, err = decimal.NewFromString(sellPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt sell_price %q: %w", sellPrice, err)
		}
	}
	if profitRate != "" {
		t.ProfitRate, err = decimal.NewFromString(profitRate)
		if err != nil {
			return nil, fmt.Errorf("corrupt profit_rate %q: %w", profitRate, err)
		}
	}
	if sellTime.Valid {
		t.SellTime = sellTime.Time
	}
	t.Closed = closed != 0
	return &t, nil
}

// MarkDisclosureSeen records a disclosure receipt number so it is never
// processed twice. Re-marking an already seen disclosure is a no-op.
func (s *SQLiteStore) MarkDisclosureSeen(ctx context.Context, receiptNo string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO disclosures (receipt_no, seen_at) VALUES (?, ?)
	`, receiptNo, seenAt)
	if err != nil {
		return fmt.Errorf("failed to mark disclosure: %w", err)
	}
	return nil
}

// IsDisclosureSeen reports whether a receipt number has been recorded.
func (s *SQLiteStore) IsDisclosureSeen(ctx context.Context, receiptNo string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM disclosures WHERE receipt_no = ?`, receiptNo).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query disclosure: %w", err)
	}
	return n > 0, nil
}

// LogError appends a row to the error journal.
func (s *SQLiteStore) LogError(ctx context.Context, step, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_log (step, message) VALUES (?, ?)`, step, message)
	if err != nil {
		return fmt.Errorf("failed to log error: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements the DataStore interface.
var _ DataStore = (*SQLiteStore)(nil)
