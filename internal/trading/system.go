package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dart-trader/internal/analysis"
	"dart-trader/internal/broker"
	"dart-trader/internal/config"
	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/market"
	"dart-trader/internal/models"
	"dart-trader/internal/notify"
	"dart-trader/internal/store"
)

// DisclosureSource yields contract disclosures for a date range.
type DisclosureSource interface {
	FetchContractEvents(ctx context.Context, beginDate, endDate string) ([]models.ContractEvent, error)
}

// System wires the disclosure feed, scorer, strategy, store, and notifier
// into the autonomous trading loop.
type System struct {
	cfg         *config.Config
	broker      broker.Broker
	orders      *OrderManager
	positions   *PositionManager
	strategy    *Strategy
	scorer      analysis.Scorer
	store       store.DataStore
	notifier    notify.Notifier
	disclosures DisclosureSource
	log         zerolog.Logger
	now         func() time.Time

	mu             sync.Mutex
	tradingEnabled bool
}

// NewSystem creates the trading system. Trading starts disabled until Start
// authenticates with the broker.
func NewSystem(
	cfg *config.Config,
	b broker.Broker,
	scorer analysis.Scorer,
	dataStore store.DataStore,
	notifier notify.Notifier,
	disclosures DisclosureSource,
	log zerolog.Logger,
) *System {
	orders := NewOrderManager(b, cfg.Trading, log)
	positions := NewPositionManager(b, cfg.Trading, log)
	return &System{
		cfg:         cfg,
		broker:      b,
		orders:      orders,
		positions:   positions,
		strategy:    NewStrategy(orders, positions, cfg.Trading, log),
		scorer:      scorer,
		store:       dataStore,
		notifier:    notifier,
		disclosures: disclosures,
		log:         log,
		now:         time.Now,
	}
}

// Start authenticates with the broker and enables trading. An authentication
// failure leaves trading permanently disabled for this run; polling
// continues but no orders are placed.
func (s *System) Start(ctx context.Context) error {
	if err := s.broker.Authenticate(ctx); err != nil {
		s.disableTrading(fmt.Sprintf("broker authentication failed: %v", err))
		return err
	}

	s.mu.Lock()
	s.tradingEnabled = true
	s.mu.Unlock()

	s.log.Info().Msg("Trading system started")
	return nil
}

// TradingEnabled reports whether orders may be placed.
func (s *System) TradingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradingEnabled
}

// disableTrading latches trading off and alerts the operator. The latch is
// never cleared within a run; a credential problem needs a human.
func (s *System) disableTrading(reason string) {
	s.mu.Lock()
	wasEnabled := s.tradingEnabled
	s.tradingEnabled = false
	s.mu.Unlock()

	s.log.Error().Str("reason", reason).Msg("Trading disabled")
	if wasEnabled {
		if err := s.notifier.NotifyCriticalError(context.Background(), "trading disabled", map[string]string{
			"reason":     reason,
			"resolution": "check broker credentials and restart",
		}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send trading-disabled alert")
		}
	}
}

// checkAuthFailure latches trading off when an error indicates the broker
// session is unusable.
func (s *System) checkAuthFailure(err error) {
	if err != nil && apperrors.KindOf(err) == apperrors.KindAuthFailure {
		s.disableTrading(fmt.Sprintf("broker session failure: %v", err))
	}
}

// RunOnce performs one poll cycle: fetch fresh disclosures, evaluate each,
// then manage the held position.
func (s *System) RunOnce(ctx context.Context) error {
	now := s.now()
	begin := market.Today(now.AddDate(0, 0, -s.cfg.Disclosure.LookbackDays))
	end := market.Today(now)

	events, err := s.disclosures.FetchContractEvents(ctx, begin, end)
	if err != nil {
		s.log.Error().Err(err).Msg("Disclosure fetch failed")
	} else {
		for i := range events {
			if _, err := s.ProcessDisclosure(ctx, &events[i]); err != nil {
				s.log.Error().
					Err(err).
					Str("receipt_no", events[i].ReceiptNo).
					Msg("Disclosure processing failed")
			}
		}
	}

	if err := s.ManagePositions(ctx); err != nil {
		s.log.Error().Err(err).Msg("Position management failed")
		return err
	}
	return nil
}

// ProcessDisclosure evaluates one disclosure and buys when every gate
// passes. The receipt number is marked seen before the order goes out, so a
// disclosure can trigger at most one buy ever. Returns whether a buy was
// executed.
func (s *System) ProcessDisclosure(ctx context.Context, ev *models.ContractEvent) (bool, error) {
	if !s.TradingEnabled() {
		s.log.Debug().Msg("Trading disabled, skipping disclosure")
		return false, nil
	}

	seen, err := s.store.IsDisclosureSeen(ctx, ev.ReceiptNo)
	if err != nil {
		return false, fmt.Errorf("checking disclosure %s: %w", ev.ReceiptNo, err)
	}
	if seen {
		return false, nil
	}

	s.log.Info().
		Str("stock_code", ev.StockCode).
		Str("stock_name", ev.StockName).
		Str("receipt_no", ev.ReceiptNo).
		Msg("Processing new contract disclosure")

	score, summary, err := s.scorer.Score(ctx, ev)
	if err != nil {
		s.checkAuthFailure(err)
		return false, fmt.Errorf("scoring %s: %w", ev.StockCode, err)
	}
	s.log.Info().Int("score", score).Str("summary", summary).Msg("Disclosure scored")

	decision := s.strategy.ShouldBuy(ctx, ev, score)
	if !decision.ShouldBuy {
		s.log.Info().Str("reason", decision.Reason).Msg("Buy conditions not met")
		// A stale or low-scoring disclosure will never qualify; retire it.
		// Transient rejections stay unseen and are re-evaluated next poll.
		if ev.ReceiptDate != market.Today(s.now()) || score < s.cfg.Trading.MinScore {
			if err := s.store.MarkDisclosureSeen(ctx, ev.ReceiptNo, s.now()); err != nil {
				s.log.Warn().Err(err).Msg("Failed to retire disclosure")
			}
		}
		return false, nil
	}

	if err := s.notifier.NotifyBuyStart(ctx, ev, score); err != nil {
		s.log.Warn().Err(err).Msg("Buy start notification failed")
	}

	// Mark before ordering: a crash after this point must not rebuy.
	if err := s.store.MarkDisclosureSeen(ctx, ev.ReceiptNo, s.now()); err != nil {
		return false, fmt.Errorf("marking disclosure %s: %w", ev.ReceiptNo, err)
	}

	trade, err := s.strategy.ExecuteBuy(ctx, ev.StockCode, ev.StockName)
	if err != nil {
		s.checkAuthFailure(err)
		s.reportTradeFailure(ctx, ev, err)
		return false, err
	}

	if _, err := s.store.SaveBuyTransaction(ctx, trade); err != nil {
		// The buy stands even if the journal write fails.
		s.log.Error().Err(err).Msg("Failed to record buy transaction")
	}
	if err := s.notifier.NotifyBuyExecuted(ctx, trade); err != nil {
		s.log.Warn().Err(err).Msg("Buy execution notification failed")
	}

	s.log.Info().
		Str("stock_code", ev.StockCode).
		Int64("quantity", trade.Quantity).
		Msg("Buy completed")
	return true, nil
}

// reportTradeFailure journals a failed buy and alerts the operator with the
// step-level detail the pipeline recorded.
func (s *System) reportTradeFailure(ctx context.Context, ev *models.ContractEvent, err error) {
	details := map[string]string{
		"stock":      fmt.Sprintf("%s(%s)", ev.StockName, ev.StockCode),
		"receipt_no": ev.ReceiptNo,
		"error":      err.Error(),
	}

	var tradeErr *apperrors.TradeError
	if errors.As(err, &tradeErr) {
		for k, v := range tradeErr.Details() {
			details[k] = v
		}
	}

	if logErr := s.store.LogError(ctx, details["step"], err.Error()); logErr != nil {
		s.log.Warn().Err(logErr).Msg("Failed to journal trade error")
	}
	if notifyErr := s.notifier.NotifyCriticalError(ctx, fmt.Sprintf("buy failed: %s", ev.StockName), details); notifyErr != nil {
		s.log.Warn().Err(notifyErr).Msg("Failed to send trade failure alert")
	}
}

// ManagePositions runs one management pass over the held position and
// journals any resulting sell.
func (s *System) ManagePositions(ctx context.Context) error {
	if !s.TradingEnabled() {
		return nil
	}

	position, err := s.positions.CurrentPosition(ctx)
	if err != nil {
		s.checkAuthFailure(err)
		return err
	}
	if position == nil {
		return nil
	}

	buyTime := s.buyTimeFor(ctx, position.StockCode)

	outcome, err := s.strategy.ManagePosition(ctx, position, buyTime)
	if err != nil {
		s.checkAuthFailure(err)
		return err
	}
	if outcome == nil {
		return nil
	}

	switch outcome.Action {
	case SellExecuted:
		fill := models.SellFill{
			SellTime:      s.now(),
			ExecutedPrice: outcome.ExecutedPrice,
			Quantity:      outcome.Quantity,
			ProfitRate:    outcome.ProfitRate,
			Reason:        outcome.Reason,
		}
		if err := s.store.UpdateSellTransaction(ctx, outcome.StockCode, fill); err != nil {
			s.log.Error().Err(err).Msg("Failed to record sell transaction")
		}
		if err := s.notifier.NotifySellExecuted(ctx, outcome.StockCode, fill); err != nil {
			s.log.Warn().Err(err).Msg("Sell execution notification failed")
		}
	case SellOrderPlaced:
		strategy := models.SellStrategy{
			Action:      models.SellActionLimit,
			TargetPrice: outcome.SellPrice,
			Reason:      outcome.Reason,
		}
		if outcome.SellPrice.IsZero() {
			strategy.Action = models.SellActionMarket
		}
		if err := s.notifier.NotifySellOrderPlaced(ctx, outcome.StockCode, strategy); err != nil {
			s.log.Warn().Err(err).Msg("Sell order notification failed")
		}
	}
	return nil
}

// buyTimeFor resolves the position's buy time from the trade journal. A
// position with no journal entry is treated as bought now, which defers the
// holding-period rules while still allowing the bootstrap sell.
func (s *System) buyTimeFor(ctx context.Context, stockCode string) time.Time {
	trade, err := s.store.LatestBuyTransaction(ctx, stockCode)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Str("stock_code", stockCode).Msg("Buy time lookup failed")
		} else {
			s.log.Warn().Str("stock_code", stockCode).Msg("Position has no journaled buy, assuming bought today")
		}
		return s.now()
	}
	return trade.BuyTime
}
