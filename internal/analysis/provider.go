package analysis

import (
	"context"

	"dart-trader/internal/config"
	"dart-trader/internal/models"
)

// QuoteFetcher is the slice of the broker used for signal computation.
type QuoteFetcher interface {
	GetCurrentPrice(ctx context.Context, stockCode string) (*models.Quote, error)
}

// QuoteSignalProvider derives the intraday signals from a live quote and
// takes the slower fundamental signals from a baseline assessment supplied by
// the operator.
type QuoteSignalProvider struct {
	quotes   QuoteFetcher
	baseline Signals
}

// NewQuoteSignalProvider creates a quote-backed signal provider. Only the
// fundamental fields of baseline are used; the intraday fields are
// recomputed per event.
func NewQuoteSignalProvider(quotes QuoteFetcher, baseline Signals) *QuoteSignalProvider {
	return &QuoteSignalProvider{quotes: quotes, baseline: baseline}
}

// BaselineFromConfig maps the operator's configured signal assessment into a
// scoring baseline. The candle field is ignored; it is recomputed per event.
func BaselineFromConfig(cfg config.AnalysisConfig) Signals {
	return Signals{
		IndexAboveMA200:     cfg.IndexAboveMA200,
		MarketCapInRange:    cfg.MarketCapInRange,
		ContractRatioOver20: cfg.ContractRatioOver20,
		VolumeSurge:         cfg.VolumeSurge,
	}
}

// SignalsFor computes the candle signal from the live quote.
func (p *QuoteSignalProvider) SignalsFor(ctx context.Context, ev *models.ContractEvent) (Signals, error) {
	s := p.baseline

	quote, err := p.quotes.GetCurrentPrice(ctx, ev.StockCode)
	if err != nil {
		return Signals{}, err
	}
	s.PositiveCandle = quote.CurrentPrice.GreaterThan(quote.OpenPrice)
	return s, nil
}

var _ SignalProvider = (*QuoteSignalProvider)(nil)
