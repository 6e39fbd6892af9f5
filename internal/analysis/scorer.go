// Package analysis scores disclosure events before any buy is attempted.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dart-trader/internal/models"
)

// Scorer rates a contract disclosure on a 0-10 scale. A buy is only taken at
// or above the configured minimum score.
type Scorer interface {
	Score(ctx context.Context, ev *models.ContractEvent) (int, string, error)
}

// Signals are the individual checks feeding the score.
type Signals struct {
	// Market index trades above its 200-day moving average.
	IndexAboveMA200 bool
	// Market cap between 50B and 500B KRW.
	MarketCapInRange bool
	// Contract amount exceeds 20% of the issuer's recent annual sales.
	ContractRatioOver20 bool
	// Today's volume is at least twice the 20-day average.
	VolumeSurge bool
	// Today's close is above the open.
	PositiveCandle bool
}

// SignalProvider computes the signals for a disclosure event from market
// data.
type SignalProvider interface {
	SignalsFor(ctx context.Context, ev *models.ContractEvent) (Signals, error)
}

// Score weights: index trend 2, market cap 2, contract ratio 3, each trading
// condition 1.5. The fractional sum is truncated.
func ScoreSignals(s Signals) (int, string) {
	score := decimal.Zero
	var parts []string

	check := func(ok bool, weight float64, yes, no string) {
		if ok {
			score = score.Add(decimal.NewFromFloat(weight))
			parts = append(parts, "✅ "+yes)
		} else {
			parts = append(parts, "❌ "+no)
		}
	}

	check(s.IndexAboveMA200, 2, "index above 200-day MA", "index below 200-day MA")
	check(s.MarketCapInRange, 2, "market cap in range", "market cap out of range")
	check(s.ContractRatioOver20, 3, "contract over 20% of sales", "contract under 20% of sales")
	check(s.VolumeSurge, 1.5, "volume surge", "no volume surge")
	check(s.PositiveCandle, 1.5, "positive candle", "negative candle")

	final := int(score.IntPart())

	var grade string
	switch {
	case final >= 8:
		grade = "strong"
	case final >= 6:
		grade = "promising"
	case final >= 4:
		grade = "neutral"
	default:
		grade = "weak"
	}

	return final, fmt.Sprintf("%s | %s", grade, strings.Join(parts, " | "))
}

// RuleScorer scores events from a signal provider.
type RuleScorer struct {
	provider SignalProvider
	log      zerolog.Logger
}

// NewRuleScorer creates a rule-based scorer.
func NewRuleScorer(provider SignalProvider, log zerolog.Logger) *RuleScorer {
	return &RuleScorer{provider: provider, log: log}
}

// Score computes the event's signals and converts them to a score.
func (r *RuleScorer) Score(ctx context.Context, ev *models.ContractEvent) (int, string, error) {
	signals, err := r.provider.SignalsFor(ctx, ev)
	if err != nil {
		return 0, "", fmt.Errorf("computing signals for %s: %w", ev.StockCode, err)
	}

	score, summary := ScoreSignals(signals)
	r.log.Info().
		Str("stock_code", ev.StockCode).
		Int("score", score).
		Str("summary", summary).
		Msg("Disclosure scored")
	return score, summary, nil
}

// FixedScorer always returns the same score. Used in tests and dry runs.
type FixedScorer struct {
	Value   int
	Summary string
}

// Score returns the fixed score.
func (f *FixedScorer) Score(_ context.Context, _ *models.ContractEvent) (int, string, error) {
	return f.Value, f.Summary, nil
}

var (
	_ Scorer = (*RuleScorer)(nil)
	_ Scorer = (*FixedScorer)(nil)
)
