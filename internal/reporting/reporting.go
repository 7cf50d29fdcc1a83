// Package reporting builds read-only projections over active and completed
// trades: per-strategy aggregates, a portfolio summary and completed trade
// summaries.
package reporting

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/ksred/spreadbook/internal/marketdata"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/types"
)

type Service struct {
	trades      *trading.Service
	quotes      marketdata.Source
	accountSize decimal.Decimal
	lowCredit   decimal.Decimal
	now         func() time.Time
}

type Option func(*Service)

func WithAccountSize(size decimal.Decimal) Option {
	return func(s *Service) { s.accountSize = size }
}

// WithLowCreditThreshold sets the entry credit magnitude below which
// completed trades are flagged in summaries
func WithLowCreditThreshold(threshold decimal.Decimal) Option {
	return func(s *Service) { s.lowCredit = threshold }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reporting service. quotes may be nil, in which case
// active trades are reported without unrealized P&L.
func NewService(trades *trading.Service, quotes marketdata.Source, opts ...Option) *Service {
	s := &Service{
		trades:      trades,
		quotes:      quotes,
		accountSize: decimal.NewFromInt(100000),
		lowCredit:   decimal.RequireFromString("0.05"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StrategyReport aggregates every active and completed trade
func (s *Service) StrategyReport(ctx context.Context) (*types.StrategyReport, error) {
	logger := log.With().Str("service", "reporting").Logger()

	active, err := s.trades.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := s.trades.ListCompleted(ctx, nil, nil, 0)
	if err != nil {
		return nil, err
	}

	priced := s.price(ctx, active)

	report := &types.StrategyReport{
		GeneratedAt: s.now().UTC(),
		Strategies:  Aggregate(priced, completed),
		Portfolio:   Summarize(priced, completed, s.accountSize),
	}

	logger.Debug().
		Int("active_count", len(active)).
		Int("completed_count", len(completed)).
		Str("total_pnl", report.Portfolio.TotalPnL.StringFixed(2)).
		Msg("strategy report generated")

	return report, nil
}

// CompletedSummaries lists completed trades closed within [from, to], newest first
func (s *Service) CompletedSummaries(ctx context.Context, from, to *time.Time, limit int) ([]types.CompletedTradeSummary, error) {
	completed, err := s.trades.ListCompleted(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	return Summaries(completed, s.lowCredit), nil
}

// price marks active trades concurrently. A trade that cannot be marked is
// returned with a null P&L rather than failing the report.
func (s *Service) price(ctx context.Context, active []types.ActiveTrade) []PricedTrade {
	if s.quotes == nil {
		out := make([]PricedTrade, len(active))
		for i := range active {
			out[i] = PricedTrade{Trade: active[i]}
		}
		return out
	}

	p := pool.NewWithResults[PricedTrade]().WithMaxGoroutines(4)
	for i := range active {
		trade := active[i]
		p.Go(func() PricedTrade {
			priced := PricedTrade{Trade: trade}
			snapshot, err := marketdata.Snapshot(ctx, s.quotes, &trade, s.now())
			if err != nil {
				log.Warn().Err(err).Int64("trade_id", trade.TradeID).Msg("failed to quote trade")
				return priced
			}
			value, err := s.trades.Value(&trade, snapshot)
			if err != nil {
				log.Debug().Err(err).Int64("trade_id", trade.TradeID).Msg("trade left unpriced")
				return priced
			}
			priced.PnL = decimal.NewNullDecimal(value.UnrealizedPnL)
			return priced
		})
	}
	return p.Wait()
}
