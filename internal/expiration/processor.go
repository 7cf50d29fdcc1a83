// Package expiration settles trades that have passed their expiration date.
package expiration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/ksred/spreadbook/internal/marketdata"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/internal/valuation"
)

// Stats summarizes one sweep
type Stats struct {
	Total   int `json:"total"`
	Expired int `json:"expired"`
	Active  int `json:"active"`
	Errors  int `json:"errors"`
}

type Processor struct {
	service  *trading.Service
	quotes   marketdata.Source
	interval time.Duration // Time between sweeps
	workers  int
	now      func() time.Time
}

type Option func(*Processor)

func WithInterval(d time.Duration) Option {
	return func(p *Processor) { p.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithWorkers bounds how many trades are settled concurrently
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

// NewProcessor creates a sweeper. quotes may be nil, in which case expired
// trades settle at zero exit debit against their entry underlying price.
func NewProcessor(service *trading.Service, quotes marketdata.Source, opts ...Option) *Processor {
	p := &Processor{
		service:  service,
		quotes:   quotes,
		interval: 5 * time.Minute,
		workers:  4,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the expiration sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiration_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting expiration processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down expiration processor")
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("expiration sweep finished with errors")
			}
		}
	}
}

// Sweep closes every active trade whose expiration date is before today. A
// failure on one trade does not stop the others; all failures are returned
// joined together.
func (p *Processor) Sweep(ctx context.Context) (Stats, error) {
	logger := log.With().Str("component", "expiration_processor").Logger()

	active, err := p.service.ListActive(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list active trades: %w", err)
	}
	due, err := p.service.ExpiredAsOf(ctx, p.now())
	if err != nil {
		return Stats{}, fmt.Errorf("list expired trades: %w", err)
	}

	logger.Info().
		Int("active_count", len(active)).
		Int("due_count", len(due)).
		Msg("processing expired trades")

	var expired, failed atomic.Int64
	workers := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(p.workers)
	for i := range due {
		trade := due[i]
		workers.Go(func(ctx context.Context) error {
			if err := p.settle(ctx, &trade); err != nil {
				failed.Add(1)
				return fmt.Errorf("trade %d: %w", trade.TradeID, err)
			}
			expired.Add(1)
			return nil
		})
	}
	sweepErr := workers.Wait()

	stats := Stats{
		Total:   len(active),
		Expired: int(expired.Load()),
		Active:  len(active) - int(expired.Load()),
		Errors:  int(failed.Load()),
	}

	logger.Info().
		Int("total", stats.Total).
		Int("expired", stats.Expired).
		Int("errors", stats.Errors).
		Msg("expiration sweep complete")

	return stats, sweepErr
}

func (p *Processor) settle(ctx context.Context, trade *types.ActiveTrade) error {
	logger := log.With().
		Int64("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Logger()

	// quote first so a market data failure leaves the trade untouched for the next sweep
	exitPrice, exitDebit, err := p.settlementValues(ctx, trade)
	if err != nil {
		return err
	}

	if trade.Status != types.StatusExpired {
		if _, err := p.service.MarkExpired(ctx, trade.TradeID); err != nil {
			return alreadyCompleted(logger, err)
		}
	}

	_, err = p.service.Close(ctx, trade.TradeID, types.CloseRequest{
		CloseDate:           types.NewDate(trade.ExpirationDate),
		UnderlyingExitPrice: exitPrice,
		ExitDebit:           exitDebit,
		ExitType:            types.ExitExpired,
	})
	if err != nil {
		return alreadyCompleted(logger, err)
	}

	logger.Info().
		Str("underlying_exit_price", exitPrice.StringFixed(2)).
		Str("exit_debit", exitDebit.StringFixed(2)).
		Msg("expired trade settled")
	return nil
}

// alreadyCompleted swallows the transition error raised when the trade was
// closed manually between listing and settling
func alreadyCompleted(logger zerolog.Logger, err error) error {
	if errors.Is(err, trading.ErrInvalidTransition) {
		logger.Warn().Err(err).Msg("trade already completed")
		return nil
	}
	return err
}

// settlementValues returns the underlying exit price and the cost to close at
// expiration. When the source has no quote for the underlying the trade settles
// at its entry underlying price with nothing left to pay. A failing source is an
// error and the trade stays active.
func (p *Processor) settlementValues(ctx context.Context, trade *types.ActiveTrade) (decimal.Decimal, decimal.Decimal, error) {
	if p.quotes == nil {
		return trade.UnderlyingPrice, decimal.Zero, nil
	}

	price, ok, err := marketdata.UnderlyingPrice(ctx, p.quotes, trade.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quote %s: %w", trade.Symbol, err)
	}
	if !ok {
		return trade.UnderlyingPrice, decimal.Zero, nil
	}

	debit := decimal.Max(valuation.Intrinsic(trade.Legs(), price), decimal.Zero)
	return price, debit, nil
}
