// Package marketdata supplies option and underlying quotes used to mark open
// trades and settle expired ones.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
)

// ErrUnavailable is returned when a source cannot serve a request at all
var ErrUnavailable = errors.New("market data unavailable")

// Source returns quotes keyed by symbol. Symbols may be OCC option symbols or
// underlying tickers. Symbols the source has no quote for are left out of the
// result rather than reported as errors.
type Source interface {
	Quotes(ctx context.Context, symbols []string) (map[string]types.LegQuote, error)
}

// StaticSource serves a fixed set of quotes
type StaticSource map[string]types.LegQuote

func (s StaticSource) Quotes(_ context.Context, symbols []string) (map[string]types.LegQuote, error) {
	out := make(map[string]types.LegQuote, len(symbols))
	for _, symbol := range symbols {
		if q, ok := s[symbol]; ok {
			out[symbol] = q
		}
	}
	return out, nil
}

// Snapshot fetches quotes for every leg of a trade that has an option symbol
func Snapshot(ctx context.Context, src Source, trade *types.ActiveTrade, asOf time.Time) (types.LegPriceSnapshot, error) {
	var symbols []string
	for _, leg := range trade.Legs() {
		if leg.Symbol != "" {
			symbols = append(symbols, leg.Symbol)
		}
	}
	quotes, err := src.Quotes(ctx, symbols)
	if err != nil {
		return types.LegPriceSnapshot{}, fmt.Errorf("quote trade %d legs: %w", trade.TradeID, err)
	}
	return types.LegPriceSnapshot{AsOf: asOf.UTC(), Quotes: quotes}, nil
}

// UnderlyingPrice returns the last traded price of an underlying. ok is false
// when the source has no quote for it.
func UnderlyingPrice(ctx context.Context, src Source, symbol string) (price decimal.Decimal, ok bool, err error) {
	symbol = strings.ToUpper(symbol)
	quotes, err := src.Quotes(ctx, []string{symbol})
	if err != nil {
		return decimal.Zero, false, err
	}
	q, found := quotes[symbol]
	if !found {
		return decimal.Zero, false, nil
	}
	switch {
	case q.Last.IsPositive():
		return q.Last, true, nil
	case q.Mid.IsPositive():
		return q.Mid, true, nil
	default:
		return decimal.Zero, false, nil
	}
}

// TradeQuotes adapts a Source to the per-trade snapshot interface used by the
// valuation endpoints.
type TradeQuotes struct {
	Source Source
	Now    func() time.Time
}

func (q *TradeQuotes) Snapshot(ctx context.Context, trade *types.ActiveTrade) (types.LegPriceSnapshot, error) {
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	return Snapshot(ctx, q.Source, trade, now())
}
