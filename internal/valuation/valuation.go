// Package valuation holds the pure profit-and-loss arithmetic for option spreads.
//
// Every function is deterministic and free of I/O. Amounts are per-share option
// premiums; results are scaled by contract count and the contract multiplier and
// rounded to two decimal places.
package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
)

// ErrDivisionByZero is returned when a percentage return is requested for a
// trade whose entry credit is zero.
var ErrDivisionByZero = errors.New("pnl percent undefined: entry credit is zero")

// ErrMissingQuote is returned when a leg cannot be marked from a snapshot
var ErrMissingQuote = errors.New("missing quote for leg")

const places = 2

var (
	multiplier = decimal.NewFromInt(types.ContractMultiplier)
	hundred    = decimal.NewFromInt(100)
	two        = decimal.NewFromInt(2)
)

type PriceMode string

const (
	// PriceModeMid marks each leg at its mid price
	PriceModeMid PriceMode = "MID"
	// PriceModeNatural marks shorts at the ask and longs at the bid
	PriceModeNatural PriceMode = "NATURAL"
)

func (m PriceMode) Valid() bool {
	return m == PriceModeMid || m == PriceModeNatural
}

// LegMark is a leg's side and the per-share price it is marked at
type LegMark struct {
	Short bool
	Price decimal.Decimal
}

// CurrentValue returns the net cost to close: short marks minus long marks.
// A negative value means closing the position would collect a credit.
func CurrentValue(legs []LegMark) decimal.Decimal {
	value := decimal.Zero
	for _, leg := range legs {
		if leg.Short {
			value = value.Add(leg.Price)
		} else {
			value = value.Sub(leg.Price)
		}
	}
	return value.Round(places)
}

// EntryValue returns the credit implied by leg entry premiums
func EntryValue(legs []LegMark) decimal.Decimal {
	return CurrentValue(legs)
}

// PnL returns (entryCredit - closeCost) x contracts x 100
func PnL(entryCredit, closeCost decimal.Decimal, contracts int) decimal.Decimal {
	return entryCredit.Sub(closeCost).
		Mul(decimal.NewFromInt(int64(contracts))).
		Mul(multiplier).
		Round(places)
}

// PnLPercent returns pnl as a percentage of the capital at entry,
// |entryCredit| x contracts x 100.
func PnLPercent(pnl, entryCredit decimal.Decimal, contracts int) (decimal.Decimal, error) {
	basis := entryCredit.Abs().Mul(decimal.NewFromInt(int64(contracts))).Mul(multiplier)
	if basis.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return pnl.Div(basis).Mul(hundred).Round(places), nil
}

// Mark selects the price a leg is valued at from its quote
func Mark(q types.LegQuote, short bool, mode PriceMode) decimal.Decimal {
	if mode == PriceModeNatural {
		if short && q.Ask.IsPositive() {
			return q.Ask
		}
		if !short && q.Bid.IsPositive() {
			return q.Bid
		}
	}
	switch {
	case q.Mid.IsPositive():
		return q.Mid
	case q.Bid.IsPositive() && q.Ask.IsPositive():
		return q.Bid.Add(q.Ask).Div(two).Round(places)
	default:
		return q.Last
	}
}

// MarkLegs marks every leg against a snapshot keyed by option symbol
func MarkLegs(legs []types.Leg, snapshot types.LegPriceSnapshot, mode PriceMode) ([]LegMark, error) {
	marks := make([]LegMark, 0, len(legs))
	for _, leg := range legs {
		q, ok := snapshot.Quotes[leg.Symbol]
		if !ok || leg.Symbol == "" {
			return nil, fmt.Errorf("%w: %s %s", ErrMissingQuote, leg.Role, leg.Symbol)
		}
		marks = append(marks, LegMark{Short: leg.Role.IsShort(), Price: Mark(q, leg.Role.IsShort(), mode)})
	}
	return marks, nil
}

// EntryMarks converts priced legs into marks. ok is false if any leg has no price.
func EntryMarks(legs []types.Leg) (marks []LegMark, ok bool) {
	marks = make([]LegMark, 0, len(legs))
	for _, leg := range legs {
		if !leg.Price.Valid {
			return nil, false
		}
		marks = append(marks, LegMark{Short: leg.Role.IsShort(), Price: leg.Price.Decimal})
	}
	return marks, len(marks) > 0
}

// Intrinsic returns the per-share cost to close a spread at expiration given
// the underlying settlement price.
func Intrinsic(legs []types.Leg, underlying decimal.Decimal) decimal.Decimal {
	marks := make([]LegMark, 0, len(legs))
	for _, leg := range legs {
		var value decimal.Decimal
		if leg.Role.IsPut() {
			value = decimal.Max(leg.Strike.Sub(underlying), decimal.Zero)
		} else {
			value = decimal.Max(underlying.Sub(leg.Strike), decimal.Zero)
		}
		marks = append(marks, LegMark{Short: leg.Role.IsShort(), Price: value})
	}
	return CurrentValue(marks)
}
