package reporting

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/internal/valuation"
)

var hundred = decimal.NewFromInt(100)

// PricedTrade is an active trade with its unrealized P&L. PnL is null when the
// trade could not be marked.
type PricedTrade struct {
	Trade types.ActiveTrade
	PnL   decimal.NullDecimal
}

// Aggregate builds one aggregate per strategy type, in the canonical strategy order
func Aggregate(active []PricedTrade, completed []types.CompletedTrade) []types.StrategyAggregate {
	out := make([]types.StrategyAggregate, 0, len(types.Strategies))
	for _, strategy := range types.Strategies {
		var a []PricedTrade
		for _, t := range active {
			if t.Trade.TradeType == strategy {
				a = append(a, t)
			}
		}
		var c []types.CompletedTrade
		for _, t := range completed {
			if t.TradeType == strategy {
				c = append(c, t)
			}
		}
		out = append(out, aggregateStrategy(strategy, a, c))
	}
	return out
}

func aggregateStrategy(strategy types.StrategyType, active []PricedTrade, completed []types.CompletedTrade) types.StrategyAggregate {
	agg := types.StrategyAggregate{
		Strategy:       strategy,
		ActiveCount:    len(active),
		CompletedCount: len(completed),
	}

	var all []decimal.Decimal
	winners := 0
	for _, t := range active {
		if !t.PnL.Valid {
			agg.UnpricedCount++
			continue
		}
		agg.UnrealizedPnL = agg.UnrealizedPnL.Add(t.PnL.Decimal)
		all = append(all, t.PnL.Decimal)
		if t.PnL.Decimal.IsPositive() {
			winners++
		}
	}

	var wins, losses []decimal.Decimal
	for _, t := range completed {
		pnl := t.ActualProfitLoss
		agg.RealizedPnL = agg.RealizedPnL.Add(pnl)
		all = append(all, pnl)
		switch {
		case pnl.IsPositive():
			winners++
			wins = append(wins, pnl)
		case pnl.IsNegative():
			losses = append(losses, pnl)
		}
	}

	agg.TotalPnL = agg.RealizedPnL.Add(agg.UnrealizedPnL)
	agg.WinRate = percent(winners, len(active)+len(completed))
	agg.AvgWinner = mean(wins)
	agg.AvgLoser = mean(losses)
	if len(all) > 0 {
		agg.MaxLoss = decimal.Min(all[0], all[1:]...)
		agg.LargestWinner = decimal.Max(all[0], all[1:]...)
	}
	return agg
}

// Summarize builds the portfolio view across every strategy
func Summarize(active []PricedTrade, completed []types.CompletedTrade, accountSize decimal.Decimal) types.PortfolioSummary {
	sum := types.PortfolioSummary{
		ActiveCount:    len(active),
		CompletedCount: len(completed),
		MonthlyPnL:     make(map[string]decimal.Decimal),
		WeeklyPnL:      make(map[string]decimal.Decimal),
	}

	underlyings := make(map[string]bool)
	winners := 0
	for _, t := range active {
		underlyings[t.Trade.Symbol] = true
		if t.PnL.Valid {
			sum.UnrealizedPnL = sum.UnrealizedPnL.Add(t.PnL.Decimal)
			if t.PnL.Decimal.IsPositive() {
				winners++
			}
		}
	}

	grossWin, grossLoss := decimal.Zero, decimal.Zero
	holdDays := 0
	for i := range completed {
		t := &completed[i]
		underlyings[t.Symbol] = true
		sum.RealizedPnL = sum.RealizedPnL.Add(t.ActualProfitLoss)
		holdDays += t.HoldDays()

		switch {
		case t.ActualProfitLoss.IsPositive():
			winners++
			grossWin = grossWin.Add(t.ActualProfitLoss)
		case t.ActualProfitLoss.IsNegative():
			grossLoss = grossLoss.Add(t.ActualProfitLoss.Abs())
		}

		month := t.CloseDate.UTC().Format("2006-01")
		sum.MonthlyPnL[month] = sum.MonthlyPnL[month].Add(t.ActualProfitLoss)
		year, week := t.CloseDate.UTC().ISOWeek()
		key := fmt.Sprintf("%d-W%02d", year, week)
		sum.WeeklyPnL[key] = sum.WeeklyPnL[key].Add(t.ActualProfitLoss)
	}

	sum.UniqueUnderlyings = len(underlyings)
	sum.TotalPnL = sum.RealizedPnL.Add(sum.UnrealizedPnL)
	sum.WinRate = percent(winners, len(active)+len(completed))
	if grossLoss.IsPositive() {
		sum.ProfitFactor = decimal.NewNullDecimal(grossWin.Div(grossLoss).Round(2))
	}
	if accountSize.IsPositive() {
		sum.TotalReturn = decimal.NewNullDecimal(sum.TotalPnL.Div(accountSize).Mul(hundred).Round(2))
	}
	if len(completed) > 0 {
		sum.AvgHoldDays = decimal.NewFromInt(int64(holdDays)).
			Div(decimal.NewFromInt(int64(len(completed)))).
			Round(2)
	}
	return sum
}

// Summaries projects completed trades for reporting. Trades whose entry credit
// magnitude is below lowCredit are flagged; their percentage return is exact
// but dominated by rounding in the credit.
func Summaries(completed []types.CompletedTrade, lowCredit decimal.Decimal) []types.CompletedTradeSummary {
	out := make([]types.CompletedTradeSummary, 0, len(completed))
	for i := range completed {
		t := &completed[i]
		s := types.CompletedTradeSummary{
			TradeID:     t.TradeID,
			Symbol:      t.Symbol,
			Strategy:    t.TradeType,
			EntryDate:   t.EntryDate,
			CloseDate:   t.CloseDate,
			EntryCredit: t.EntryCredit,
			ExitDebit:   t.ExitDebit,
			PnL:         t.ActualProfitLoss,
			ExitType:    t.ExitType,
			HoldDays:    t.HoldDays(),
			LowCredit:   t.EntryCredit.Abs().LessThan(lowCredit),
		}
		if pct, err := valuation.PnLPercent(t.ActualProfitLoss, t.EntryCredit, t.NumContracts); err == nil {
			s.PnLPercent = decimal.NewNullDecimal(pct)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseDate.After(out[j].CloseDate)
	})
	return out
}

func percent(n, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(hundred).
		Round(2)
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).
		Div(decimal.NewFromInt(int64(len(values)))).
		Round(2)
}
