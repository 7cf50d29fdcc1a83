package reporting

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/database"
	"github.com/ksred/spreadbook/internal/marketdata"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/types"
)

var testNow = time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func completed(id int64, symbol, entry, closed, credit, pnl string) types.CompletedTrade {
	return types.CompletedTrade{
		TradeID:          id,
		Symbol:           symbol,
		TradeType:        types.StrategyBullPut,
		SpreadType:       types.SpreadCredit,
		EntryDate:        day(entry),
		ExpirationDate:   day("2025-05-16"),
		CloseDate:        day(closed),
		EntryCredit:      dec(credit),
		NumContracts:     1,
		ActualProfitLoss: dec(pnl),
		ExitType:         types.ExitClosedEarly,
	}
}

func fixture() ([]PricedTrade, []types.CompletedTrade) {
	active := []PricedTrade{
		{Trade: types.ActiveTrade{TradeID: 10, Symbol: "AAPL", TradeType: types.StrategyBullPut}, PnL: decimal.NewNullDecimal(dec("15"))},
		{Trade: types.ActiveTrade{TradeID: 11, Symbol: "QQQ", TradeType: types.StrategyBullPut}},
	}
	done := []types.CompletedTrade{
		completed(1, "AAPL", "2025-04-06", "2025-04-20", "0.30", "20"),
		completed(2, "SPY", "2025-04-06", "2025-05-16", "0.50", "-250"),
		completed(3, "TSLA", "2025-04-01", "2025-04-21", "0.40", "30"),
	}
	return active, done
}

func TestAggregate(t *testing.T) {
	active, done := fixture()
	aggs := Aggregate(active, done)
	require.Len(t, aggs, len(types.Strategies))

	bullPut := aggs[0]
	assert.Equal(t, types.StrategyBullPut, bullPut.Strategy)
	assert.Equal(t, 2, bullPut.ActiveCount)
	assert.Equal(t, 3, bullPut.CompletedCount)
	assert.Equal(t, 1, bullPut.UnpricedCount)
	assert.True(t, dec("15").Equal(bullPut.UnrealizedPnL))
	assert.True(t, dec("-200").Equal(bullPut.RealizedPnL))
	assert.True(t, dec("-185").Equal(bullPut.TotalPnL))
	assert.True(t, dec("60").Equal(bullPut.WinRate), bullPut.WinRate.String())
	assert.True(t, dec("25").Equal(bullPut.AvgWinner))
	assert.True(t, dec("-250").Equal(bullPut.AvgLoser))
	assert.True(t, dec("-250").Equal(bullPut.MaxLoss))
	assert.True(t, dec("30").Equal(bullPut.LargestWinner))

	for _, agg := range aggs[1:] {
		assert.Zero(t, agg.ActiveCount+agg.CompletedCount, agg.Strategy)
		assert.True(t, agg.MaxLoss.IsZero())
		assert.True(t, agg.WinRate.IsZero())
	}
}

func TestSummarize(t *testing.T) {
	active, done := fixture()
	sum := Summarize(active, done, dec("10000"))

	assert.Equal(t, 2, sum.ActiveCount)
	assert.Equal(t, 3, sum.CompletedCount)
	assert.Equal(t, 4, sum.UniqueUnderlyings)
	assert.True(t, dec("-185").Equal(sum.TotalPnL))
	require.True(t, sum.TotalReturn.Valid)
	assert.True(t, dec("-1.85").Equal(sum.TotalReturn.Decimal))
	require.True(t, sum.ProfitFactor.Valid)
	assert.True(t, dec("0.2").Equal(sum.ProfitFactor.Decimal))
	assert.True(t, dec("24.67").Equal(sum.AvgHoldDays), sum.AvgHoldDays.String())
	assert.True(t, dec("60").Equal(sum.WinRate))

	assert.True(t, dec("50").Equal(sum.MonthlyPnL["2025-04"]))
	assert.True(t, dec("-250").Equal(sum.MonthlyPnL["2025-05"]))
	assert.True(t, dec("20").Equal(sum.WeeklyPnL["2025-W16"]))
	assert.True(t, dec("30").Equal(sum.WeeklyPnL["2025-W17"]))
	assert.True(t, dec("-250").Equal(sum.WeeklyPnL["2025-W20"]))
}

func TestSummarizeWithoutLosses(t *testing.T) {
	sum := Summarize(nil, []types.CompletedTrade{completed(1, "AAPL", "2025-04-06", "2025-04-20", "0.30", "20")}, decimal.Zero)
	assert.False(t, sum.ProfitFactor.Valid)
	assert.False(t, sum.TotalReturn.Valid)

	empty := Summarize(nil, nil, dec("10000"))
	assert.True(t, empty.WinRate.IsZero())
	assert.True(t, empty.AvgHoldDays.IsZero())
}

func TestSummaries(t *testing.T) {
	done := []types.CompletedTrade{
		completed(1, "AAPL", "2025-04-06", "2025-04-20", "0.30", "20"),
		completed(2, "SPY", "2025-04-06", "2025-05-16", "0.03", "3"),
		completed(3, "TSLA", "2025-04-01", "2025-04-21", "0", "-10"),
	}
	out := Summaries(done, dec("0.05"))
	require.Len(t, out, 3)

	assert.Equal(t, int64(2), out[0].TradeID, "newest close first")
	assert.True(t, out[0].LowCredit)
	require.True(t, out[0].PnLPercent.Valid)
	assert.True(t, dec("100").Equal(out[0].PnLPercent.Decimal))

	assert.Equal(t, int64(3), out[1].TradeID)
	assert.False(t, out[1].PnLPercent.Valid, "zero credit has no percentage")
	assert.True(t, out[1].LowCredit)

	assert.Equal(t, int64(1), out[2].TradeID)
	assert.False(t, out[2].LowCredit)
	assert.True(t, dec("66.67").Equal(out[2].PnLPercent.Decimal))
	assert.Equal(t, 14, out[2].HoldDays)
}

func newServices(t *testing.T) (*trading.Service, *Service) {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	clock := func() time.Time { return testNow }
	trades := trading.NewService(db, trading.WithClock(clock))
	quotes := marketdata.StaticSource{
		"AAPL250516P00175000": {Mid: dec("1.00")},
		"AAPL250516P00170000": {Mid: dec("0.85")},
	}
	return trades, NewService(trades, quotes, WithClock(clock), WithAccountSize(dec("10000")))
}

func priced(strike, price string) *types.LegInput {
	return &types.LegInput{Strike: dec(strike), Price: decimal.NewNullDecimal(dec(price))}
}

func TestStrategyReport(t *testing.T) {
	ctx := context.Background()
	trades, reports := newServices(t)

	expiry, err := types.ParseDate("2025-05-16")
	require.NoError(t, err)
	_, err = trades.Open(ctx, &types.OpenRequest{
		Symbol: "AAPL", StrategyType: types.StrategyBullPut, ExpirationDate: expiry,
		ShortPut: priced("175", "1.85"), LongPut: priced("170", "1.55"), NumContracts: 1,
	})
	require.NoError(t, err)
	_, err = trades.Open(ctx, &types.OpenRequest{
		Symbol: "SPY", StrategyType: types.StrategyIronCondor, ExpirationDate: expiry,
		LongPut: priced("490", "1.10"), ShortPut: priced("500", "1.90"),
		ShortCall: priced("540", "2.05"), LongCall: priced("550", "0.85"), NumContracts: 2,
	})
	require.NoError(t, err)
	debit, err := trades.Open(ctx, &types.OpenRequest{
		Symbol: "MSFT", StrategyType: types.StrategyBullCall, ExpirationDate: expiry,
		LongCall: priced("400", "14.20"), ShortCall: priced("420", "5.70"), NumContracts: 1,
	})
	require.NoError(t, err)
	_, err = trades.Close(ctx, debit.TradeID, types.CloseRequest{
		CloseDate: types.NewDate(testNow), ExitDebit: dec("0"), ExitType: types.ExitStoppedOut,
	})
	require.NoError(t, err)

	report, err := reports.StrategyReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, testNow, report.GeneratedAt)

	byStrategy := make(map[types.StrategyType]types.StrategyAggregate)
	for _, agg := range report.Strategies {
		byStrategy[agg.Strategy] = agg
	}
	assert.True(t, dec("15").Equal(byStrategy[types.StrategyBullPut].UnrealizedPnL))
	assert.Equal(t, 1, byStrategy[types.StrategyIronCondor].UnpricedCount)
	assert.True(t, dec("-850").Equal(byStrategy[types.StrategyBullCall].RealizedPnL))
	assert.True(t, dec("-850").Equal(byStrategy[types.StrategyBullCall].MaxLoss))

	assert.Equal(t, 2, report.Portfolio.ActiveCount)
	assert.True(t, dec("-835").Equal(report.Portfolio.TotalPnL))
	assert.True(t, dec("-8.35").Equal(report.Portfolio.TotalReturn.Decimal))
}

func TestReportHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, reports := newServices(t)
	h := NewGinHandlers(reports)

	router := gin.New()
	router.GET("/reports/strategies", h.StrategyReportHandler())
	router.GET("/reports/completed", h.CompletedTradesHandler())

	for path, want := range map[string]int{
		"/reports/strategies":                              http.StatusOK,
		"/reports/completed":                               http.StatusOK,
		"/reports/completed?from=2025-04-01&to=2025-04-30": http.StatusOK,
		"/reports/completed?from=yesterday":                http.StatusBadRequest,
		"/reports/completed?limit=-1":                      http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}
