package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/config"
	"github.com/ksred/spreadbook/internal/database"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/types"
)

var testNow = time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)

const scanBody = `{
	"items": [
		{"underlying": "AAPL", "stock_last": 182.5, "expiration_date": ["2025-05-16"],
		 "strike": [170, 175], "max_profit": 0.30, "max_loss": 4.70},
		{"underlying": "TSLA", "stock_last": 250.1, "expiration_date": ["2025-05-16"],
		 "strike": [300, 290], "max_profit": 1.15, "max_loss": 8.85},
		{"underlying": "SPY", "stock_last": 520, "expiration_date": ["2025-05-16"],
		 "strike": [490, 500, 540, 550], "max_profit": 2.00, "max_loss": 8.00},
		{"underlying": "AAPL", "stock_last": 182.5, "expiration_date": ["2025-05-16"],
		 "strike": [165, 172.5], "max_profit": 0.45, "max_loss": 7.05},
		{"underlying": "F", "stock_last": 10.2, "expiration_date": ["2025-05-16"],
		 "strike": [9, 10], "max_profit": 0.04, "max_loss": 0.96},
		{"underlying": "GME", "stock_last": 20, "expiration_date": ["2025-05-16"],
		 "strike": [10, 25], "max_profit": 2.00, "max_loss": 13.00},
		{"underlying": "XYZ", "stock_last": 50, "expiration_date": [],
		 "strike": [45, 50], "max_profit": 0.5, "max_loss": 4.5},
		{"underlying": "QQQ", "stock_last": 440, "expiration_date": ["2025-05-16"],
		 "strike": [430], "max_profit": 0.5, "max_loss": 4.5}
	]
}`

func newPipeline(t *testing.T, mutate func(*config.Config)) (*trading.Service, *Pipeline) {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	trades := trading.NewService(db, trading.WithClock(func() time.Time { return testNow }))

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return trades, New(trades, cfg)
}

func TestDecode(t *testing.T) {
	results, err := Decode(strings.NewReader(scanBody))
	require.NoError(t, err)
	require.Len(t, results.Items, 8)
	assert.Equal(t, "AAPL", results.Items[0].Symbol())
	assert.True(t, decimal.RequireFromString("172.5").Equal(results.Items[3].Strike[1]))

	_, err = Decode(strings.NewReader(`{"items": [`))
	assert.Error(t, err)
}

func TestInferStrategy(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		strikes []decimal.Decimal
		want    types.StrategyType
		wantErr bool
	}{
		{strikes: []decimal.Decimal{d("170"), d("175")}, want: types.StrategyBullPut},
		{strikes: []decimal.Decimal{d("300"), d("290")}, want: types.StrategyBearCall},
		{strikes: []decimal.Decimal{d("1"), d("2"), d("3"), d("4")}, want: types.StrategyIronCondor},
		{strikes: nil, wantErr: true},
		{strikes: []decimal.Decimal{d("1"), d("2"), d("3")}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := InferStrategy(tt.strikes)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestProcessOpensAcceptableItems(t *testing.T) {
	ctx := context.Background()
	trades, p := newPipeline(t, nil)

	results, err := Decode(strings.NewReader(scanBody))
	require.NoError(t, err)

	res, err := p.Process(ctx, 99, results)
	require.NoError(t, err)
	assert.Len(t, res.Opened, 3, "%+v", res.Skipped)
	assert.Len(t, res.Skipped, 5)

	reasons := make(map[string]string)
	for _, s := range res.Skipped {
		reasons[s.Symbol] = s.Reason
	}
	assert.Contains(t, reasons["AAPL"], "duplicate")
	assert.Contains(t, reasons["F"], "below minimum")
	assert.Contains(t, reasons["GME"], "risk ratio")
	assert.Contains(t, reasons["XYZ"], "expiration")
	assert.Contains(t, reasons["QQQ"], "strikes")

	aapl, err := trades.GetTrade(ctx, res.Opened[0])
	require.NoError(t, err)
	require.NotNil(t, aapl.Active)
	trade := aapl.Active
	assert.Equal(t, types.StrategyBullPut, trade.TradeType)
	assert.Equal(t, types.PriceSourceScan, trade.PriceSource)
	assert.True(t, decimal.RequireFromString("175").Equal(trade.ShortPut.Decimal))
	assert.True(t, decimal.RequireFromString("170").Equal(trade.LongPut.Decimal))
	assert.Equal(t, "AAPL250516P00175000", trade.ShortPutSymbol)
	assert.True(t, decimal.RequireFromString("0.30").Equal(trade.NetCredit))

	tsla, err := trades.GetTrade(ctx, res.Opened[1])
	require.NoError(t, err)
	assert.Equal(t, types.StrategyBearCall, tsla.Active.TradeType)
	assert.True(t, decimal.RequireFromString("290").Equal(tsla.Active.ShortCall.Decimal))

	// a second run only finds duplicates
	res, err = p.Process(ctx, 99, results)
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
}

func TestProcessUsesConfiguredScanStrategy(t *testing.T) {
	ctx := context.Background()
	trades, p := newPipeline(t, func(cfg *config.Config) {
		cfg.ScanIDs.BullCall = []int{7}
	})

	results, err := Decode(strings.NewReader(`{"items": [
		{"underlying": "MSFT", "stock_last": 410, "expiration_date": ["2025-05-16"],
		 "strike": [420, 400], "max_profit": 11.50, "max_loss": 8.50}
	]}`))
	require.NoError(t, err)

	res, err := p.Process(ctx, 7, results)
	require.NoError(t, err)
	require.Len(t, res.Opened, 1, "%+v", res.Skipped)

	record, err := trades.GetTrade(ctx, res.Opened[0])
	require.NoError(t, err)
	trade := record.Active
	assert.Equal(t, types.StrategyBullCall, trade.TradeType)
	assert.Equal(t, types.SpreadDebit, trade.SpreadType)
	assert.True(t, decimal.RequireFromString("-8.50").Equal(trade.NetCredit))
	assert.True(t, decimal.RequireFromString("400").Equal(trade.LongCall.Decimal))
	assert.True(t, decimal.RequireFromString("420").Equal(trade.ShortCall.Decimal))
}

func TestIngestScanHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, p := newPipeline(t, nil)
	h := NewGinHandlers(p)

	router := gin.New()
	router.POST("/internal/scans/:scan_id", h.IngestScanHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/scans/12", strings.NewReader(scanBody)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"scan_id":12`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/scans/abc", strings.NewReader(scanBody)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/scans/12", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
