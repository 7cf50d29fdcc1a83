package trading

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/database"
	"github.com/ksred/spreadbook/internal/types"
)

var testNow = time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(db, opts...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func date(s string) types.Date {
	d, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func datePtr(s string) *types.Date {
	d := date(s)
	return &d
}

func leg(strike, price string) *types.LegInput {
	in := &types.LegInput{Strike: dec(strike)}
	if price != "" {
		in.Price = decimal.NewNullDecimal(dec(price))
	}
	return in
}

// bullPut is the AAPL 175/170 put credit spread used across tests
func bullPut() *types.OpenRequest {
	return &types.OpenRequest{
		TradeID:         1,
		Symbol:          "AAPL",
		UnderlyingPrice: dec("182.50"),
		StrategyType:    types.StrategyBullPut,
		EntryDate:       datePtr("2025-04-06"),
		ExpirationDate:  date("2025-05-16"),
		ShortPut:        leg("175", "1.85"),
		LongPut:         leg("170", "1.55"),
		NetCredit:       decPtr("0.30"),
		NumContracts:    1,
	}
}

func ironCondor() *types.OpenRequest {
	return &types.OpenRequest{
		Symbol:          "SPY",
		UnderlyingPrice: dec("520.00"),
		StrategyType:    types.StrategyIronCondor,
		EntryDate:       datePtr("2025-04-07"),
		ExpirationDate:  date("2025-05-16"),
		LongPut:         leg("490", "1.10"),
		ShortPut:        leg("500", "2.05"),
		ShortCall:       leg("540", "1.95"),
		LongCall:        leg("550", "0.90"),
		NumContracts:    2,
	}
}

func bullCall() *types.OpenRequest {
	return &types.OpenRequest{
		Symbol:          "MSFT",
		UnderlyingPrice: dec("410.00"),
		StrategyType:    types.StrategyBullCall,
		EntryDate:       datePtr("2025-04-08"),
		ExpirationDate:  date("2025-06-20"),
		LongCall:        leg("400", "14.20"),
		ShortCall:       leg("420", "5.70"),
		NumContracts:    1,
	}
}
