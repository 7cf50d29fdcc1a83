package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCurrentValue(t *testing.T) {
	legs := []LegMark{
		{Short: true, Price: d("1.20")},
		{Short: false, Price: d("0.35")},
	}
	assert.True(t, d("0.85").Equal(CurrentValue(legs)))

	// long leg worth more than the short leg: closing collects a credit
	debit := []LegMark{
		{Short: true, Price: d("0.50")},
		{Short: false, Price: d("3.00")},
	}
	assert.True(t, d("-2.50").Equal(CurrentValue(debit)))
	assert.True(t, decimal.Zero.Equal(CurrentValue(nil)))
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name      string
		credit    string
		closeCost string
		contracts int
		want      string
	}{
		{"bull put closed for profit", "1.85", "1.65", 1, "20.00"},
		{"credit spread expires worthless", "1.50", "0", 2, "300.00"},
		{"credit spread stopped out", "1.00", "3.25", 3, "-675.00"},
		{"debit spread sold for more", "-2.00", "-2.50", 1, "50.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PnL(d(tt.credit), d(tt.closeCost), tt.contracts)
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestPnLPercent(t *testing.T) {
	pct, err := PnLPercent(d("20.00"), d("1.85"), 1)
	require.NoError(t, err)
	assert.True(t, d("10.81").Equal(pct), "got %s", pct)

	pct, err = PnLPercent(d("50.00"), d("-2.00"), 1)
	require.NoError(t, err)
	assert.True(t, d("25").Equal(pct), "got %s", pct)
}

func TestPnLPercentZeroCredit(t *testing.T) {
	_, err := PnLPercent(d("15.00"), decimal.Zero, 1)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMark(t *testing.T) {
	q := types.LegQuote{Bid: d("1.00"), Ask: d("1.20"), Mid: d("1.10")}
	assert.True(t, d("1.10").Equal(Mark(q, true, PriceModeMid)))
	assert.True(t, d("1.20").Equal(Mark(q, true, PriceModeNatural)))
	assert.True(t, d("1.00").Equal(Mark(q, false, PriceModeNatural)))

	noMid := types.LegQuote{Bid: d("1.00"), Ask: d("1.30")}
	assert.True(t, d("1.15").Equal(Mark(noMid, false, PriceModeMid)))

	lastOnly := types.LegQuote{Last: d("0.42")}
	assert.True(t, d("0.42").Equal(Mark(lastOnly, true, PriceModeMid)))
}

func TestMarkLegsMissingQuote(t *testing.T) {
	legs := []types.Leg{
		{Role: types.LegShortPut, Strike: d("175"), Symbol: "AAPL250516P00175000"},
		{Role: types.LegLongPut, Strike: d("170"), Symbol: "AAPL250516P00170000"},
	}
	snapshot := types.LegPriceSnapshot{Quotes: map[string]types.LegQuote{
		"AAPL250516P00175000": {Mid: d("1.20")},
	}}
	_, err := MarkLegs(legs, snapshot, PriceModeMid)
	assert.ErrorIs(t, err, ErrMissingQuote)

	snapshot.Quotes["AAPL250516P00170000"] = types.LegQuote{Mid: d("0.35")}
	marks, err := MarkLegs(legs, snapshot, PriceModeMid)
	require.NoError(t, err)
	assert.True(t, d("0.85").Equal(CurrentValue(marks)))
}

func TestIntrinsic(t *testing.T) {
	legs := []types.Leg{
		{Role: types.LegShortPut, Strike: d("175")},
		{Role: types.LegLongPut, Strike: d("170")},
	}
	assert.True(t, decimal.Zero.Equal(Intrinsic(legs, d("180"))))
	assert.True(t, d("3").Equal(Intrinsic(legs, d("172"))))
	assert.True(t, d("5").Equal(Intrinsic(legs, d("160"))))

	condor := []types.Leg{
		{Role: types.LegLongPut, Strike: d("90")},
		{Role: types.LegShortPut, Strike: d("95")},
		{Role: types.LegShortCall, Strike: d("105")},
		{Role: types.LegLongCall, Strike: d("110")},
	}
	assert.True(t, decimal.Zero.Equal(Intrinsic(condor, d("100"))))
	assert.True(t, d("2").Equal(Intrinsic(condor, d("107"))))
}
