package trading

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/types"
)

func fieldErrors(t *testing.T, err error) []string {
	t.Helper()
	require.ErrorIs(t, err, ErrValidation)
	var fields []string
	var list ValidationErrors
	if errors.As(err, &list) {
		for _, v := range list {
			fields = append(fields, v.Field)
		}
		return fields
	}
	var single *ValidationError
	require.True(t, errors.As(err, &single))
	return []string{single.Field}
}

func TestValidateAcceptsEveryStrategy(t *testing.T) {
	bearCall := &types.OpenRequest{
		Symbol: "TSLA", StrategyType: types.StrategyBearCall,
		EntryDate: datePtr("2025-04-06"), ExpirationDate: date("2025-05-16"),
		ShortCall: leg("300", "4.00"), LongCall: leg("310", "2.20"), NumContracts: 1,
	}
	bearPut := &types.OpenRequest{
		Symbol: "QQQ", StrategyType: types.StrategyBearPut,
		EntryDate: datePtr("2025-04-06"), ExpirationDate: date("2025-05-16"),
		LongPut: leg("450", "9.10"), ShortPut: leg("440", "5.60"), NumContracts: 3,
	}

	for _, req := range []*types.OpenRequest{bullPut(), bearCall, ironCondor(), bullCall(), bearPut} {
		t.Run(string(req.StrategyType), func(t *testing.T) {
			assert.NoError(t, Validate(req))
		})
	}
}

func TestValidateLegPresence(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.OpenRequest)
		base   func() *types.OpenRequest
		field  string
	}{
		{
			name:   "iron condor missing long call",
			base:   ironCondor,
			mutate: func(r *types.OpenRequest) { r.LongCall = nil },
			field:  "long_call",
		},
		{
			name:   "bull put with call leg",
			base:   bullPut,
			mutate: func(r *types.OpenRequest) { r.ShortCall = leg("190", "1.00") },
			field:  "short_call",
		},
		{
			name:   "bull call with put leg",
			base:   bullCall,
			mutate: func(r *types.OpenRequest) { r.LongPut = leg("380", "") },
			field:  "long_put",
		},
		{
			name:   "bull put missing short put",
			base:   bullPut,
			mutate: func(r *types.OpenRequest) { r.ShortPut = nil },
			field:  "short_put",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.base()
			tt.mutate(req)
			assert.Contains(t, fieldErrors(t, Validate(req)), tt.field)
		})
	}
}

func TestValidateStrikeOrdering(t *testing.T) {
	inverted := bullPut()
	inverted.ShortPut, inverted.LongPut = leg("170", "1.55"), leg("175", "1.85")
	inverted.NetCredit = nil
	assert.Contains(t, fieldErrors(t, Validate(inverted)), "strikes")

	equal := bullCall()
	equal.ShortCall = leg("400", "5.70")
	assert.Contains(t, fieldErrors(t, Validate(equal)), "strikes")

	condor := ironCondor()
	condor.ShortCall = leg("495", "1.95")
	assert.Contains(t, fieldErrors(t, Validate(condor)), "strikes")
}

func TestValidateCreditSign(t *testing.T) {
	req := bullPut()
	req.NetCredit = decPtr("-0.30")
	assert.Contains(t, fieldErrors(t, Validate(req)), "net_credit")

	noCredit := bullPut()
	noCredit.NetCredit = nil
	noCredit.LongPut = leg("170", "")
	assert.Contains(t, fieldErrors(t, Validate(noCredit)), "net_credit")

	theoretical := bullPut()
	theoretical.NetCredit = nil
	theoretical.ShortPut = leg("175", "")
	theoretical.TheoreticalCredit = decPtr("0.32")
	assert.NoError(t, Validate(theoretical))
}

func TestValidateCreditSignAtCentPrecision(t *testing.T) {
	subCent := bullPut()
	subCent.NetCredit = decPtr("0.004")
	assert.Contains(t, fieldErrors(t, Validate(subCent)), "net_credit")

	rounded := bullPut()
	rounded.NetCredit = decPtr("0.295")
	assert.NoError(t, Validate(rounded))
}

func TestValidateScalarFields(t *testing.T) {
	req := bullPut()
	req.Symbol = ""
	req.NumContracts = 0
	req.ExpirationDate = date("2025-04-01")

	fields := fieldErrors(t, Validate(req))
	assert.ElementsMatch(t, []string{"symbol", "num_contracts", "expiration_date"}, fields)

	unknown := bullPut()
	unknown.StrategyType = "STRANGLE"
	assert.Contains(t, fieldErrors(t, Validate(unknown)), "strategy_type")
}

func TestValidateOptionSymbols(t *testing.T) {
	req := bullPut()
	req.ShortPut.Symbol = "AAPL250516P00175000"
	req.LongPut.Symbol = "AAPL250516P00170000"
	assert.NoError(t, Validate(req))

	req.LongPut.Symbol = "AAPL250516C00170000"
	assert.Contains(t, fieldErrors(t, Validate(req)), "long_put")
}

func TestOptionSymbol(t *testing.T) {
	exp := date("2025-05-16").Time
	assert.Equal(t, "AAPL250516P00175000", OptionSymbol("aapl", exp, types.LegShortPut, dec("175")))
	assert.Equal(t, "SPY250516C00542500", OptionSymbol("SPY", exp, types.LegLongCall, dec("542.5")))
	assert.Equal(t, "F250516P00012500", OptionSymbol("F", exp, types.LegLongPut, dec("12.5")))
}
