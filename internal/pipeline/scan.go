package pipeline

import (
	"fmt"
	"io"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
)

// ScanResults is the raw body returned by the scanner for one scan
type ScanResults struct {
	Items []ScanItem `json:"items"`
}

// ScanItem is one trade idea from a scan
type ScanItem struct {
	Name           string            `json:"name"`
	Underlying     string            `json:"underlying"`
	StockLast      decimal.Decimal   `json:"stock_last"`
	ExpirationDate []string          `json:"expiration_date"`
	Strike         []decimal.Decimal `json:"strike"`
	MaxProfit      decimal.Decimal   `json:"max_profit"`
	MaxLoss        decimal.Decimal   `json:"max_loss"`
}

// Symbol returns the ticker, falling back to the display name
func (i *ScanItem) Symbol() string {
	if i.Underlying != "" {
		return i.Underlying
	}
	return i.Name
}

// Decode reads raw scan results
func Decode(r io.Reader) (*ScanResults, error) {
	var results ScanResults
	if err := json.NewDecoder(r).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode scan results: %w", err)
	}
	return &results, nil
}

// InferStrategy guesses the strategy from the strike list: four strikes are
// an iron condor, two ascending strikes a bull put and two descending strikes
// a bear call.
func InferStrategy(strikes []decimal.Decimal) (types.StrategyType, error) {
	switch len(strikes) {
	case 4:
		return types.StrategyIronCondor, nil
	case 2:
		if strikes[0].LessThan(strikes[1]) {
			return types.StrategyBullPut, nil
		}
		return types.StrategyBearCall, nil
	case 0:
		return "", fmt.Errorf("no strike prices")
	default:
		return "", fmt.Errorf("unexpected number of strikes: %d", len(strikes))
	}
}

// legOrder lists, for each strategy, the leg roles from lowest strike to highest
var legOrder = map[types.StrategyType][]types.LegRole{
	types.StrategyBullPut:    {types.LegLongPut, types.LegShortPut},
	types.StrategyBearPut:    {types.LegShortPut, types.LegLongPut},
	types.StrategyBearCall:   {types.LegShortCall, types.LegLongCall},
	types.StrategyBullCall:   {types.LegLongCall, types.LegShortCall},
	types.StrategyIronCondor: {types.LegLongPut, types.LegShortPut, types.LegShortCall, types.LegLongCall},
}

// mapLegs assigns strikes to leg roles by ascending strike
func mapLegs(strategy types.StrategyType, strikes []decimal.Decimal) (map[types.LegRole]decimal.Decimal, error) {
	roles, ok := legOrder[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if len(strikes) != len(roles) {
		return nil, fmt.Errorf("%s requires %d strikes, got %d", strategy, len(roles), len(strikes))
	}

	sorted := append([]decimal.Decimal(nil), strikes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	legs := make(map[types.LegRole]decimal.Decimal, len(roles))
	for i, role := range roles {
		legs[role] = sorted[i]
	}
	return legs, nil
}
