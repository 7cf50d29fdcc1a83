package trading

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/internal/valuation"
)

// requiredLegs lists the legs each strategy must carry. Every other leg is forbidden.
var requiredLegs = map[types.StrategyType][]types.LegRole{
	types.StrategyBullPut:    {types.LegShortPut, types.LegLongPut},
	types.StrategyBearPut:    {types.LegShortPut, types.LegLongPut},
	types.StrategyBearCall:   {types.LegShortCall, types.LegLongCall},
	types.StrategyBullCall:   {types.LegShortCall, types.LegLongCall},
	types.StrategyIronCondor: {types.LegShortPut, types.LegLongPut, types.LegShortCall, types.LegLongCall},
}

// strikeOrder lists, per strategy, the legs whose strikes must be strictly ascending
var strikeOrder = map[types.StrategyType][]types.LegRole{
	types.StrategyBullPut:    {types.LegLongPut, types.LegShortPut},
	types.StrategyBearPut:    {types.LegShortPut, types.LegLongPut},
	types.StrategyBearCall:   {types.LegShortCall, types.LegLongCall},
	types.StrategyBullCall:   {types.LegLongCall, types.LegShortCall},
	types.StrategyIronCondor: {types.LegLongPut, types.LegShortPut, types.LegShortCall, types.LegLongCall},
}

// Validate checks an open request against the structural rules of its
// strategy. It performs no I/O and does not judge market reasonableness.
// EntryDate must already be resolved.
func Validate(req *types.OpenRequest) error {
	var errs ValidationErrors

	if req.Symbol == "" {
		errs = append(errs, invalid("symbol", "must not be empty"))
	}
	if req.NumContracts <= 0 {
		errs = append(errs, invalid("num_contracts", "must be positive, got %d", req.NumContracts))
	}
	if req.UnderlyingPrice.IsNegative() {
		errs = append(errs, invalid("underlying_price", "must not be negative"))
	}
	switch {
	case req.EntryDate == nil || req.EntryDate.IsZero():
		errs = append(errs, invalid("entry_date", "is required"))
	case req.ExpirationDate.IsZero():
		errs = append(errs, invalid("expiration_date", "is required"))
	case !req.ExpirationDate.After(req.EntryDate.Time):
		errs = append(errs, invalid("expiration_date", "must be after entry date"))
	}

	if !req.StrategyType.Valid() {
		errs = append(errs, invalid("strategy_type", "unknown strategy %q", req.StrategyType))
		return errs.Err()
	}

	legs := req.LegInputs()
	errs = append(errs, validateLegs(req, legs)...)
	if len(errs) > 0 {
		return errs.Err()
	}

	errs = append(errs, validateStrikeOrder(req.StrategyType, legs)...)
	errs = append(errs, validateCredit(req, legs)...)
	return errs.Err()
}

func validateLegs(req *types.OpenRequest, legs map[types.LegRole]*types.LegInput) ValidationErrors {
	var errs ValidationErrors
	required := make(map[types.LegRole]bool)
	for _, role := range requiredLegs[req.StrategyType] {
		required[role] = true
		if _, ok := legs[role]; !ok {
			errs = append(errs, invalid(string(role), "is required for %s", req.StrategyType))
		}
	}

	for _, role := range types.LegRoles {
		leg, ok := legs[role]
		if !ok {
			continue
		}
		if !required[role] {
			errs = append(errs, invalid(string(role), "is not allowed for %s", req.StrategyType))
			continue
		}
		if !leg.Strike.IsPositive() {
			errs = append(errs, invalid(string(role), "strike must be positive"))
			continue
		}
		if leg.Price.Valid && leg.Price.Decimal.IsNegative() {
			errs = append(errs, invalid(string(role), "price must not be negative"))
		}
		if leg.Symbol != "" && !req.ExpirationDate.IsZero() {
			want := OptionSymbol(req.Symbol, req.ExpirationDate.Time, role, leg.Strike)
			if leg.Symbol != want {
				errs = append(errs, invalid(string(role), "symbol %s does not match leg, expected %s", leg.Symbol, want))
			}
		}
	}
	return errs
}

func validateStrikeOrder(strategy types.StrategyType, legs map[types.LegRole]*types.LegInput) ValidationErrors {
	order := strikeOrder[strategy]
	for i := 1; i < len(order); i++ {
		lower, upper := order[i-1], order[i]
		if !legs[lower].Strike.LessThan(legs[upper].Strike) {
			return ValidationErrors{invalid("strikes", "%s strike %s must be below %s strike %s",
				lower, legs[lower].Strike, upper, legs[upper].Strike)}
		}
	}
	return nil
}

func validateCredit(req *types.OpenRequest, legs map[types.LegRole]*types.LegInput) ValidationErrors {
	implied, priced := impliedCredit(legs)
	if req.NetCredit == nil && !priced && req.TheoreticalCredit == nil {
		return ValidationErrors{invalid("net_credit", "is required when leg prices are incomplete")}
	}
	if req.NetCredit != nil && priced {
		// classify at the stored precision so a sub-cent credit cannot pass as CREDIT and be stored as DEBIT
		declared := req.NetCredit.Round(2)
		if types.SpreadTypeFor(declared) != types.SpreadTypeFor(implied) {
			return ValidationErrors{invalid("net_credit", "%s disagrees with leg prices implying %s",
				declared.StringFixed(2), implied.StringFixed(2))}
		}
	}
	return nil
}

// impliedCredit is sum(short premiums) - sum(long premiums); priced is false
// unless every present leg carries a price.
func impliedCredit(legs map[types.LegRole]*types.LegInput) (decimal.Decimal, bool) {
	marks := make([]valuation.LegMark, 0, len(legs))
	for role, leg := range legs {
		if !leg.Price.Valid {
			return decimal.Zero, false
		}
		marks = append(marks, valuation.LegMark{Short: role.IsShort(), Price: leg.Price.Decimal})
	}
	if len(marks) == 0 {
		return decimal.Zero, false
	}
	return valuation.EntryValue(marks), true
}
