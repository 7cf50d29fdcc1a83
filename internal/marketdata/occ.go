package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OptionContract is a parsed OCC option symbol
type OptionContract struct {
	Underlying string
	Expiration time.Time
	Put        bool
	Strike     decimal.Decimal
}

// ParseOptionSymbol parses symbols like AAPL250516P00175000
func ParseOptionSymbol(symbol string) (OptionContract, error) {
	// root + yymmdd + right + 8 strike digits
	if len(symbol) < 16 {
		return OptionContract{}, fmt.Errorf("option symbol %q too short", symbol)
	}
	tail := symbol[len(symbol)-15:]
	root := symbol[:len(symbol)-15]

	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: bad expiration: %w", symbol, err)
	}

	var put bool
	switch tail[6] {
	case 'P':
		put = true
	case 'C':
	default:
		return OptionContract{}, fmt.Errorf("option symbol %q: bad right %q", symbol, tail[6])
	}

	strike, err := decimal.NewFromString(tail[7:])
	if err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: bad strike: %w", symbol, err)
	}

	return OptionContract{
		Underlying: root,
		Expiration: exp.UTC(),
		Put:        put,
		Strike:     strike.Shift(-3),
	}, nil
}
