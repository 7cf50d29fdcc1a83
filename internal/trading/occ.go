package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
)

var strikeScale = decimal.NewFromInt(1000)

// OptionSymbol builds an OCC option symbol: root, YYMMDD expiration, right,
// and the strike in thousandths padded to eight digits.
//
//	OptionSymbol("AAPL", 2025-05-16, short_put, 175) == "AAPL250516P00175000"
func OptionSymbol(underlying string, expiration time.Time, role types.LegRole, strike decimal.Decimal) string {
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(strings.TrimSpace(underlying)),
		expiration.UTC().Format("060102"),
		role.Right(),
		strike.Mul(strikeScale).Round(0).IntPart(),
	)
}
