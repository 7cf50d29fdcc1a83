package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeValuation is the result of marking an active trade against current leg prices
type TradeValuation struct {
	TradeID       int64               `json:"trade_id"`
	Symbol        string              `json:"symbol"`
	TradeType     StrategyType        `json:"trade_type"`
	Status        TradeStatus         `json:"status"`
	EntryCredit   decimal.Decimal     `json:"entry_credit"`
	CurrentValue  decimal.Decimal     `json:"current_value"`
	UnrealizedPnL decimal.Decimal     `json:"unrealized_pnl"`
	PnLPercent    decimal.NullDecimal `json:"pnl_percent"`
	DaysToExpiry  int                 `json:"days_to_expiry"`
	AsOf          time.Time           `json:"as_of"`
}

// TradeRecord is either side of the active/completed split for a trade id
type TradeRecord struct {
	Active    *ActiveTrade    `json:"active,omitempty"`
	Completed *CompletedTrade `json:"completed,omitempty"`
}

// StrategyAggregate summarises every trade of one strategy type
type StrategyAggregate struct {
	Strategy       StrategyType    `json:"strategy"`
	ActiveCount    int             `json:"active_count"`
	CompletedCount int             `json:"completed_count"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	WinRate        decimal.Decimal `json:"win_rate"`
	AvgWinner      decimal.Decimal `json:"avg_winner"`
	AvgLoser       decimal.Decimal `json:"avg_loser"`
	LargestWinner  decimal.Decimal `json:"largest_winner"`
	MaxLoss        decimal.Decimal `json:"max_loss"`
	UnpricedCount  int             `json:"unpriced_count"`
}

// CompletedTradeSummary is the reporting view of a completed trade
type CompletedTradeSummary struct {
	TradeID     int64               `json:"trade_id"`
	Symbol      string              `json:"symbol"`
	Strategy    StrategyType        `json:"strategy"`
	EntryDate   time.Time           `json:"entry_date"`
	CloseDate   time.Time           `json:"close_date"`
	EntryCredit decimal.Decimal     `json:"entry_credit"`
	ExitDebit   decimal.Decimal     `json:"exit_debit"`
	PnL         decimal.Decimal     `json:"pnl"`
	PnLPercent  decimal.NullDecimal `json:"pnl_pct"`
	LowCredit   bool                `json:"low_credit,omitempty"`
	ExitType    ExitType            `json:"exit_type"`
	HoldDays    int                 `json:"hold_days"`
}

// PortfolioSummary aggregates across all strategies
type PortfolioSummary struct {
	ActiveCount       int                        `json:"active_count"`
	CompletedCount    int                        `json:"completed_count"`
	UniqueUnderlyings int                        `json:"unique_underlyings"`
	RealizedPnL       decimal.Decimal            `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal            `json:"unrealized_pnl"`
	TotalPnL          decimal.Decimal            `json:"total_pnl"`
	TotalReturn       decimal.NullDecimal        `json:"total_return_pct"`
	WinRate           decimal.Decimal            `json:"win_rate"`
	ProfitFactor      decimal.NullDecimal        `json:"profit_factor"`
	AvgHoldDays       decimal.Decimal            `json:"avg_hold_days"`
	MonthlyPnL        map[string]decimal.Decimal `json:"monthly_pnl"`
	WeeklyPnL         map[string]decimal.Decimal `json:"weekly_pnl"`
}

// StrategyReport is the response of the strategy report endpoint
type StrategyReport struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Strategies  []StrategyAggregate `json:"strategies"`
	Portfolio   PortfolioSummary    `json:"portfolio"`
}
