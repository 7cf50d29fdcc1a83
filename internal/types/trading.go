package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ContractMultiplier is the number of shares one option contract controls
const ContractMultiplier = 100

type StrategyType string

const (
	StrategyBullPut    StrategyType = "BULL_PUT"
	StrategyBearCall   StrategyType = "BEAR_CALL"
	StrategyIronCondor StrategyType = "IRON_CONDOR"
	StrategyBullCall   StrategyType = "BULL_CALL"
	StrategyBearPut    StrategyType = "BEAR_PUT"
)

// Strategies lists every supported strategy in a stable order
var Strategies = []StrategyType{
	StrategyBullPut,
	StrategyBearCall,
	StrategyIronCondor,
	StrategyBullCall,
	StrategyBearPut,
}

func (s StrategyType) Valid() bool {
	for _, strategy := range Strategies {
		if s == strategy {
			return true
		}
	}
	return false
}

// IsDebit reports whether the strategy is normally opened for a net debit
func (s StrategyType) IsDebit() bool {
	return s == StrategyBullCall || s == StrategyBearPut
}

type SpreadType string

const (
	SpreadCredit SpreadType = "CREDIT"
	SpreadDebit  SpreadType = "DEBIT"
)

// SpreadTypeFor classifies a signed net credit. Zero is treated as a debit.
func SpreadTypeFor(netCredit decimal.Decimal) SpreadType {
	if netCredit.IsPositive() {
		return SpreadCredit
	}
	return SpreadDebit
}

type TradeStatus string

const (
	StatusOpen    TradeStatus = "OPEN"
	StatusClosing TradeStatus = "CLOSING"
	StatusExpired TradeStatus = "EXPIRED"
)

func (s TradeStatus) Valid() bool {
	return s == StatusOpen || s == StatusClosing || s == StatusExpired
}

type ExitType string

const (
	ExitExpired     ExitType = "EXPIRED"
	ExitClosedEarly ExitType = "CLOSED_EARLY"
	ExitStoppedOut  ExitType = "STOPPED_OUT"
	ExitRolled      ExitType = "ROLLED"
)

func (e ExitType) Valid() bool {
	switch e {
	case ExitExpired, ExitClosedEarly, ExitStoppedOut, ExitRolled:
		return true
	}
	return false
}

type LegRole string

const (
	LegShortPut  LegRole = "short_put"
	LegLongPut   LegRole = "long_put"
	LegShortCall LegRole = "short_call"
	LegLongCall  LegRole = "long_call"
)

// LegRoles lists the four leg roles in schema column order
var LegRoles = []LegRole{LegShortPut, LegLongPut, LegShortCall, LegLongCall}

func (r LegRole) IsShort() bool {
	return r == LegShortPut || r == LegShortCall
}

func (r LegRole) IsPut() bool {
	return r == LegShortPut || r == LegLongPut
}

// Right returns the OCC option right letter, P or C
func (r LegRole) Right() string {
	if r.IsPut() {
		return "P"
	}
	return "C"
}

// Leg is one populated option leg of a trade
type Leg struct {
	Role   LegRole             `json:"role"`
	Strike decimal.Decimal     `json:"strike"`
	Price  decimal.NullDecimal `json:"price"`
	Symbol string              `json:"symbol,omitempty"`
}

// LegColumns holds the per-leg columns shared by the active and completed tables
type LegColumns struct {
	ShortPut        decimal.NullDecimal `gorm:"column:short_put" json:"short_put"`
	ShortPutPrice   decimal.NullDecimal `gorm:"column:short_put_price" json:"short_put_price"`
	ShortPutSymbol  string              `gorm:"column:short_put_symbol" json:"short_put_symbol,omitempty"`
	LongPut         decimal.NullDecimal `gorm:"column:long_put" json:"long_put"`
	LongPutPrice    decimal.NullDecimal `gorm:"column:long_put_price" json:"long_put_price"`
	LongPutSymbol   string              `gorm:"column:long_put_symbol" json:"long_put_symbol,omitempty"`
	ShortCall       decimal.NullDecimal `gorm:"column:short_call" json:"short_call"`
	ShortCallPrice  decimal.NullDecimal `gorm:"column:short_call_price" json:"short_call_price"`
	ShortCallSymbol string              `gorm:"column:short_call_symbol" json:"short_call_symbol,omitempty"`
	LongCall        decimal.NullDecimal `gorm:"column:long_call" json:"long_call"`
	LongCallPrice   decimal.NullDecimal `gorm:"column:long_call_price" json:"long_call_price"`
	LongCallSymbol  string              `gorm:"column:long_call_symbol" json:"long_call_symbol,omitempty"`
}

// Legs returns the populated legs in schema column order
func (l LegColumns) Legs() []Leg {
	var legs []Leg
	for _, role := range LegRoles {
		if leg, ok := l.Leg(role); ok {
			legs = append(legs, leg)
		}
	}
	return legs
}

// Leg returns the leg for a role if its strike is set
func (l LegColumns) Leg(role LegRole) (Leg, bool) {
	var strike, price decimal.NullDecimal
	var symbol string
	switch role {
	case LegShortPut:
		strike, price, symbol = l.ShortPut, l.ShortPutPrice, l.ShortPutSymbol
	case LegLongPut:
		strike, price, symbol = l.LongPut, l.LongPutPrice, l.LongPutSymbol
	case LegShortCall:
		strike, price, symbol = l.ShortCall, l.ShortCallPrice, l.ShortCallSymbol
	case LegLongCall:
		strike, price, symbol = l.LongCall, l.LongCallPrice, l.LongCallSymbol
	}
	if !strike.Valid {
		return Leg{}, false
	}
	return Leg{Role: role, Strike: strike.Decimal, Price: price, Symbol: symbol}, true
}

// SetLeg stores a leg in the column set for its role
func (l *LegColumns) SetLeg(leg Leg) {
	strike := decimal.NewNullDecimal(leg.Strike)
	switch leg.Role {
	case LegShortPut:
		l.ShortPut, l.ShortPutPrice, l.ShortPutSymbol = strike, leg.Price, leg.Symbol
	case LegLongPut:
		l.LongPut, l.LongPutPrice, l.LongPutSymbol = strike, leg.Price, leg.Symbol
	case LegShortCall:
		l.ShortCall, l.ShortCallPrice, l.ShortCallSymbol = strike, leg.Price, leg.Symbol
	case LegLongCall:
		l.LongCall, l.LongCallPrice, l.LongCallSymbol = strike, leg.Price, leg.Symbol
	}
}

// ActiveTrade is a row of active_trades
type ActiveTrade struct {
	TradeID           int64               `gorm:"column:trade_id;primaryKey;autoIncrement" json:"trade_id"`
	Symbol            string              `gorm:"column:symbol" json:"symbol"`
	UnderlyingPrice   decimal.Decimal     `gorm:"column:underlying_price" json:"underlying_price"`
	TradeType         StrategyType        `gorm:"column:trade_type" json:"trade_type"`
	EntryDate         time.Time           `gorm:"column:entry_date" json:"entry_date"`
	ExpirationDate    time.Time           `gorm:"column:expiration_date" json:"expiration_date"`
	LegColumns        `gorm:"embedded"`
	TheoreticalCredit decimal.NullDecimal `gorm:"column:theoretical_credit" json:"theoretical_credit"`
	ActualCredit      decimal.NullDecimal `gorm:"column:actual_credit" json:"actual_credit"`
	NetCredit         decimal.Decimal     `gorm:"column:net_credit" json:"net_credit"`
	PriceSource       string              `gorm:"column:price_source" json:"price_source"`
	NumContracts      int                 `gorm:"column:num_contracts" json:"num_contracts"`
	Status            TradeStatus         `gorm:"column:status" json:"status"`
	SpreadType        SpreadType          `gorm:"column:spread_type" json:"spread_type"`
	CreatedAt         time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (ActiveTrade) TableName() string {
	return "active_trades"
}

// CompletedTrade is a row of completed_trades
type CompletedTrade struct {
	TradeID              int64           `gorm:"column:trade_id;primaryKey;autoIncrement:false" json:"trade_id"`
	Symbol               string          `gorm:"column:symbol" json:"symbol"`
	UnderlyingEntryPrice decimal.Decimal `gorm:"column:underlying_entry_price" json:"underlying_entry_price"`
	UnderlyingExitPrice  decimal.Decimal `gorm:"column:underlying_exit_price" json:"underlying_exit_price"`
	TradeType            StrategyType    `gorm:"column:trade_type" json:"trade_type"`
	SpreadType           SpreadType      `gorm:"column:spread_type" json:"spread_type"`
	EntryDate            time.Time       `gorm:"column:entry_date" json:"entry_date"`
	ExpirationDate       time.Time       `gorm:"column:expiration_date" json:"expiration_date"`
	CloseDate            time.Time       `gorm:"column:close_date" json:"close_date"`
	LegColumns           `gorm:"embedded"`
	EntryCredit          decimal.Decimal `gorm:"column:entry_credit" json:"entry_credit"`
	ExitDebit            decimal.Decimal `gorm:"column:exit_debit" json:"exit_debit"`
	NumContracts         int             `gorm:"column:num_contracts" json:"num_contracts"`
	ActualProfitLoss     decimal.Decimal `gorm:"column:actual_profit_loss" json:"actual_profit_loss"`
	ExitType             ExitType        `gorm:"column:exit_type" json:"exit_type"`
	PriceSource          string          `gorm:"column:price_source" json:"price_source"`
	CreatedAt            time.Time       `gorm:"column:created_at" json:"created_at"`
	CompletedAt          time.Time       `gorm:"column:completed_at" json:"completed_at"`
}

func (CompletedTrade) TableName() string {
	return "completed_trades"
}

// HoldDays is the number of whole days between entry and close
func (t *CompletedTrade) HoldDays() int {
	return int(t.CloseDate.Sub(t.EntryDate).Hours() / 24)
}

// StatusHistory is an append-only audit row of trade_status_history
type StatusHistory struct {
	HistoryID  int64     `gorm:"column:history_id;primaryKey;autoIncrement" json:"history_id"`
	TradeID    int64     `gorm:"column:trade_id" json:"trade_id"`
	OldStatus  string    `gorm:"column:old_status" json:"old_status"`
	NewStatus  string    `gorm:"column:new_status" json:"new_status"`
	ChangeDate time.Time `gorm:"column:change_date" json:"change_date"`
}

func (StatusHistory) TableName() string {
	return "trade_status_history"
}

// Price source tags recorded on a trade
const (
	PriceSourceManual = "MANUAL"
	PriceSourceLegs   = "LEGS"
	PriceSourceScan   = "SCAN"
)

// LegInput describes one leg on an open request
type LegInput struct {
	Strike decimal.Decimal     `json:"strike"`
	Price  decimal.NullDecimal `json:"price"`
	Symbol string              `json:"symbol,omitempty"`
}

// OpenRequest carries everything needed to open a trade
type OpenRequest struct {
	TradeID           int64                `json:"trade_id,omitempty"`
	Symbol            string               `json:"symbol" binding:"required"`
	UnderlyingPrice   decimal.Decimal      `json:"underlying_price"`
	StrategyType      StrategyType         `json:"strategy_type" binding:"required"`
	EntryDate         *Date                `json:"entry_date,omitempty"`
	ExpirationDate    Date                 `json:"expiration_date"`
	ShortPut          *LegInput            `json:"short_put,omitempty"`
	LongPut           *LegInput            `json:"long_put,omitempty"`
	ShortCall         *LegInput            `json:"short_call,omitempty"`
	LongCall          *LegInput            `json:"long_call,omitempty"`
	NetCredit         *decimal.Decimal     `json:"net_credit,omitempty"`
	TheoreticalCredit *decimal.Decimal     `json:"theoretical_credit,omitempty"`
	NumContracts      int                  `json:"num_contracts"`
	PriceSource       string               `json:"price_source,omitempty"`
}

// LegInputs returns the request legs keyed by role, skipping absent ones
func (r *OpenRequest) LegInputs() map[LegRole]*LegInput {
	legs := make(map[LegRole]*LegInput, 4)
	for role, leg := range map[LegRole]*LegInput{
		LegShortPut:  r.ShortPut,
		LegLongPut:   r.LongPut,
		LegShortCall: r.ShortCall,
		LegLongCall:  r.LongCall,
	} {
		if leg != nil {
			legs[role] = leg
		}
	}
	return legs
}

// CloseRequest carries the terminal values of a trade
type CloseRequest struct {
	CloseDate           Date            `json:"close_date"`
	UnderlyingExitPrice decimal.Decimal `json:"underlying_exit_price"`
	ExitDebit           decimal.Decimal `json:"exit_debit"`
	ExitType            ExitType        `json:"exit_type" binding:"required"`
}

// LegQuote is a market quote for one option contract
type LegQuote struct {
	Bid  decimal.Decimal `json:"bid"`
	Mid  decimal.Decimal `json:"mid"`
	Ask  decimal.Decimal `json:"ask"`
	Last decimal.Decimal `json:"last"`
}

// LegPriceSnapshot maps option symbols to quotes at a point in time
type LegPriceSnapshot struct {
	AsOf   time.Time           `json:"as_of"`
	Quotes map[string]LegQuote `json:"quotes"`
}

// IdempotencyRecord maps a client supplied key to the resource it created
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
