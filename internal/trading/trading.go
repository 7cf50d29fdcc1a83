package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/internal/valuation"
)

// Service manages the trade lifecycle: open, mark closing, expire, close and
// mark-to-market valuation
type Service struct {
	db        *Database
	priceMode valuation.PriceMode
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPriceMode selects how leg quotes are marked in UpdateValue
func WithPriceMode(mode valuation.PriceMode) Option {
	return func(s *Service) {
		if mode.Valid() {
			s.priceMode = mode
		}
	}
}

// WithClock overrides the time source used for defaults
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.db.now = func() time.Time { return now().UTC() }
	}
}

// NewService creates a new lifecycle service with the given database connection
func NewService(gormDB *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:        NewDatabase(gormDB),
		priceMode: valuation.PriceModeMid,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying trade store for read-side collaborators
func (s *Service) DB() *Database {
	return s.db
}

// Open validates the request and stores a new OPEN trade
func (s *Service) Open(ctx context.Context, req *types.OpenRequest) (*types.ActiveTrade, error) {
	trade, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.InsertActive(ctx, trade); err != nil {
		return nil, err
	}
	s.logOpened(trade)
	return trade, nil
}

// OpenWithIdempotency opens a trade once per idempotency key. A live record
// for the key returns the trade it created, whether still active or not.
func (s *Service) OpenWithIdempotency(ctx context.Context, req *types.OpenRequest, idempotencyKey string) (*types.TradeRecord, error) {
	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}

	// If record exists and hasn't expired
	if record != nil && record.ExpiresAt.After(s.now()) {
		tradeID, err := strconv.ParseInt(record.ResourceID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt idempotency record %s: %w", idempotencyKey, err)
		}
		return s.db.FindTrade(ctx, tradeID)
	}

	trade, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.InsertActiveWithIdempotency(ctx, trade, idempotencyKey); err != nil {
		return nil, err
	}
	s.logOpened(trade)
	return &types.TradeRecord{Active: trade}, nil
}

// prepare resolves defaults, validates, and builds the row to insert
func (s *Service) prepare(req *types.OpenRequest) (*types.ActiveTrade, error) {
	if req.EntryDate == nil || req.EntryDate.IsZero() {
		entry := types.NewDate(s.now())
		req.EntryDate = &entry
	}
	if err := Validate(req); err != nil {
		return nil, err
	}

	trade := &types.ActiveTrade{
		TradeID:         req.TradeID,
		Symbol:          req.Symbol,
		UnderlyingPrice: req.UnderlyingPrice,
		TradeType:       req.StrategyType,
		EntryDate:       req.EntryDate.UTC(),
		ExpirationDate:  req.ExpirationDate.UTC(),
		NumContracts:    req.NumContracts,
		Status:          types.StatusOpen,
	}

	for role, in := range req.LegInputs() {
		symbol := in.Symbol
		if symbol == "" {
			symbol = OptionSymbol(req.Symbol, req.ExpirationDate.Time, role, in.Strike)
		}
		trade.SetLeg(types.Leg{Role: role, Strike: in.Strike, Price: in.Price, Symbol: symbol})
	}

	implied, priced := impliedCredit(req.LegInputs())
	if priced {
		trade.ActualCredit = decimal.NewNullDecimal(implied)
	}
	if req.TheoreticalCredit != nil {
		trade.TheoreticalCredit = decimal.NewNullDecimal(*req.TheoreticalCredit)
	}

	switch {
	case req.NetCredit != nil:
		trade.NetCredit = *req.NetCredit
		trade.PriceSource = types.PriceSourceManual
	case priced:
		trade.NetCredit = implied
		trade.PriceSource = types.PriceSourceLegs
	default:
		trade.NetCredit = *req.TheoreticalCredit
		trade.PriceSource = types.PriceSourceScan
	}
	if req.PriceSource != "" {
		trade.PriceSource = req.PriceSource
	}
	trade.NetCredit = trade.NetCredit.Round(2)
	trade.SpreadType = types.SpreadTypeFor(trade.NetCredit)

	return trade, nil
}

func (s *Service) logOpened(trade *types.ActiveTrade) {
	log.Info().
		Str("service", "trading").
		Int64("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("trade_type", string(trade.TradeType)).
		Str("net_credit", trade.NetCredit.StringFixed(2)).
		Str("spread_type", string(trade.SpreadType)).
		Int("num_contracts", trade.NumContracts).
		Msg("trade opened")
}

// MarkClosing moves an OPEN trade to CLOSING
func (s *Service) MarkClosing(ctx context.Context, tradeID int64) (*types.ActiveTrade, error) {
	trade, err := s.db.UpdateStatus(ctx, tradeID, types.StatusClosing, types.StatusOpen)
	if err != nil {
		return nil, err
	}
	log.Info().Str("service", "trading").Int64("trade_id", tradeID).Msg("trade marked closing")
	return trade, nil
}

// MarkExpired moves an OPEN or CLOSING trade to EXPIRED
func (s *Service) MarkExpired(ctx context.Context, tradeID int64) (*types.ActiveTrade, error) {
	trade, err := s.db.UpdateStatus(ctx, tradeID, types.StatusExpired, types.StatusOpen, types.StatusClosing)
	if err != nil {
		return nil, err
	}
	log.Info().Str("service", "trading").Int64("trade_id", tradeID).Msg("trade marked expired")
	return trade, nil
}

// Close finalizes a trade: it computes realized P&L and migrates the trade to
// the completed table in one transaction. Closing a trade that has already
// completed fails with ErrInvalidTransition and leaves the record unchanged.
func (s *Service) Close(ctx context.Context, tradeID int64, req types.CloseRequest) (*types.CompletedTrade, error) {
	logger := log.With().
		Int64("trade_id", tradeID).
		Str("service", "trading").
		Str("exit_type", string(req.ExitType)).
		Logger()

	if err := validateClose(req); err != nil {
		return nil, err
	}
	closeDate := req.CloseDate.UTC()
	if closeDate.IsZero() {
		closeDate = s.now().UTC()
	}

	completed, err := s.db.MoveToCompleted(ctx, tradeID, func(active *types.ActiveTrade) (*types.CompletedTrade, error) {
		if types.Day(closeDate).Before(types.Day(active.EntryDate)) {
			return nil, invalid("close_date", "%s is before entry date %s",
				closeDate.Format(time.RFC3339), active.EntryDate.Format(time.RFC3339))
		}
		if types.Day(closeDate).After(types.Day(active.ExpirationDate)) {
			return nil, invalid("close_date", "%s is after expiration date %s",
				closeDate.Format(time.RFC3339), active.ExpirationDate.Format("2006-01-02"))
		}
		return &types.CompletedTrade{
			Symbol:               active.Symbol,
			UnderlyingEntryPrice: active.UnderlyingPrice,
			UnderlyingExitPrice:  req.UnderlyingExitPrice,
			TradeType:            active.TradeType,
			SpreadType:           active.SpreadType,
			EntryDate:            active.EntryDate,
			ExpirationDate:       active.ExpirationDate,
			CloseDate:            closeDate,
			LegColumns:           active.LegColumns,
			EntryCredit:          active.NetCredit,
			ExitDebit:            req.ExitDebit,
			NumContracts:         active.NumContracts,
			ActualProfitLoss:     valuation.PnL(active.NetCredit, req.ExitDebit, active.NumContracts),
			ExitType:             req.ExitType,
			PriceSource:          active.PriceSource,
			CreatedAt:            active.CreatedAt,
		}, nil
	})
	if err != nil {
		var transitionErr *TransitionError
		if errors.As(err, &transitionErr) {
			logger.Warn().Err(err).Msg("close rejected")
		} else if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound) {
			logger.Error().Err(err).Msg("failed to close trade")
		}
		return nil, err
	}

	logger.Info().
		Str("entry_credit", completed.EntryCredit.StringFixed(2)).
		Str("exit_debit", completed.ExitDebit.StringFixed(2)).
		Str("profit_loss", completed.ActualProfitLoss.StringFixed(2)).
		Msg("trade closed")

	return completed, nil
}

func validateClose(req types.CloseRequest) error {
	var errs ValidationErrors
	if !req.ExitType.Valid() {
		errs = append(errs, invalid("exit_type", "unknown exit type %q", req.ExitType))
	}
	if req.ExitDebit.IsNegative() {
		errs = append(errs, invalid("exit_debit", "must not be negative"))
	}
	if req.UnderlyingExitPrice.IsNegative() {
		errs = append(errs, invalid("underlying_exit_price", "must not be negative"))
	}
	return errs.Err()
}

// UpdateValue marks an active trade against a leg price snapshot. It changes
// no state. PnLPercent is null when the entry credit is zero.
func (s *Service) UpdateValue(ctx context.Context, tradeID int64, snapshot types.LegPriceSnapshot) (*types.TradeValuation, error) {
	trade, err := s.db.GetActive(ctx, tradeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, cerr := s.db.GetCompleted(ctx, tradeID); cerr == nil {
				return nil, transition(tradeID, completedState, "VALUED")
			}
		}
		return nil, err
	}
	return s.Value(trade, snapshot)
}

// Value computes the valuation of an already loaded active trade
func (s *Service) Value(trade *types.ActiveTrade, snapshot types.LegPriceSnapshot) (*types.TradeValuation, error) {
	marks, err := valuation.MarkLegs(trade.Legs(), snapshot, s.priceMode)
	if err != nil {
		return nil, &ValidationError{Field: "snapshot", Reason: err.Error()}
	}

	asOf := snapshot.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	current := valuation.CurrentValue(marks)
	pnl := valuation.PnL(trade.NetCredit, current, trade.NumContracts)
	result := &types.TradeValuation{
		TradeID:       trade.TradeID,
		Symbol:        trade.Symbol,
		TradeType:     trade.TradeType,
		Status:        trade.Status,
		EntryCredit:   trade.NetCredit,
		CurrentValue:  current,
		UnrealizedPnL: pnl,
		DaysToExpiry:  int(types.Day(trade.ExpirationDate).Sub(types.Day(asOf)).Hours() / 24),
		AsOf:          asOf.UTC(),
	}
	if pct, err := valuation.PnLPercent(pnl, trade.NetCredit, trade.NumContracts); err == nil {
		result.PnLPercent = decimal.NewNullDecimal(pct)
	}

	log.Debug().
		Str("service", "trading").
		Int64("trade_id", trade.TradeID).
		Str("current_value", current.StringFixed(2)).
		Str("unrealized_pnl", pnl.StringFixed(2)).
		Msg("trade valued")

	return result, nil
}

// GetTrade returns the trade from whichever table currently holds it
func (s *Service) GetTrade(ctx context.Context, tradeID int64) (*types.TradeRecord, error) {
	return s.db.FindTrade(ctx, tradeID)
}

// ListOpen returns trades that are OPEN or CLOSING
func (s *Service) ListOpen(ctx context.Context) ([]types.ActiveTrade, error) {
	return s.db.GetOpen(ctx)
}

// ListBySymbol returns active and completed trades for a symbol
func (s *Service) ListBySymbol(ctx context.Context, symbol string, limit int) ([]types.ActiveTrade, []types.CompletedTrade, error) {
	active, err := s.db.GetActiveBySymbol(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	completed, err := s.db.GetCompletedBySymbol(ctx, symbol, limit)
	if err != nil {
		return nil, nil, err
	}
	return active, completed, nil
}

// History returns the status history of a trade
func (s *Service) History(ctx context.Context, tradeID int64) ([]types.StatusHistory, error) {
	return s.db.GetStatusHistory(ctx, tradeID)
}

// HasActive reports whether the symbol already has an active trade of the strategy
func (s *Service) HasActive(ctx context.Context, symbol string, strategy types.StrategyType) (bool, error) {
	return s.db.HasActive(ctx, symbol, strategy)
}

// ListActive returns every active trade
func (s *Service) ListActive(ctx context.Context) ([]types.ActiveTrade, error) {
	return s.db.ListActive(ctx)
}

// ExpiredAsOf returns active trades whose expiration day is before the day of t
func (s *Service) ExpiredAsOf(ctx context.Context, t time.Time) ([]types.ActiveTrade, error) {
	return s.db.GetExpiringBefore(ctx, types.Day(t))
}

// ListCompleted returns completed trades closed within [from, to]
func (s *Service) ListCompleted(ctx context.Context, from, to *time.Time, limit int) ([]types.CompletedTrade, error) {
	return s.db.ListCompleted(ctx, from, to, limit)
}
