package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/ksred/spreadbook/internal/types"
)

// idempotencyTTL is how long an Idempotency-Key keeps returning the same trade
const idempotencyTTL = 24 * time.Hour

// Database is the trade store. Every write that touches more than one row runs
// in a single transaction; the caller never sees a trade in both the active
// and completed tables, or in neither.
type Database struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// InsertActive stores a new active trade and returns its id. A zero TradeID is
// assigned by the database. Returns ErrConflict if the id exists in either table.
func (d *Database) InsertActive(ctx context.Context, trade *types.ActiveTrade) (int64, error) {
	return d.insertActive(ctx, trade, "")
}

// InsertActiveWithIdempotency stores a new active trade and its idempotency
// record in a transaction
func (d *Database) InsertActiveWithIdempotency(ctx context.Context, trade *types.ActiveTrade, idempotencyKey string) (int64, error) {
	return d.insertActive(ctx, trade, idempotencyKey)
}

func (d *Database) insertActive(ctx context.Context, trade *types.ActiveTrade, idempotencyKey string) (int64, error) {
	// Begin transaction
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if trade.TradeID != 0 {
		var completed int64
		if err := tx.Model(&types.CompletedTrade{}).Where("trade_id = ?", trade.TradeID).Count(&completed).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
		if completed > 0 {
			tx.Rollback()
			return 0, fmt.Errorf("%w: trade %d is already completed", ErrConflict, trade.TradeID)
		}
	}

	now := d.now()
	trade.EntryDate = trade.EntryDate.UTC()
	trade.ExpirationDate = trade.ExpirationDate.UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.CreatedAt = trade.CreatedAt.UTC()
	if trade.UpdatedAt.IsZero() {
		trade.UpdatedAt = trade.CreatedAt
	}
	trade.UpdatedAt = trade.UpdatedAt.UTC()

	if err := tx.Create(trade).Error; err != nil {
		tx.Rollback()
		return 0, translateError(err, trade.TradeID)
	}

	if idempotencyKey != "" {
		// an expired record still holds the unique key, hard delete it so the key can be reused
		if err := tx.Unscoped().
			Where("idempotency_key = ? AND expires_at <= ?", idempotencyKey, now).
			Delete(&types.IdempotencyRecord{}).Error; err != nil {
			tx.Rollback()
			return 0, err
		}

		record := types.IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     strconv.FormatInt(trade.TradeID, 10),
			ResourceType:   "trade",
			ExpiresAt:      now.Add(idempotencyTTL),
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return trade.TradeID, nil
}

// GetIdempotencyRecord retrieves an idempotency record by key. Returns nil if
// no record exists.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetActive returns the active trade with the given id. Returns ErrNotFound if
// the trade is not active.
func (d *Database) GetActive(ctx context.Context, tradeID int64) (*types.ActiveTrade, error) {
	var trade types.ActiveTrade
	if err := d.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: active trade %d", ErrNotFound, tradeID)
		}
		return nil, err
	}
	return &trade, nil
}

// GetCompleted returns the completed trade with the given id. Returns
// ErrNotFound if the trade has not been completed.
func (d *Database) GetCompleted(ctx context.Context, tradeID int64) (*types.CompletedTrade, error) {
	var trade types.CompletedTrade
	if err := d.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: completed trade %d", ErrNotFound, tradeID)
		}
		return nil, err
	}
	return &trade, nil
}

// FindTrade looks the id up in both tables inside one read transaction.
// Exactly one side of the record is set. Returns ErrNotFound if neither is.
func (d *Database) FindTrade(ctx context.Context, tradeID int64) (*types.TradeRecord, error) {
	record := &types.TradeRecord{}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active types.ActiveTrade
		err := tx.Where("trade_id = ?", tradeID).First(&active).Error
		if err == nil {
			record.Active = &active
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var completed types.CompletedTrade
		err = tx.Where("trade_id = ?", tradeID).First(&completed).Error
		if err == nil {
			record.Completed = &completed
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: trade %d", ErrNotFound, tradeID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetActiveBySymbol returns active trades for a symbol, newest first
func (d *Database) GetActiveBySymbol(ctx context.Context, symbol string) ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if err := d.db.WithContext(ctx).Where("symbol = ?", symbol).
		Order("entry_date DESC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetCompletedBySymbol returns the most recent completed trades for a symbol.
// A limit of zero returns all of them.
func (d *Database) GetCompletedBySymbol(ctx context.Context, symbol string, limit int) ([]types.CompletedTrade, error) {
	var trades []types.CompletedTrade
	query := d.db.WithContext(ctx).Where("symbol = ?", symbol).Order("close_date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetOpen returns trades that are OPEN or CLOSING, nearest expiration first
func (d *Database) GetOpen(ctx context.Context) ([]types.ActiveTrade, error) {
	return d.GetActiveByStatus(ctx, types.StatusOpen, types.StatusClosing)
}

// GetActiveByStatus returns active trades in any of the given statuses
func (d *Database) GetActiveByStatus(ctx context.Context, statuses ...types.TradeStatus) ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if err := d.db.WithContext(ctx).Where("status IN ?", statuses).
		Order("expiration_date ASC, trade_id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListActive returns every active trade
func (d *Database) ListActive(ctx context.Context) ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if err := d.db.WithContext(ctx).Order("trade_id ASC").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetExpiringBefore returns active trades whose expiration date is before t
func (d *Database) GetExpiringBefore(ctx context.Context, t time.Time) ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if err := d.db.WithContext(ctx).Where("expiration_date < ?", t.UTC()).
		Order("expiration_date ASC, trade_id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetExpiringBetween returns OPEN or CLOSING trades expiring in [start, end]
func (d *Database) GetExpiringBetween(ctx context.Context, start, end time.Time) ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if err := d.db.WithContext(ctx).
		Where("expiration_date BETWEEN ? AND ?", start.UTC(), end.UTC()).
		Where("status IN ?", []types.TradeStatus{types.StatusOpen, types.StatusClosing}).
		Order("expiration_date ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// HasActive reports whether an active trade exists for the symbol and strategy
func (d *Database) HasActive(ctx context.Context, symbol string, strategy types.StrategyType) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&types.ActiveTrade{}).
		Where("symbol = ? AND trade_type = ?", symbol, strategy).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListCompleted returns completed trades closed within [from, to], newest
// first. Nil bounds are open; a limit of zero returns everything.
func (d *Database) ListCompleted(ctx context.Context, from, to *time.Time, limit int) ([]types.CompletedTrade, error) {
	var trades []types.CompletedTrade
	query := d.db.WithContext(ctx).Order("close_date DESC, trade_id DESC")
	if from != nil {
		query = query.Where("close_date >= ?", from.UTC())
	}
	if to != nil {
		query = query.Where("close_date <= ?", to.UTC())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch completed trades: %w", err)
	}
	return trades, nil
}

// GetStatusHistory returns the audit trail of a trade in the order it was written
func (d *Database) GetStatusHistory(ctx context.Context, tradeID int64) ([]types.StatusHistory, error) {
	var history []types.StatusHistory
	if err := d.db.WithContext(ctx).Where("trade_id = ?", tradeID).
		Order("history_id ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

// UpdateStatus changes the status of an active trade, bumps updated_at and
// appends one history row, all in one transaction. When allowedFrom is not
// empty the current status must be one of them, otherwise a TransitionError
// is returned and nothing is written. Setting the current status again is a
// no-op without a history row.
func (d *Database) UpdateStatus(ctx context.Context, tradeID int64, status types.TradeStatus, allowedFrom ...types.TradeStatus) (*types.ActiveTrade, error) {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	trade, err := d.lockActive(tx, tradeID, status)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if !statusIn(trade.Status, allowedFrom) {
		tx.Rollback()
		return nil, transition(tradeID, string(trade.Status), status)
	}
	if trade.Status == status {
		tx.Rollback()
		return trade, nil
	}

	now := d.now()
	result := tx.Model(&types.ActiveTrade{}).
		Where("trade_id = ? AND status = ?", tradeID, trade.Status).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, translateError(result.Error, tradeID)
	}
	if result.RowsAffected != 1 {
		tx.Rollback()
		return nil, fmt.Errorf("status update for trade %d affected %d rows", tradeID, result.RowsAffected)
	}

	if err := tx.Create(&types.StatusHistory{
		TradeID:    tradeID,
		OldStatus:  string(trade.Status),
		NewStatus:  string(status),
		ChangeDate: now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	trade.Status = status
	trade.UpdatedAt = now
	return trade, nil
}

// CompletionBuilder derives the completed record from the active row read
// inside the migration transaction
type CompletionBuilder func(active *types.ActiveTrade) (*types.CompletedTrade, error)

// MoveToCompleted migrates an active trade to completed_trades. Inside one
// transaction it reads the active row, builds the completed record, inserts it,
// deletes the active row and appends a history row whose new status is the
// exit type. Any failure rolls everything back.
func (d *Database) MoveToCompleted(ctx context.Context, tradeID int64, build CompletionBuilder) (*types.CompletedTrade, error) {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	active, err := d.lockActive(tx, tradeID, completedState)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	completed, err := build(active)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	now := d.now()
	completed.TradeID = active.TradeID
	completed.EntryDate = completed.EntryDate.UTC()
	completed.ExpirationDate = completed.ExpirationDate.UTC()
	completed.CloseDate = completed.CloseDate.UTC()
	completed.CreatedAt = completed.CreatedAt.UTC()
	if completed.CompletedAt.IsZero() {
		completed.CompletedAt = now
	}
	completed.CompletedAt = completed.CompletedAt.UTC()

	if err := tx.Create(completed).Error; err != nil {
		tx.Rollback()
		return nil, translateError(err, tradeID)
	}

	result := tx.Where("trade_id = ?", tradeID).Delete(&types.ActiveTrade{})
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected != 1 {
		tx.Rollback()
		return nil, fmt.Errorf("delete of active trade %d affected %d rows", tradeID, result.RowsAffected)
	}

	if err := tx.Create(&types.StatusHistory{
		TradeID:    tradeID,
		OldStatus:  string(active.Status),
		NewStatus:  string(completed.ExitType),
		ChangeDate: now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return completed, nil
}

// lockActive reads the active row inside tx. A trade that already moved to
// completed_trades yields a TransitionError; an unknown id yields ErrNotFound.
func (d *Database) lockActive(tx *gorm.DB, tradeID int64, to interface{}) (*types.ActiveTrade, error) {
	var trade types.ActiveTrade
	err := tx.Where("trade_id = ?", tradeID).First(&trade).Error
	if err == nil {
		return &trade, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var completed int64
	if err := tx.Model(&types.CompletedTrade{}).Where("trade_id = ?", tradeID).Count(&completed).Error; err != nil {
		return nil, err
	}
	if completed > 0 {
		return nil, transition(tradeID, completedState, to)
	}
	return nil, fmt.Errorf("%w: trade %d", ErrNotFound, tradeID)
}

// translateError maps SQLite constraint failures onto the store's error kinds
func translateError(err error, tradeID int64) error {
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: trade %d", ErrConflict, tradeID)
	}
	if isCheckViolation(err) {
		return &ValidationError{Field: "trade", Reason: err.Error()}
	}
	return err
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func isCheckViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintNotNull
	}
	return false
}
