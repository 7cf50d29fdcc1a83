package migrations

import (
	"gorm.io/gorm"
)

// AddTradeIndexes creates the lookup indexes for the trade tables
func AddTradeIndexes(db *gorm.DB) error {
	indexes := []string{
		// Symbol lookups on open positions
		`CREATE INDEX IF NOT EXISTS idx_active_trades_symbol
		 ON active_trades(symbol)`,

		// Status filtering (open trade listing, expiration sweeps)
		`CREATE INDEX IF NOT EXISTS idx_active_trades_status
		 ON active_trades(status)`,

		`CREATE INDEX IF NOT EXISTS idx_active_trades_expiration
		 ON active_trades(expiration_date)`,

		// Duplicate checks by symbol and strategy
		`CREATE INDEX IF NOT EXISTS idx_active_trades_symbol_type
		 ON active_trades(symbol, trade_type)`,

		`CREATE INDEX IF NOT EXISTS idx_completed_trades_symbol
		 ON completed_trades(symbol)`,

		// Composite index for date range reports
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_dates
		 ON completed_trades(entry_date, close_date)`,

		`CREATE INDEX IF NOT EXISTS idx_trade_status_history_trade
		 ON trade_status_history(trade_id, change_date)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
