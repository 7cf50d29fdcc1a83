package migrations

import (
	"gorm.io/gorm"
)

// legColumns is shared by the active and completed tables
const legColumns = `
	short_put DECIMAL(10,2),
	short_put_price DECIMAL(10,2) CHECK (short_put_price IS NULL OR short_put_price >= 0),
	short_put_symbol TEXT,
	long_put DECIMAL(10,2),
	long_put_price DECIMAL(10,2) CHECK (long_put_price IS NULL OR long_put_price >= 0),
	long_put_symbol TEXT,
	short_call DECIMAL(10,2),
	short_call_price DECIMAL(10,2) CHECK (short_call_price IS NULL OR short_call_price >= 0),
	short_call_symbol TEXT,
	long_call DECIMAL(10,2),
	long_call_price DECIMAL(10,2) CHECK (long_call_price IS NULL OR long_call_price >= 0),
	long_call_symbol TEXT,`

const tradeTypeCheck = `CHECK (trade_type IN ('BULL_PUT', 'BEAR_CALL', 'IRON_CONDOR', 'BULL_CALL', 'BEAR_PUT'))`

// CreateTradeTables creates the active, completed and status history tables.
// The schema is written by hand so the invariants live in CHECK constraints.
func CreateTradeTables(db *gorm.DB) error {
	tables := []string{
		// AUTOINCREMENT keeps trade ids from being reused after a row moves
		// to completed_trades
		`CREATE TABLE IF NOT EXISTS active_trades (
			trade_id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL CHECK (length(symbol) > 0),
			underlying_price DECIMAL(10,2) NOT NULL CHECK (underlying_price >= 0),
			trade_type TEXT NOT NULL ` + tradeTypeCheck + `,
			entry_date DATETIME NOT NULL,
			expiration_date DATETIME NOT NULL,` + legColumns + `
			theoretical_credit DECIMAL(10,2),
			actual_credit DECIMAL(10,2),
			net_credit DECIMAL(10,2) NOT NULL,
			price_source TEXT,
			num_contracts INTEGER NOT NULL CHECK (num_contracts > 0),
			status TEXT NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN', 'CLOSING', 'EXPIRED')),
			spread_type TEXT NOT NULL CHECK (
				(spread_type = 'CREDIT' AND net_credit > 0) OR
				(spread_type = 'DEBIT' AND net_credit <= 0)
			),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK (julianday(expiration_date) > julianday(entry_date))
		)`,

		`CREATE TABLE IF NOT EXISTS completed_trades (
			trade_id INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL CHECK (length(symbol) > 0),
			underlying_entry_price DECIMAL(10,2) NOT NULL CHECK (underlying_entry_price >= 0),
			underlying_exit_price DECIMAL(10,2) NOT NULL CHECK (underlying_exit_price >= 0),
			trade_type TEXT NOT NULL ` + tradeTypeCheck + `,
			spread_type TEXT NOT NULL CHECK (
				(spread_type = 'CREDIT' AND entry_credit > 0) OR
				(spread_type = 'DEBIT' AND entry_credit <= 0)
			),
			entry_date DATETIME NOT NULL,
			expiration_date DATETIME NOT NULL,
			close_date DATETIME NOT NULL,` + legColumns + `
			entry_credit DECIMAL(10,2) NOT NULL,
			exit_debit DECIMAL(10,2) NOT NULL CHECK (exit_debit >= 0),
			num_contracts INTEGER NOT NULL CHECK (num_contracts > 0),
			actual_profit_loss DECIMAL(10,2) NOT NULL,
			exit_type TEXT NOT NULL CHECK (exit_type IN ('EXPIRED', 'CLOSED_EARLY', 'STOPPED_OUT', 'ROLLED')),
			price_source TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			CHECK (date(close_date) >= date(entry_date)),
			CHECK (date(close_date) <= date(expiration_date))
		)`,

		`CREATE TABLE IF NOT EXISTS trade_status_history (
			history_id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id INTEGER NOT NULL,
			old_status TEXT NOT NULL,
			new_status TEXT NOT NULL,
			change_date DATETIME NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if err := db.Exec(ddl).Error; err != nil {
			return err
		}
	}

	return nil
}
