package trading

import (
	"fmt"

	"github.com/ksred/spreadbook/internal/types"
)

// Error kinds returned by the trade store and lifecycle service
var (
	ErrValidation        = types.ErrValidation
	ErrConflict          = types.ErrConflict
	ErrInvalidTransition = types.ErrInvalidTransition
	ErrNotFound          = types.ErrNotFound
)

type (
	ValidationError  = types.ValidationError
	ValidationErrors = types.ValidationErrors
	TransitionError  = types.TransitionError
)

// completedState is the From value used when the trade has already left the active table
const completedState = "COMPLETED"

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func transition(tradeID int64, from string, to interface{}) *TransitionError {
	return &TransitionError{TradeID: tradeID, From: from, To: fmt.Sprint(to)}
}

func statusIn(status types.TradeStatus, allowed []types.TradeStatus) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
