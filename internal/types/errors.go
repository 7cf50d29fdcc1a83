package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned when a request violates a structural rule
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a trade id already exists in either table
	ErrConflict = errors.New("trade already exists")
	// ErrInvalidTransition is returned when a lifecycle operation is not allowed
	// from the trade's current state
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned when a trade id is in neither table
	ErrNotFound = errors.New("trade not found")
)

// ValidationError names the offending field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidationErrors collects every violation found in a single request
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Err returns nil for no violations, the single violation, or the whole list
func (e ValidationErrors) Err() error {
	switch len(e) {
	case 0:
		return nil
	case 1:
		return e[0]
	default:
		return e
	}
}

// TransitionError describes a rejected lifecycle operation
type TransitionError struct {
	TradeID int64
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trade %d: cannot move from %s to %s", e.TradeID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
