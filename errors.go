package creditline

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("creditline: not found")
	ErrAlreadyExists = errors.New("creditline: already exists")
	ErrInvalidInput  = errors.New("creditline: invalid input")
	ErrUnauthorized  = errors.New("creditline: unauthorized")
	ErrLedgerStopped = errors.New("creditline: ledger stopped")

	// Ledger errors
	ErrAccountNotFound     = errors.New("creditline: account not found")
	ErrInsufficientBalance = errors.New("creditline: insufficient balance")
	ErrTransactionNotFound = errors.New("creditline: transaction not found")
	ErrTransactionMismatch = errors.New("creditline: transaction does not match settlement request")
	ErrPlanNotFound        = errors.New("creditline: plan not found")

	// Conversation errors
	ErrChatNotFound      = errors.New("creditline: chat not found")
	ErrTurnNotFound      = errors.New("creditline: turn not found")
	ErrTurnAlreadyBilled = errors.New("creditline: turn already billed")

	// Pipeline errors
	ErrGatewayFailure = errors.New("creditline: generation failed")
	ErrUnbilledTurn   = errors.New("creditline: turn delivered without charge")

	// Reconciler errors
	ErrAuthenticationFailed = errors.New("creditline: notification authentication failed")

	// Store errors
	ErrPersistence     = errors.New("creditline: persistence failure")
	ErrStoreClosed     = errors.New("creditline: store is closed")
	ErrMigrationFailed = errors.New("creditline: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("creditline: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrTurnNotFound)
}

// IsRetryable returns true if the error is temporary and the whole
// operation can be retried from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayFailure) ||
		errors.Is(err, ErrPersistence)
}

// persistErr wraps a driver fault so callers can tell it apart from
// expected outcomes. Known sentinels pass through unchanged.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrTurnAlreadyBilled) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
