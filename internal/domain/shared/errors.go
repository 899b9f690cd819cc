// Package shared contains common domain types and errors used across all
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки ниже оборачивают один из них,
// так что вызывающий код проверяет вид через errors.Is.
var (
	ErrNotFound = errors.New("entity not found")

	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// ErrInvariantViolation marks state that must never be persisted:
	// negative XP, a level past the cap, XP at or above its threshold.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrForbidden = errors.New("forbidden")

	// ErrConcurrentModification means a compare-and-swap lost; rereading
	// and retrying is safe.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrStorageUnavailable         = errors.New("storage unavailable")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrTimeout                    = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "rollover", "leaderboard"
	Op      string // Operation that failed, e.g., "ApplyGain", "Claim"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrNegativeGain     = NewDomainError("progress", "ApplyGain", ErrInvariantViolation, "gain amount cannot be negative")
	ErrVersionConflict  = NewDomainError("progress", "Save", ErrConcurrentModification, "record version changed since read")
)

// Chat domain errors
var (
	ErrChatNotConfigured = NewDomainError("chat", "Find", ErrNotFound, "chat is not configured")
	ErrRewardNotFound    = NewDomainError("chat", "FindReward", ErrNotFound, "no reward for level")
	ErrInvalidThread     = NewDomainError("chat", "SetAlertThread", ErrInvalidInput, "invalid thread id")
	ErrEmptyReward       = NewDomainError("chat", "SetReward", ErrInvalidInput, "reward text cannot be empty")
)

// Gateway errors
var (
	ErrTelegramAPIFailed = NewDomainError("telegram", "Send", ErrNotificationDeliveryFailed, "Telegram API request failed")
	ErrBotForbidden      = NewDomainError("telegram", "Send", ErrForbidden, "bot was removed from chat")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsInvariantViolation checks if the error signals corrupted or impossible state.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsStorageUnavailable checks if the backing store could not be reached.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// StorageError wraps a driver error as a retryable storage failure.
func StorageError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(domain, op, ErrStorageUnavailable, "storage request failed", err)
}
