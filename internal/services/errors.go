package services

import (
	"errors"
	"fmt"

	apperrors "github.com/SAP-F-2025/attempt-tracking-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrAttemptNotFound  = fmt.Errorf("attempt %w", ErrNotFound)
	ErrResponseConflict = fmt.Errorf("%w: attempt already completed with a different response", ErrConflict)

	// ErrInvalidToken is returned by token verifiers
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ===== CUSTOM ERROR TYPES =====

type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (bre *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", bre.Rule, bre.Message)
}

// ===== ERROR HELPERS =====

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

// IsValidation reports whether err carries field errors
func IsValidation(err error) bool {
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsBusinessRule checks if error represents a business rule violation
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
