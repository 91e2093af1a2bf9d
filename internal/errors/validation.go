package errors

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one rejected field of a request
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

// ValidationErrors is returned as a whole so clients see every bad field at once
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

func (pe *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", pe.Field, pe.Message)
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ToValidationErrors flattens validator errors into field errors;
// any other error yields nil
func ToValidationErrors(err error) ValidationErrors {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}

	out := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: messageFor(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case "ip":
		return "must be a valid IP address"
	case "interaction_type":
		return "must be one of PUBLIC_FORM, ASSIGNMENT, STANDALONE_EXAM, PRACTICE_QUIZ"
	case "attempt_status":
		return "must be one of IN_PROGRESS, COMPLETED, ABANDONED, EXPIRED, SUSPICIOUS"
	case "session_id":
		return "must be a session id of the form session_{millis}_{random}"
	case "answer_key":
		return "must only contain non-empty question ids"
	}
	return fmt.Sprintf("failed rule '%s'", fe.Tag())
}
