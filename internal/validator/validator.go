package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// BusinessRuler is implemented by requests that carry cross-field rules
// struct tags cannot express.
type BusinessRuler interface {
	BusinessRules() ValidationErrors
}

// Validator is the main validator instance that combines all validation types
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator: structValidator,
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.structValidator.Struct(s); err != nil {
		if errs := ToValidationErrors(err); len(errs) > 0 {
			return errs
		}
		return err
	}
	return nil
}

// ValidateBusiness validates business rules only
func (v *Validator) ValidateBusiness(s interface{}) ValidationErrors {
	if ruler, ok := s.(BusinessRuler); ok {
		return ruler.BusinessRules()
	}
	return nil
}

// Validate performs complete validation (struct + business rules)
func (v *Validator) Validate(s interface{}) error {
	// First validate struct tags
	if err := v.ValidateStruct(s); err != nil {
		return err
	}

	// Then validate business rules
	if errors := v.ValidateBusiness(s); len(errors) > 0 {
		return errors
	}

	return nil
}

var sessionIDPattern = regexp.MustCompile(`^session_[0-9]{10,16}_[A-Za-z0-9]{4,32}$`)

// IsSessionID reports whether s has the server-generated session id shape
func IsSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("interaction_type", validateInteractionType)
	validate.RegisterValidation("attempt_status", validateAttemptStatus)
	validate.RegisterValidation("session_id", validateSessionID)
	validate.RegisterValidation("answer_key", validateAnswerKey)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Custom validation functions
func validateInteractionType(fl validator.FieldLevel) bool {
	return models.InteractionType(fl.Field().String()).IsValid()
}

func validateAttemptStatus(fl validator.FieldLevel) bool {
	validStatuses := []models.AttemptStatus{
		models.AttemptInProgress,
		models.AttemptCompleted,
		models.AttemptAbandoned,
		models.AttemptExpired,
		models.AttemptSuspicious,
	}

	value := fl.Field().String()
	for _, validStatus := range validStatuses {
		if string(validStatus) == value {
			return true
		}
	}
	return false
}

func validateSessionID(fl validator.FieldLevel) bool {
	return IsSessionID(fl.Field().String())
}

// validateAnswerKey is applied to map keys with `dive,keys,answer_key`
func validateAnswerKey(fl validator.FieldLevel) bool {
	key := strings.TrimSpace(fl.Field().String())
	return key != "" && len(key) <= 255
}
