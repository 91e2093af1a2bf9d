package errors

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestValidationError(t *testing.T) {
	// Test NewValidationError
	err := NewValidationError("test_field", "test message", "test_value")

	if err.Field != "test_field" {
		t.Errorf("Expected field to be 'test_field', got '%s'", err.Field)
	}

	if err.Message != "test message" {
		t.Errorf("Expected message to be 'test message', got '%s'", err.Message)
	}

	if err.Value != "test_value" {
		t.Errorf("Expected value to be 'test_value', got '%v'", err.Value)
	}

	// Test Error method
	expected := "validation error on field 'test_field': test message"
	if err.Error() != expected {
		t.Errorf("Expected error message to be '%s', got '%s'", expected, err.Error())
	}
}

func TestValidationErrors(t *testing.T) {
	// Test empty ValidationErrors
	var errs ValidationErrors
	if errs.Error() != "validation failed" {
		t.Errorf("Expected 'validation failed' for empty errors, got '%s'", errs.Error())
	}

	// Test single ValidationError
	errs = append(errs, *NewValidationError("field1", "message1", nil))
	expected := "validation failed: field1 message1"
	if errs.Error() != expected {
		t.Errorf("Expected '%s' for single error, got '%s'", expected, errs.Error())
	}

	// Test multiple ValidationErrors
	errs = append(errs, *NewValidationError("field2", "message2", nil))
	expected = "validation failed: 2 field errors"
	if errs.Error() != expected {
		t.Errorf("Expected '%s' for multiple errors, got '%s'", expected, errs.Error())
	}
}

func TestToValidationErrors_UnknownTag(t *testing.T) {
	type request struct {
		Count int `validate:"gt=3"`
	}

	errs := ToValidationErrors(validator.New().Struct(request{Count: 1}))
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if errs[0].Message != "failed rule 'gt'" {
		t.Errorf("Unexpected message: %s", errs[0].Message)
	}
}

func TestToValidationErrors(t *testing.T) {
	type request struct {
		FormID          string `validate:"required"`
		InteractionType string `validate:"interaction_type"`
	}

	v := validator.New()
	_ = v.RegisterValidation("interaction_type", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "PUBLIC_FORM"
	})

	errs := ToValidationErrors(v.Struct(request{InteractionType: "KIOSK"}))
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errs))
	}

	if errs[0].Field != "FormID" || errs[0].Message != "is required" {
		t.Errorf("Unexpected first error: %+v", errs[0])
	}

	if errs[1].Rule != "interaction_type" {
		t.Errorf("Expected rule 'interaction_type', got '%s'", errs[1].Rule)
	}
}

func TestToValidationErrorsIgnoresOtherErrors(t *testing.T) {
	if errs := ToValidationErrors(nil); len(errs) != 0 {
		t.Errorf("Expected no errors for nil input, got %d", len(errs))
	}
}
