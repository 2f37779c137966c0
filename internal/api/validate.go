package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/go-playground/validator/v10"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors is returned when a request body fails validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Unwrap lets callers match validation failures with domain.ErrInvalidInput.
func (v ValidationErrors) Unwrap() error {
	return domain.ErrInvalidInput
}

// RequestValidator checks decoded request bodies.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator with the clock time rule registered.
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	if err := v.RegisterValidation("clock", validateClock); err != nil {
		panic(fmt.Sprintf("api: failed to register clock validator: %v", err))
	}
	return &RequestValidator{validate: v}
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := domain.ParseClock(fl.Field().String())
	return err == nil
}

// Struct validates s and converts failures into ValidationErrors.
func (rv *RequestValidator) Struct(s any) error {
	err := rv.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "clock":
		return "must be a time formatted HH:MM"
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
