package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts go-playground/validator to echo.Validator.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports fields by their query name.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("query"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i any) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return formatValidationErrors(verrs)
	}
	return fmt.Errorf("request validation failed: %w", err)
}

// formatValidationErrors reports the first failed field in a user-facing form.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%s parameter is required", fe.Field())
	}
	return fmt.Errorf("%s parameter failed validation: %s", fe.Field(), fe.Tag())
}
