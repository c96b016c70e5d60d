package handler

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator plugs validator/v10 into echo so handlers can call
// c.Validate on bound request bodies.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator.  Field errors are flattened into one
// readable message.
func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	fields, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, len(fields))
	for k, f := range fields {
		msgs[k] = fmt.Sprintf("invalid '%s' with value '%v'", f.Field(), f.Value())
	}
	return &validationError{msg: strings.Join(msgs, ", ")}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
