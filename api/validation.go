package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator checks request DTOs against their validate tags and
// reports failures by JSON field name.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(fmt.Sprintf("register notblank validator: %v", err))
	}

	return &requestValidator{validate: v}
}

// Struct returns nil or the per-field failures.
func (v *requestValidator) Struct(s any) []FieldError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	return translateValidationErrors(validationErrs)
}

func translateValidationErrors(errs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, err := range errs {
		var message string
		switch err.Tag() {
		case "required":
			message = "is required"
		case "notblank":
			message = "must not be blank"
		case "min":
			message = fmt.Sprintf("must be at least %s", err.Param())
		case "max":
			if err.Kind() == reflect.String {
				message = fmt.Sprintf("must be at most %s characters", err.Param())
			} else {
				message = fmt.Sprintf("must be at most %s", err.Param())
			}
		case "datetime":
			message = "must be a date in YYYY-MM-DD format"
		default:
			message = err.Error()
		}
		out = append(out, FieldError{Field: err.Field(), Message: message})
	}
	return out
}
