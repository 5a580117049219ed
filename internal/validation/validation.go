package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so messages match the request payload.
	vld.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	if err := vld.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return isPhoneNumber(fl.Field().String())
	}, false); err != nil {
		return nil, fmt.Errorf("failed to register 'phone': %w", err)
	}

	return vld, nil
}

func get() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// Struct validates payload and returns the first violation wrapped in domain.ErrValidation.
func Struct(payload any) error {
	vld, err := get()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrValidation, describe(fieldErrs[0]))
		}
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url", "http_url":
		return field + " must be a valid URL"
	case "phone":
		return field + " must be a phone number"
	case "datetime":
		return fmt.Sprintf("%s must be a timestamp in %s format", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// isPhoneNumber accepts an optional leading + followed by 3 to 15 digits.
func isPhoneNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 3 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
