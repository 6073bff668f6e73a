// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var connectedAccountPattern = regexp.MustCompile(`^acct_[A-Za-z0-9]{6,}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("connected_account", validateConnectedAccount)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateVar checks a single value against a validator tag, e.g. "required,http_url".
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

// validateConnectedAccount accepts a payment provider connected account id.
func validateConnectedAccount(fl validator.FieldLevel) bool {
	return connectedAccountPattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param() + " characters"
	case "max":
		return e.Field() + " must be at most " + e.Param() + " characters"
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "http_url":
		return e.Field() + " must be an http(s) URL"
	case "connected_account":
		return e.Field() + " must be a connected account id (acct_...)"
	default:
		return e.Field() + " is invalid"
	}
}
