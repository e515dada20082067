// Package validate wraps go-playground/validator/v10 with the same
// struct-tag-driven approach as utils/validator.go, generalized to return a
// single apierr.Error carrying every violating field instead of a bare
// joined-string error, so the admin and external API layers can render it
// straight into the error envelope.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"mailgateway/internal/apierr"
)

var v = validator.New()

// Struct runs struct-tag validation and, on failure, returns a single
// VALIDATION_ERROR carrying one message per violating field in Details.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierr.ErrValidation(err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fieldMessage(fe))
	}

	return apierr.WithDetails(apierr.CodeValidation, 400, strings.Join(messages, "; "), messages)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "len":
		return field + " must be exactly " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "gte":
		return field + " must be at least " + fe.Param()
	default:
		return field + " is invalid"
	}
}
