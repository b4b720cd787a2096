package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mwork/credits-api/internal/pkg/sanitize"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	validate.RegisterValidation("platform", oneOf("ios", "android", "web"))
	validate.RegisterValidation("referral_type", oneOf("signup", "purchase", "achievement", ""))
	validate.RegisterValidation("transaction_type", oneOf(
		"purchase", "daily_bonus", "referral", "admin_grant", "admin_deduct", "refund", "usage", "expiry", "",
	))

	// Free text that would be altered by the HTML sanitizer is rejected outright.
	validate.RegisterValidation("safe_text", func(fl validator.FieldLevel) bool {
		return !sanitize.ContainsXSS(fl.Field().String())
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "email":
			errors[field] = "Invalid email format"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "url":
			errors[field] = "Invalid URL format"
		case "platform":
			errors[field] = "Invalid platform. Must be: ios, android, or web"
		case "referral_type":
			errors[field] = "Invalid referral type. Must be: signup, purchase, or achievement"
		case "transaction_type":
			errors[field] = "Invalid transaction type"
		case "safe_text":
			errors[field] = "Value contains forbidden markup"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
