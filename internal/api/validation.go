package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"imagetovideo/internal/ledger"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	// hosting_intent accepts only the keys of the hosting plan table.
	v.RegisterValidation("hosting_intent", func(fl validator.FieldLevel) bool {
		_, ok := ledger.PlanCost(fl.Field().String())
		return ok
	})
	return v
}

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}

	if err := requestValidator.Struct(dst); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok && len(validationErrors) > 0 {
			first := validationErrors[0]
			field := strings.ToLower(first.Field())
			switch first.Tag() {
			case "required":
				return fmt.Errorf("%s is required", field)
			case "email":
				return fmt.Errorf("invalid email format")
			case "hosting_intent":
				return fmt.Errorf("unknown hosting intent, expected one of: %s", strings.Join(ledger.PlanIntents(), ", "))
			default:
				return fmt.Errorf("invalid %s", field)
			}
		}

		return fmt.Errorf("invalid request payload")
	}

	return nil
}

// normalizeAndValidateEmail returns the canonical email or an error fit
// for the client.
func normalizeAndValidateEmail(raw string) (string, error) {
	email := ledger.NormalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("email is required")
	}
	if err := requestValidator.Var(email, "email,max=254"); err != nil {
		return "", fmt.Errorf("invalid email format")
	}
	return email, nil
}
