package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinAppIDLength     = 10
	MaxAppIDLength     = 20
	MinAppSecretLength = 20
)

type appCredentials struct {
	AppID     string `validate:"required,digits,min=10,max=20"`
	AppSecret string `validate:"required,min=20"`
}

// CredentialValidator checks the shape of marketplace app credentials
// before they are stored. It never calls the provider.
type CredentialValidator struct {
	validate *validator.Validate
}

func NewCredentialValidator() *CredentialValidator {
	v := validator.New()
	_ = v.RegisterValidation("digits", validateDigits)
	return &CredentialValidator{validate: v}
}

func (v *CredentialValidator) Validate(appID string, appSecret string) bool {
	return v.Check(appID, appSecret) == nil
}

// Check returns ErrInvalidCredentialsFormat naming the offending field.
// The secret value is never part of the message.
func (v *CredentialValidator) Check(appID string, appSecret string) error {
	if v == nil || v.validate == nil {
		v = NewCredentialValidator()
	}
	err := v.validate.Struct(appCredentials{AppID: appID, AppSecret: appSecret})
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidCredentialsFormat, err)
	}
	problems := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		problems = append(problems, describeCredentialProblem(fieldErr))
	}
	return fmt.Errorf("%w: %s", ErrInvalidCredentialsFormat, strings.Join(problems, "; "))
}

func describeCredentialProblem(fieldErr validator.FieldError) string {
	field := "app_id"
	if fieldErr.Field() == "AppSecret" {
		field = "app_secret"
	}
	switch fieldErr.Tag() {
	case "required":
		return field + " is required"
	case "digits":
		return field + " must contain digits only"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fieldErr.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fieldErr.Param())
	default:
		return field + " is invalid"
	}
}

func validateDigits(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
