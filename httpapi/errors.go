package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-meli-connect/core"
)

type errorBody struct {
	Code     string            `json:"code"`
	Category string            `json:"category"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the service envelope. Internal failures get a generic
// message so wrapped details never leave the process.
func writeError(w http.ResponseWriter, err error) {
	rich := core.MapError(err)
	if rich == nil {
		rich = core.MapError(errors.New("unknown error"))
	}
	status := rich.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	body := errorBody{
		Code:     rich.TextCode,
		Category: fmt.Sprint(rich.Category),
		Message:  rich.Message,
	}
	if status >= http.StatusInternalServerError && rich.Category == goerrors.CategoryInternal {
		body.Message = "internal error"
	}
	if validation := rich.AllValidationErrors(); len(validation) > 0 {
		body.Fields = make(map[string]string, len(validation))
		for _, fieldErr := range validation {
			body.Fields[fieldErr.Field] = fieldErr.Message
		}
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func requestValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return badRequest("invalid request body")
	}
	fields := make([]goerrors.FieldError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, goerrors.FieldError{
			Field:   fieldErr.Field(),
			Message: describeFieldError(fieldErr),
		})
	}
	return goerrors.NewValidation("request validation failed", fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
}

func describeFieldError(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "this field is required"
	case "numeric":
		return "must contain digits only"
	case "min":
		return "must be at least " + fieldErr.Param() + " characters"
	case "max":
		return "must be at most " + fieldErr.Param() + " characters"
	case "len":
		return "must be exactly " + fieldErr.Param() + " characters"
	default:
		return "invalid value"
	}
}

func badRequest(message string) error {
	return goerrors.New(strings.TrimSpace(message), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
}
