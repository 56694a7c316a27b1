package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const TextCodeInvalidNotification = "SERVICE_INVALID_NOTIFICATION"

// Notification is the envelope MercadoLibre posts to the application
// notification URL. Resource is a marketplace API path such as /orders/123.
type Notification struct {
	ID            string    `json:"_id,omitempty"`
	Topic         string    `json:"topic"`
	Resource      string    `json:"resource"`
	UserID        int64     `json:"user_id"`
	ApplicationID int64     `json:"application_id"`
	Attempts      int       `json:"attempts,omitempty"`
	Sent          time.Time `json:"sent,omitempty"`
	Received      time.Time `json:"received,omitempty"`
}

// ParseNotification decodes and validates a notification body.
func ParseNotification(body []byte) (Notification, error) {
	var notification Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		return Notification{}, invalidNotification(fmt.Sprintf("decode notification: %v", err))
	}
	notification.Topic = strings.ToLower(strings.TrimSpace(notification.Topic))
	notification.Resource = strings.TrimSpace(notification.Resource)
	if err := notification.Validate(); err != nil {
		return Notification{}, err
	}
	return notification, nil
}

func (n Notification) Validate() error {
	fields := make([]goerrors.FieldError, 0, 3)
	if strings.TrimSpace(n.Topic) == "" {
		fields = append(fields, goerrors.FieldError{Field: "topic", Message: "is required"})
	}
	if !strings.HasPrefix(strings.TrimSpace(n.Resource), "/") {
		fields = append(fields, goerrors.FieldError{Field: "resource", Message: "must be an API path"})
	}
	if n.UserID <= 0 {
		fields = append(fields, goerrors.FieldError{Field: "user_id", Message: "must be positive"})
	}
	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidation("invalid notification", fields...).
		WithTextCode(TextCodeInvalidNotification).
		WithCode(http.StatusBadRequest)
}

// ResourceID returns the last path segment of the resource.
func (n Notification) ResourceID() string {
	resource := strings.Trim(strings.TrimSpace(n.Resource), "/")
	if idx := strings.LastIndex(resource, "/"); idx >= 0 {
		return resource[idx+1:]
	}
	return resource
}

func invalidNotification(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidNotification).
		WithCode(http.StatusBadRequest)
}
