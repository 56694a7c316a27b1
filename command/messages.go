package command

import (
	"strings"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	TypeConnect    = "meli.command.connection.connect"
	TypeCallback   = "meli.command.connection.callback"
	TypeRefresh    = "meli.command.connection.refresh"
	TypeDisconnect = "meli.command.connection.disconnect"
	TypeDelete     = "meli.command.connection.delete"
)

type ConnectMessage struct {
	Request core.ConnectRequest
}

func (ConnectMessage) Type() string { return TypeConnect }

// Validate only checks presence; format rules live in the service so that
// every entry point shares them.
func (m ConnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.Request.SiteID) == "" {
		return commandValidationError("site_id", "site id is required")
	}
	if strings.TrimSpace(m.Request.AppID) == "" {
		return commandValidationError("app_id", "app id is required")
	}
	if strings.TrimSpace(m.Request.AppSecret) == "" {
		return commandValidationError("app_secret", "app secret is required")
	}
	return nil
}

type CallbackMessage struct {
	Request core.CallbackRequest
}

func (CallbackMessage) Type() string { return TypeCallback }

// Validate lets provider errors and stateless callbacks through so the
// service reports them the same way for every entry point.
func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.Error) != "" || strings.TrimSpace(m.Request.State) == "" {
		return nil
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type RefreshMessage struct {
	ConnectionID string
	OwnerID      string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	return validateOwnedConnection(m.ConnectionID, m.OwnerID)
}

type DisconnectMessage struct {
	ConnectionID string
	OwnerID      string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return validateOwnedConnection(m.ConnectionID, m.OwnerID)
}

type DeleteMessage struct {
	ConnectionID string
	OwnerID      string
}

func (DeleteMessage) Type() string { return TypeDelete }

func (m DeleteMessage) Validate() error {
	return validateOwnedConnection(m.ConnectionID, m.OwnerID)
}

func validateOwnedConnection(connectionID string, ownerID string) error {
	if strings.TrimSpace(connectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}
