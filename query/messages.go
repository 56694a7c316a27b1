package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	TypeGetConnection   = "meli.query.connection.get"
	TypeListConnections = "meli.query.connection.list"
	TypeListRefreshDue  = "meli.query.connection.refresh_due"
	TypeSupportedSites  = "meli.query.site.list"
	TypeSearchOrders    = "meli.query.order.search"

	maxOrderPageSize = 50
)

type GetConnectionMessage struct {
	ConnectionID string
	OwnerID      string
}

func (GetConnectionMessage) Type() string { return TypeGetConnection }

func (m GetConnectionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type ListConnectionsMessage struct {
	OwnerID string
}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (m ListConnectionsMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

// ListRefreshDueMessage selects connected records whose access token expires
// within Within of now.
type ListRefreshDueMessage struct {
	Within time.Duration
	Limit  int
}

func (ListRefreshDueMessage) Type() string { return TypeListRefreshDue }

func (m ListRefreshDueMessage) Validate() error {
	if m.Within < 0 {
		return queryValidationError("within", "window must be >= 0")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type SupportedSitesMessage struct{}

func (SupportedSitesMessage) Type() string { return TypeSupportedSites }

func (SupportedSitesMessage) Validate() error { return nil }

type SearchOrdersMessage struct {
	ConnectionID string
	OwnerID      string
	Search       core.OrderSearch
}

func (SearchOrdersMessage) Type() string { return TypeSearchOrders }

func (m SearchOrdersMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	if m.Search.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	if m.Search.Limit < 0 || m.Search.Limit > maxOrderPageSize {
		return queryValidationError("limit", "limit must be between 0 and 50")
	}
	return nil
}
