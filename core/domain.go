package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")

type ConnectionStatus string

const (
	ConnectionStatusPending      ConnectionStatus = "pending_authorization"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionStatusPending, ConnectionStatusConnected, ConnectionStatusDisconnected:
		return true
	default:
		return false
	}
}

// Connection is a single owner's registration of one marketplace app on one
// site. Secrets and tokens only ever appear here as cipher envelopes.
type Connection struct {
	ID                    string
	OwnerID               string
	TenantID              string
	SiteID                SiteID
	AppID                 string
	AppSecretEncrypted    string
	FriendlyName          string
	RedirectURI           string
	StateToken            string
	Status                ConnectionStatus
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	MarketplaceUserID     int64
	MarketplaceNickname   string
	TokenExpiresAt        *time.Time
	ConnectedAt           *time.Time
	DisconnectedAt        *time.Time
	TokenRefreshedAt      *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ConnectionSummary is the secret-free projection of a Connection handed to
// outer layers.
type ConnectionSummary struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	TenantID            string     `json:"tenant_id,omitempty"`
	SiteID              SiteID     `json:"site_id"`
	AppID               string     `json:"app_id"`
	FriendlyName        string     `json:"friendly_name"`
	RedirectURI         string     `json:"redirect_uri"`
	Status              string     `json:"status"`
	MarketplaceUserID   int64      `json:"marketplace_user_id,omitempty"`
	MarketplaceNickname string     `json:"marketplace_nickname,omitempty"`
	TokenExpiresAt      *time.Time `json:"token_expires_at,omitempty"`
	ConnectedAt         *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt      *time.Time `json:"disconnected_at,omitempty"`
	TokenRefreshedAt    *time.Time `json:"token_refreshed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (c Connection) Summary() ConnectionSummary {
	return ConnectionSummary{
		ID:                  c.ID,
		OwnerID:             c.OwnerID,
		TenantID:            c.TenantID,
		SiteID:              c.SiteID,
		AppID:               c.AppID,
		FriendlyName:        c.FriendlyName,
		RedirectURI:         c.RedirectURI,
		Status:              string(c.Status),
		MarketplaceUserID:   c.MarketplaceUserID,
		MarketplaceNickname: c.MarketplaceNickname,
		TokenExpiresAt:      c.TokenExpiresAt,
		ConnectedAt:         c.ConnectedAt,
		DisconnectedAt:      c.DisconnectedAt,
		TokenRefreshedAt:    c.TokenRefreshedAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func (c Connection) Key() ConnectionKey {
	return ConnectionKey{OwnerID: c.OwnerID, SiteID: c.SiteID, AppID: c.AppID}
}

func (c Connection) OwnedBy(ownerID string) bool {
	return strings.TrimSpace(ownerID) != "" && c.OwnerID == strings.TrimSpace(ownerID)
}

func (c Connection) HasTokens() bool {
	return c.AccessTokenEncrypted != ""
}

// TokenDue reports whether the stored access token must be refreshed before use.
func (c Connection) TokenDue(now time.Time, leeway time.Duration) bool {
	if c.TokenExpiresAt == nil {
		return true
	}
	return !now.Before(c.TokenExpiresAt.Add(-leeway))
}

func (c *Connection) TransitionTo(status ConnectionStatus, now time.Time) error {
	if c == nil {
		return nil
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidConnectionStatusTransition, status)
	}
	if c.Status != "" && c.Status != status && !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	switch status {
	case ConnectionStatusConnected:
		c.ConnectedAt = timePtr(now)
		c.DisconnectedAt = nil
	case ConnectionStatusDisconnected:
		c.AccessTokenEncrypted = ""
		c.RefreshTokenEncrypted = ""
		c.TokenExpiresAt = nil
		c.StateToken = ""
		c.DisconnectedAt = timePtr(now)
	case ConnectionStatusPending:
		c.AccessTokenEncrypted = ""
		c.RefreshTokenEncrypted = ""
		c.TokenExpiresAt = nil
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusPending: {
			ConnectionStatusConnected:    {},
			ConnectionStatusDisconnected: {},
		},
		ConnectionStatusConnected: {
			ConnectionStatusDisconnected: {},
			ConnectionStatusPending:      {},
		},
		ConnectionStatusDisconnected: {
			ConnectionStatusPending: {},
		},
	}
	nextStates, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func timePtr(value time.Time) *time.Time {
	copied := value
	return &copied
}
