package sqlstore

import (
	"time"

	"github.com/goliatone/go-meli-connect/core"
)

func newConnectionRecord(connection core.Connection) *connectionRecord {
	return &connectionRecord{
		ID:                    connection.ID,
		OwnerID:               connection.OwnerID,
		TenantID:              connection.TenantID,
		SiteID:                string(connection.SiteID),
		AppID:                 connection.AppID,
		AppSecretEncrypted:    connection.AppSecretEncrypted,
		FriendlyName:          connection.FriendlyName,
		RedirectURI:           connection.RedirectURI,
		StateToken:            connection.StateToken,
		Status:                string(connection.Status),
		AccessTokenEncrypted:  connection.AccessTokenEncrypted,
		RefreshTokenEncrypted: connection.RefreshTokenEncrypted,
		MarketplaceUserID:     connection.MarketplaceUserID,
		MarketplaceNickname:   connection.MarketplaceNickname,
		TokenExpiresAt:        utcPointer(connection.TokenExpiresAt),
		ConnectedAt:           utcPointer(connection.ConnectedAt),
		DisconnectedAt:        utcPointer(connection.DisconnectedAt),
		TokenRefreshedAt:      utcPointer(connection.TokenRefreshedAt),
		CreatedAt:             connection.CreatedAt.UTC(),
		UpdatedAt:             connection.UpdatedAt.UTC(),
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:                    r.ID,
		OwnerID:               r.OwnerID,
		TenantID:              r.TenantID,
		SiteID:                core.SiteID(r.SiteID),
		AppID:                 r.AppID,
		AppSecretEncrypted:    r.AppSecretEncrypted,
		FriendlyName:          r.FriendlyName,
		RedirectURI:           r.RedirectURI,
		StateToken:            r.StateToken,
		Status:                core.ConnectionStatus(r.Status),
		AccessTokenEncrypted:  r.AccessTokenEncrypted,
		RefreshTokenEncrypted: r.RefreshTokenEncrypted,
		MarketplaceUserID:     r.MarketplaceUserID,
		MarketplaceNickname:   r.MarketplaceNickname,
		TokenExpiresAt:        utcPointer(r.TokenExpiresAt),
		ConnectedAt:           utcPointer(r.ConnectedAt),
		DisconnectedAt:        utcPointer(r.DisconnectedAt),
		TokenRefreshedAt:      utcPointer(r.TokenRefreshedAt),
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}
