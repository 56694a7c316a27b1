package sqlstore

import (
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:marketplace_connections,alias:mc"`

	ID                    string     `bun:"id,pk"`
	OwnerID               string     `bun:"owner_id,notnull"`
	TenantID              string     `bun:"tenant_id,notnull"`
	SiteID                string     `bun:"site_id,notnull"`
	AppID                 string     `bun:"app_id,notnull"`
	AppSecretEncrypted    string     `bun:"app_secret_encrypted,notnull"`
	FriendlyName          string     `bun:"friendly_name,notnull"`
	RedirectURI           string     `bun:"redirect_uri,notnull"`
	StateToken            string     `bun:"state_token,notnull"`
	Status                string     `bun:"status,notnull"`
	AccessTokenEncrypted  string     `bun:"access_token_encrypted,notnull"`
	RefreshTokenEncrypted string     `bun:"refresh_token_encrypted,notnull"`
	MarketplaceUserID     int64      `bun:"marketplace_user_id,notnull"`
	MarketplaceNickname   string     `bun:"marketplace_nickname,notnull"`
	TokenExpiresAt        *time.Time `bun:"token_expires_at,nullzero"`
	ConnectedAt           *time.Time `bun:"connected_at,nullzero"`
	DisconnectedAt        *time.Time `bun:"disconnected_at,nullzero"`
	TokenRefreshedAt      *time.Time `bun:"token_refreshed_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// connectionHandlers keys records by their uuid id column. Rows with an id
// that does not parse report uuid.Nil.
func connectionHandlers() repository.ModelHandlers[*connectionRecord] {
	return repository.ModelHandlers[*connectionRecord]{
		NewRecord: func() *connectionRecord { return &connectionRecord{} },
		GetID: func(record *connectionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *connectionRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record *connectionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
