package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Clock func() time.Time

// SecretCipher is the reversible symmetric cipher used for app secrets and
// OAuth tokens at rest.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type StateCodec interface {
	Generate(ownerID string) (string, error)
	// Validate never fails loudly; every rejection is reported as false.
	Validate(token string, expectedOwnerID string) bool
}

type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int
	UserID       int64
}

type UserInfo struct {
	ID       int64
	Nickname string
	SiteID   string
	Email    string
}

type ExchangeCodeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

type RefreshTokenRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type OAuthClient interface {
	BuildAuthorizationURL(site SiteID, clientID string, redirectURI string, state string) (string, error)
	ExchangeCode(ctx context.Context, req ExchangeCodeRequest) (TokenSet, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (TokenSet, error)
	GetUserInfo(ctx context.Context, accessToken string) (UserInfo, error)
}

type OrderSearch struct {
	SellerID int64
	Status   string
	Offset   int
	Limit    int
}

type Order struct {
	ID            int64
	Status        string
	DateCreated   time.Time
	TotalAmount   float64
	CurrencyID    string
	BuyerID       int64
	BuyerNickname string
}

type OrderPage struct {
	Orders []Order
	Total  int
	Offset int
	Limit  int
}

// MarketplaceClient is the authenticated marketplace API surface used once a
// connection holds a valid access token.
type MarketplaceClient interface {
	SearchOrders(ctx context.Context, accessToken string, search OrderSearch) (OrderPage, error)
}

type ConnectionKey struct {
	OwnerID string
	SiteID  SiteID
	AppID   string
}

type ConnectionFilter struct {
	ID                string
	OwnerID           string
	StateToken        string
	SiteID            SiteID
	AppID             string
	MarketplaceUserID int64
	Status            ConnectionStatus
	ExpiresBefore     *time.Time
	Limit             int
}

type UpsertConnectionInput struct {
	TenantID           string
	AppSecretEncrypted string
	FriendlyName       string
	RedirectURI        string
	StateToken         string
}

// ConnectionMutation edits a loaded record in place; stores persist the
// result as a single write. Mutations must not perform I/O.
type ConnectionMutation func(connection *Connection) error

type ConnectionStore interface {
	Find(ctx context.Context, filter ConnectionFilter) (Connection, bool, error)
	List(ctx context.Context, filter ConnectionFilter) ([]Connection, error)
	Upsert(ctx context.Context, key ConnectionKey, in UpsertConnectionInput) (Connection, error)
	Update(ctx context.Context, id string, mutate ConnectionMutation) (Connection, error)
	Delete(ctx context.Context, id string) error
}

type ConnectRequest struct {
	OwnerID      string
	TenantID     string
	SiteID       string
	AppID        string
	AppSecret    string
	FriendlyName string
}

type ConnectResult struct {
	ConnectionID     string
	AuthorizationURL string
	RedirectURI      string
	StateToken       string
	Site             Site
}

type CallbackRequest struct {
	CallbackID       string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

type CallbackResult struct {
	ConnectionID        string
	OwnerID             string
	SiteID              SiteID
	MarketplaceUserID   int64
	MarketplaceNickname string
}

type RefreshResult struct {
	ConnectionID string
	ExpiresIn    int
	ExpiresAt    time.Time
}

// ApplyUpsert overwrites the attempt-specific fields of a connection and
// returns it to pending authorization. Shared by every store implementation.
func ApplyUpsert(connection *Connection, key ConnectionKey, in UpsertConnectionInput, now time.Time) error {
	if connection == nil {
		return nil
	}
	connection.OwnerID = key.OwnerID
	connection.SiteID = key.SiteID
	connection.AppID = key.AppID
	connection.TenantID = in.TenantID
	connection.AppSecretEncrypted = in.AppSecretEncrypted
	connection.FriendlyName = in.FriendlyName
	connection.RedirectURI = in.RedirectURI
	connection.StateToken = in.StateToken
	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = now
	}
	return connection.TransitionTo(ConnectionStatusPending, now)
}
