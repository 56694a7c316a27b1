package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnsureValidAccessToken returns a usable access token for the connection,
// refreshing it first when it is at or past expiry (minus the configured
// leeway).
func (s *Service) EnsureValidAccessToken(ctx context.Context, connectionID string, ownerID string) (token string, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"owner_id":      ownerID,
	}
	refreshed := false
	defer func() {
		fields["token_refreshed"] = refreshed
		s.observeOperation(ctx, startedAt, "ensure_valid_access_token", err, fields)
	}()

	token, refreshed, err = s.ensureValidAccessToken(ctx, connectionID, ownerID)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	return token, nil
}

func (s *Service) ensureValidAccessToken(ctx context.Context, connectionID string, ownerID string) (string, bool, error) {
	if err := s.requireDependencies(); err != nil {
		return "", false, err
	}
	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		return "", false, err
	}
	if connection.Status != ConnectionStatusConnected || !connection.HasTokens() {
		return "", false, fmt.Errorf("%w: status %s", ErrNotConnected, connection.Status)
	}
	if !connection.TokenDue(s.now(), s.config.Refresh.Leeway) {
		token, err := s.decrypt(ctx, connection.AccessTokenEncrypted)
		return token, false, err
	}
	refreshed, err := s.refreshDeduplicated(ctx, connection.ID)
	if err != nil {
		return "", false, err
	}
	return refreshed.accessToken, true, nil
}

// Refresh forces a token refresh regardless of the current expiry.
func (s *Service) Refresh(ctx context.Context, connectionID string, ownerID string) (result RefreshResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"owner_id":      ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	result, err = s.refreshOwned(ctx, connectionID, ownerID)
	if err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	return result, nil
}

func (s *Service) refreshOwned(ctx context.Context, connectionID string, ownerID string) (RefreshResult, error) {
	if err := s.requireDependencies(); err != nil {
		return RefreshResult{}, err
	}
	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		return RefreshResult{}, err
	}
	refreshed, err := s.refreshDeduplicated(ctx, connection.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	return refreshed.result, nil
}

// RefreshConnection refreshes a connection without an ownership check. It
// backs the background refresher, which works across owners.
func (s *Service) RefreshConnection(ctx context.Context, connectionID string) (result RefreshResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"trigger":       "background",
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if err = s.requireDependencies(); err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	refreshed, err := s.refreshDeduplicated(ctx, strings.TrimSpace(connectionID))
	if err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	return refreshed.result, nil
}

type refreshOutcome struct {
	accessToken string
	result      RefreshResult
}

// refreshDeduplicated collapses concurrent refreshes of one connection inside
// this process into a single provider call. The shared call is detached from
// the first caller's cancellation so waiters with live contexts still get a
// result; the OAuth client bounds it with its own timeout.
func (s *Service) refreshDeduplicated(ctx context.Context, connectionID string) (refreshOutcome, error) {
	shared := context.WithoutCancel(ctx)
	value, err, _ := s.refreshGroup.Do(connectionID, func() (interface{}, error) {
		return s.refreshConnection(shared, connectionID)
	})
	if err != nil {
		return refreshOutcome{}, err
	}
	outcome, ok := value.(refreshOutcome)
	if !ok {
		return refreshOutcome{}, fmt.Errorf("core: unexpected refresh outcome %T", value)
	}
	return outcome, nil
}

func (s *Service) refreshConnection(ctx context.Context, connectionID string) (refreshOutcome, error) {
	connection, found, err := s.connectionStore.Find(ctx, ConnectionFilter{ID: connectionID})
	if err != nil {
		return refreshOutcome{}, err
	}
	if !found {
		return refreshOutcome{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	if connection.Status != ConnectionStatusConnected {
		return refreshOutcome{}, fmt.Errorf("%w: status %s", ErrNotConnected, connection.Status)
	}
	if connection.RefreshTokenEncrypted == "" {
		return refreshOutcome{}, ErrMissingRefreshToken
	}
	refreshToken, err := s.decrypt(ctx, connection.RefreshTokenEncrypted)
	if err != nil {
		return refreshOutcome{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return refreshOutcome{}, ErrMissingRefreshToken
	}
	appSecret, err := s.decrypt(ctx, connection.AppSecretEncrypted)
	if err != nil {
		return refreshOutcome{}, err
	}

	tokens, err := s.oauthClient.RefreshToken(ctx, RefreshTokenRequest{
		ClientID:     connection.AppID,
		ClientSecret: appSecret,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return refreshOutcome{}, err
	}

	encryptedAccess, err := s.encrypt(ctx, tokens.AccessToken)
	if err != nil {
		return refreshOutcome{}, err
	}
	encryptedRefresh := connection.RefreshTokenEncrypted
	if strings.TrimSpace(tokens.RefreshToken) != "" {
		encryptedRefresh, err = s.encrypt(ctx, tokens.RefreshToken)
		if err != nil {
			return refreshOutcome{}, err
		}
	}

	now := s.now()
	expiresIn := s.expiresIn(tokens)
	expiresAt := now.Add(time.Duration(expiresIn) * time.Second)
	_, err = s.connectionStore.Update(ctx, connection.ID, func(record *Connection) error {
		if record.Status != ConnectionStatusConnected {
			return fmt.Errorf("%w: status %s", ErrNotConnected, record.Status)
		}
		record.AccessTokenEncrypted = encryptedAccess
		record.RefreshTokenEncrypted = encryptedRefresh
		record.TokenExpiresAt = timePtr(expiresAt)
		record.TokenRefreshedAt = timePtr(now)
		return nil
	})
	if err != nil {
		return refreshOutcome{}, err
	}
	return refreshOutcome{
		accessToken: tokens.AccessToken,
		result: RefreshResult{
			ConnectionID: connection.ID,
			ExpiresIn:    expiresIn,
			ExpiresAt:    expiresAt,
		},
	}, nil
}

// WithAccessToken runs fn with a valid access token. When fn reports that
// the token was rejected, the token is refreshed and fn is retried once.
func (s *Service) WithAccessToken(
	ctx context.Context,
	connectionID string,
	ownerID string,
	fn func(ctx context.Context, accessToken string) error,
) (err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"owner_id":      ownerID,
	}
	retried := false
	defer func() {
		fields["retried"] = retried
		s.observeOperation(ctx, startedAt, "with_access_token", err, fields)
	}()

	if fn == nil {
		return s.mapError(fmt.Errorf("%w: callback is required", ErrValidation))
	}
	retried, err = s.withAccessToken(ctx, connectionID, ownerID, fn)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) withAccessToken(
	ctx context.Context,
	connectionID string,
	ownerID string,
	fn func(ctx context.Context, accessToken string) error,
) (bool, error) {
	token, _, err := s.ensureValidAccessToken(ctx, connectionID, ownerID)
	if err != nil {
		return false, err
	}
	err = fn(ctx, token)
	if err == nil || !errors.Is(err, ErrOAuthUnauthorized) {
		return false, err
	}
	refreshed, err := s.refreshDeduplicated(ctx, strings.TrimSpace(connectionID))
	if err != nil {
		return true, err
	}
	return true, fn(ctx, refreshed.accessToken)
}

func (s *Service) loadOwnedConnection(ctx context.Context, connectionID string, ownerID string) (Connection, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return Connection{}, fmt.Errorf("%w: connection id is required", ErrValidation)
	}
	if s.connectionStore == nil {
		return Connection{}, fmt.Errorf("core: connection store is required")
	}
	connection, found, err := s.connectionStore.Find(ctx, ConnectionFilter{ID: connectionID})
	if err != nil {
		return Connection{}, err
	}
	if !found || !connection.OwnedBy(ownerID) {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	return connection, nil
}
