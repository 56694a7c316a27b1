package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Disconnect drops the stored tokens but keeps the app configuration so the
// owner can reconnect later.
func (s *Service) Disconnect(ctx context.Context, connectionID string, ownerID string) (err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"owner_id":      ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["site_id"] = string(connection.SiteID)
	now := s.now()
	_, err = s.connectionStore.Update(ctx, connection.ID, func(record *Connection) error {
		return record.TransitionTo(ConnectionStatusDisconnected, now)
	})
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// Delete removes the connection regardless of its status.
func (s *Service) Delete(ctx context.Context, connectionID string, ownerID string) (err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"connection_id": connectionID,
		"owner_id":      ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "delete", err, fields)
	}()

	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["site_id"] = string(connection.SiteID)
	if err = s.connectionStore.Delete(ctx, connection.ID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) GetConnection(ctx context.Context, connectionID string, ownerID string) (ConnectionSummary, error) {
	if s == nil {
		return ConnectionSummary{}, fmt.Errorf("core: service is nil")
	}
	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		return ConnectionSummary{}, s.mapError(err)
	}
	return connection.Summary(), nil
}

func (s *Service) ListConnections(ctx context.Context, ownerID string) ([]ConnectionSummary, error) {
	if s == nil || s.connectionStore == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, s.mapError(fmt.Errorf("%w: owner id is required", ErrValidation))
	}
	connections, err := s.connectionStore.List(ctx, ConnectionFilter{OwnerID: ownerID})
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]ConnectionSummary, 0, len(connections))
	for _, connection := range connections {
		out = append(out, connection.Summary())
	}
	return out, nil
}

// ListRefreshDue returns connected connections whose tokens expire within
// the given window. It is not owner scoped.
func (s *Service) ListRefreshDue(ctx context.Context, within time.Duration, limit int) ([]ConnectionSummary, error) {
	if s == nil || s.connectionStore == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}
	if within <= 0 {
		within = s.config.Refresh.SweepWindow
	}
	if limit <= 0 {
		limit = s.config.Refresh.SweepLimit
	}
	cutoff := s.now().Add(within)
	connections, err := s.connectionStore.List(ctx, ConnectionFilter{
		Status:        ConnectionStatusConnected,
		ExpiresBefore: &cutoff,
		Limit:         limit,
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]ConnectionSummary, 0, len(connections))
	for _, connection := range connections {
		if connection.RefreshTokenEncrypted == "" {
			continue
		}
		out = append(out, connection.Summary())
	}
	return out, nil
}

// ListByMarketplaceUser returns the connected stores authorized by a
// marketplace seller account. It is not owner scoped.
func (s *Service) ListByMarketplaceUser(ctx context.Context, userID int64) ([]ConnectionSummary, error) {
	if s == nil || s.connectionStore == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}
	if userID <= 0 {
		return nil, s.mapError(fmt.Errorf("%w: marketplace user id is required", ErrValidation))
	}
	connections, err := s.connectionStore.List(ctx, ConnectionFilter{
		MarketplaceUserID: userID,
		Status:            ConnectionStatusConnected,
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]ConnectionSummary, 0, len(connections))
	for _, connection := range connections {
		out = append(out, connection.Summary())
	}
	return out, nil
}

// SearchOrders lists the seller's recent orders for a connected store,
// refreshing the token once if the marketplace rejects it.
func (s *Service) SearchOrders(ctx context.Context, connectionID string, ownerID string, search OrderSearch) (OrderPage, error) {
	if s == nil || s.marketplaceClient == nil {
		return OrderPage{}, s.mapError(fmt.Errorf("core: marketplace client is required"))
	}
	connection, err := s.loadOwnedConnection(ctx, connectionID, ownerID)
	if err != nil {
		return OrderPage{}, s.mapError(err)
	}
	search.SellerID = connection.MarketplaceUserID
	if search.Limit <= 0 || search.Limit > 50 {
		search.Limit = 50
	}
	if search.Offset < 0 {
		search.Offset = 0
	}

	var page OrderPage
	err = s.WithAccessToken(ctx, connection.ID, ownerID, func(ctx context.Context, accessToken string) error {
		var searchErr error
		page, searchErr = s.marketplaceClient.SearchOrders(ctx, accessToken, search)
		return searchErr
	})
	if err != nil {
		return OrderPage{}, err
	}
	return page, nil
}
