package query

import (
	"context"
	"time"

	"github.com/goliatone/go-meli-connect/core"
)

type ConnectionReader interface {
	GetConnection(ctx context.Context, connectionID string, ownerID string) (core.ConnectionSummary, error)
	ListConnections(ctx context.Context, ownerID string) ([]core.ConnectionSummary, error)
}

type RefreshDueReader interface {
	ListRefreshDue(ctx context.Context, within time.Duration, limit int) ([]core.ConnectionSummary, error)
}

type SiteCatalogReader interface {
	SupportedSites() []core.Site
}

type OrderReader interface {
	SearchOrders(ctx context.Context, connectionID string, ownerID string, search core.OrderSearch) (core.OrderPage, error)
}

type GetConnectionQuery struct {
	reader ConnectionReader
}

func NewGetConnectionQuery(reader ConnectionReader) *GetConnectionQuery {
	return &GetConnectionQuery{reader: reader}
}

func (q *GetConnectionQuery) Query(ctx context.Context, msg GetConnectionMessage) (core.ConnectionSummary, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionSummary{}, queryDependencyError("query: connection reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.ConnectionSummary{}, err
	}
	return q.reader.GetConnection(ctx, msg.ConnectionID, msg.OwnerID)
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

func (q *ListConnectionsQuery) Query(ctx context.Context, msg ListConnectionsMessage) ([]core.ConnectionSummary, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListConnections(ctx, msg.OwnerID)
}

type ListRefreshDueQuery struct {
	reader RefreshDueReader
}

func NewListRefreshDueQuery(reader RefreshDueReader) *ListRefreshDueQuery {
	return &ListRefreshDueQuery{reader: reader}
}

func (q *ListRefreshDueQuery) Query(ctx context.Context, msg ListRefreshDueMessage) ([]core.ConnectionSummary, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: refresh due reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListRefreshDue(ctx, msg.Within, msg.Limit)
}

type SupportedSitesQuery struct {
	reader SiteCatalogReader
}

func NewSupportedSitesQuery(reader SiteCatalogReader) *SupportedSitesQuery {
	return &SupportedSitesQuery{reader: reader}
}

func (q *SupportedSitesQuery) Query(_ context.Context, _ SupportedSitesMessage) ([]core.Site, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: site catalog reader is required")
	}
	return q.reader.SupportedSites(), nil
}

type SearchOrdersQuery struct {
	reader OrderReader
}

func NewSearchOrdersQuery(reader OrderReader) *SearchOrdersQuery {
	return &SearchOrdersQuery{reader: reader}
}

func (q *SearchOrdersQuery) Query(ctx context.Context, msg SearchOrdersMessage) (core.OrderPage, error) {
	if q == nil || q.reader == nil {
		return core.OrderPage{}, queryDependencyError("query: order reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.OrderPage{}, err
	}
	return q.reader.SearchOrders(ctx, msg.ConnectionID, msg.OwnerID, msg.Search)
}
