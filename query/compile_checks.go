package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-meli-connect/core"
)

var (
	_ gocmd.Querier[GetConnectionMessage, core.ConnectionSummary]     = (*GetConnectionQuery)(nil)
	_ gocmd.Querier[ListConnectionsMessage, []core.ConnectionSummary] = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[ListRefreshDueMessage, []core.ConnectionSummary]  = (*ListRefreshDueQuery)(nil)
	_ gocmd.Querier[SupportedSitesMessage, []core.Site]               = (*SupportedSitesQuery)(nil)
	_ gocmd.Querier[SearchOrdersMessage, core.OrderPage]              = (*SearchOrdersQuery)(nil)

	_ ConnectionReader  = (*core.Service)(nil)
	_ RefreshDueReader  = (*core.Service)(nil)
	_ SiteCatalogReader = (*core.Service)(nil)
	_ OrderReader       = (*core.Service)(nil)
)
