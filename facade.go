package meliconnect

import (
	"fmt"

	meliCommand "github.com/goliatone/go-meli-connect/command"
	meliQuery "github.com/goliatone/go-meli-connect/query"
)

type CommandQueryService interface {
	meliCommand.MutatingService
	meliQuery.ConnectionReader
	meliQuery.RefreshDueReader
	meliQuery.SiteCatalogReader
	meliQuery.OrderReader
}

type Commands struct {
	Connect    *meliCommand.ConnectCommand
	Callback   *meliCommand.CallbackCommand
	Refresh    *meliCommand.RefreshCommand
	Disconnect *meliCommand.DisconnectCommand
	Delete     *meliCommand.DeleteCommand
}

type Queries struct {
	GetConnection   *meliQuery.GetConnectionQuery
	ListConnections *meliQuery.ListConnectionsQuery
	ListRefreshDue  *meliQuery.ListRefreshDueQuery
	SupportedSites  *meliQuery.SupportedSitesQuery
	SearchOrders    *meliQuery.SearchOrdersQuery
}

// Facade groups the go-command handlers built over one service so transports
// can share a single wiring point.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("meliconnect: command/query service is required")
	}

	return &Facade{
		service: service,
		commands: Commands{
			Connect:    meliCommand.NewConnectCommand(service),
			Callback:   meliCommand.NewCallbackCommand(service),
			Refresh:    meliCommand.NewRefreshCommand(service),
			Disconnect: meliCommand.NewDisconnectCommand(service),
			Delete:     meliCommand.NewDeleteCommand(service),
		},
		queries: Queries{
			GetConnection:   meliQuery.NewGetConnectionQuery(service),
			ListConnections: meliQuery.NewListConnectionsQuery(service),
			ListRefreshDue:  meliQuery.NewListRefreshDueQuery(service),
			SupportedSites:  meliQuery.NewSupportedSitesQuery(service),
			SearchOrders:    meliQuery.NewSearchOrdersQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
