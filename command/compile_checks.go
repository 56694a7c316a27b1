package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-meli-connect/core"
)

var (
	_ gocmd.Commander[ConnectMessage]    = (*ConnectCommand)(nil)
	_ gocmd.Commander[CallbackMessage]   = (*CallbackCommand)(nil)
	_ gocmd.Commander[RefreshMessage]    = (*RefreshCommand)(nil)
	_ gocmd.Commander[DisconnectMessage] = (*DisconnectCommand)(nil)
	_ gocmd.Commander[DeleteMessage]     = (*DeleteCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
