package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-meli-connect/core"
)

func TestMessages_ValidateReportsMissingField(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		field   string
	}{
		{name: "connect owner", message: ConnectMessage{}, field: "owner_id"},
		{name: "connect secret", message: ConnectMessage{Request: core.ConnectRequest{OwnerID: "7", SiteID: "MCO", AppID: "1234567890"}}, field: "app_secret"},
		{name: "callback code", message: CallbackMessage{Request: core.CallbackRequest{State: "s"}}, field: "code"},
		{name: "refresh connection", message: RefreshMessage{OwnerID: "7"}, field: "connection_id"},
		{name: "disconnect owner", message: DisconnectMessage{ConnectionID: "conn_1"}, field: "owner_id"},
		{name: "delete connection", message: DeleteMessage{}, field: "connection_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tc.message.Validate(), &rich) {
				t.Fatalf("expected go-errors envelope")
			}
			if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ServiceErrorBadInput {
				t.Fatalf("unexpected envelope: %q %q", rich.Category, rich.TextCode)
			}
			fields := rich.AllValidationErrors()
			if len(fields) != 1 || fields[0].Field != tc.field {
				t.Fatalf("expected %s field error, got %+v", tc.field, fields)
			}
		})
	}

	for name, msg := range map[string]CallbackMessage{
		"provider error": {Request: core.CallbackRequest{Error: "access_denied"}},
		"missing state":  {Request: core.CallbackRequest{Code: "TG-1"}},
	} {
		if err := msg.Validate(); err != nil {
			t.Fatalf("%s must reach the service, got %v", name, err)
		}
	}
}

func TestCommands_NilServiceReturnsInternalError(t *testing.T) {
	ctx := context.Background()
	errs := map[string]error{
		"connect":    (*ConnectCommand)(nil).Execute(ctx, ConnectMessage{}),
		"disconnect": (*DisconnectCommand)(nil).Execute(ctx, DisconnectMessage{}),
		"delete":     (*DeleteCommand)(nil).Execute(ctx, DeleteMessage{}),
	}
	for name, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ServiceErrorInternal {
			t.Fatalf("%s: unexpected envelope %q %q", name, rich.Category, rich.TextCode)
		}
	}
}
