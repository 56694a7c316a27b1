package gocommand

import (
	"context"
	"errors"
	"testing"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	meliconnect "github.com/goliatone/go-meli-connect"
	meliCommand "github.com/goliatone/go-meli-connect/command"
	"github.com/goliatone/go-meli-connect/core"
	meliQuery "github.com/goliatone/go-meli-connect/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "meli.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "meli.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(meliCommand.DisconnectMessage{}); err == nil {
		t.Fatalf("expected missing connection id to fail validation")
	}
}

func TestBus_MountDispatchesFacadeHandlers(t *testing.T) {
	svc := &stubService{}
	bus := mountBus(t, svc)

	if err := Dispatch(context.Background(), meliCommand.DisconnectMessage{
		ConnectionID: "conn_1",
		OwnerID:      "7",
	}); err != nil {
		t.Fatalf("dispatch disconnect: %v", err)
	}
	if svc.disconnected != "conn_1" {
		t.Fatalf("expected disconnect to reach service, got %q", svc.disconnected)
	}

	summaries, err := Query[meliQuery.ListConnectionsMessage, []core.ConnectionSummary](
		context.Background(),
		meliQuery.ListConnectionsMessage{OwnerID: "7"},
	)
	if err != nil {
		t.Fatalf("query list connections: %v", err)
	}
	if len(summaries) != 1 || summaries[0].OwnerID != "7" {
		t.Fatalf("unexpected summaries: %#v", summaries)
	}

	if err := bus.Mount(mustFacade(t, svc)); err == nil {
		t.Fatalf("expected second mount to fail")
	}
}

func TestBus_DispatchRejectsInvalidMessagesBeforeHandlers(t *testing.T) {
	svc := &stubService{}
	mountBus(t, svc)

	err := Dispatch(context.Background(), meliCommand.DeleteMessage{ConnectionID: "conn_1"})
	if err == nil {
		t.Fatalf("expected missing owner to be rejected")
	}
	if svc.deleted != "" {
		t.Fatalf("expected service not to be called")
	}
}

func TestBus_QueueMirrorRegistersCommands(t *testing.T) {
	queueRegistry := jobqueuecommand.NewRegistry()
	bus := NewBus(WithQueueMirror("queue", queueRegistry))
	if err := bus.Mount(mustFacade(t, &stubService{})); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(bus.Unmount)

	if !bus.Registry().HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	for _, commandType := range []string{
		meliCommand.TypeConnect,
		meliCommand.TypeCallback,
		meliCommand.TypeRefresh,
		meliCommand.TypeDisconnect,
		meliCommand.TypeDelete,
	} {
		if _, ok := queueRegistry.Get(commandType); !ok {
			t.Fatalf("expected %s to be mirrored into queue registry", commandType)
		}
	}
	if _, ok := queueRegistry.Get(meliQuery.TypeListConnections); ok {
		t.Fatalf("queries must not be mirrored into the queue registry")
	}

	summaries, err := Query[meliQuery.ListConnectionsMessage, []core.ConnectionSummary](
		context.Background(),
		meliQuery.ListConnectionsMessage{OwnerID: "7"},
	)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("expected queries to be served with a queue mirror mounted, got %v (%v)", summaries, err)
	}
}

func TestBus_MountRequiresFacade(t *testing.T) {
	if err := NewBus().Mount(nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
	var bus *Bus
	if err := bus.Mount(nil); err == nil {
		t.Fatalf("expected nil bus error")
	}
	bus.Unmount()
}

func mountBus(t *testing.T, svc *stubService) *Bus {
	t.Helper()
	bus := NewBus()
	if err := bus.Mount(mustFacade(t, svc)); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(bus.Unmount)
	return bus
}

func mustFacade(t *testing.T, svc *stubService) *meliconnect.Facade {
	t.Helper()
	facade, err := meliconnect.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade
}

type stubService struct {
	disconnected string
	deleted      string
}

func (s *stubService) Connect(context.Context, core.ConnectRequest) (core.ConnectResult, error) {
	return core.ConnectResult{ConnectionID: "conn_1"}, nil
}

func (s *stubService) HandleCallback(context.Context, core.CallbackRequest) (core.CallbackResult, error) {
	return core.CallbackResult{ConnectionID: "conn_1"}, nil
}

func (s *stubService) Refresh(_ context.Context, connectionID string, _ string) (core.RefreshResult, error) {
	return core.RefreshResult{ConnectionID: connectionID, ExpiresIn: 21600}, nil
}

func (s *stubService) Disconnect(_ context.Context, connectionID string, _ string) error {
	s.disconnected = connectionID
	return nil
}

func (s *stubService) Delete(_ context.Context, connectionID string, _ string) error {
	s.deleted = connectionID
	return nil
}

func (s *stubService) GetConnection(_ context.Context, connectionID string, ownerID string) (core.ConnectionSummary, error) {
	return core.ConnectionSummary{ID: connectionID, OwnerID: ownerID}, nil
}

func (s *stubService) ListConnections(_ context.Context, ownerID string) ([]core.ConnectionSummary, error) {
	return []core.ConnectionSummary{{ID: "conn_1", OwnerID: ownerID}}, nil
}

func (s *stubService) ListRefreshDue(context.Context, time.Duration, int) ([]core.ConnectionSummary, error) {
	return nil, nil
}

func (s *stubService) SupportedSites() []core.Site {
	return core.SupportedSites()
}

func (s *stubService) SearchOrders(context.Context, string, string, core.OrderSearch) (core.OrderPage, error) {
	return core.OrderPage{}, nil
}

var _ meliconnect.CommandQueryService = (*stubService)(nil)
