package adapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	meliconnect "github.com/goliatone/go-meli-connect"
	"github.com/goliatone/go-meli-connect/adapters/gocommand"
	"github.com/goliatone/go-meli-connect/adapters/gojob"
	"github.com/goliatone/go-meli-connect/adapters/gologger"
	meliCommand "github.com/goliatone/go-meli-connect/command"
	"github.com/goliatone/go-meli-connect/core"
)

func TestRuntimeCompatibility_RefreshSweepThroughQueueAndLogger(t *testing.T) {
	ctx := context.Background()
	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, resolved, jobProvider, jobLogger := gologger.ResolveForJob("meli-connect", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	svc := &compatService{due: []core.ConnectionSummary{{ID: "conn_1"}, {ID: "conn_2"}}}
	q := gojob.NewMemoryQueue(4)
	scheduler := gojob.NewRefreshScheduler(svc, q, gojob.WithSchedulerLogger(resolved))
	consumer := gojob.NewRefreshConsumer(q, svc, gojob.WithWorkerHook(gojob.NewObservabilityHook(resolved, nil)))

	enqueued, err := scheduler.EnqueueDue(ctx)
	if err != nil {
		t.Fatalf("enqueue due: %v", err)
	}
	if enqueued != 2 {
		t.Fatalf("expected two refresh jobs, got %d", enqueued)
	}
	for i := 0; i < enqueued; i++ {
		if err := consumer.ProcessNext(ctx); err != nil {
			t.Fatalf("process job %d: %v", i, err)
		}
	}
	if got := svc.refreshedIDs(); len(got) != 2 || got[0] != "conn_1" || got[1] != "conn_2" {
		t.Fatalf("unexpected refreshed connections: %#v", got)
	}
	if logger.count() == 0 {
		t.Fatalf("expected worker activity to reach the resolved logger")
	}
}

func TestRuntimeCompatibility_CommandBusMirrorsIntoJobRegistry(t *testing.T) {
	svc := &compatService{}
	facade, err := meliconnect.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	bus := gocommand.NewBus(gocommand.WithQueueMirror("queue", queueRegistry))
	if err := bus.Mount(facade); err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer bus.Unmount()

	if _, ok := queueRegistry.Get(meliCommand.TypeRefresh); !ok {
		t.Fatalf("expected refresh command in go-job queue registry")
	}
	if err := gocommand.Dispatch(context.Background(), meliCommand.RefreshMessage{
		ConnectionID: "conn_9",
		OwnerID:      "7",
	}); err != nil {
		t.Fatalf("dispatch refresh: %v", err)
	}
	if got := svc.refreshedIDs(); len(got) != 1 || got[0] != "conn_9" {
		t.Fatalf("expected dispatched refresh to reach the service, got %#v", got)
	}
}

type compatService struct {
	mu        sync.Mutex
	due       []core.ConnectionSummary
	refreshed []string
}

func (s *compatService) record(connectionID string) core.RefreshResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, connectionID)
	return core.RefreshResult{ConnectionID: connectionID, ExpiresIn: 21600}
}

func (s *compatService) refreshedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refreshed...)
}

func (s *compatService) RefreshConnection(_ context.Context, connectionID string) (core.RefreshResult, error) {
	return s.record(connectionID), nil
}

func (s *compatService) Connect(context.Context, core.ConnectRequest) (core.ConnectResult, error) {
	return core.ConnectResult{}, nil
}

func (s *compatService) HandleCallback(context.Context, core.CallbackRequest) (core.CallbackResult, error) {
	return core.CallbackResult{}, nil
}

func (s *compatService) Refresh(_ context.Context, connectionID string, _ string) (core.RefreshResult, error) {
	return s.record(connectionID), nil
}

func (s *compatService) Disconnect(context.Context, string, string) error { return nil }

func (s *compatService) Delete(context.Context, string, string) error { return nil }

func (s *compatService) GetConnection(_ context.Context, connectionID string, ownerID string) (core.ConnectionSummary, error) {
	return core.ConnectionSummary{ID: connectionID, OwnerID: ownerID}, nil
}

func (s *compatService) ListConnections(context.Context, string) ([]core.ConnectionSummary, error) {
	return nil, nil
}

func (s *compatService) ListRefreshDue(context.Context, time.Duration, int) ([]core.ConnectionSummary, error) {
	return s.due, nil
}

func (s *compatService) SupportedSites() []core.Site { return core.SupportedSites() }

func (s *compatService) SearchOrders(context.Context, string, string, core.OrderSearch) (core.OrderPage, error) {
	return core.OrderPage{}, nil
}

type compatProvider struct {
	logger *compatLogger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	return p.logger
}

type compatLogger struct {
	mu      sync.Mutex
	entries int
}

func (l *compatLogger) log() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries++
}

func (l *compatLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

func (l *compatLogger) Trace(string, ...any) { l.log() }
func (l *compatLogger) Debug(string, ...any) { l.log() }
func (l *compatLogger) Info(string, ...any)  { l.log() }
func (l *compatLogger) Warn(string, ...any)  { l.log() }
func (l *compatLogger) Error(string, ...any) { l.log() }
func (l *compatLogger) Fatal(string, ...any) { l.log() }

func (l *compatLogger) WithContext(context.Context) glog.Logger { return l }

var (
	_ meliconnect.CommandQueryService = (*compatService)(nil)
	_ gojob.RefreshDueLister          = (*compatService)(nil)
	_ gojob.ConnectionRefresher       = (*compatService)(nil)
)
