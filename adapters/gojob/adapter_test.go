package gojob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-meli-connect/core"
)

func TestRefreshMessageRoundTrip(t *testing.T) {
	expiresAt := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	msg := NewRefreshMessage(core.ConnectionSummary{ID: "conn_1", TokenExpiresAt: &expiresAt})

	if msg.JobID != JobIDRefresh || msg.ScriptPath != ScriptPathRefresh {
		t.Fatalf("unexpected job identity: %#v", msg)
	}
	if msg.IdempotencyKey != fmt.Sprintf("refresh:conn_1:%d", expiresAt.Unix()) {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
	id, err := ConnectionIDFromMessage(msg)
	if err != nil || id != "conn_1" {
		t.Fatalf("expected connection id round trip, got %q (%v)", id, err)
	}

	if _, err := ConnectionIDFromMessage(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job id to be rejected")
	}
	if _, err := ConnectionIDFromMessage(&job.ExecutionMessage{JobID: JobIDRefresh}); err == nil {
		t.Fatalf("expected missing connection id to be rejected")
	}
}

func TestRefreshScheduler_EnqueuesDueConnections(t *testing.T) {
	lister := stubDueLister{due: []core.ConnectionSummary{{ID: "conn_1"}, {ID: "conn_2"}}}
	q := NewMemoryQueue(8)
	scheduler := NewRefreshScheduler(&lister, q, WithSweepWindow(10*time.Minute), WithSweepLimit(5))

	enqueued, err := scheduler.EnqueueDue(context.Background())
	if err != nil {
		t.Fatalf("enqueue due: %v", err)
	}
	if enqueued != 2 || q.Len() != 2 {
		t.Fatalf("expected two queued jobs, enqueued=%d len=%d", enqueued, q.Len())
	}
	if lister.within != 10*time.Minute || lister.limit != 5 {
		t.Fatalf("unexpected sweep window: %s %d", lister.within, lister.limit)
	}

	if _, err := scheduler.EnqueueDue(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected pending duplicates to be dropped, len=%d", q.Len())
	}
}

func TestRefreshConsumer_AcksSuccessAndSettledFailures(t *testing.T) {
	ctx := context.Background()
	refresher := &stubRefresher{errs: map[string]error{
		"conn_gone": core.ErrConnectionNotFound,
	}}
	hook := &capturingHook{}
	q := NewMemoryQueue(8)
	consumer := NewRefreshConsumer(q, refresher, WithWorkerHook(hook))

	for _, id := range []string{"conn_1", "conn_gone"} {
		if err := q.Enqueue(ctx, NewRefreshMessage(core.ConnectionSummary{ID: id})); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if err := consumer.ProcessNext(ctx); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}
	if got := refresher.calls(); len(got) != 2 || got[0] != "conn_1" {
		t.Fatalf("unexpected refresh calls: %#v", got)
	}
	if hook.successes != 1 || hook.failures != 1 || hook.retries != 0 {
		t.Fatalf("unexpected hook counts: %+v", hook)
	}
	if q.Len() != 0 || len(q.DeadLetters()) != 0 {
		t.Fatalf("expected both deliveries to be acked")
	}
}

func TestRefreshConsumer_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	refresher := &stubRefresher{errs: map[string]error{"conn_1": core.ErrOAuthTimeout}}
	hook := &capturingHook{}
	q := NewMemoryQueue(8)
	consumer := NewRefreshConsumer(q, refresher,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true}),
		WithWorkerHook(hook),
	)
	// zero delay keeps the requeue synchronous
	consumer.retryDelay = 0

	if err := q.Enqueue(ctx, NewRefreshMessage(core.ConnectionSummary{ID: "conn_1"})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := consumer.ProcessNext(ctx); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if hook.retries != 1 || q.Len() != 1 {
		t.Fatalf("expected requeue after first failure, retries=%d len=%d", hook.retries, q.Len())
	}
	if err := consumer.ProcessNext(ctx); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if hook.failures != 1 || len(q.DeadLetters()) != 1 {
		t.Fatalf("expected dead letter on max attempts, failures=%d dead=%d", hook.failures, len(q.DeadLetters()))
	}
	if hook.last.Attempt != 2 || !errors.Is(hook.last.Err, core.ErrOAuthTimeout) {
		t.Fatalf("unexpected final event: %#v", hook.last)
	}
}

func TestRefreshConsumer_DecryptionFailureDeadLettersImmediately(t *testing.T) {
	refresher := &stubRefresher{errs: map[string]error{"conn_1": core.ErrDecryption}}
	delivery := &stubQueueDelivery{msg: NewRefreshMessage(core.ConnectionSummary{ID: "conn_1"})}
	consumer := NewRefreshConsumer(nil, refresher)

	if err := consumer.Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue {
		t.Fatalf("expected immediate dead letter, got %#v", delivery.nackOpts)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if first.Delay != 10*time.Second || !first.Requeue || first.Reason != "transient" {
		t.Fatalf("expected bounded requeue, got %#v", first)
	}

	last := policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", last)
	}

	unset := RetryPolicy{}.NormalizeAttempt(queue.NackOptions{}, 1)
	if !unset.Requeue {
		t.Fatalf("expected unsettled nack to requeue")
	}
}

func TestObservabilityHook_CountsOutcomes(t *testing.T) {
	metrics := &capturingMetrics{}
	hook := NewObservabilityHook(nil, metrics)
	event := worker.Event{Message: NewRefreshMessage(core.ConnectionSummary{ID: "conn_1"}), Attempt: 1}

	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)
	hook.OnRetry(context.Background(), event)
	hook.OnFailure(context.Background(), event)

	if len(metrics.outcomes) != 3 || metrics.outcomes[0] != "succeeded" || metrics.outcomes[2] != "failed" {
		t.Fatalf("unexpected outcomes: %#v", metrics.outcomes)
	}
}

type stubDueLister struct {
	due    []core.ConnectionSummary
	within time.Duration
	limit  int
}

func (s *stubDueLister) ListRefreshDue(_ context.Context, within time.Duration, limit int) ([]core.ConnectionSummary, error) {
	s.within = within
	s.limit = limit
	return s.due, nil
}

type stubRefresher struct {
	mu   sync.Mutex
	errs map[string]error
	ids  []string
}

func (s *stubRefresher) RefreshConnection(_ context.Context, connectionID string) (core.RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, connectionID)
	if err := s.errs[connectionID]; err != nil {
		return core.RefreshResult{}, err
	}
	return core.RefreshResult{ConnectionID: connectionID, ExpiresIn: 21600}, nil
}

func (s *stubRefresher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	successes int
	failures  int
	retries   int
	last      worker.Event
}

func (h *capturingHook) OnStart(context.Context, worker.Event) {}

func (h *capturingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.successes++
	h.last = event
}

func (h *capturingHook) OnFailure(_ context.Context, event worker.Event) {
	h.failures++
	h.last = event
}

func (h *capturingHook) OnRetry(_ context.Context, event worker.Event) {
	h.retries++
	h.last = event
}

type capturingMetrics struct {
	outcomes []string
}

func (m *capturingMetrics) IncCounter(_ context.Context, _ string, _ int64, tags map[string]string) {
	m.outcomes = append(m.outcomes, tags["outcome"])
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
