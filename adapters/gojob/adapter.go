package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	JobIDRefresh      = "meli.connection.refresh"
	ScriptPathRefresh = "meli-connect/refresh"
	ParamConnectionID = "connection_id"
	dedupPolicyDrop   = "drop"

	defaultRetryDelay = 30 * time.Second
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewRefreshMessage builds the refresh job for one connection. The
// idempotency key is bound to the stored expiry so a sweep that runs twice
// before the refresh lands does not queue the same work again.
func NewRefreshMessage(summary core.ConnectionSummary) *job.ExecutionMessage {
	expiry := "none"
	if summary.TokenExpiresAt != nil {
		expiry = strconv.FormatInt(summary.TokenExpiresAt.Unix(), 10)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDRefresh,
		ScriptPath:     ScriptPathRefresh,
		Parameters:     map[string]any{ParamConnectionID: summary.ID},
		IdempotencyKey: "refresh:" + summary.ID + ":" + expiry,
		DedupPolicy:    job.DeduplicationPolicy(dedupPolicyDrop),
	}
}

func ConnectionIDFromMessage(msg *job.ExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRefresh {
		return "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	value, _ := msg.Parameters[ParamConnectionID].(string)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("gojob: %s parameter is required", ParamConnectionID)
	}
	return strings.TrimSpace(value), nil
}

type RefreshDueLister interface {
	ListRefreshDue(ctx context.Context, within time.Duration, limit int) ([]core.ConnectionSummary, error)
}

type ConnectionRefresher interface {
	RefreshConnection(ctx context.Context, connectionID string) (core.RefreshResult, error)
}

type SchedulerOption func(*RefreshScheduler)

func WithSweepWindow(window time.Duration) SchedulerOption {
	return func(s *RefreshScheduler) {
		if window > 0 {
			s.window = window
		}
	}
}

func WithSweepLimit(limit int) SchedulerOption {
	return func(s *RefreshScheduler) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithSchedulerLogger(logger glog.Logger) SchedulerOption {
	return func(s *RefreshScheduler) {
		s.logger = glog.Ensure(logger)
	}
}

// RefreshScheduler queues a refresh job for every connected record whose
// access token expires inside the sweep window.
type RefreshScheduler struct {
	lister   RefreshDueLister
	enqueuer queue.Enqueuer
	window   time.Duration
	limit    int
	logger   glog.Logger
}

func NewRefreshScheduler(lister RefreshDueLister, enqueuer queue.Enqueuer, opts ...SchedulerOption) *RefreshScheduler {
	scheduler := &RefreshScheduler{
		lister:   lister,
		enqueuer: enqueuer,
		window:   core.DefaultRefreshSweepWindow,
		limit:    core.DefaultRefreshSweepLimit,
		logger:   glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler
}

func (s *RefreshScheduler) EnqueueDue(ctx context.Context) (int, error) {
	if s == nil || s.lister == nil || s.enqueuer == nil {
		return 0, fmt.Errorf("gojob: refresh scheduler is not configured")
	}
	due, err := s.lister.ListRefreshDue(ctx, s.window, s.limit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	var errs []error
	for _, summary := range due {
		if err := s.enqueuer.Enqueue(ctx, NewRefreshMessage(summary)); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", summary.ID, err))
			continue
		}
		enqueued++
	}
	s.logger.Info("refresh sweep completed", "due", len(due), "enqueued", enqueued)
	return enqueued, errors.Join(errs...)
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *RefreshScheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.EnqueueDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("refresh sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type ConsumerOption func(*RefreshConsumer)

func WithRetryPolicy(policy RetryPolicy) ConsumerOption {
	return func(c *RefreshConsumer) {
		c.policy = policy
	}
}

func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *RefreshConsumer) {
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func WithWorkerHook(hook worker.Hook) ConsumerOption {
	return func(c *RefreshConsumer) {
		c.hook = hook
	}
}

// RefreshConsumer drains refresh jobs and acks, requeues or dead-letters
// each delivery depending on how the refresh failed.
type RefreshConsumer struct {
	dequeuer   queue.Dequeuer
	refresher  ConnectionRefresher
	policy     RetryPolicy
	retryDelay time.Duration
	hook       worker.Hook

	mu       sync.Mutex
	attempts map[string]int
}

func NewRefreshConsumer(dequeuer queue.Dequeuer, refresher ConnectionRefresher, opts ...ConsumerOption) *RefreshConsumer {
	consumer := &RefreshConsumer{
		dequeuer:   dequeuer,
		refresher:  refresher,
		policy:     DefaultRetryPolicy(),
		retryDelay: defaultRetryDelay,
		attempts:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer
}

func (c *RefreshConsumer) Run(ctx context.Context) error {
	for {
		if err := c.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (c *RefreshConsumer) ProcessNext(ctx context.Context) error {
	if c == nil || c.dequeuer == nil {
		return fmt.Errorf("gojob: refresh consumer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return c.Handle(ctx, delivery)
}

// Handle runs one delivery. Errors returned here are queue errors; refresh
// failures are settled on the delivery itself.
func (c *RefreshConsumer) Handle(ctx context.Context, delivery queue.Delivery) error {
	if c == nil || c.refresher == nil {
		return fmt.Errorf("gojob: refresh consumer is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := c.nextAttempt(key)
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: time.Now().UTC(),
	}
	c.onStart(ctx, event)

	connectionID, err := ConnectionIDFromMessage(msg)
	if err == nil {
		_, err = c.refresher.RefreshConnection(ctx, connectionID)
	}
	event.Duration = time.Since(event.StartedAt)
	event.Err = err

	if err == nil || settledWithoutRetry(err) {
		c.clearAttempts(key)
		if err == nil {
			c.onSuccess(ctx, event)
		} else {
			c.onFailure(ctx, event)
		}
		return delivery.Ack(ctx)
	}

	nack := c.policy.NormalizeAttempt(queue.NackOptions{
		Delay:      c.retryDelay * time.Duration(attempt),
		Requeue:    true,
		DeadLetter: deadLetterImmediately(err),
		Reason:     err.Error(),
	}, attempt)
	if nack.DeadLetter {
		c.clearAttempts(key)
		c.onFailure(ctx, event)
	} else {
		event.Delay = nack.Delay
		c.onRetry(ctx, event)
	}
	return delivery.Nack(ctx, nack)
}

// settledWithoutRetry covers records that no longer need a refresh.
func settledWithoutRetry(err error) bool {
	return errors.Is(err, core.ErrConnectionNotFound) ||
		errors.Is(err, core.ErrNotConnected) ||
		errors.Is(err, core.ErrMissingRefreshToken)
}

// deadLetterImmediately covers stored envelopes that no longer open under
// any registered key. Provider rejections go through the retry bound.
func deadLetterImmediately(err error) bool {
	return errors.Is(err, core.ErrDecryption)
}

func (c *RefreshConsumer) nextAttempt(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[key]++
	return c.attempts[key]
}

func (c *RefreshConsumer) clearAttempts(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, key)
}

func (c *RefreshConsumer) onStart(ctx context.Context, event worker.Event) {
	if c.hook != nil {
		c.hook.OnStart(ctx, event)
	}
}

func (c *RefreshConsumer) onSuccess(ctx context.Context, event worker.Event) {
	if c.hook != nil {
		c.hook.OnSuccess(ctx, event)
	}
}

func (c *RefreshConsumer) onFailure(ctx context.Context, event worker.Event) {
	if c.hook != nil {
		c.hook.OnFailure(ctx, event)
	}
}

func (c *RefreshConsumer) onRetry(ctx context.Context, event worker.Event) {
	if c.hook != nil {
		c.hook.OnRetry(ctx, event)
	}
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	value, _ := msg.Parameters[ParamConnectionID].(string)
	return msg.JobID + ":" + value
}

// ObservabilityHook logs worker events and counts them through the service
// metrics recorder.
type ObservabilityHook struct {
	logger  glog.Logger
	metrics core.MetricsRecorder
}

func NewObservabilityHook(logger glog.Logger, metrics core.MetricsRecorder) *ObservabilityHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &ObservabilityHook{logger: glog.Ensure(logger), metrics: metrics}
}

func (h *ObservabilityHook) OnStart(ctx context.Context, event worker.Event) {
	h.logger.Debug("refresh job started", eventArgs(event)...)
}

func (h *ObservabilityHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.logger.Info("refresh job succeeded", eventArgs(event)...)
	h.count(ctx, "succeeded")
}

func (h *ObservabilityHook) OnFailure(ctx context.Context, event worker.Event) {
	h.logger.Error("refresh job failed", eventArgs(event)...)
	h.count(ctx, "failed")
}

func (h *ObservabilityHook) OnRetry(ctx context.Context, event worker.Event) {
	h.logger.Warn("refresh job scheduled for retry", eventArgs(event)...)
	h.count(ctx, "retried")
}

func (h *ObservabilityHook) count(ctx context.Context, outcome string) {
	h.metrics.IncCounter(ctx, "meli_connect.refresh_job.total", 1, map[string]string{
		"operation": "refresh_job",
		"outcome":   outcome,
	})
}

func eventArgs(event worker.Event) []any {
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		args = append(args, "job_id", message.JobID)
		if id, ok := message.Parameters[ParamConnectionID].(string); ok {
			args = append(args, ParamConnectionID, id)
		}
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var (
	_ worker.Hook = (*ObservabilityHook)(nil)

	_ RefreshDueLister    = (*core.Service)(nil)
	_ ConnectionRefresher = (*core.Service)(nil)
)
