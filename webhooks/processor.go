package webhooks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	OutcomeAccepted  = "accepted"
	OutcomeCoalesced = "coalesced"
	OutcomeUnmatched = "unmatched"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// ConnectionLookup resolves the connected stores for a marketplace seller.
type ConnectionLookup interface {
	ListByMarketplaceUser(ctx context.Context, userID int64) ([]core.ConnectionSummary, error)
}

type Handler interface {
	Handle(ctx context.Context, notification Notification, connections []core.ConnectionSummary) error
}

type HandlerFunc func(ctx context.Context, notification Notification, connections []core.ConnectionSummary) error

func (f HandlerFunc) Handle(ctx context.Context, notification Notification, connections []core.ConnectionSummary) error {
	return f(ctx, notification, connections)
}

// Result reports what intake did with a notification. The HTTP response is
// always a 200 regardless of the outcome.
type Result struct {
	Outcome       string
	ConnectionIDs []string
	Metadata      map[string]any
}

type Processor struct {
	Connections ConnectionLookup
	Handler     Handler
	Burst       BurstController
	Logger      glog.Logger
	Metrics     core.MetricsRecorder
	Now         func() time.Time
}

type ProcessorOption func(*Processor)

func WithHandler(handler Handler) ProcessorOption {
	return func(p *Processor) {
		p.Handler = handler
	}
}

func WithBurstController(burst BurstController) ProcessorOption {
	return func(p *Processor) {
		p.Burst = burst
	}
}

func WithLogger(logger glog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) ProcessorOption {
	return func(p *Processor) {
		p.Metrics = metrics
	}
}

func NewProcessor(connections ConnectionLookup, opts ...ProcessorOption) *Processor {
	p := &Processor{
		Connections: connections,
		Burst:       NewBurstController(BurstOptions{Mode: BurstModeCoalesce}),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.Logger = glog.Ensure(p.Logger)
	if p.Metrics == nil {
		p.Metrics = core.NopMetricsRecorder{}
	}
	return p
}

// ProcessBody parses a raw notification body and processes it. Parse
// failures are reported as a rejected result along with the error.
func (p *Processor) ProcessBody(ctx context.Context, body []byte) (Result, error) {
	notification, err := ParseNotification(body)
	if err != nil {
		p.finish(ctx, Notification{}, OutcomeRejected, "error", err.Error())
		return Result{Outcome: OutcomeRejected}, err
	}
	return p.Process(ctx, notification)
}

func (p *Processor) Process(ctx context.Context, notification Notification) (Result, error) {
	if p == nil || p.Connections == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires a connection lookup")
	}
	if err := notification.Validate(); err != nil {
		p.finish(ctx, notification, OutcomeRejected, "error", err.Error())
		return Result{Outcome: OutcomeRejected}, err
	}

	if p.Burst != nil {
		decision, err := p.Burst.Allow(ctx, notification)
		if err != nil {
			return Result{}, err
		}
		if !decision.Allow {
			p.finish(ctx, notification, OutcomeCoalesced, "suppressed", decision.Suppressed)
			return Result{Outcome: OutcomeCoalesced, Metadata: ensureMetadata(decision.Metadata)}, nil
		}
	}

	connections, err := p.Connections.ListByMarketplaceUser(ctx, notification.UserID)
	if err != nil {
		p.finish(ctx, notification, OutcomeFailed, "error", err.Error())
		return Result{Outcome: OutcomeFailed}, err
	}
	connections = matchApplication(connections, notification.ApplicationID)
	if len(connections) == 0 {
		p.finish(ctx, notification, OutcomeUnmatched)
		return Result{Outcome: OutcomeUnmatched}, nil
	}

	ids := make([]string, 0, len(connections))
	for _, connection := range connections {
		ids = append(ids, connection.ID)
	}
	result := Result{
		Outcome:       OutcomeAccepted,
		ConnectionIDs: ids,
		Metadata: map[string]any{
			"resource_id": notification.ResourceID(),
		},
	}
	if p.Handler != nil {
		if err := p.Handler.Handle(ctx, notification, connections); err != nil {
			p.finish(ctx, notification, OutcomeFailed, "connection_ids", ids, "error", err.Error())
			result.Outcome = OutcomeFailed
			return result, err
		}
	}
	p.finish(ctx, notification, OutcomeAccepted, "connection_ids", ids)
	return result, nil
}

func (p *Processor) finish(ctx context.Context, notification Notification, outcome string, extra ...any) {
	args := []any{
		"outcome", outcome,
		"topic", notification.Topic,
		"resource", notification.Resource,
		"user_id", notification.UserID,
		"application_id", notification.ApplicationID,
	}
	if notification.Attempts > 0 {
		args = append(args, "attempts", notification.Attempts)
	}
	if !notification.Sent.IsZero() {
		args = append(args, "delivery_lag_ms", p.now().Sub(notification.Sent).Milliseconds())
	}
	args = append(args, extra...)

	logger := p.Logger.WithContext(ctx)
	switch outcome {
	case OutcomeRejected, OutcomeFailed:
		logger.Warn("marketplace notification not processed", args...)
	case OutcomeCoalesced:
		logger.Debug("marketplace notification coalesced", args...)
	default:
		logger.Info("marketplace notification received", args...)
	}
	p.Metrics.IncCounter(ctx, "meli_connect.notification.total", 1, map[string]string{
		"operation": "notification",
		"outcome":   outcome,
	})
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}

// matchApplication keeps the connections registered under the notifying
// application. A zero application id matches every connection.
func matchApplication(connections []core.ConnectionSummary, applicationID int64) []core.ConnectionSummary {
	if applicationID == 0 {
		return connections
	}
	appID := strconv.FormatInt(applicationID, 10)
	matched := make([]core.ConnectionSummary, 0, len(connections))
	for _, connection := range connections {
		if connection.AppID == appID {
			matched = append(matched, connection)
		}
	}
	return matched
}
