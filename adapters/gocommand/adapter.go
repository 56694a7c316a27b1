package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	meliconnect "github.com/goliatone/go-meli-connect"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Bus owns a go-command registry plus the dispatcher subscriptions created
// for one facade, so a host can mount and unmount the connection handlers
// as a unit.
type Bus struct {
	registry      *command.Registry
	runnerOpts    []runner.Option
	queueMirrors  map[string]*jobqueuecommand.Registry
	subscriptions []commanddispatcher.Subscription
	initialized   bool
}

type BusOption func(*Bus)

func WithRegistry(registry *command.Registry) BusOption {
	return func(b *Bus) {
		if registry != nil {
			b.registry = registry
		}
	}
}

func WithRunnerOptions(opts ...runner.Option) BusOption {
	return func(b *Bus) {
		b.runnerOpts = append(b.runnerOpts, opts...)
	}
}

// WithQueueMirror mirrors every registered command into a go-job queue
// registry under the given resolver key.
func WithQueueMirror(key string, queueRegistry *jobqueuecommand.Registry) BusOption {
	return func(b *Bus) {
		key = strings.TrimSpace(key)
		if key == "" || queueRegistry == nil {
			return
		}
		b.queueMirrors[key] = queueRegistry
	}
}

func NewBus(opts ...BusOption) *Bus {
	bus := &Bus{
		registry:     command.NewRegistry(),
		queueMirrors: map[string]*jobqueuecommand.Registry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}
	return bus
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Mount subscribes and registers every command and query of the facade and
// initializes the registry. A failure unwinds the subscriptions made so far.
func (b *Bus) Mount(facade *meliconnect.Facade) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if facade == nil {
		return fmt.Errorf("gocommand: facade is required")
	}
	if b.initialized {
		return fmt.Errorf("gocommand: bus is already mounted")
	}
	for key, queueRegistry := range b.queueMirrors {
		if b.registry.HasResolver(key) {
			continue
		}
		if err := b.registry.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry)); err != nil {
			return err
		}
	}

	commands := facade.Commands()
	queries := facade.Queries()
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) { return registerCommand(b, commands.Connect) },
		func() (commanddispatcher.Subscription, error) { return registerCommand(b, commands.Callback) },
		func() (commanddispatcher.Subscription, error) { return registerCommand(b, commands.Refresh) },
		func() (commanddispatcher.Subscription, error) { return registerCommand(b, commands.Disconnect) },
		func() (commanddispatcher.Subscription, error) { return registerCommand(b, commands.Delete) },
		func() (commanddispatcher.Subscription, error) { return registerQuery(b, queries.GetConnection) },
		func() (commanddispatcher.Subscription, error) { return registerQuery(b, queries.ListConnections) },
		func() (commanddispatcher.Subscription, error) { return registerQuery(b, queries.ListRefreshDue) },
		func() (commanddispatcher.Subscription, error) { return registerQuery(b, queries.SupportedSites) },
		func() (commanddispatcher.Subscription, error) { return registerQuery(b, queries.SearchOrders) },
	}
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			b.Unmount()
			return err
		}
		b.subscriptions = append(b.subscriptions, subscription)
	}
	if err := b.registry.Initialize(); err != nil {
		b.Unmount()
		return err
	}
	b.initialized = true
	return nil
}

func (b *Bus) Unmount() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
	b.initialized = false
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func registerCommand[T any](b *Bus, cmd command.Commander[T]) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, errors.New("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, b.runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func registerQuery[T any, R any](b *Bus, qry command.Querier[T, R]) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, errors.New("gocommand: query is required")
	}
	// Queries are served through the dispatcher only; registry resolvers such
	// as the queue mirror accept Execute handlers and reject queriers.
	return commanddispatcher.SubscribeQuery(qry, b.runnerOpts...), nil
}
